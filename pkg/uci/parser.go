package uci

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
)

var ErrIncomplete = errors.New("incomplete switch definition")

// ParseFile reads one declarative switch file.
func ParseFile(log logr.Logger, path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(log, f, path)
}

// Parse reads a declarative switch definition from r. Malformed lines are
// logged and skipped. When the name, description or test keys are missing the
// whole definition is dropped and ErrIncomplete is returned.
func Parse(log logr.Logger, r io.Reader, path string) (*Definition, error) {
	var name, desc, test string
	values := make(map[string]string)

	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if line == "" && err != nil {
			break
		}
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")

		kv := strings.Split(line, "=")
		if len(kv) != 2 {
			log.Error(nil, "Invalid line", "file", path, "line", line)
			continue
		}
		key, value := kv[0], strings.TrimSpace(kv[1])

		switch key {
		case KeyName:
			name = value
		case KeyDesc:
			desc = value
		case KeyTest:
			test = value
		default:
			values[key] = unquote(value)
		}
	}

	log.V(1).Info("Parsed", "file", path, "name", name, "desc", desc, "test", test)

	testKeys := splitTestKeys(test)
	if name == "" || desc == "" || len(testKeys) == 0 {
		err := fmt.Errorf("%w: %s", ErrIncomplete, path)
		log.Error(err, "Dropping switch definition", "name", name, "desc", desc, "test", test)
		return nil, err
	}

	return &Definition{
		Name:        name,
		Description: desc,
		TestKeys:    testKeys,
		Values:      values,
		File:        path,
	}, nil
}

func unquote(value string) string {
	return strings.Trim(value, "'")
}

func splitTestKeys(test string) []string {
	if test == "" {
		return nil
	}
	keys := make([]string, 0)
	for _, k := range strings.Split(test, ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Glob lists the switch files of a directory, in lexical order.
func Glob(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*"+FileExtension))
}
