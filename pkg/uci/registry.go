package uci

import (
	"errors"
	"sort"
	"sync"

	"github.com/go-logr/logr"
)

// Registry holds definitions by name. The first definition registered under a
// name wins; later ones are ignored.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds def unless a definition with the same name is already known.
// It reports whether def was added.
func (r *Registry) Register(def *Definition) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return false
	}
	r.defs[def.Name] = def
	return true
}

func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadDir parses every *.uci file of dir into r. A file that cannot be read or
// parsed is skipped; it never aborts the load. It returns the number of
// definitions added.
func (r *Registry) LoadDir(log logr.Logger, dir string) (int, error) {
	files, err := Glob(dir)
	if err != nil {
		return 0, err
	}
	log.V(1).Info("Loading switch files", "dir", dir, "count", len(files))

	added := 0
	for _, file := range files {
		def, err := ParseFile(log, file)
		if err != nil {
			if !errors.Is(err, ErrIncomplete) {
				log.Error(err, "Failed to read switch file", "file", file)
			}
			continue
		}
		if !r.Register(def) {
			log.Info("Switch already defined, keeping first", "name", def.Name, "file", file)
			continue
		}
		added++
	}
	return added, nil
}
