// Package uci loads declarative switch definitions from *.uci files.
//
// A file is a list of key=value lines. Three reserved keys describe the
// switch; every other key is a dotted UCI path assigned when the switch is
// turned on:
//
//	#sw_name=guest_wifi
//	#sw_desc=Guest WiFi
//	#sw_test=wireless.guest.disabled
//	wireless.guest.disabled='0'
package uci

import (
	"sort"
	"strings"
)

const (
	KeyName = "#sw_name"
	KeyDesc = "#sw_desc"
	KeyTest = "#sw_test"

	FileExtension = ".uci"
)

// Definition is a named switch backed by UCI assignments. It is immutable once
// loaded.
type Definition struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description" yaml:"description"`
	TestKeys    []string          `json:"test_keys" yaml:"test_keys"`
	Values      map[string]string `json:"values" yaml:"values"`
	File        string            `json:"file" yaml:"file"`
}

func (d *Definition) String() string {
	return d.Name
}

// Equal compares definitions by name only.
func (d *Definition) Equal(other *Definition) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.Name == other.Name
}

// Expected returns the value a test key must hold for the switch to be on.
func (d *Definition) Expected(key string) (string, bool) {
	v, ok := d.Values[key]
	return v, ok
}

// Assignments returns one parameter list per stored value, in the form expected
// by the UCI set call: the path elements followed by the value. Keys are sorted
// so the output is stable.
func (d *Definition) Assignments() [][]string {
	keys := make([]string, 0, len(d.Values))
	for k := range d.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([][]string, 0, len(keys))
	for _, k := range keys {
		params := SplitPath(k)
		params = append(params, d.Values[k])
		out = append(out, params)
	}
	return out
}

// SplitPath splits a dotted UCI path (config.section.option) into its parts.
func SplitPath(path string) []string {
	return strings.Split(path, ".")
}
