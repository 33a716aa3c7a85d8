package entry

import "strings"

// IDFor returns the entry id used for a router host.
func IDFor(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}

// Entry is one configured router. Options hold user changes not yet folded
// into Data; they are merged on the next setup.
type Entry struct {
	ID       string         `json:"entry_id" yaml:"entry_id"`
	Title    string         `json:"title" yaml:"title"`
	UniqueID string         `json:"unique_id" yaml:"unique_id"`
	Data     map[string]any `json:"data" yaml:"data"`
	Options  map[string]any `json:"options" yaml:"options"`
}

// Merge returns e.Data overlaid with e.Options.
func Merge(e *Entry) map[string]any {
	out := make(map[string]any, len(e.Data)+len(e.Options))
	for k, v := range e.Data {
		out[k] = v
	}
	for k, v := range e.Options {
		out[k] = v
	}
	return out
}

// Fold moves the options into the data and defaults the unique id to the
// title. It reports whether e changed.
func (e *Entry) Fold() bool {
	changed := len(e.Options) > 0
	if e.UniqueID == "" {
		e.UniqueID = e.Title
		changed = true
	}
	e.Data = Merge(e)
	e.Options = map[string]any{}
	return changed
}

func (e *Entry) Host() string {
	if h, ok := e.Data[ConfHost].(string); ok {
		return h
	}
	return ""
}
