package compose

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/eugenenazirov/expconf/internal/catalog"
	"github.com/eugenenazirov/expconf/internal/tree"
)

const (
	defaultsKey = "defaults"
	selfEntry   = "_self_"
)

// defaultEntry is one item of a defaults list.
type defaultEntry struct {
	self     bool
	group    string
	option   string
	optional bool
	// disabled is set by "group: null" or "~group".
	disabled bool
}

func (e defaultEntry) String() string {
	switch {
	case e.self:
		return selfEntry
	case e.group == catalog.RootGroup:
		return e.option
	default:
		return e.group + ": " + e.option
	}
}

// parseDefaults reads the "defaults" value of a primary document:
//
//	defaults:
//	  - _self_
//	  - overrides: cartpole_meta
//	  - optional logging: csv
//	  - extra_keys
func parseDefaults(raw any) ([]defaultEntry, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a list, got %T", ErrInvalidDefaults, raw)
	}

	entries := make([]defaultEntry, 0, len(items))
	seen := map[string]bool{}
	for i, item := range items {
		entry, err := parseDefaultEntry(item)
		if err != nil {
			return nil, fmt.Errorf("defaults[%d]: %w", i, err)
		}
		id := entry.String()
		if !entry.self && entry.group != catalog.RootGroup {
			id = entry.group
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: %q appears more than once", ErrInvalidDefaults, id)
		}
		seen[id] = true
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseDefaultEntry(item any) (defaultEntry, error) {
	switch v := item.(type) {
	case string:
		name := strings.TrimSpace(v)
		if name == selfEntry {
			return defaultEntry{self: true}, nil
		}
		if name == "" {
			return defaultEntry{}, fmt.Errorf("%w: empty entry", ErrInvalidDefaults)
		}
		// "- group/option" is shorthand for "- group: option".
		if idx := strings.LastIndexByte(name, '/'); idx > 0 {
			return defaultEntry{group: name[:idx], option: name[idx+1:]}, nil
		}
		return defaultEntry{group: catalog.RootGroup, option: name}, nil
	case map[string]any:
		if len(v) != 1 {
			return defaultEntry{}, fmt.Errorf("%w: entry must have exactly one key, got %d", ErrInvalidDefaults, len(v))
		}
		for key, value := range v {
			return groupEntry(key, value)
		}
	}
	return defaultEntry{}, fmt.Errorf("%w: unsupported entry %v", ErrInvalidDefaults, item)
}

func groupEntry(key string, value any) (defaultEntry, error) {
	var entry defaultEntry
	fields := strings.Fields(key)
	switch {
	case len(fields) == 2 && fields[0] == "optional":
		entry.optional = true
		entry.group = fields[1]
	case len(fields) == 2 && fields[0] == "override":
		entry.group = fields[1]
	case len(fields) == 1:
		entry.group = fields[0]
	default:
		return defaultEntry{}, fmt.Errorf("%w: malformed key %q", ErrInvalidDefaults, key)
	}

	switch value.(type) {
	case nil:
		entry.disabled = true
	case map[string]any, []any:
		return defaultEntry{}, fmt.Errorf("%w: option of %q must be a name", ErrInvalidDefaults, entry.group)
	default:
		entry.option = cast.ToString(value)
	}
	return entry, nil
}

// place positions an option document inside the composed config according to
// its package directive or, by default, its group path.
func place(group string, doc catalog.Document) (map[string]any, error) {
	switch {
	case doc.Package == catalog.PackageGlobal:
		return doc.Content, nil
	case doc.Package != "":
		return tree.Nest(doc.Package, doc.Content)
	case group == catalog.RootGroup:
		return doc.Content, nil
	default:
		return tree.Nest(strings.ReplaceAll(group, "/", "."), doc.Content)
	}
}
