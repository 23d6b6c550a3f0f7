package compose

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/expconf/internal/tree"
)

type overrideKind int

const (
	// key=value: the key must already exist.
	kindSet overrideKind = iota
	// +key=value: the key must not exist.
	kindAdd
	// ++key=value: set unconditionally.
	kindForce
	// ~key or ~key=value: delete.
	kindDelete
)

// override is one parsed command-line override.
type override struct {
	raw      string
	kind     overrideKind
	key      string
	value    any
	hasValue bool
}

var overrideKey = regexp.MustCompile(`^[A-Za-z0-9_\-/.\[\]@]+$`)

func parseOverride(raw string) (override, error) {
	text := strings.TrimSpace(raw)
	ov := override{raw: raw}

	switch {
	case strings.HasPrefix(text, "++"):
		ov.kind = kindForce
		text = text[2:]
	case strings.HasPrefix(text, "+"):
		ov.kind = kindAdd
		text = text[1:]
	case strings.HasPrefix(text, "~"):
		ov.kind = kindDelete
		text = text[1:]
	}

	key, value, found := strings.Cut(text, "=")
	key = strings.TrimSpace(key)
	if key == "" || !overrideKey.MatchString(key) {
		return override{}, fmt.Errorf("%w: %q: malformed key", ErrInvalidOverride, raw)
	}
	ov.key = key

	if !found {
		if ov.kind != kindDelete {
			return override{}, fmt.Errorf("%w: %q: expected key=value", ErrInvalidOverride, raw)
		}
		return ov, nil
	}

	v, err := parseValue(value)
	if err != nil {
		return override{}, fmt.Errorf("%w: %q: %v", ErrInvalidOverride, raw, err)
	}
	ov.value = v
	ov.hasValue = true
	return ov, nil
}

// parseValue decodes an override value as YAML so "1e-3" becomes a float,
// "[1,2]" a list and "null" nil. An empty value is the empty string.
func parseValue(s string) (any, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return tree.Normalize(v), nil
}

func (ov override) apply(doc map[string]any) error {
	if strings.Contains(ov.key, "/") {
		return fmt.Errorf("%w: %q: %q is not a config group of this family", ErrInvalidOverride, ov.raw, ov.key)
	}

	exists := tree.Has(doc, ov.key)
	switch ov.kind {
	case kindSet:
		if !exists {
			return fmt.Errorf("%w: could not override %q, use +%s to append it", ErrKeyNotInConfig, ov.key, ov.raw)
		}
	case kindAdd:
		if exists {
			return fmt.Errorf("%w: could not append %q, use ++%s to force it", ErrKeyExists, ov.key, strings.TrimPrefix(ov.raw, "+"))
		}
	case kindDelete:
		if !exists {
			return fmt.Errorf("%w: could not delete %q", ErrKeyNotInConfig, ov.key)
		}
		if ov.hasValue {
			current, _ := tree.Get(doc, ov.key)
			if !sameValue(current, ov.value) {
				return fmt.Errorf("%w: %q: key %s has value %v", ErrInvalidOverride, ov.raw, ov.key, current)
			}
		}
		tree.Delete(doc, ov.key)
		return nil
	}

	if err := tree.Set(doc, ov.key, ov.value); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidOverride, ov.raw, err)
	}
	return nil
}

func sameValue(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	as, aErr := cast.ToStringE(a)
	bs, bErr := cast.ToStringE(b)
	return aErr == nil && bErr == nil && as == bs
}
