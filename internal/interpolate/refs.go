package interpolate

import (
	"github.com/eugenenazirov/expconf/internal/tree"
)

// Ref describes one interpolation occurrence found in a document.
type Ref struct {
	// Key is the path of the value containing the expression.
	Key string
	// Expr is the expression text between "${" and "}".
	Expr string
	// Resolver is the resolver name, empty for key references.
	Resolver string
	// Target is the absolute key path referenced, if any. It is set for plain
	// references and for oc.select.
	Target string
	// Err is set when the expression cannot be parsed or the relative
	// reference cannot be anchored.
	Err error
}

// Refs lists every interpolation in root without resolving anything. Results
// follow tree.Walk order.
func Refs(root map[string]any) []Ref {
	var refs []Ref
	_ = tree.Walk(root, func(path string, v any) error {
		s, ok := v.(string)
		if !ok {
			return nil
		}
		pieces, err := parse(s)
		if err != nil {
			refs = append(refs, Ref{Key: path, Expr: s, Err: err})
			return nil
		}
		for _, p := range pieces {
			if p.expr == nil {
				continue
			}
			refs = append(refs, newRef(path, p.expr))
		}
		return nil
	})
	return refs
}

func newRef(key string, expr *expression) Ref {
	ref := Ref{Key: key, Expr: expr.raw, Resolver: expr.resolver}
	switch {
	case expr.resolver == "":
		ref.Target, ref.Err = absolute(expr.path, key)
	case expr.resolver == "oc.select" && len(expr.args) == 1:
		// With a default the target is allowed to be missing.
		ref.Target, ref.Err = absolute(expr.args[0], key)
	}
	return ref
}

// Defined reports whether path exists in root, following prefixes that are
// references such as "alias: ${profile}". A prefix produced by any other
// resolver can only be checked by resolving, so it counts as defined.
func Defined(root map[string]any, path string) bool {
	return defined(root, path, map[string]bool{})
}

func defined(root map[string]any, path string, seen map[string]bool) bool {
	if tree.Has(root, path) {
		return true
	}
	segments, err := tree.Split(path)
	if err != nil {
		return false
	}
	for i := len(segments) - 1; i > 0; i-- {
		prefix := tree.JoinAll(segments[:i])
		raw, ok := tree.Get(root, prefix)
		if !ok {
			continue
		}
		s, isString := raw.(string)
		if !isString {
			return false
		}
		if seen[prefix] {
			// A loop; resolution reports it as a cycle.
			return true
		}
		seen[prefix] = true

		pieces, err := parse(s)
		if err != nil {
			return true
		}
		if len(pieces) != 1 || pieces[0].expr == nil {
			return false
		}
		ref := newRef(prefix, pieces[0].expr)
		if ref.Err != nil || ref.Target == "" {
			return true
		}
		target, err := tree.Split(ref.Target)
		if err != nil {
			return false
		}
		return defined(root, tree.JoinAll(append(target, segments[i:]...)), seen)
	}
	return false
}
