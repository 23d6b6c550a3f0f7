// Package tree manipulates decoded YAML documents (map[string]any / []any
// trees) addressed by dotted key paths.
package tree

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cast"
)

// ErrNotContainer is returned when a path walks through a scalar value.
var ErrNotContainer = errors.New("path traverses a non-container value")

// Get returns the value stored at path. The empty path returns root.
func Get(root any, path string) (any, bool) {
	segments, err := Split(path)
	if err != nil {
		return nil, false
	}
	cur := root
	for _, seg := range segments {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, ok := indexOf(seg)
			if !ok || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Has reports whether path exists in root.
func Has(root any, path string) bool {
	_, ok := Get(root, path)
	return ok
}

// Set stores value at path, creating intermediate maps as needed. List
// elements can be replaced but lists are never grown.
func Set(root map[string]any, path string, value any) error {
	segments, err := Split(path)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	var cur any = root
	for i, seg := range segments {
		last := i == len(segments)-1
		switch node := cur.(type) {
		case map[string]any:
			if last {
				node[seg] = value
				return nil
			}
			next, ok := node[seg]
			if !ok || next == nil {
				next = map[string]any{}
				node[seg] = next
			}
			cur = next
		case []any:
			idx, ok := indexOf(seg)
			if !ok || idx < 0 || idx >= len(node) {
				return fmt.Errorf("%w: index %s out of range at %q", ErrInvalidPath, seg, JoinAll(segments[:i]))
			}
			if last {
				node[idx] = value
				return nil
			}
			cur = node[idx]
		default:
			return fmt.Errorf("%w: %q", ErrNotContainer, JoinAll(segments[:i]))
		}
	}
	return nil
}

// Delete removes the key at path and reports whether it existed. List
// elements are removed and the list shrinks.
func Delete(root map[string]any, path string) bool {
	parentPath, last := Parent(path)
	parent, ok := Get(root, parentPath)
	if !ok {
		return false
	}
	switch node := parent.(type) {
	case map[string]any:
		if _, exists := node[last]; !exists {
			return false
		}
		delete(node, last)
		return true
	case []any:
		idx, ok := indexOf(last)
		if !ok || idx < 0 || idx >= len(node) {
			return false
		}
		shrunk := append(node[:idx:idx], node[idx+1:]...)
		return Set(root, parentPath, shrunk) == nil
	}
	return false
}

// Clone returns a deep copy of v. Scalars are returned as is.
func Clone(v any) any {
	switch node := v.(type) {
	case map[string]any:
		return CloneMap(node)
	case []any:
		out := make([]any, len(node))
		for i, item := range node {
			out[i] = Clone(item)
		}
		return out
	default:
		return v
	}
}

// CloneMap deep-copies a document. A nil map yields an empty one.
func CloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Clone(v)
	}
	return out
}

// Merge deep-merges src into dst and returns dst. Nested maps are merged key
// by key; any other value in src, lists included, replaces the one in dst.
func Merge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[k] = Merge(dstMap, srcMap)
			continue
		}
		dst[k] = Clone(v)
	}
	return dst
}

// Nest wraps doc under the given dotted path: Nest("a.b", doc) = {a: {b: doc}}.
func Nest(path string, doc map[string]any) (map[string]any, error) {
	segments, err := Split(path)
	if err != nil {
		return nil, err
	}
	out := doc
	for i := len(segments) - 1; i >= 0; i-- {
		out = map[string]any{segments[i]: out}
	}
	return out, nil
}

// Normalize converts map[any]any nodes into map[string]any recursively, so
// documents decoded from non-string YAML keys can be addressed by path.
func Normalize(v any) any {
	switch node := v.(type) {
	case map[string]any:
		for k, item := range node {
			node[k] = Normalize(item)
		}
		return node
	case map[any]any:
		out := make(map[string]any, len(node))
		for k, item := range node {
			out[cast.ToString(k)] = Normalize(item)
		}
		return out
	case []any:
		for i, item := range node {
			node[i] = Normalize(item)
		}
		return node
	default:
		return v
	}
}

// Keys returns the keys of m in sorted order.
func Keys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WalkFunc is called for every node below the root, containers included.
type WalkFunc func(path string, value any) error

// Walk visits every node of root in a deterministic order (sorted map keys,
// list order), parents before children.
func Walk(root any, fn WalkFunc) error {
	return walk("", root, fn)
}

func walk(path string, v any, fn WalkFunc) error {
	switch node := v.(type) {
	case map[string]any:
		for _, k := range Keys(node) {
			child := Join(path, k)
			if err := fn(child, node[k]); err != nil {
				return err
			}
			if err := walk(child, node[k], fn); err != nil {
				return err
			}
		}
	case []any:
		for i, item := range node {
			child := Join(path, Index(i))
			if err := fn(child, item); err != nil {
				return err
			}
			if err := walk(child, item, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
