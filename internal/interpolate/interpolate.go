// Package interpolate resolves late-bound "${...}" references inside composed
// configuration documents.
package interpolate

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/eugenenazirov/expconf/internal/tree"
)

// Func implements a named resolver such as "oc.env" or "now".
type Func func(ctx *Context, args []string) (any, error)

// Context is handed to resolver functions.
type Context struct {
	// Key is the path of the value holding the expression.
	Key string
	// Now is the timestamp shared by every "now" resolver of one resolution.
	Now time.Time

	state *state
}

// Select resolves an absolute key path of the document being resolved.
func (c *Context) Select(path string) (any, error) {
	return c.state.value(path)
}

// LookupEnv reads an environment variable through the resolver's lookup function.
func (c *Context) LookupEnv(name string) (string, bool) {
	return c.state.r.lookupEnv(name)
}

// Resolver resolves interpolations. The zero value is not usable; use New.
type Resolver struct {
	now       func() time.Time
	lookupEnv func(string) (string, bool)
	funcs     map[string]Func
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithNow pins the timestamp used by the "now" resolver.
func WithNow(t time.Time) Option {
	return func(r *Resolver) {
		r.now = func() time.Time { return t }
	}
}

// WithLookupEnv overrides environment variable lookup, primarily for tests.
func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(r *Resolver) {
		r.lookupEnv = lookup
	}
}

// WithResolver registers an additional resolver, replacing any with the same name.
func WithResolver(name string, fn Func) Option {
	return func(r *Resolver) {
		r.funcs[name] = fn
	}
}

// New creates a Resolver with the built-in resolvers registered.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		now:       time.Now,
		lookupEnv: os.LookupEnv,
		funcs:     builtinResolvers(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns a copy of root with every interpolation replaced by its
// value. root itself is never modified.
func (r *Resolver) Resolve(root map[string]any) (map[string]any, error) {
	s := r.newState(root)
	out, err := s.node("", s.root)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

// ResolveString resolves a standalone template such as a run directory
// pattern, with key references looked up in root.
func (r *Resolver) ResolveString(root map[string]any, template string) (string, error) {
	s := r.newState(root)
	v, err := s.str("", template)
	if err != nil {
		return "", err
	}
	return cast.ToStringE(v)
}

func (r *Resolver) newState(root map[string]any) *state {
	return &state{
		r:      r,
		root:   tree.CloneMap(root),
		now:    r.now(),
		done:   map[string]any{},
		active: map[string]bool{},
	}
}

type state struct {
	r      *Resolver
	root   map[string]any
	now    time.Time
	done   map[string]any
	active map[string]bool
	chain  []string
}

func (s *state) value(path string) (any, error) {
	if v, ok := s.done[path]; ok {
		return v, nil
	}
	if s.active[path] {
		return nil, fmt.Errorf("%w: %s -> %s", ErrCycle, strings.Join(s.chain, " -> "), path)
	}
	raw, ok := tree.Get(s.root, path)
	if !ok {
		return s.through(path)
	}

	s.active[path] = true
	s.chain = append(s.chain, path)
	v, err := s.node(path, raw)
	s.chain = s.chain[:len(s.chain)-1]
	delete(s.active, path)
	if err != nil {
		return nil, err
	}
	s.done[path] = v
	return v, nil
}

// through resolves a path whose prefix is itself an interpolation, such as
// "alias.lr" with "alias: ${profile}".
func (s *state) through(path string) (any, error) {
	missing := fmt.Errorf("%w: %s", ErrMissingKey, path)
	segments, err := tree.Split(path)
	if err != nil {
		return nil, missing
	}
	for i := len(segments) - 1; i > 0; i-- {
		prefix := tree.JoinAll(segments[:i])
		raw, ok := tree.Get(s.root, prefix)
		if !ok {
			continue
		}
		if _, isString := raw.(string); !isString {
			return nil, missing
		}
		base, err := s.value(prefix)
		if err != nil {
			return nil, err
		}
		v, ok := tree.Get(base, tree.JoinAll(segments[i:]))
		if !ok {
			return nil, missing
		}
		return v, nil
	}
	return nil, missing
}

func (s *state) node(path string, raw any) (any, error) {
	switch node := raw.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for _, k := range tree.Keys(node) {
			v, err := s.value(tree.Join(path, k))
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	case []any:
		out := make([]any, len(node))
		for i := range node {
			v, err := s.value(tree.Join(path, tree.Index(i)))
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case string:
		return s.str(path, node)
	default:
		return raw, nil
	}
}

func (s *state) str(path, raw string) (any, error) {
	pieces, err := parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", displayKey(path), err)
	}
	if pieces == nil {
		return raw, nil
	}
	if len(pieces) == 1 && pieces[0].expr == nil {
		return pieces[0].literal, nil
	}
	if len(pieces) == 1 {
		return s.eval(path, pieces[0].expr)
	}

	var b strings.Builder
	for _, p := range pieces {
		if p.expr == nil {
			b.WriteString(p.literal)
			continue
		}
		v, err := s.eval(path, p.expr)
		if err != nil {
			return nil, err
		}
		switch v.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("%s: %w: ${%s}", displayKey(path), ErrNotScalar, p.expr.raw)
		}
		text, err := cast.ToStringE(v)
		if err != nil {
			return nil, fmt.Errorf("%s: ${%s}: %w", displayKey(path), p.expr.raw, err)
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

func (s *state) eval(path string, expr *expression) (any, error) {
	if expr.resolver == "" {
		target, err := absolute(expr.path, path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", displayKey(path), err)
		}
		v, err := s.value(target)
		if err != nil {
			return nil, fmt.Errorf("%s: ${%s}: %w", displayKey(path), expr.raw, err)
		}
		// Containers are shared through the cache; hand out copies.
		return tree.Clone(v), nil
	}

	fn, ok := s.r.funcs[expr.resolver]
	if !ok {
		return nil, fmt.Errorf("%s: %w %q", displayKey(path), ErrUnknownResolver, expr.resolver)
	}
	v, err := fn(&Context{Key: path, Now: s.now, state: s}, expr.args)
	if err != nil {
		return nil, fmt.Errorf("%s: ${%s}: %w", displayKey(path), expr.raw, err)
	}
	return v, nil
}

func displayKey(path string) string {
	if path == "" {
		return "<template>"
	}
	return path
}
