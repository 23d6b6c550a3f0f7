// Package rundir materialises run output directories. The directory name is
// templated from the composed configuration (hydra.run.dir) and a snapshot of
// the composition is written under .hydra/ so a run can be reproduced.
package rundir

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/expconf/internal/compose"
	"github.com/eugenenazirov/expconf/internal/interpolate"
	"github.com/eugenenazirov/expconf/internal/tree"
)

// DefaultTemplate names run directories when hydra.run.dir is not configured.
const DefaultTemplate = "outputs/${now:%Y-%m-%d}/${now:%H-%M-%S}"

const (
	templateKey = "hydra.run.dir"
	hydraKey    = "hydra"
	metaDir     = ".hydra"
)

var (
	// ErrNotResolved is returned when a result has not been resolved yet.
	ErrNotResolved = errors.New("configuration is not resolved")
	// ErrInvalidTemplate is returned when hydra.run.dir is not a usable path.
	ErrInvalidTemplate = errors.New("invalid run directory template")
)

type options struct {
	baseDir string
	logger  *zap.Logger
}

// Option configures Path and Create.
type Option func(*options)

// WithBaseDir anchors relative run directories at dir instead of the working directory.
func WithBaseDir(dir string) Option {
	return func(o *options) {
		o.baseDir = dir
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func newOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Path returns the absolute run directory for res without creating it.
func Path(res *compose.Result, opts ...Option) (string, error) {
	o := newOptions(opts)
	return o.path(res)
}

func (o options) path(res *compose.Result) (string, error) {
	if res == nil || res.Resolved == nil {
		return "", ErrNotResolved
	}

	var dir string
	if v, ok := tree.Get(res.Resolved, templateKey); ok {
		s, isString := v.(string)
		if !isString || s == "" {
			return "", fmt.Errorf("%w: %s must be a non-empty string, got %v", ErrInvalidTemplate, templateKey, v)
		}
		dir = s
	} else {
		resolver := interpolate.New(interpolate.WithNow(res.Time))
		s, err := resolver.ResolveString(res.Resolved, DefaultTemplate)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
		}
		dir = s
	}

	if !filepath.IsAbs(dir) {
		base := o.baseDir
		if base == "" {
			wd, err := os.Getwd()
			if err != nil {
				return "", fmt.Errorf("working directory: %w", err)
			}
			base = wd
		}
		dir = filepath.Join(base, dir)
	}
	return filepath.Abs(dir)
}

// Create makes the run directory for res and writes the composition snapshot:
// config.yaml (composed, unresolved), resolved.yaml, overrides.yaml and
// hydra.yaml (run metadata and group choices). Existing directories are reused
// and their snapshot files replaced.
func Create(ctx context.Context, res *compose.Result, opts ...Option) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	o := newOptions(opts)
	dir, err := o.path(res)
	if err != nil {
		return "", err
	}

	meta := filepath.Join(dir, metaDir)
	if err := os.MkdirAll(meta, 0o755); err != nil {
		return "", fmt.Errorf("create run directory: %w", err)
	}

	overrides := res.Overrides
	if overrides == nil {
		overrides = []string{}
	}
	files := []struct {
		name string
		doc  any
	}{
		{name: "config.yaml", doc: withoutHydra(res.Config)},
		{name: "resolved.yaml", doc: withoutHydra(res.Resolved)},
		{name: "overrides.yaml", doc: overrides},
		{name: "hydra.yaml", doc: hydraDoc(res, dir)},
	}
	for _, f := range files {
		if err := writeYAML(filepath.Join(meta, f.name), f.doc); err != nil {
			return "", err
		}
	}

	o.logger.Info("run directory created",
		zap.String("family", res.Family),
		zap.String("dir", dir),
		zap.Strings("overrides", overrides),
	)
	return dir, nil
}

func withoutHydra(doc map[string]any) map[string]any {
	out := tree.CloneMap(doc)
	delete(out, hydraKey)
	return out
}

func hydraDoc(res *compose.Result, dir string) map[string]any {
	node := map[string]any{}
	if v, ok := res.Resolved[hydraKey].(map[string]any); ok {
		node = tree.CloneMap(v)
	}

	choices := make(map[string]any, len(res.Choices))
	groups := make([]string, 0, len(res.Choices))
	for group := range res.Choices {
		groups = append(groups, group)
	}
	sort.Strings(groups)
	for _, group := range groups {
		choices[group] = res.Choices[group]
	}

	runtime := map[string]any{
		"family":      res.Family,
		"output_dir":  dir,
		"composed_at": res.Time.Format(time.RFC3339),
		"choices":     choices,
	}
	if wd, err := os.Getwd(); err == nil {
		runtime["cwd"] = wd
	}
	node["runtime"] = runtime
	return map[string]any{hydraKey: node}
}

func writeYAML(path string, doc any) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
