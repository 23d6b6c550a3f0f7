// Package compose builds experiment configurations: it expands the defaults
// list of a primary document, merges the selected group options, applies
// command-line overrides and resolves interpolations.
package compose

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/eugenenazirov/expconf/internal/catalog"
	"github.com/eugenenazirov/expconf/internal/interpolate"
	"github.com/eugenenazirov/expconf/internal/tree"
)

// Source provides the documents a composition is built from.
type Source interface {
	Primary(family string) (catalog.Document, error)
	Option(family, group, option string) (catalog.Document, error)
	Groups(family string) (map[string][]string, error)
}

// Request selects a family and the command-line overrides to apply.
type Request struct {
	Family    string
	Overrides []string
}

// Result is a composed configuration.
type Result struct {
	Family string
	// Config is the composed document before interpolation.
	Config map[string]any
	// Resolved is Config with every interpolation resolved. It is nil until
	// Resolve succeeds.
	Resolved map[string]any
	// Choices maps each config group to the option that was merged.
	Choices   map[string]string
	Overrides []string
	// Time is the composition timestamp shared by every ${now:...}.
	Time time.Time
}

// Composer builds Results from a Source.
type Composer struct {
	source    Source
	clock     func() time.Time
	lookupEnv func(string) (string, bool)
	logger    *zap.Logger
}

// Option configures a Composer.
type Option func(*Composer)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Composer) {
		c.clock = clock
	}
}

// WithLookupEnv overrides environment variable lookup for interpolation.
func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(c *Composer) {
		c.lookupEnv = lookup
	}
}

// WithLogger attaches a logger for composition diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Composer) {
		c.logger = logger
	}
}

// New constructs a Composer reading from source.
func New(source Source, opts ...Option) *Composer {
	c := &Composer{
		source:    source,
		clock:     time.Now,
		lookupEnv: os.LookupEnv,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose builds and resolves the configuration for req.
func (c *Composer) Compose(ctx context.Context, req Request) (*Result, error) {
	res, err := c.Build(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := c.Resolve(res); err != nil {
		return nil, err
	}
	return res, nil
}

// Build composes the configuration for req without resolving interpolations.
func (c *Composer) Build(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	primary, err := c.source.Primary(req.Family)
	if err != nil {
		return nil, err
	}
	entries, err := parseDefaults(primary.Content[defaultsKey])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", primary.Source, err)
	}
	delete(primary.Content, defaultsKey)

	groups, err := c.source.Groups(req.Family)
	if err != nil {
		return nil, err
	}

	var valueOverrides []override
	for _, raw := range req.Overrides {
		ov, err := parseOverride(raw)
		if err != nil {
			return nil, err
		}
		applied, err := applyGroupOverride(entries, groups, ov)
		if err != nil {
			return nil, err
		}
		if applied.handled {
			entries = applied.entries
			continue
		}
		valueOverrides = append(valueOverrides, ov)
	}

	merged := map[string]any{}
	choices := map[string]string{}
	selfMerged := false
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.self {
			merged = tree.Merge(merged, primary.Content)
			selfMerged = true
			continue
		}
		if entry.disabled {
			continue
		}

		doc, err := c.source.Option(req.Family, entry.group, entry.option)
		if err != nil {
			if entry.optional && errors.Is(err, catalog.ErrOptionNotFound) {
				c.logger.Debug("optional config missing",
					zap.String("family", req.Family),
					zap.String("entry", entry.String()),
				)
				continue
			}
			return nil, fmt.Errorf("defaults entry %q: %w", entry.String(), err)
		}
		if _, nested := doc.Content[defaultsKey]; nested {
			return nil, fmt.Errorf("%s: %w", doc.Source, ErrNestedDefaults)
		}
		placed, err := place(entry.group, doc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", doc.Source, err)
		}
		merged = tree.Merge(merged, placed)
		if entry.group != catalog.RootGroup {
			choices[entry.group] = entry.option
		}
	}
	if !selfMerged {
		merged = tree.Merge(merged, primary.Content)
	}

	for _, ov := range valueOverrides {
		if err := ov.apply(merged); err != nil {
			return nil, err
		}
	}

	c.logger.Debug("composed config",
		zap.String("family", req.Family),
		zap.Any("choices", choices),
		zap.Strings("overrides", req.Overrides),
	)

	return &Result{
		Family:    req.Family,
		Config:    merged,
		Choices:   choices,
		Overrides: append([]string(nil), req.Overrides...),
		Time:      c.clock(),
	}, nil
}

// Resolve fills res.Resolved, using res.Time for every ${now:...}.
func (c *Composer) Resolve(res *Result) error {
	resolved, err := c.Resolver(res).Resolve(res.Config)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", res.Family, err)
	}
	res.Resolved = resolved
	return nil
}

// Resolver returns an interpolation resolver bound to res's timestamp and the
// composer's environment, for resolving templates outside the document.
func (c *Composer) Resolver(res *Result) *interpolate.Resolver {
	return interpolate.New(
		interpolate.WithNow(res.Time),
		interpolate.WithLookupEnv(c.lookupEnv),
	)
}

type groupOverrideResult struct {
	entries []defaultEntry
	handled bool
}

// applyGroupOverride handles overrides that select config group options:
// "group=option" replaces a defaults entry, "+group=option" appends one and
// "~group" disables one. Anything else is left for value overrides.
func applyGroupOverride(entries []defaultEntry, groups map[string][]string, ov override) (groupOverrideResult, error) {
	idx := -1
	for i, e := range entries {
		if !e.self && e.group != catalog.RootGroup && e.group == ov.key {
			idx = i
			break
		}
	}
	_, known := groups[ov.key]
	if idx < 0 && !(known && (ov.kind == kindAdd || ov.kind == kindForce)) {
		return groupOverrideResult{}, nil
	}

	out := append([]defaultEntry(nil), entries...)
	option, err := optionName(ov)
	if err != nil {
		return groupOverrideResult{}, err
	}

	switch {
	case ov.kind == kindDelete:
		if option != "" && option != out[idx].option {
			return groupOverrideResult{}, fmt.Errorf("%w: %q: group %s selects %s", ErrInvalidOverride, ov.raw, ov.key, out[idx].option)
		}
		out[idx].disabled = true
	case idx >= 0 && ov.kind == kindAdd:
		return groupOverrideResult{}, fmt.Errorf("%w: group %q is already in the defaults list", ErrKeyExists, ov.key)
	case idx >= 0:
		out[idx].option = option
		out[idx].disabled = option == ""
	default:
		out = append(out, defaultEntry{group: ov.key, option: option, disabled: option == ""})
	}
	return groupOverrideResult{entries: out, handled: true}, nil
}

func optionName(ov override) (string, error) {
	if !ov.hasValue || ov.value == nil {
		return "", nil
	}
	switch ov.value.(type) {
	case map[string]any, []any:
		return "", fmt.Errorf("%w: %q: a group option must be a name", ErrInvalidOverride, ov.raw)
	}
	name := strings.TrimSpace(cast.ToString(ov.value))
	return name, nil
}
