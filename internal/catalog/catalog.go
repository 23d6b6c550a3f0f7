package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/eugenenazirov/expconf/internal/tree"
)

const (
	// PackageGlobal places a group option at the root of the composed document.
	PackageGlobal = "_global_"
	// PackageGroup places a group option under its group key. It is the default.
	PackageGroup = "_group_"
	// RootGroup holds documents stored next to the primary document. They are
	// selected with plain "- name" entries of a defaults list.
	RootGroup = ""
)

// Document is one decoded YAML configuration file.
type Document struct {
	Content map[string]any
	// Package overrides where the document is merged: PackageGlobal, a dotted
	// key path, or empty for the group default.
	Package string
	Source  string
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	return Document{
		Content: tree.CloneMap(d.Content),
		Package: d.Package,
		Source:  d.Source,
	}
}

// Family is one experiment family: a primary document plus its config groups.
type Family struct {
	Name    string
	Dir     string
	Primary Document
	// Groups maps a group name ("overrides", "env/physics") to its options.
	Groups map[string]map[string]Document
	// Schema is an optional JSON Schema for the resolved document, as JSON.
	Schema []byte
}

// Clone returns a deep copy of the family.
func (f Family) Clone() Family {
	out := Family{
		Name:    f.Name,
		Dir:     f.Dir,
		Primary: f.Primary.Clone(),
		Groups:  make(map[string]map[string]Document, len(f.Groups)),
	}
	for group, options := range f.Groups {
		copied := make(map[string]Document, len(options))
		for name, doc := range options {
			copied[name] = doc.Clone()
		}
		out.Groups[group] = copied
	}
	if f.Schema != nil {
		out.Schema = append([]byte(nil), f.Schema...)
	}
	return out
}

// Catalog provides access to experiment families.
type Catalog interface {
	Families() []string
	Family(name string) (Family, error)
	Primary(family string) (Document, error)
	Option(family, group, option string) (Document, error)
	Groups(family string) (map[string][]string, error)
	Schema(family string) ([]byte, error)
}

var _ Catalog = (*MemoryCatalog)(nil)

// MemoryCatalog keeps families in memory and guards access with a RWMutex.
// Every accessor returns deep copies, so callers may mutate results freely.
type MemoryCatalog struct {
	mu          sync.RWMutex
	root        string
	primaryName string
	families    map[string]Family
}

// NewMemoryCatalog creates a catalog holding the given families.
func NewMemoryCatalog(families ...Family) (*MemoryCatalog, error) {
	c := &MemoryCatalog{
		primaryName: DefaultPrimaryName,
		families:    make(map[string]Family, len(families)),
	}
	for _, f := range families {
		if err := c.Put(f); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Families returns the sorted family names.
func (c *MemoryCatalog) Families() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.families))
	for name := range c.families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Family returns a copy of the named family.
func (c *MemoryCatalog) Family(name string) (Family, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, ok := c.families[name]
	if !ok {
		return Family{}, fmt.Errorf("%w: %q", ErrFamilyNotFound, name)
	}
	return f.Clone(), nil
}

// Primary returns a copy of the family's primary document.
func (c *MemoryCatalog) Primary(family string) (Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, ok := c.families[family]
	if !ok {
		return Document{}, fmt.Errorf("%w: %q", ErrFamilyNotFound, family)
	}
	return f.Primary.Clone(), nil
}

// Option returns a copy of one group option document.
func (c *MemoryCatalog) Option(family, group, option string) (Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, ok := c.families[family]
	if !ok {
		return Document{}, fmt.Errorf("%w: %q", ErrFamilyNotFound, family)
	}
	doc, ok := f.Groups[group][option]
	if !ok {
		if group == RootGroup {
			return Document{}, fmt.Errorf("%w: %s/%s", ErrOptionNotFound, family, option)
		}
		return Document{}, fmt.Errorf("%w: %s/%s/%s", ErrOptionNotFound, family, group, option)
	}
	return doc.Clone(), nil
}

// Groups returns the sorted option names of every group of a family.
func (c *MemoryCatalog) Groups(family string) (map[string][]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, ok := c.families[family]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFamilyNotFound, family)
	}
	out := make(map[string][]string, len(f.Groups))
	for group, options := range f.Groups {
		names := make([]string, 0, len(options))
		for name := range options {
			names = append(names, name)
		}
		sort.Strings(names)
		out[group] = names
	}
	return out, nil
}

// Schema returns the family's JSON Schema, or nil when it has none.
func (c *MemoryCatalog) Schema(family string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, ok := c.families[family]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFamilyNotFound, family)
	}
	if f.Schema == nil {
		return nil, nil
	}
	return append([]byte(nil), f.Schema...), nil
}

// Put validates and stores a family, replacing any family with the same name.
func (c *MemoryCatalog) Put(f Family) error {
	if f.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidFamily)
	}
	if f.Primary.Content == nil {
		return fmt.Errorf("%w: %q has no primary document", ErrInvalidFamily, f.Name)
	}

	stored := f.Clone()
	c.mu.Lock()
	c.families[f.Name] = stored
	c.mu.Unlock()

	return nil
}

// Reload re-reads the catalog from its root directory. The previous content
// stays in place when loading fails.
func (c *MemoryCatalog) Reload() error {
	c.mu.RLock()
	root, primaryName := c.root, c.primaryName
	c.mu.RUnlock()

	if root == "" {
		return ErrNoRoot
	}
	families, err := readFamilies(root, primaryName)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.families = families
	c.mu.Unlock()

	return nil
}
