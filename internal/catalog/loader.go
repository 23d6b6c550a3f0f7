package catalog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
	k8syaml "sigs.k8s.io/yaml"

	"github.com/eugenenazirov/expconf/internal/tree"
)

// DefaultPrimaryName is the primary document name used when none is given.
const DefaultPrimaryName = "main"

var packageHeader = regexp.MustCompile(`^#\s*@package\s+(\S+)`)

var schemaFiles = []string{"schema.json", "schema.yaml", "schema.yml"}

// LoadDir loads every family found under root. A sub-directory holding
// "<primaryName>.yaml" is a family; when root itself holds one, root is
// loaded as a single family named after the directory.
func LoadDir(root, primaryName string) (*MemoryCatalog, error) {
	if primaryName == "" {
		primaryName = DefaultPrimaryName
	}
	families, err := readFamilies(root, primaryName)
	if err != nil {
		return nil, err
	}
	return &MemoryCatalog{
		root:        root,
		primaryName: primaryName,
		families:    families,
	}, nil
}

func readFamilies(root, primaryName string) (map[string]Family, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("open config root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("config root %s is not a directory", root)
	}

	families := make(map[string]Family)
	if _, ok := findYAML(root, primaryName); ok {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}
		f, err := loadFamily(root, filepath.Base(abs), primaryName)
		if err != nil {
			return nil, err
		}
		families[f.Name] = f
		return families, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read config root: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, ok := findYAML(filepath.Join(root, entry.Name()), primaryName); ok {
			names = append(names, entry.Name())
		}
	}

	loaded := make([]Family, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			f, err := loadFamily(filepath.Join(root, name), name, primaryName)
			if err != nil {
				return err
			}
			loaded[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, f := range loaded {
		families[f.Name] = f
	}
	if len(families) == 0 {
		return nil, fmt.Errorf("%w: no %s.yaml found under %s", ErrInvalidFamily, primaryName, root)
	}
	return families, nil
}

func loadFamily(dir, name, primaryName string) (Family, error) {
	f := Family{
		Name:   name,
		Dir:    dir,
		Groups: map[string]map[string]Document{},
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if isSchemaFile(rel) {
			schema, err := readSchema(path)
			if err != nil {
				return err
			}
			f.Schema = schema
			return nil
		}

		ext := filepath.Ext(rel)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		doc, err := ParseDocument(data, path)
		if err != nil {
			return err
		}

		stem := strings.TrimSuffix(rel, ext)
		group, option := pathSplit(stem)
		if group == RootGroup && option == primaryName {
			f.Primary = doc
			return nil
		}
		if f.Groups[group] == nil {
			f.Groups[group] = map[string]Document{}
		}
		f.Groups[group][option] = doc
		return nil
	})
	if err != nil {
		return Family{}, fmt.Errorf("load family %s: %w", name, err)
	}
	if f.Primary.Content == nil {
		return Family{}, fmt.Errorf("%w: %s has no %s.yaml", ErrInvalidFamily, dir, primaryName)
	}
	return f, nil
}

// ParseDocument decodes one YAML configuration file. Empty files yield an
// empty document; anything other than a mapping at the top level is rejected.
func ParseDocument(data []byte, source string) (Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Document{}, fmt.Errorf("parse %s: %w", source, err)
	}

	doc := Document{Source: source, Package: packageDirective(data)}
	switch v := tree.Normalize(raw).(type) {
	case nil:
		doc.Content = map[string]any{}
	case map[string]any:
		doc.Content = v
	default:
		return Document{}, fmt.Errorf("%w: %s must contain a mapping, got %T", ErrInvalidFamily, source, raw)
	}
	return doc, nil
}

// packageDirective reads a "# @package <pkg>" line from the leading comment block.
func packageDirective(data []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "#") {
			return ""
		}
		if m := packageHeader.FindStringSubmatch(line); m != nil {
			if m[1] == PackageGroup {
				return ""
			}
			return m[1]
		}
	}
	return ""
}

func readSchema(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	// JSON is valid YAML, so one conversion handles both spellings.
	schema, err := k8syaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("convert schema %s: %w", path, err)
	}
	return schema, nil
}

func isSchemaFile(rel string) bool {
	for _, name := range schemaFiles {
		if rel == name {
			return true
		}
	}
	return false
}

func findYAML(dir, name string) (string, bool) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path, true
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", false
		}
	}
	return "", false
}

func pathSplit(stem string) (string, string) {
	idx := strings.LastIndexByte(stem, '/')
	if idx < 0 {
		return RootGroup, stem
	}
	return stem[:idx], stem[idx+1:]
}
