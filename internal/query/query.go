// Package query evaluates YAML JSONPath expressions against composed
// configuration documents.
package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vmware-labs/yaml-jsonpath/pkg/yamlpath"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/expconf/internal/tree"
)

// ErrInvalidPath is returned for malformed path expressions.
var ErrInvalidPath = errors.New("invalid query path")

// Find returns every sub-document of doc matched by expr. A bare dotted key
// such as "overrides.env_name" is treated as "$.overrides.env_name".
func Find(doc map[string]any, expr string) ([]any, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidPath)
	}
	if !strings.HasPrefix(expr, "$") {
		expr = "$." + expr
	}

	path, err := yamlpath.NewPath(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPath, expr, err)
	}

	raw, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	nodes, err := path.Find(&root)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPath, expr, err)
	}

	matches := make([]any, 0, len(nodes))
	for _, node := range nodes {
		var v any
		if err := node.Decode(&v); err != nil {
			return nil, fmt.Errorf("decode match: %w", err)
		}
		matches = append(matches, tree.Normalize(v))
	}
	return matches, nil
}
