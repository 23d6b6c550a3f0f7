// Package validate checks composed experiment configurations: every
// interpolation must point at an existing key, numeric knobs must be in
// domain-sensible ranges and, when a family ships one, the resolved document
// must satisfy its JSON Schema.
package validate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/eugenenazirov/expconf/internal/compose"
	"github.com/eugenenazirov/expconf/internal/interpolate"
	"github.com/eugenenazirov/expconf/internal/tree"
)

// Rule names used for checks that are not leaf rules.
const (
	RuleReference     = "reference"
	RuleInterpolation = "interpolation"
	RuleTopK          = "top_k_within_candidates"
	RuleSchema        = "schema"
)

// Issue is one validation failure.
type Issue struct {
	Path    string `json:"path"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (i Issue) Error() string {
	if i.Path == "" {
		return fmt.Sprintf("[%s] %s", i.Rule, i.Message)
	}
	return fmt.Sprintf("%s: [%s] %s", i.Path, i.Rule, i.Message)
}

// Report collects every issue found in one document.
type Report struct {
	Issues []Issue `json:"issues"`
}

// Valid reports whether no issue was found.
func (r Report) Valid() bool {
	return len(r.Issues) == 0
}

// Err joins all issues into one error, or returns nil for a valid report.
func (r Report) Err() error {
	if r.Valid() {
		return nil
	}
	errs := make([]error, len(r.Issues))
	for i, issue := range r.Issues {
		errs[i] = issue
	}
	return errors.Join(errs...)
}

func (r *Report) add(path, rule, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{Path: path, Rule: rule, Message: fmt.Sprintf(format, args...)})
}

// SchemaSource provides optional per-family JSON Schemas.
type SchemaSource interface {
	Schema(family string) ([]byte, error)
}

// Validator checks composition results.
type Validator struct {
	rules   []Rule
	schemas SchemaSource
	logger  *zap.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithRules replaces the default rule set.
func WithRules(rules ...Rule) Option {
	return func(v *Validator) {
		v.rules = rules
	}
}

// WithSchemas enables JSON Schema validation.
func WithSchemas(schemas SchemaSource) Option {
	return func(v *Validator) {
		v.schemas = schemas
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// New constructs a Validator with DefaultRules.
func New(opts ...Option) *Validator {
	v := &Validator{
		rules:  DefaultRules(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks res. resolveErr is the error returned by resolving res, if
// any; it is reported unless the reference check already explains it.
// Validation never stops at the first issue.
func (v *Validator) Validate(res *compose.Result, resolveErr error) Report {
	var report Report

	v.checkReferences(&report, res)
	if resolveErr != nil && report.Valid() {
		report.add("", RuleInterpolation, "%v", resolveErr)
	}

	if res.Resolved != nil {
		v.checkRules(&report, res.Resolved)
		v.checkSchema(&report, res.Family, res.Resolved)
	}

	v.logger.Debug("validated config",
		zap.String("family", res.Family),
		zap.Int("issues", len(report.Issues)),
	)
	return report
}

func (v *Validator) checkReferences(report *Report, res *compose.Result) {
	for _, ref := range interpolate.Refs(res.Config) {
		if ref.Err != nil {
			report.add(ref.Key, RuleReference, "%v", ref.Err)
			continue
		}
		if ref.Target == "" || interpolate.Defined(res.Config, ref.Target) {
			continue
		}
		if group, option, ok := profileOf(res.Choices, ref.Target); ok {
			report.add(ref.Key, RuleReference, "${%s}: key %q is not defined in profile %s=%s",
				ref.Expr, ref.Target, group, option)
			continue
		}
		report.add(ref.Key, RuleReference, "${%s}: key %q is not defined", ref.Expr, ref.Target)
	}
}

// profileOf finds the selected group option a missing key would live in.
func profileOf(choices map[string]string, target string) (string, string, bool) {
	groups := make([]string, 0, len(choices))
	for group := range choices {
		groups = append(groups, group)
	}
	// Longest group path first so "env/physics" wins over "env".
	sort.Slice(groups, func(i, j int) bool { return len(groups[i]) > len(groups[j]) })
	for _, group := range groups {
		prefix := strings.ReplaceAll(group, "/", ".")
		if target == prefix || strings.HasPrefix(target, prefix+".") {
			return group, choices[group], true
		}
	}
	return "", "", false
}

func (v *Validator) checkRules(report *Report, resolved map[string]any) {
	_ = tree.Walk(resolved, func(path string, value any) error {
		_, key := tree.Parent(path)
		if m, ok := value.(map[string]any); ok {
			checkTopK(report, path, m)
			return nil
		}
		if _, ok := value.([]any); ok {
			return nil
		}
		for _, rule := range v.rules {
			if !rule.Match(key) {
				continue
			}
			if err := rule.Check(value); err != nil {
				report.add(path, rule.Name, "%v", err)
			}
		}
		return nil
	})
	checkTopK(report, "", resolved)
}

// checkTopK enforces top_k <= num_candidates when both are set in one mapping.
func checkTopK(report *Report, path string, m map[string]any) {
	topK, okK := m["top_k"]
	candidates, okC := m["num_candidates"]
	if !okK || !okC {
		return
	}
	k, errK := integer(topK)
	n, errN := integer(candidates)
	if errK != nil || errN != nil {
		return
	}
	if k > n {
		report.add(tree.Join(path, "top_k"), RuleTopK, "top_k (%d) must not exceed num_candidates (%d)", k, n)
	}
}
