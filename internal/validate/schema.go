package validate

import (
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

func (v *Validator) checkSchema(report *Report, family string, resolved map[string]any) {
	if v.schemas == nil {
		return
	}
	raw, err := v.schemas.Schema(family)
	if err != nil {
		report.add("", RuleSchema, "load schema: %v", err)
		return
	}
	if raw == nil {
		return
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(raw),
		gojsonschema.NewGoLoader(resolved),
	)
	if err != nil {
		v.logger.Warn("schema validation failed", zap.String("family", family), zap.Error(err))
		report.add("", RuleSchema, "invalid schema: %v", err)
		return
	}
	for _, desc := range result.Errors() {
		path := desc.Field()
		if path == "(root)" {
			path = ""
		}
		report.add(path, RuleSchema, "%s", desc.Description())
	}
}
