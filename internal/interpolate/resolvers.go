package interpolate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lestrrat-go/strftime"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/expconf/internal/tree"
)

func builtinResolvers() map[string]Func {
	return map[string]Func{
		"oc.env":    envResolver(false),
		"env":       envResolver(true),
		"now":       nowResolver,
		"oc.decode": decodeResolver,
		"oc.select": selectResolver,
	}
}

// envResolver reads NAME[,default]. The legacy "env" form decodes the value
// as a YAML scalar so "${env:SEED,0}" yields an integer, falling back to the
// raw text when it is not valid YAML; "oc.env" always yields a string. A
// literal "null" default yields nil.
func envResolver(decode bool) Func {
	return func(ctx *Context, args []string) (any, error) {
		if len(args) == 0 || len(args) > 2 || args[0] == "" {
			return nil, fmt.Errorf("%w: expected NAME[,default]", ErrSyntax)
		}
		value, ok := ctx.LookupEnv(args[0])
		if !ok {
			if len(args) < 2 {
				return nil, fmt.Errorf("%w: %s", ErrEnvNotSet, args[0])
			}
			if args[1] == "null" {
				return nil, nil
			}
			value = args[1]
		}
		if decode {
			if v, err := decodeScalar(value); err == nil {
				return v, nil
			}
		}
		return value, nil
	}
}

// nowResolver formats the shared resolution timestamp with a strftime pattern.
func nowResolver(ctx *Context, args []string) (any, error) {
	pattern := strings.Join(args, ",")
	if pattern == "" {
		return nil, fmt.Errorf("%w: now requires a format", ErrSyntax)
	}
	out, err := strftime.Format(pattern, ctx.Now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return out, nil
}

func decodeResolver(_ *Context, args []string) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: oc.decode takes one argument", ErrSyntax)
	}
	return decodeScalar(args[0])
}

// selectResolver implements "oc.select:path[,default]".
func selectResolver(ctx *Context, args []string) (any, error) {
	if len(args) == 0 || len(args) > 2 || args[0] == "" {
		return nil, fmt.Errorf("%w: expected path[,default]", ErrSyntax)
	}
	target, err := absolute(args[0], ctx.Key)
	if err != nil {
		return nil, err
	}
	v, err := ctx.Select(target)
	if err == nil {
		return tree.Clone(v), nil
	}
	if len(args) == 2 && !errors.Is(err, ErrCycle) {
		return decodeScalar(args[1])
	}
	return nil, err
}

func decodeScalar(s string) (any, error) {
	if s == "" {
		return "", nil
	}
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("%w: decode %q: %v", ErrSyntax, s, err)
	}
	return tree.Normalize(v), nil
}
