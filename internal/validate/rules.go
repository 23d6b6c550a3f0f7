package validate

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// Rule checks one leaf value, selected by its key name.
type Rule struct {
	Name  string
	Match func(key string) bool
	Check func(v any) error
}

var devicePattern = regexp.MustCompile(`^(cpu|cuda(:[0-9]+)?|mps|auto)$`)

// RewardFunctions lists the reward functions a "reward_fns" key may name.
var RewardFunctions = map[string]struct{}{
	"ones": {},
}

// DefaultRules returns the domain rules applied to every resolved document.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:  "learning_rate",
			Match: func(k string) bool { return k == "lr" || strings.HasSuffix(k, "_lr") },
			Check: positiveNumber,
		},
		{
			Name: "non_negative_weight",
			Match: func(k string) bool {
				return strings.HasPrefix(k, "lambda_") || strings.HasSuffix(k, "_weight") || k == "grad_clip"
			},
			Check: nonNegativeNumber,
		},
		{
			Name: "positive_count",
			Match: oneOf(
				"num_candidates", "top_k", "batch_size", "batch_length", "frames_per_batch",
				"optim_steps_per_batch", "imagination_horizon", "planning_horizon", "optim_steps",
				"sampling_times", "variable_num", "state_dim_per_variable", "hidden_dim_per_variable",
			).or(func(k string) bool { return strings.HasSuffix(k, "_task_num") }),
			Check: minInt(1),
		},
		{
			Name:  "interval",
			Match: func(k string) bool { return k == "interval" || strings.HasSuffix(k, "_interval") },
			Check: minInt(1),
		},
		{
			Name: "frame_budget",
			Match: func(k string) bool {
				return strings.HasSuffix(k, "_frames") || strings.HasSuffix(k, "_frames_per_task")
			},
			Check: minInt(0),
		},
		{
			Name:  "buffer_size",
			Match: oneOf("buffer_size"),
			Check: bufferSize,
		},
		{
			Name:  "seed",
			Match: oneOf("seed"),
			Check: minInt(0),
		},
		{
			Name:  "device",
			Match: func(k string) bool { return k == "device" || strings.HasSuffix(k, "_device") },
			Check: device,
		},
		{
			Name:  "boolean",
			Match: oneOf("discount_loss", "pred_continue", "offline_logging", "meta"),
			Check: boolean,
		},
		{
			Name:  "reward_fns",
			Match: oneOf("reward_fns"),
			Check: rewardFns,
		},
	}
}

type matcher func(string) bool

func oneOf(keys ...string) matcher {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return func(k string) bool {
		_, ok := set[k]
		return ok
	}
}

func (m matcher) or(other func(string) bool) matcher {
	return func(k string) bool { return m(k) || other(k) }
}

var errNotNumber = errors.New("must be a number")

// number accepts numeric values only; "3" is a string, not a number.
func number(v any) (float64, error) {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
	default:
		return 0, fmt.Errorf("%w, got %s", errNotNumber, describe(v))
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) {
		return 0, fmt.Errorf("%w, got %v", errNotNumber, v)
	}
	return f, nil
}

func integer(v any) (int64, error) {
	if _, err := number(v); err != nil {
		return 0, fmt.Errorf("must be an integer, got %s", describe(v))
	}
	f, _ := cast.ToFloat64E(v)
	if math.Trunc(f) != f || math.IsInf(f, 0) {
		return 0, fmt.Errorf("must be an integer, got %v", v)
	}
	return int64(f), nil
}

func describe(v any) string {
	switch v := v.(type) {
	case string:
		return fmt.Sprintf("string %q", v)
	case nil:
		return "null"
	case map[string]any:
		return "a mapping"
	case []any:
		return "a sequence"
	default:
		return fmt.Sprintf("%T %v", v, v)
	}
}

func positiveNumber(v any) error {
	f, err := number(v)
	if err != nil {
		return err
	}
	if f <= 0 {
		return fmt.Errorf("must be > 0, got %v", v)
	}
	return nil
}

func nonNegativeNumber(v any) error {
	f, err := number(v)
	if err != nil {
		return err
	}
	if f < 0 {
		return fmt.Errorf("must be >= 0, got %v", v)
	}
	return nil
}

func minInt(min int64) func(any) error {
	return func(v any) error {
		n, err := integer(v)
		if err != nil {
			return err
		}
		if n < min {
			return fmt.Errorf("must be >= %d, got %d", min, n)
		}
		return nil
	}
}

func bufferSize(v any) error {
	n, err := integer(v)
	if err != nil {
		return err
	}
	if n == -1 || n >= 1 {
		return nil
	}
	return fmt.Errorf("must be -1 (derive from the frame budget) or >= 1, got %d", n)
}

func device(v any) error {
	s, ok := v.(string)
	if !ok || !devicePattern.MatchString(s) {
		return fmt.Errorf("must be cpu, cuda, cuda:N, mps or auto, got %v", v)
	}
	return nil
}

func boolean(v any) error {
	if _, ok := v.(bool); !ok {
		return fmt.Errorf("must be a boolean, got %v", v)
	}
	return nil
}

func rewardFns(v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("must be a string, got %v", v)
	}
	if s == "" {
		return nil
	}
	if _, ok := RewardFunctions[s]; !ok {
		names := make([]string, 0, len(RewardFunctions))
		for name := range RewardFunctions {
			names = append(names, name)
		}
		sort.Strings(names)
		return fmt.Errorf("unknown reward function %q (known: %s)", s, strings.Join(names, ", "))
	}
	return nil
}
