package compose

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/expconf/internal/catalog"
	"github.com/eugenenazirov/expconf/internal/interpolate"
)

var fixedNow = time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)

func doc(content map[string]any) catalog.Document {
	return catalog.Document{Content: content, Source: "test"}
}

func newTestCatalog(t *testing.T) *catalog.MemoryCatalog {
	t.Helper()

	mpc := catalog.Family{
		Name: "mpc",
		Primary: doc(map[string]any{
			"defaults": []any{
				"_self_",
				map[string]any{"overrides": "cartpole_meta"},
				map[string]any{"optional logging": "csv"},
			},
			"env_name":            "${overrides.env_name}",
			"meta_train_task_num": "${overrides.meta_train_task_num}",
			"num_candidates":      500,
			"top_k":               50,
			"world_model_lr":      0.001,
			"seed":                0,
		}),
		Groups: map[string]map[string]catalog.Document{
			"overrides": {
				"cartpole_meta": doc(map[string]any{"env_name": "CartPoleContinuous-v0", "meta_train_task_num": 10}),
				"heating":       doc(map[string]any{"env_name": "Heating-v0", "meta_train_task_num": 5}),
			},
			"device": {
				"gpu": {Content: map[string]any{"model_device": "cuda:0"}, Package: catalog.PackageGlobal},
			},
			"planner/cem": {
				"fast": doc(map[string]any{"iterations": 3}),
			},
		},
	}
	dreamer := catalog.Family{
		Name: "dreamer_mdp",
		Primary: doc(map[string]any{
			"defaults": []any{
				map[string]any{"overrides": "heating"},
				"common",
			},
			"seed": 1,
		}),
		Groups: map[string]map[string]catalog.Document{
			"overrides": {
				"heating": doc(map[string]any{"env_name": "Heating-v0", "seed": 99}),
			},
			catalog.RootGroup: {
				"common": doc(map[string]any{"seed": 2, "batch_size": 50}),
			},
		},
	}
	nested := catalog.Family{
		Name: "nested",
		Primary: doc(map[string]any{
			"defaults": []any{map[string]any{"overrides": "bad"}},
		}),
		Groups: map[string]map[string]catalog.Document{
			"overrides": {
				"bad": doc(map[string]any{"defaults": []any{"x"}}),
			},
		},
	}

	cat, err := catalog.NewMemoryCatalog(mpc, dreamer, nested)
	if err != nil {
		t.Fatalf("NewMemoryCatalog returned error: %v", err)
	}
	return cat
}

func newTestComposer(t *testing.T) *Composer {
	t.Helper()

	return New(newTestCatalog(t),
		WithClock(func() time.Time { return fixedNow }),
		WithLookupEnv(func(string) (string, bool) { return "", false }),
		WithLogger(zaptest.NewLogger(t)),
	)
}

func TestComposeDefaults(t *testing.T) {
	t.Parallel()

	res, err := newTestComposer(t).Compose(context.Background(), Request{Family: "mpc"})
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}

	if _, ok := res.Config["defaults"]; ok {
		t.Fatalf("expected defaults list to be removed")
	}
	if got := res.Resolved["env_name"]; got != "CartPoleContinuous-v0" {
		t.Fatalf("expected env_name from profile, got %v", got)
	}
	if got := res.Resolved["meta_train_task_num"]; got != 10 {
		t.Fatalf("expected typed interpolation, got %#v", got)
	}
	if want := map[string]string{"overrides": "cartpole_meta"}; !reflect.DeepEqual(res.Choices, want) {
		t.Fatalf("expected choices %v, got %v", want, res.Choices)
	}
	if !res.Time.Equal(fixedNow) {
		t.Fatalf("expected composition time %s, got %s", fixedNow, res.Time)
	}
	if res.Config["env_name"] != "${overrides.env_name}" {
		t.Fatalf("expected Config to keep interpolations, got %v", res.Config["env_name"])
	}
}

func TestComposeSelfOrdering(t *testing.T) {
	t.Parallel()

	// Without _self_ the primary document is merged last and wins.
	res, err := newTestComposer(t).Compose(context.Background(), Request{Family: "dreamer_mdp"})
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}
	if res.Resolved["seed"] != 1 {
		t.Fatalf("expected primary seed to win, got %v", res.Resolved["seed"])
	}
	if res.Resolved["batch_size"] != 50 {
		t.Fatalf("expected root-level default to be merged, got %v", res.Resolved["batch_size"])
	}
	if _, ok := res.Choices[catalog.RootGroup]; ok {
		t.Fatalf("root-level documents are not group choices")
	}
}

func TestComposeOverrides(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		overrides []string
		check     func(t *testing.T, res *Result)
	}{
		{
			name:      "SelectProfile",
			overrides: []string{"overrides=heating"},
			check: func(t *testing.T, res *Result) {
				if res.Resolved["env_name"] != "Heating-v0" || res.Choices["overrides"] != "heating" {
					t.Fatalf("expected heating profile, got %v %v", res.Resolved["env_name"], res.Choices)
				}
			},
		},
		{
			name:      "SetValue",
			overrides: []string{"world_model_lr=1e-4", "top_k=10"},
			check: func(t *testing.T, res *Result) {
				if res.Resolved["world_model_lr"] != 1e-4 || res.Resolved["top_k"] != 10 {
					t.Fatalf("unexpected values %v %v", res.Resolved["world_model_lr"], res.Resolved["top_k"])
				}
			},
		},
		{
			name:      "SetProfileValue",
			overrides: []string{"overrides.env_name=Pendulum-v1"},
			check: func(t *testing.T, res *Result) {
				if res.Resolved["env_name"] != "Pendulum-v1" {
					t.Fatalf("expected interpolation to see override, got %v", res.Resolved["env_name"])
				}
			},
		},
		{
			name:      "AppendAndForce",
			overrides: []string{"+exp_name=mpc_${overrides.env_name}", "++seed=3", "++new.key=[1,2]"},
			check: func(t *testing.T, res *Result) {
				if res.Resolved["exp_name"] != "mpc_CartPoleContinuous-v0" {
					t.Fatalf("unexpected exp_name %v", res.Resolved["exp_name"])
				}
				if res.Resolved["seed"] != 3 {
					t.Fatalf("unexpected seed %v", res.Resolved["seed"])
				}
				if !reflect.DeepEqual(res.Resolved["new"], map[string]any{"key": []any{1, 2}}) {
					t.Fatalf("unexpected new key %v", res.Resolved["new"])
				}
			},
		},
		{
			name:      "Delete",
			overrides: []string{"~top_k", "~seed=0"},
			check: func(t *testing.T, res *Result) {
				if _, ok := res.Resolved["top_k"]; ok {
					t.Fatalf("expected top_k to be deleted")
				}
				if _, ok := res.Resolved["seed"]; ok {
					t.Fatalf("expected seed to be deleted")
				}
			},
		},
		{
			name:      "AddGroup",
			overrides: []string{"+device=gpu", "+planner/cem=fast"},
			check: func(t *testing.T, res *Result) {
				if res.Resolved["model_device"] != "cuda:0" {
					t.Fatalf("expected global package merge, got %v", res.Resolved)
				}
				planner, _ := res.Resolved["planner"].(map[string]any)
				if !reflect.DeepEqual(planner, map[string]any{"cem": map[string]any{"iterations": 3}}) {
					t.Fatalf("expected nested group placement, got %v", res.Resolved["planner"])
				}
				if res.Choices["device"] != "gpu" || res.Choices["planner/cem"] != "fast" {
					t.Fatalf("unexpected choices %v", res.Choices)
				}
			},
		},
		{
			name:      "EmptyString",
			overrides: []string{"env_name="},
			check: func(t *testing.T, res *Result) {
				if res.Resolved["env_name"] != "" {
					t.Fatalf("expected empty string, got %#v", res.Resolved["env_name"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, err := newTestComposer(t).Compose(context.Background(), Request{Family: "mpc", Overrides: tt.overrides})
			if err != nil {
				t.Fatalf("Compose returned error: %v", err)
			}
			tt.check(t, res)
		})
	}
}

func TestDisableGroupBreaksReferences(t *testing.T) {
	t.Parallel()

	c := newTestComposer(t)
	res, err := c.Build(context.Background(), Request{Family: "mpc", Overrides: []string{"~overrides"}})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if _, ok := res.Config["overrides"]; ok {
		t.Fatalf("expected profile to be skipped")
	}
	if err := c.Resolve(res); !errors.Is(err, interpolate.ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
	if res.Resolved != nil {
		t.Fatalf("expected Resolved to stay nil on failure")
	}
}

func TestComposeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		family    string
		overrides []string
		want      error
	}{
		{name: "UnknownFamily", family: "nope", want: catalog.ErrFamilyNotFound},
		{name: "UnknownOption", family: "mpc", overrides: []string{"overrides=nope"}, want: catalog.ErrOptionNotFound},
		{name: "MissingKey", family: "mpc", overrides: []string{"lr=0.1"}, want: ErrKeyNotInConfig},
		{name: "AppendExisting", family: "mpc", overrides: []string{"+seed=1"}, want: ErrKeyExists},
		{name: "AppendExistingGroup", family: "mpc", overrides: []string{"+overrides=heating"}, want: ErrKeyExists},
		{name: "DeleteMissing", family: "mpc", overrides: []string{"~nope"}, want: ErrKeyNotInConfig},
		{name: "DeleteMismatch", family: "mpc", overrides: []string{"~seed=5"}, want: ErrInvalidOverride},
		{name: "NoValue", family: "mpc", overrides: []string{"seed"}, want: ErrInvalidOverride},
		{name: "BadKey", family: "mpc", overrides: []string{"se ed=1"}, want: ErrInvalidOverride},
		{name: "BadValue", family: "mpc", overrides: []string{"seed=[1"}, want: ErrInvalidOverride},
		{name: "UnknownGroupPath", family: "mpc", overrides: []string{"a/b=c"}, want: ErrInvalidOverride},
		{name: "IntoScalar", family: "mpc", overrides: []string{"++seed.x=1"}, want: ErrInvalidOverride},
		{name: "NestedDefaults", family: "nested", want: ErrNestedDefaults},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := newTestComposer(t).Compose(context.Background(), Request{Family: tt.family, Overrides: tt.overrides})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestComposeHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newTestComposer(t).Compose(ctx, Request{Family: "mpc"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestParseDefaults(t *testing.T) {
	t.Parallel()

	entries, err := parseDefaults([]any{
		"_self_",
		"db/mysql",
		map[string]any{"optional logging": "csv"},
		map[string]any{"override overrides": "heating"},
		map[string]any{"extra": nil},
	})
	if err != nil {
		t.Fatalf("parseDefaults returned error: %v", err)
	}
	want := []defaultEntry{
		{self: true},
		{group: "db", option: "mysql"},
		{group: "logging", option: "csv", optional: true},
		{group: "overrides", option: "heating"},
		{group: "extra", disabled: true},
	}
	if !reflect.DeepEqual(entries, want) {
		t.Fatalf("expected %+v, got %+v", want, entries)
	}

	bad := []any{
		"not a list",
		[]any{map[string]any{"a": "x", "b": "y"}},
		[]any{map[string]any{"a b c": "x"}},
		[]any{map[string]any{"a": []any{"x"}}},
		[]any{"_self_", "_self_"},
		[]any{map[string]any{"g": "x"}, map[string]any{"g": "y"}},
		[]any{42},
	}
	for _, raw := range bad {
		if _, err := parseDefaults(raw); !errors.Is(err, ErrInvalidDefaults) {
			t.Fatalf("expected ErrInvalidDefaults for %v, got %v", raw, err)
		}
	}
}
