package query

import (
	"errors"
	"reflect"
	"testing"
)

func testDoc() map[string]any {
	return map[string]any{
		"env_name": "Heating-v0",
		"overrides": map[string]any{
			"env_name":            "Heating-v0",
			"meta_train_task_num": 10,
		},
		"planner": map[string]any{
			"num_candidates": 500,
			"top_k":          50,
		},
		"optimizers": []any{
			map[string]any{"name": "world_model", "lr": 0.001},
			map[string]any{"name": "context", "lr": 0.01},
		},
	}
}

func TestFind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		expr string
		want []any
	}{
		{name: "BareKey", expr: "env_name", want: []any{"Heating-v0"}},
		{name: "Nested", expr: "$.overrides.meta_train_task_num", want: []any{10}},
		{name: "Mapping", expr: "planner", want: []any{map[string]any{"num_candidates": 500, "top_k": 50}}},
		{name: "Wildcard", expr: "$.optimizers[*].lr", want: []any{0.001, 0.01}},
		{name: "Filter", expr: "$.optimizers[?(@.name=='context')].lr", want: []any{0.01}},
		{name: "RecursiveDescent", expr: "$..env_name", want: []any{"Heating-v0", "Heating-v0"}},
		{name: "NoMatch", expr: "missing", want: []any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Find(testDoc(), tt.expr)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %#v, got %#v", tt.want, got)
			}
		})
	}
}

func TestFindInvalidPath(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{"", "   ", "$.a[", "$.a[?(@.x==]"} {
		if _, err := Find(testDoc(), expr); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("expected ErrInvalidPath for %q, got %v", expr, err)
		}
	}
}
