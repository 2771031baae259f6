package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"htr/internal/domain"
)

func cases(specs ...string) []domain.TestCase {
	// specs alternate name, model
	var out []domain.TestCase
	for i := 0; i+1 < len(specs); i += 2 {
		out = append(out, domain.TestCase{ID: "a::F." + specs[i], Name: specs[i], ModelPath: specs[i+1], ModelExists: true})
	}
	return out
}

func batchNames(plan *Plan) [][]string {
	var out [][]string
	for _, b := range plan.Batches {
		var names []string
		for _, t := range b.Tests {
			names = append(names, t.Name)
		}
		out = append(out, names)
	}
	return out
}

func TestModelScheduler_Schedule(t *testing.T) {
	tests := []struct {
		name     string
		input    []domain.TestCase
		opts     PlanOptions
		expected [][]string
	}{
		{
			name:     "group by model",
			input:    cases("T1", "A", "T2", "A", "T3", "B"),
			opts:     PlanOptions{GroupByModel: true, Continuous: true},
			expected: [][]string{{"T1", "T2"}, {"T3"}},
		},
		{
			name:     "first occurrence order",
			input:    cases("T1", "A", "T2", "B", "T3", "A", "T4", "", "T5", "B"),
			opts:     PlanOptions{GroupByModel: true, Continuous: true},
			expected: [][]string{{"T1", "T3"}, {"T2", "T5"}, {"T4"}},
		},
		{
			name:     "tests without model stay singletons",
			input:    cases("T1", "", "T2", ""),
			opts:     PlanOptions{GroupByModel: true, Continuous: true},
			expected: [][]string{{"T1"}, {"T2"}},
		},
		{
			name:     "one test per batch without grouping",
			input:    cases("T1", "A", "T2", "A", "T3", "B"),
			opts:     PlanOptions{Continuous: true},
			expected: [][]string{{"T1"}, {"T2"}, {"T3"}},
		},
		{
			name:     "non continuous without grouping",
			input:    cases("T1", "A"),
			opts:     PlanOptions{},
			expected: [][]string{{"T1"}},
		},
		{
			name:     "empty",
			input:    nil,
			opts:     PlanOptions{GroupByModel: true, Continuous: true},
			expected: nil,
		},
	}

	s := NewModelScheduler()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := s.Schedule(tt.input, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, batchNames(plan))
			for i, b := range plan.Batches {
				assert.Equal(t, i+1, b.Index)
			}
		})
	}
}

func TestModelScheduler_RequiresContinuous(t *testing.T) {
	_, err := NewModelScheduler().Schedule(cases("T1", "A"), PlanOptions{GroupByModel: true})
	assert.ErrorIs(t, err, ErrGroupByModelRequiresContinuous)
}

func TestModelScheduler_MissingModels(t *testing.T) {
	input := cases("T1", "A", "T2", "missing", "T3", "A")
	input[1].ModelExists = false

	plan, err := NewModelScheduler().Schedule(input, PlanOptions{GroupByModel: true, Continuous: true})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"T1", "T3"}}, batchNames(plan))
	require.Len(t, plan.Unrunnable, 1)
	assert.Equal(t, "T2", plan.Unrunnable[0].Name)
}

func TestModelScheduler_Properties(t *testing.T) {
	input := cases("T1", "A", "T2", "B", "T3", "A", "T4", "", "T5", "C", "T6", "B", "T7", "")
	opts := PlanOptions{GroupByModel: true, Continuous: true, Product: domain.Product{Name: "Host"}, WorkingDirectory: "/w"}
	s := NewModelScheduler()

	first, err := s.Schedule(input, opts)
	require.NoError(t, err)
	second, err := s.Schedule(input, opts)
	require.NoError(t, err)
	assert.Equal(t, first, second, "planning is deterministic")

	// Every test lands in exactly one batch
	seen := make(map[string]int)
	for _, tc := range first.Tests() {
		seen[tc.ID]++
	}
	assert.Len(t, seen, len(input))
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}

	// No two batches share a model
	models := make(map[string]bool)
	for _, b := range first.Batches {
		assert.Equal(t, "Host", b.Product.Name)
		assert.Equal(t, "/w", b.WorkingDirectory)
		if b.ModelPath == "" {
			assert.Len(t, b.Tests, 1)
			continue
		}
		assert.False(t, models[b.ModelPath], b.ModelPath)
		models[b.ModelPath] = true
		for _, tc := range b.Tests {
			assert.Equal(t, b.ModelPath, tc.ModelPath)
		}
	}
}
