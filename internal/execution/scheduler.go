package execution

import (
	"htr/internal/domain"
)

// Scheduler groups selected tests into run batches
type Scheduler interface {
	Schedule(tests []domain.TestCase, opts PlanOptions) (*Plan, error)
}

// PlanOptions controls how batches are formed
type PlanOptions struct {
	GroupByModel     bool
	Continuous       bool
	Product          domain.Product
	WorkingDirectory string
}

// Plan is the ordered list of batches for a run
type Plan struct {
	Batches []domain.RunBatch
	// Unrunnable holds selected tests whose model file is missing
	Unrunnable []domain.TestCase
}

// Tests returns every test of every batch, in batch order
func (p *Plan) Tests() []domain.TestCase {
	var tests []domain.TestCase
	for _, b := range p.Batches {
		tests = append(tests, b.Tests...)
	}
	return tests
}

// ModelScheduler batches tests by the model file they open
type ModelScheduler struct{}

// NewModelScheduler creates a new ModelScheduler
func NewModelScheduler() *ModelScheduler {
	return &ModelScheduler{}
}

// Schedule builds batches from tests given in catalog order.
// Without GroupByModel every test is its own batch. With it, tests sharing a
// model become one batch placed at the model's first occurrence; tests without
// a model stay singleton batches at their own position.
func (s *ModelScheduler) Schedule(tests []domain.TestCase, opts PlanOptions) (*Plan, error) {
	if opts.GroupByModel && !opts.Continuous {
		return nil, ErrGroupByModelRequiresContinuous
	}

	plan := &Plan{}
	byModel := make(map[string]int)
	for _, t := range tests {
		if !t.ModelExists {
			plan.Unrunnable = append(plan.Unrunnable, t)
			continue
		}

		if opts.GroupByModel && t.ModelPath != "" {
			if i, ok := byModel[t.ModelPath]; ok {
				plan.Batches[i].Tests = append(plan.Batches[i].Tests, t)
				continue
			}
			byModel[t.ModelPath] = len(plan.Batches)
		}

		plan.Batches = append(plan.Batches, domain.RunBatch{
			Tests:            []domain.TestCase{t},
			ModelPath:        t.ModelPath,
			Product:          opts.Product,
			WorkingDirectory: opts.WorkingDirectory,
		})
	}

	for i := range plan.Batches {
		plan.Batches[i].Index = i + 1
	}
	return plan, nil
}
