package workflow

import (
	"context"
	"fmt"
	"time"
)

// ExecutionIDKey holds the id of the current run inside the context.
const ExecutionIDKey = "execution_id"

// Workflow is a named, ordered list of steps.
type Workflow struct {
	Name        string
	Description string
	Steps       []*Step
}

// New builds a workflow from steps in execution order.
func New(name string, steps ...*Step) *Workflow {
	return &Workflow{Name: name, Steps: steps}
}

// Validate checks that every required input of every step is provided by
// initialKeys or by the OutputKeys of an earlier step.
func (w *Workflow) Validate(initialKeys ...string) error {
	available := make(map[string]bool, len(initialKeys))
	for _, k := range initialKeys {
		available[k] = true
	}
	seen := make(map[string]bool, len(w.Steps))
	for _, s := range w.Steps {
		if seen[s.Name] {
			return fmt.Errorf("workflow %s: duplicate step %s", w.Name, s.Name)
		}
		seen[s.Name] = true
		var missing []string
		for _, k := range s.RequiredInputs {
			if !available[k] {
				missing = append(missing, k)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("workflow %s: %w", w.Name, &MissingInputError{Step: s.Name, Missing: missing})
		}
		for _, k := range s.OutputKeys {
			available[k] = true
		}
	}
	return nil
}

// Execute runs the steps strictly in order over wc. The first failing step
// aborts the run; workflow metadata is recorded in both outcomes.
func (w *Workflow) Execute(ctx context.Context, wc Context) (Context, error) {
	if wc == nil {
		wc = Context{}
	}
	run := &Run{
		Name:        w.Name,
		ExecutionID: wc.String(ExecutionIDKey),
		StartTime:   time.Now(),
	}
	wc.Metadata().Workflow = run

	for _, s := range w.Steps {
		if err := ctx.Err(); err != nil {
			return wc, w.fail(run, fmt.Errorf("step %s: %w", s.Name, err))
		}
		if err := s.Execute(ctx, wc); err != nil {
			return wc, w.fail(run, fmt.Errorf("step %s: %w", s.Name, err))
		}
		run.StepsCompleted++
	}

	run.Status = StatusSuccess
	run.Duration = time.Since(run.StartTime)
	return wc, nil
}

func (w *Workflow) fail(run *Run, err error) error {
	run.Status = StatusError
	run.Error = err.Error()
	run.Duration = time.Since(run.StartTime)
	return fmt.Errorf("workflow %s: %w", w.Name, err)
}
