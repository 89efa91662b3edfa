package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// MissingInputError is returned when a step runs without its required inputs.
// It indicates a wiring bug, not bad user input.
type MissingInputError struct {
	Step    string
	Missing []string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("step %s: missing required input(s): %s", e.Step, strings.Join(e.Missing, ", "))
}

// WorkflowNotFoundError is returned by Engine.Execute for an unregistered name.
type WorkflowNotFoundError struct {
	Name string
}

func (e *WorkflowNotFoundError) Error() string {
	return fmt.Sprintf("workflow not found: %s", e.Name)
}

// IsMissingInput reports whether err is or wraps a *MissingInputError.
func IsMissingInput(err error) bool {
	var mi *MissingInputError
	return errors.As(err, &mi)
}

// IsNotFound reports whether err is or wraps a *WorkflowNotFoundError.
func IsNotFound(err error) bool {
	var nf *WorkflowNotFoundError
	return errors.As(err, &nf)
}
