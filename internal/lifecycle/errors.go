package lifecycle

import (
	"errors"
	"fmt"

	"inferd/pkg/types"
)

// tooBusyError signals queue timeout or overflow.
type tooBusyError struct{ runner string }

func (e tooBusyError) Error() string { return "too busy: " + e.runner }

// IsTooBusy reports whether err indicates backpressure.
func IsTooBusy(err error) bool {
	var tb tooBusyError
	return errors.As(err, &tb)
}

type runnerNotFoundError struct{ name string }

func (e runnerNotFoundError) Error() string { return "runner not managed: " + e.name }

// IsRunnerNotFound reports whether err refers to an unknown runner.
func IsRunnerNotFound(err error) bool {
	var nf runnerNotFoundError
	return errors.As(err, &nf)
}

type budgetError struct {
	runner             string
	requiredMB, freeMB int
}

func (e budgetError) Error() string {
	return fmt.Sprintf("%s needs %dMB, only %dMB can be freed", e.runner, e.requiredMB, e.freeMB)
}

// IsOverBudget reports whether err is a memory budget failure.
func IsOverBudget(err error) bool {
	var be budgetError
	return errors.As(err, &be)
}

func errTooBusy(runner string) error {
	return &types.EngineError{Code: types.CodeInsufficientResources, Message: "too busy: " + runner, Cause: tooBusyError{runner: runner}}
}

func errRunnerNotFound(name string) error {
	return &types.EngineError{Code: types.CodeRunnerNotFound, Message: "runner not managed: " + name, Cause: runnerNotFoundError{name: name}}
}

func errOverBudget(runner string, required, free int) error {
	be := budgetError{runner: runner, requiredMB: required, freeMB: free}
	return &types.EngineError{Code: types.CodeInsufficientResources, Message: be.Error(), Cause: be}
}
