package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a job or issue id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned for illegal state changes,
	// e.g. cancelling a running job.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNoDecisionTree is returned when no tree is registered for an
	// issue type. The engine treats it as an immediate escalate.
	ErrNoDecisionTree = errors.New("no decision tree for issue type")
)

// ActionExecutionError wraps a failure inside a remediation action executor.
// The evaluator treats it as "action failed" and falls through to the
// tree's own fallback, never to a different tree.
type ActionExecutionError struct {
	Action HealAction
	Err    error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("action %s failed: %v", e.Action, e.Err)
}

func (e *ActionExecutionError) Unwrap() error { return e.Err }

// UpstreamError carries an external collaborator failure. The message text
// is what the sync decision tree pattern-matches against, so it must retain
// the upstream wording (rate limit, timeout, 401, ...).
type UpstreamError struct {
	Status int
	Msg    string
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%d %s", e.Status, e.Msg)
	}
	return e.Msg
}
