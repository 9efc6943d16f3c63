package healing

import (
	"context"
	"time"

	"github.com/opsforge/medic/internal/core/domain"
)

// Action is the remediation a decision node yields when it matches.
type Action struct {
	Type   domain.HealAction
	Delay  time.Duration // RETRY only
	Reason string
}

// ActionProducer derives a node's action from the issue under evaluation.
// Producers must be pure; all side effects belong to the Executor.
type ActionProducer func(issue *domain.Issue) *Action

// StaticAction returns a producer that always yields the same action.
func StaticAction(a Action) ActionProducer {
	return func(*domain.Issue) *Action { return &a }
}

// Node is one rule in a decision tree: a predicate over the issue, an
// optional action producer, ordered children and an optional fallback.
// Trees are built in memory, never persisted, and predicates must be pure
// so that evaluation stays deterministic.
type Node struct {
	Name      string
	Condition func(issue *domain.Issue) bool
	Action    ActionProducer
	Children  []*Node
	Fallback  *Node
}

// Executor performs the side effects of a matched action. A returned error
// means "action failed" and sends evaluation into the node's children and
// fallback, never into a different tree.
type Executor interface {
	Execute(ctx context.Context, issue *domain.Issue, action Action) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, issue *domain.Issue, action Action) error

func (f ExecutorFunc) Execute(ctx context.Context, issue *domain.Issue, action Action) error {
	return f(ctx, issue, action)
}

// NopExecutor evaluates trees without side effects.
var NopExecutor = ExecutorFunc(func(context.Context, *domain.Issue, Action) error {
	return nil
})

// Result reports the outcome of a tree evaluation. An unmatched result must
// be treated by the caller as an implicit escalate.
type Result struct {
	Matched bool
	Action  *Action
}

// Evaluate walks the tree top-down with first-match-wins semantics: ordering
// in the tree IS the priority. The node's condition gates everything; a
// matched action is executed immediately and returned on success. On action
// failure or absence, children are tried in declaration order, then the
// fallback.
func Evaluate(ctx context.Context, node *Node, issue *domain.Issue, exec Executor) Result {
	if node == nil {
		return Result{}
	}
	if node.Condition != nil && !node.Condition(issue) {
		return Result{}
	}

	if node.Action != nil {
		if action := node.Action(issue); action != nil {
			if err := exec.Execute(ctx, issue, *action); err == nil {
				return Result{Matched: true, Action: action}
			}
			// Action failed: fall through to children, then fallback.
		}
	}

	for _, child := range node.Children {
		if res := Evaluate(ctx, child, issue, exec); res.Matched {
			return res
		}
	}

	if node.Fallback != nil {
		return Evaluate(ctx, node.Fallback, issue, exec)
	}

	return Result{}
}
