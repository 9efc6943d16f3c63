package healing

import (
	"strings"
	"time"

	"github.com/opsforge/medic/internal/core/domain"
	"github.com/opsforge/medic/internal/retry"
)

// StandardTrees builds the default decision tree per issue type. Rate-limit
// and upstream-error issues share the sync-failure tree because both are
// classified purely on error text. Dead-letter and health-degradation issues
// carry no tree on purpose: the engine escalates them immediately.
func StandardTrees(backoff *retry.Backoff) map[domain.IssueType]*Node {
	syncTree := SyncFailureTree()
	return map[domain.IssueType]*Node{
		domain.IssueJobFailure:       JobFailureTree(backoff),
		domain.IssueTaskFailure:      TaskFailureTree(),
		domain.IssueSyncFailure:      syncTree,
		domain.IssueRateLimited:      syncTree,
		domain.IssueUpstreamError:    syncTree,
		domain.IssueConsistencyDrift: ConsistencyDriftTree(),
	}
}

// JobFailureTree retries while attempts allow, skips exhausted non-critical
// failures and escalates the rest. The retry delay comes from the shared
// backoff controller so the tree and the orchestrator agree on cadence.
func JobFailureTree(backoff *retry.Backoff) *Node {
	return &Node{
		Name: "job-failure",
		Children: []*Node{
			{
				Name: "retry-with-backoff",
				Condition: func(issue *domain.Issue) bool {
					return issue.Context.Attempts < 3
				},
				Action: func(issue *domain.Issue) *Action {
					return &Action{
						Type:   domain.ActionRetry,
						Delay:  backoff.NextDelay(issue.Context.Attempts),
						Reason: "attempts remaining",
					}
				},
			},
			{
				Name: "skip-non-critical",
				Condition: func(issue *domain.Issue) bool {
					return issue.Context.Attempts >= 3 && issue.Severity < domain.SeverityCritical
				},
				Action: StaticAction(Action{
					Type:   domain.ActionSkip,
					Reason: "skipped after max attempts",
				}),
			},
		},
		Fallback: &Node{
			Name: "escalate",
			Action: StaticAction(Action{
				Type:   domain.ActionEscalate,
				Reason: "critical failure with attempts exhausted",
			}),
		},
	}
}

// TaskFailureTree tolerates up to two consecutive scheduled-task failures,
// recording each, and escalates from the third on.
func TaskFailureTree() *Node {
	return &Node{
		Name: "scheduled-task-failure",
		Children: []*Node{
			{
				Name: "record-early-failures",
				Condition: func(issue *domain.Issue) bool {
					return issue.Context.ConsecutiveFailures < 3
				},
				Action: StaticAction(Action{
					Type:   domain.ActionLearn,
					Reason: "task failing, below escalation threshold",
				}),
			},
			{
				Name: "escalate-persistent-failure",
				Condition: func(issue *domain.Issue) bool {
					return issue.Context.ConsecutiveFailures >= 3
				},
				Action: StaticAction(Action{
					Type:   domain.ActionEscalate,
					Reason: "task failed 3+ consecutive runs",
				}),
			},
		},
	}
}

// SyncFailureTree classifies sync errors by their upstream error text.
func SyncFailureTree() *Node {
	return &Node{
		Name: "sync-failure",
		Children: []*Node{
			{
				Name: "rate-limited",
				Condition: func(issue *domain.Issue) bool {
					return containsAny(issue.Context.ErrorText, "rate limit")
				},
				Action: StaticAction(Action{
					Type:   domain.ActionRetry,
					Delay:  60 * time.Second,
					Reason: "upstream rate limit, backing off",
				}),
			},
			{
				Name: "transient-network",
				Condition: func(issue *domain.Issue) bool {
					return containsAny(issue.Context.ErrorText, "network", "timeout")
				},
				Action: StaticAction(Action{
					Type:   domain.ActionRetry,
					Delay:  5 * time.Second,
					Reason: "transient network failure",
				}),
			},
			{
				Name: "auth-failure",
				Condition: func(issue *domain.Issue) bool {
					return containsAny(issue.Context.ErrorText, "401", "403")
				},
				Action: StaticAction(Action{
					Type:   domain.ActionEscalate,
					Reason: "auth failure requires credential rotation",
				}),
			},
		},
		Fallback: &Node{
			Name: "record-unknown-error",
			Action: StaticAction(Action{
				Type:   domain.ActionLearn,
				Reason: "unrecognized sync error",
			}),
		},
	}
}

// ConsistencyDriftTree notifies on low drift, records medium drift and
// escalates once the score reaches 50.
func ConsistencyDriftTree() *Node {
	return &Node{
		Name: "consistency-drift",
		Children: []*Node{
			{
				Name: "notify-low-drift",
				Condition: func(issue *domain.Issue) bool {
					return issue.Context.DriftScore < 20
				},
				Action: StaticAction(Action{
					Type:   domain.ActionNotify,
					Reason: "minor drift detected",
				}),
			},
			{
				Name: "record-medium-drift",
				Condition: func(issue *domain.Issue) bool {
					return issue.Context.DriftScore >= 20 && issue.Context.DriftScore < 50
				},
				Action: StaticAction(Action{
					Type:   domain.ActionLearn,
					Reason: "drift accumulating",
				}),
			},
			{
				Name: "escalate-high-drift",
				Condition: func(issue *domain.Issue) bool {
					return issue.Context.DriftScore >= 50
				},
				Action: StaticAction(Action{
					Type:   domain.ActionEscalate,
					Reason: "drift beyond auto-remediation threshold",
				}),
			},
		},
	}
}

func containsAny(s string, subs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
