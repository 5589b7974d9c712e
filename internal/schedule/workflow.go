// Package schedule runs lead syncs as Temporal workflows on a cron schedule.
package schedule

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/lead-sync/internal/fetcher"
	"github.com/sells-group/lead-sync/internal/leadsync"
	"github.com/sells-group/lead-sync/internal/model"
	"github.com/sells-group/lead-sync/internal/store"
)

const (
	WorkflowName = "SyncLeadsWorkflow"
	ActivityName = "SyncLeads"

	// ErrTypeFatalFetch marks portal failures that abort a run. Retrying the
	// activity cannot fix them.
	ErrTypeFatalFetch = "FatalFetchError"
	// ErrTypeConfig marks credential resolution failures.
	ErrTypeConfig = "ConfigError"

	defaultTimeout = 30 * time.Minute
)

// SyncParams is the workflow input.
type SyncParams struct {
	Credential  string `json:"credential"`
	TimeoutMins int    `json:"timeout_mins,omitempty"`
}

func (p SyncParams) timeout() time.Duration {
	if p.TimeoutMins <= 0 {
		return defaultTimeout
	}
	return time.Duration(p.TimeoutMins) * time.Minute
}

// RetryPolicy is the activity retry policy of SyncLeadsWorkflow.
func RetryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:        30 * time.Second,
		BackoffCoefficient:     2,
		MaximumInterval:        10 * time.Minute,
		MaximumAttempts:        3,
		NonRetryableErrorTypes: []string{ErrTypeFatalFetch, ErrTypeConfig},
	}
}

// SyncLeadsWorkflow runs one SyncLeads activity.
func SyncLeadsWorkflow(ctx workflow.Context, p SyncParams) (model.SyncReport, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: p.timeout(),
		RetryPolicy:         RetryPolicy(),
	})

	var report model.SyncReport
	err := workflow.ExecuteActivity(ctx, ActivityName, p).Get(ctx, &report)
	if err != nil {
		return report, err
	}
	workflow.GetLogger(ctx).Info("lead sync finished",
		"created", report.Created, "skipped", report.Skipped, "errored", len(report.Errors))
	return report, nil
}

// Runner runs one sync. *leadsync.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, credentialName string) (model.SyncReport, error)
}

// Activities holds the activity implementations.
type Activities struct {
	Runner Runner
}

// SyncLeads runs the orchestrator and classifies its error for the retry
// policy.
func (a *Activities) SyncLeads(ctx context.Context, p SyncParams) (model.SyncReport, error) {
	report, err := a.Runner.Run(ctx, p.Credential)
	if err == nil {
		return report, nil
	}
	switch {
	case fetcher.IsFatal(err):
		return report, temporal.NewApplicationErrorWithCause(err.Error(), ErrTypeFatalFetch, err)
	case errors.Is(err, leadsync.ErrNoActiveCredential),
		errors.Is(err, leadsync.ErrAmbiguousCredential),
		errors.Is(err, leadsync.ErrCredentialInactive),
		errors.Is(err, store.ErrNotFound):
		return report, temporal.NewApplicationErrorWithCause(err.Error(), ErrTypeConfig, err)
	default:
		return report, err
	}
}
