package schedule

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// NewWorker registers the workflow and activity on taskQueue.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(SyncLeadsWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	w.RegisterActivityWithOptions(acts.SyncLeads, activity.RegisterOptions{Name: ActivityName})
	return w
}

// ScheduleOptions describes the cron schedule of one credential.
type ScheduleOptions struct {
	ID        string
	Cron      string
	TaskQueue string
	Params    SyncParams
}

// ScheduleID returns the schedule id used for a credential.
func ScheduleID(credential string) string {
	if credential == "" {
		return "lead-sync"
	}
	return "lead-sync-" + credential
}

func (o ScheduleOptions) action() *client.ScheduleWorkflowAction {
	return &client.ScheduleWorkflowAction{
		ID:        o.ID + "-run",
		Workflow:  WorkflowName,
		Args:      []any{o.Params},
		TaskQueue: o.TaskQueue,
	}
}

// EnsureSchedule creates the schedule, or updates its cron and action when
// it already exists. Overlapping runs are skipped.
func EnsureSchedule(ctx context.Context, sc client.ScheduleClient, opts ScheduleOptions) error {
	if opts.Cron == "" {
		return eris.New("schedule: cron expression is required")
	}
	if opts.ID == "" {
		opts.ID = ScheduleID(opts.Params.Credential)
	}

	_, err := sc.Create(ctx, client.ScheduleOptions{
		ID:      opts.ID,
		Spec:    client.ScheduleSpec{CronExpressions: []string{opts.Cron}},
		Action:  opts.action(),
		Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, temporal.ErrScheduleAlreadyRunning) {
		return eris.Wrapf(err, "schedule: create %s", opts.ID)
	}

	h := sc.GetHandle(ctx, opts.ID)
	err = h.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(in client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			s := in.Description.Schedule
			s.Spec = &client.ScheduleSpec{CronExpressions: []string{opts.Cron}}
			s.Action = opts.action()
			if s.Policy == nil {
				s.Policy = &client.SchedulePolicies{}
			}
			s.Policy.Overlap = enumspb.SCHEDULE_OVERLAP_POLICY_SKIP
			return &client.ScheduleUpdate{Schedule: &s}, nil
		},
	})
	return eris.Wrapf(err, "schedule: update %s", opts.ID)
}
