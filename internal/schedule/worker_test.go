package schedule

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
)

type fakeScheduleClient struct {
	client.ScheduleClient
	createErr error
	created   []client.ScheduleOptions
	handle    *fakeHandle
}

func (f *fakeScheduleClient) Create(_ context.Context, opts client.ScheduleOptions) (client.ScheduleHandle, error) {
	f.created = append(f.created, opts)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.handle, nil
}

func (f *fakeScheduleClient) GetHandle(context.Context, string) client.ScheduleHandle {
	return f.handle
}

type fakeHandle struct {
	client.ScheduleHandle
	existing client.Schedule
	updated  *client.Schedule
}

func (h *fakeHandle) Update(_ context.Context, opts client.ScheduleUpdateOptions) error {
	upd, err := opts.DoUpdate(client.ScheduleUpdateInput{
		Description: client.ScheduleDescription{Schedule: h.existing},
	})
	if err != nil {
		return err
	}
	h.updated = upd.Schedule
	return nil
}

func TestEnsureSchedule_Create(t *testing.T) {
	sc := &fakeScheduleClient{handle: &fakeHandle{}}

	err := EnsureSchedule(context.Background(), sc, ScheduleOptions{
		Cron:      "0 * * * *",
		TaskQueue: "lead-sync",
		Params:    SyncParams{Credential: "cindrebay"},
	})
	require.NoError(t, err)

	require.Len(t, sc.created, 1)
	got := sc.created[0]
	assert.Equal(t, "lead-sync-cindrebay", got.ID)
	assert.Equal(t, []string{"0 * * * *"}, got.Spec.CronExpressions)
	assert.Equal(t, enumspb.SCHEDULE_OVERLAP_POLICY_SKIP, got.Overlap)

	action, ok := got.Action.(*client.ScheduleWorkflowAction)
	require.True(t, ok)
	assert.Equal(t, WorkflowName, action.Workflow)
	assert.Equal(t, "lead-sync", action.TaskQueue)
	assert.Equal(t, []any{SyncParams{Credential: "cindrebay"}}, action.Args)
}

func TestEnsureSchedule_UpdatesExisting(t *testing.T) {
	h := &fakeHandle{existing: client.Schedule{
		Spec: &client.ScheduleSpec{CronExpressions: []string{"0 0 * * *"}},
	}}
	sc := &fakeScheduleClient{createErr: temporal.ErrScheduleAlreadyRunning, handle: h}

	err := EnsureSchedule(context.Background(), sc, ScheduleOptions{
		ID:        "nightly",
		Cron:      "*/30 * * * *",
		TaskQueue: "q",
	})
	require.NoError(t, err)

	require.NotNil(t, h.updated)
	assert.Equal(t, []string{"*/30 * * * *"}, h.updated.Spec.CronExpressions)
	require.NotNil(t, h.updated.Policy)
	assert.Equal(t, enumspb.SCHEDULE_OVERLAP_POLICY_SKIP, h.updated.Policy.Overlap)
}

func TestEnsureSchedule_Errors(t *testing.T) {
	err := EnsureSchedule(context.Background(), &fakeScheduleClient{}, ScheduleOptions{})
	assert.ErrorContains(t, err, "cron expression is required")

	sc := &fakeScheduleClient{createErr: errors.New("permission denied")}
	err = EnsureSchedule(context.Background(), sc, ScheduleOptions{Cron: "@hourly"})
	assert.ErrorContains(t, err, "permission denied")
}

func TestScheduleID(t *testing.T) {
	assert.Equal(t, "lead-sync", ScheduleID(""))
	assert.Equal(t, "lead-sync-main", ScheduleID("main"))
}
