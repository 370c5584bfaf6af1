package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	wharferrors "github.com/wharfdev/wharf/pkg/errors"
	"github.com/wharfdev/wharf/pkg/project"
)

func testProject(t *testing.T) *project.Project {
	t.Helper()
	return &project.Project{ID: "demo", Path: t.TempDir(), Registered: true}
}

func drain(t *testing.T, ch <-chan Record) []Record {
	t.Helper()
	var out []Record
	timeout := time.After(5 * time.Second)
	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, rec)
		case <-timeout:
			t.Fatalf("stream did not close; got %d records", len(out))
		}
	}
}

func waitTerminal(t *testing.T, job *Job) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if job.Status().Terminal() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job never reached a terminal state")
}

func TestCreateValidatesRequest(t *testing.T) {
	m := NewManager(context.Background(), nil, time.Minute, nil)
	proj := testProject(t)

	_, err := m.Create(proj, "generic", nil, "")
	require.Equal(t, wharferrors.ErrCodeValidation, wharferrors.CodeOf(err))

	_, err = m.Create(proj, "mystery", []string{"true"}, "")
	require.Equal(t, wharferrors.ErrCodeValidation, wharferrors.CodeOf(err))
}

func TestJobRunsToCompletion(t *testing.T) {
	m := NewManager(context.Background(), nil, time.Minute, nil)
	view, err := m.Create(testProject(t), "generic", []string{"sh", "-c", "echo one; echo two"}, "")
	require.NoError(t, err)
	require.Equal(t, StatusQueued, view.Status)
	require.NotEmpty(t, view.JobID)

	job, err := m.Get(view.JobID)
	require.NoError(t, err)
	waitTerminal(t, job)

	final := job.View()
	require.Equal(t, StatusCompleted, final.Status)
	require.NotNil(t, final.ExitCode)
	require.Equal(t, 0, *final.ExitCode)
	require.NotNil(t, final.EndedAt)
}

func TestJobFailureStatus(t *testing.T) {
	m := NewManager(context.Background(), nil, time.Minute, nil)
	view, err := m.Create(testProject(t), "generic", []string{"sh", "-c", "exit 3"}, "")
	require.NoError(t, err)

	job, err := m.Get(view.JobID)
	require.NoError(t, err)
	waitTerminal(t, job)

	final := job.View()
	require.Equal(t, StatusFailed, final.Status)
	require.Equal(t, 3, *final.ExitCode)
}

func TestSubscribeReplayAfterTerminal(t *testing.T) {
	m := NewManager(context.Background(), nil, time.Minute, nil)
	view, err := m.Create(testProject(t), "generic", []string{"sh", "-c", "echo a; echo b; echo c"}, "")
	require.NoError(t, err)

	job, err := m.Get(view.JobID)
	require.NoError(t, err)
	waitTerminal(t, job)

	// Full replay from zero.
	ch, err := m.Subscribe(context.Background(), view.JobID, 0, 0)
	require.NoError(t, err)
	records := drain(t, ch)

	var logs, events []Record
	for _, rec := range records {
		switch rec.Kind {
		case RecordLog:
			logs = append(logs, rec)
		case RecordEvent:
			events = append(events, rec)
		}
	}
	require.Len(t, logs, 3)
	require.Equal(t, []string{"a", "b", "c"}, []string{logs[0].Data, logs[1].Data, logs[2].Data})
	for i, rec := range logs {
		require.Equal(t, uint64(i), rec.Cursor)
	}
	require.Len(t, events, 2)
	require.Equal(t, "job.running", events[0].Event.Type)
	require.Equal(t, "job.completed", events[1].Event.Type)
	require.Equal(t, 0, *events[1].Event.ExitCode)

	// Partial replay resumes past already-seen cursors.
	ch, err = m.Subscribe(context.Background(), view.JobID, 2, 1)
	require.NoError(t, err)
	records = drain(t, ch)
	require.Len(t, records, 2)
	require.Equal(t, RecordLog, records[0].Kind)
	require.Equal(t, "c", records[0].Data)
	require.Equal(t, "job.completed", records[1].Event.Type)
}

func TestConcurrentSubscribersSeeSameOrder(t *testing.T) {
	m := NewManager(context.Background(), nil, time.Minute, nil)
	view, err := m.Create(testProject(t), "generic", []string{"sh", "-c", "seq 1 50"}, "")
	require.NoError(t, err)

	first, err := m.Subscribe(context.Background(), view.JobID, 0, 0)
	require.NoError(t, err)
	second, err := m.Subscribe(context.Background(), view.JobID, 0, 0)
	require.NoError(t, err)

	a := drain(t, first)
	b := drain(t, second)
	require.Equal(t, a, b)
}

func TestSubscriberDisconnectDoesNotCancelJob(t *testing.T) {
	m := NewManager(context.Background(), nil, time.Minute, nil)
	view, err := m.Create(testProject(t), "generic", []string{"sh", "-c", "sleep 0.2; echo done"}, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := m.Subscribe(ctx, view.JobID, 0, 0)
	require.NoError(t, err)
	cancel()
	drain(t, ch)

	job, err := m.Get(view.JobID)
	require.NoError(t, err)
	waitTerminal(t, job)
	require.Equal(t, StatusCompleted, job.View().Status)
}

func TestGetUnknownJob(t *testing.T) {
	m := NewManager(context.Background(), nil, time.Minute, nil)
	_, err := m.Get("job-nope")
	require.Equal(t, wharferrors.ErrCodeNotFound, wharferrors.CodeOf(err))
}

func TestRetentionEvictsTerminalJobs(t *testing.T) {
	m := NewManager(context.Background(), nil, 50*time.Millisecond, nil)
	view, err := m.Create(testProject(t), "generic", []string{"true"}, "")
	require.NoError(t, err)

	job, err := m.Get(view.JobID)
	require.NoError(t, err)
	waitTerminal(t, job)

	require.Eventually(t, func() bool {
		_, err := m.Get(view.JobID)
		return wharferrors.CodeOf(err) == wharferrors.ErrCodeNotFound
	}, 5*time.Second, 20*time.Millisecond)
}
