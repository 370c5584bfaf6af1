package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJobSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)

	code := 0
	ended := time.Now().UTC().Truncate(time.Second)
	snap := JobSnapshot{
		JobID:     "job-1",
		ProjectID: "demo",
		Runner:    "generic",
		Command:   []string{"bash", "-lc", "echo hi"},
		Status:    "completed",
		ExitCode:  &code,
		CreatedAt: ended.Add(-time.Second),
		EndedAt:   &ended,
	}
	require.NoError(t, store.RecordJobSnapshot(snap))

	got, err := store.GetJobSnapshot("job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, snap.Command, got.Command)
	require.Equal(t, "completed", got.Status)
	require.NotNil(t, got.ExitCode)
	require.Equal(t, 0, *got.ExitCode)
}

func TestJobSnapshotUpsert(t *testing.T) {
	store := newTestStore(t)

	snap := JobSnapshot{
		JobID:     "job-2",
		ProjectID: "demo",
		Runner:    "generic",
		Command:   []string{"false"},
		Status:    "running",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.RecordJobSnapshot(snap))

	code := 1
	snap.Status = "failed"
	snap.ExitCode = &code
	require.NoError(t, store.RecordJobSnapshot(snap))

	got, err := store.GetJobSnapshot("job-2")
	require.NoError(t, err)
	require.Equal(t, "failed", got.Status)
	require.Equal(t, 1, *got.ExitCode)
}

func TestGetJobSnapshotMissing(t *testing.T) {
	store := newTestStore(t)
	got, err := store.GetJobSnapshot("nope")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestListJobSnapshotsByProject(t *testing.T) {
	store := newTestStore(t)
	for i, id := range []string{"a", "b"} {
		require.NoError(t, store.RecordJobSnapshot(JobSnapshot{
			JobID:     id,
			ProjectID: "demo",
			Runner:    "generic",
			Command:   []string{"true"},
			Status:    "completed",
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, store.RecordJobSnapshot(JobSnapshot{
		JobID: "other", ProjectID: "elsewhere", Runner: "generic",
		Command: []string{"true"}, Status: "completed", CreatedAt: time.Now().UTC(),
	}))

	snaps, err := store.ListJobSnapshots("demo", 10)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, "b", snaps[0].JobID, "newest first")
}
