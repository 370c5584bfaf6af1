package shells

import (
	"strings"
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

func TestCreateAllocatesWithoutProcess(t *testing.T) {
	m := NewManager(0, nil)
	view, err := m.Create(testProject(t), "generic", nil, 120, 40)
	require.NoError(t, err)
	require.Equal(t, StatusCreated, view.Status)
	require.True(t, strings.HasPrefix(view.ShellID, "shell-"))
	require.Equal(t, uint16(120), view.Cols)
	require.Equal(t, uint16(40), view.Rows)

	session, err := m.Get(view.ShellID)
	require.NoError(t, err)
	require.Nil(t, session.shell)
}

func TestCreateRejectsUnknownRunner(t *testing.T) {
	m := NewManager(0, nil)
	_, err := m.Create(testProject(t), "mystery", nil, 0, 0)
	require.Equal(t, wharferrors.ErrCodeValidation, wharferrors.CodeOf(err))
}

func TestAttachLifecycle(t *testing.T) {
	m := NewManager(0, nil)
	view, err := m.Create(testProject(t), "generic", []string{"sh", "-i"}, 80, 24)
	require.NoError(t, err)

	session, err := m.Get(view.ShellID)
	require.NoError(t, err)

	shell, err := session.Attach(80, 24)
	require.NoError(t, err)
	require.Equal(t, StatusConnected, session.Status())

	// Second writer is rejected while the first holds the session.
	_, err = session.Attach(80, 24)
	require.Equal(t, wharferrors.ErrCodeSessionBusy, wharferrors.CodeOf(err))

	_, err = shell.Write([]byte("exit\n"))
	require.NoError(t, err)
	code := shell.Wait()
	session.Exited(code)

	require.Equal(t, StatusExited, session.Status())
	final := session.View()
	require.NotNil(t, final.ExitCode)

	// Attach after exit is invalid, resize after exit is a no-op.
	_, err = session.Attach(80, 24)
	require.Equal(t, wharferrors.ErrCodeValidation, wharferrors.CodeOf(err))
	require.NoError(t, session.Resize(120, 40))
}

func TestReleaseKillsProcess(t *testing.T) {
	m := NewManager(0, nil)
	view, err := m.Create(testProject(t), "generic", []string{"sleep", "60"}, 80, 24)
	require.NoError(t, err)

	session, err := m.Get(view.ShellID)
	require.NoError(t, err)
	shell, err := session.Attach(80, 24)
	require.NoError(t, err)

	done := make(chan int, 1)
	go func() { done <- shell.Wait() }()
	session.Release()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process survived release")
	}
}

func TestGetUnknownShell(t *testing.T) {
	m := NewManager(0, nil)
	_, err := m.Get("shell-nope")
	require.Equal(t, wharferrors.ErrCodeNotFound, wharferrors.CodeOf(err))
}

func TestRemove(t *testing.T) {
	m := NewManager(0, nil)
	view, err := m.Create(testProject(t), "generic", nil, 0, 0)
	require.NoError(t, err)
	m.Remove(view.ShellID)
	_, err = m.Get(view.ShellID)
	require.Equal(t, wharferrors.ErrCodeNotFound, wharferrors.CodeOf(err))
}

func backdate(s *Session, by time.Duration) {
	s.mu.Lock()
	s.lastUsed = time.Now().Add(-by)
	s.mu.Unlock()
}

func TestSweepKillsIdleConnectedSession(t *testing.T) {
	m := NewManager(time.Minute, nil)
	view, err := m.Create(testProject(t), "generic", []string{"sleep", "60"}, 80, 24)
	require.NoError(t, err)

	session, err := m.Get(view.ShellID)
	require.NoError(t, err)
	shell, err := session.Attach(80, 24)
	require.NoError(t, err)

	done := make(chan int, 1)
	go func() { done <- shell.Wait() }()

	backdate(session, 2*time.Minute)
	m.sweepOnce()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("idle process survived sweep")
	}
}

func TestSweepDropsNeverAttachedSession(t *testing.T) {
	m := NewManager(time.Minute, nil)
	view, err := m.Create(testProject(t), "generic", nil, 0, 0)
	require.NoError(t, err)

	session, err := m.Get(view.ShellID)
	require.NoError(t, err)

	// Fresh sessions survive a sweep.
	m.sweepOnce()
	_, err = m.Get(view.ShellID)
	require.NoError(t, err)

	backdate(session, 2*time.Minute)
	m.sweepOnce()
	_, err = m.Get(view.ShellID)
	require.Equal(t, wharferrors.ErrCodeNotFound, wharferrors.CodeOf(err))
}

func TestExitedSessionDropsAfterRetention(t *testing.T) {
	m := NewManager(0, nil)
	m.retention = 10 * time.Millisecond
	view, err := m.Create(testProject(t), "generic", []string{"true"}, 80, 24)
	require.NoError(t, err)

	session, err := m.Get(view.ShellID)
	require.NoError(t, err)
	shell, err := session.Attach(80, 24)
	require.NoError(t, err)
	session.Exited(shell.Wait())

	require.Eventually(t, func() bool {
		_, err := m.Get(view.ShellID)
		return wharferrors.CodeOf(err) == wharferrors.ErrCodeNotFound
	}, 5*time.Second, 10*time.Millisecond)
}
