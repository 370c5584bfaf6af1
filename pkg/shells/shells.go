// Package shells manages interactive PTY sessions. A session is allocated
// before any process exists; the PTY starts only when a client attaches
// over the stream and sends its terminal size. One writer at a time.
package shells

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	wharferrors "github.com/wharfdev/wharf/pkg/errors"
	"github.com/wharfdev/wharf/pkg/project"
	"github.com/wharfdev/wharf/pkg/runner"
)

// Status is a shell session lifecycle state.
type Status string

const (
	StatusCreated   Status = "created"
	StatusConnected Status = "connected"
	StatusExited    Status = "exited"
)

// Session is one pre-allocated shell slot. The PTY and process exist only
// between a successful Attach and exit.
type Session struct {
	ID        string
	ProjectID string
	Runner    string
	Command   []string
	CreatedAt time.Time

	proj    *project.Project
	backend runner.Backend

	mu       sync.Mutex
	status   Status
	shell    *runner.Shell
	exitCode *int
	cols     uint16
	rows     uint16
	lastUsed time.Time
	evict    func() // set by the manager; fires once on exit
}

// View is the JSON representation of a session.
type View struct {
	ShellID   string    `json:"shellId"`
	ProjectID string    `json:"projectId"`
	Runner    string    `json:"runner"`
	Status    Status    `json:"status"`
	ExitCode  *int      `json:"exitCode,omitempty"`
	Cols      uint16    `json:"cols,omitempty"`
	Rows      uint16    `json:"rows,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		ShellID:   s.ID,
		ProjectID: s.ProjectID,
		Runner:    s.Runner,
		Status:    s.status,
		Cols:      s.cols,
		Rows:      s.rows,
		CreatedAt: s.CreatedAt,
	}
	if s.exitCode != nil {
		code := *s.exitCode
		v.ExitCode = &code
	}
	return v
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Touch records activity for idle-timeout accounting.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

// Attach starts the PTY at the given size and claims the session for a
// single writer. A second attach while connected fails with session_busy;
// attaching an exited session fails with invalid_request. The returned
// shell is live: the caller owns the read/write loops and must call
// Release when the stream ends.
func (s *Session) Attach(cols, rows uint16) (*runner.Shell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.status {
	case StatusConnected:
		return nil, wharferrors.New(wharferrors.ErrCodeSessionBusy, "shell already has a connected client")
	case StatusExited:
		return nil, wharferrors.New(wharferrors.ErrCodeValidation, "shell has exited")
	}
	inv := runner.Invocation{ProjectDir: s.proj.Path, Command: s.Command}
	shell, err := s.backend.StartShell(inv, cols, rows)
	if err != nil {
		return nil, wharferrors.Wrap(err, wharferrors.ErrCodeRunnerFailure, "start shell")
	}
	s.shell = shell
	s.status = StatusConnected
	s.cols = cols
	s.rows = rows
	s.lastUsed = time.Now()
	return shell, nil
}

// Resize adjusts the PTY. A resize after exit is a silent no-op.
func (s *Session) Resize(cols, rows uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusConnected || s.shell == nil {
		return nil
	}
	s.cols = cols
	s.rows = rows
	s.lastUsed = time.Now()
	return s.shell.Resize(int(cols), int(rows))
}

// Exited transitions the session to its terminal state with the process
// exit code. Idempotent.
func (s *Session) Exited(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusExited {
		return
	}
	s.status = StatusExited
	s.exitCode = &code
	s.shell = nil
	if s.evict != nil {
		s.evict()
	}
}

// Release kills the PTY process if it is still running. Called when the
// attached stream closes for any reason.
func (s *Session) Release() {
	s.mu.Lock()
	shell := s.shell
	s.mu.Unlock()
	if shell != nil {
		shell.Close()
	}
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Manager owns all shell sessions for a gateway process.
type Manager struct {
	idleTimeout time.Duration
	retention   time.Duration
	logger      *log.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds a session manager. Connected sessions idle longer
// than idleTimeout are killed, and sessions allocated but never attached
// are dropped on the same schedule; zero disables the sweep. Exited
// sessions stay queryable for a retention window, then drop out of the
// registry.
func NewManager(idleTimeout time.Duration, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		idleTimeout: idleTimeout,
		retention:   15 * time.Minute,
		logger:      logger,
		sessions:    make(map[string]*Session),
	}
}

// Create pre-allocates a session. No process starts here; cols and rows
// are the requested initial size, which the attach hello may override.
func (m *Manager) Create(proj *project.Project, runnerID string, command []string, cols, rows uint16) (View, error) {
	backend, err := runner.Resolve(runnerID)
	if err != nil {
		return View{}, err
	}
	session := &Session{
		ID:        "shell-" + uuid.NewString(),
		ProjectID: proj.ID,
		Runner:    runnerID,
		Command:   append([]string(nil), command...),
		CreatedAt: time.Now().UTC(),
		proj:      proj,
		backend:   backend,
		status:    StatusCreated,
		cols:      cols,
		rows:      rows,
		lastUsed:  time.Now(),
	}
	session.evict = func() {
		time.AfterFunc(m.retention, func() { m.Remove(session.ID) })
	}
	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()
	return session.View(), nil
}

// Get returns the session, or a not_found error.
func (m *Manager) Get(shellID string) (*Session, error) {
	m.mu.Lock()
	session, ok := m.sessions[shellID]
	m.mu.Unlock()
	if !ok {
		return nil, wharferrors.New(wharferrors.ErrCodeNotFound, "unknown shell: "+shellID)
	}
	return session, nil
}

// Count reports sessions in the given state.
func (m *Manager) Count(status Status) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, session := range m.sessions {
		if session.Status() == status {
			n++
		}
	}
	return n
}

// Remove drops an exited session from the registry.
func (m *Manager) Remove(shellID string) {
	m.mu.Lock()
	delete(m.sessions, shellID)
	m.mu.Unlock()
}

// SweepIdle reclaims sessions that have been idle past the configured
// timeout: connected ones are killed, never-attached ones are dropped
// from the registry. Runs until ctx is cancelled.
func (m *Manager) SweepIdle(ctx context.Context) {
	if m.idleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(m.idleTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *Manager) sweepOnce() {
	cutoff := time.Now().Add(-m.idleTimeout)
	m.mu.Lock()
	var stale []*Session
	var abandoned []*Session
	for _, session := range m.sessions {
		if !session.idleSince().Before(cutoff) {
			continue
		}
		switch session.Status() {
		case StatusConnected:
			stale = append(stale, session)
		case StatusCreated:
			abandoned = append(abandoned, session)
			delete(m.sessions, session.ID)
		}
	}
	m.mu.Unlock()
	for _, session := range abandoned {
		m.logger.Printf("shells: dropping never-attached session %s", session.ID)
	}
	for _, session := range stale {
		m.logger.Printf("shells: killing idle session %s", session.ID)
		session.Release()
	}
}
