package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	wharferrors "github.com/wharfdev/wharf/pkg/errors"
	"github.com/wharfdev/wharf/pkg/project"
	"github.com/wharfdev/wharf/pkg/runner"
	"github.com/wharfdev/wharf/pkg/storage"
)

// History persists terminal job snapshots. Satisfied by *storage.Store.
type History interface {
	RecordJobSnapshot(snap storage.JobSnapshot) error
}

// Manager owns all live jobs for a gateway process.
type Manager struct {
	ctx       context.Context
	history   History
	logger    *log.Logger
	retention time.Duration

	mu   sync.Mutex
	jobs map[string]*Job
}

// NewManager builds a manager whose job executions live until ctx is
// cancelled. Terminal jobs stay queryable for the retention window, then
// drop out of memory; their snapshots remain in history. history may be
// nil in tests.
func NewManager(ctx context.Context, history History, retention time.Duration, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	if retention <= 0 {
		retention = 15 * time.Minute
	}
	return &Manager{
		ctx:       ctx,
		history:   history,
		logger:    logger,
		retention: retention,
		jobs:      make(map[string]*Job),
	}
}

// Create validates the request, registers the job, and starts the runner
// in the background. The returned view has status queued; the running
// event lands on the record log once the process starts.
func (m *Manager) Create(proj *project.Project, runnerID string, command []string, cwd string) (View, error) {
	if len(command) == 0 {
		return View{}, validationError("command must not be empty")
	}
	backend, err := runner.Resolve(runnerID)
	if err != nil {
		return View{}, err
	}

	job := newJob(proj.ID, runnerID, command, cwd)

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	inv := runner.Invocation{ProjectDir: proj.Path, Dir: cwd, Command: command}
	go func() {
		backend.Run(m.ctx, inv, &jobEvents{job: job})
		m.finish(job)
	}()

	return job.View(), nil
}

// Get returns the live job, or a not_found error. Callers that also want
// evicted terminal jobs should fall back to history.
func (m *Manager) Get(jobID string) (*Job, error) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return nil, wharferrors.New(wharferrors.ErrCodeNotFound, "unknown job: "+jobID)
	}
	return job, nil
}

// Count reports live jobs in the given state.
func (m *Manager) Count(status Status) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, job := range m.jobs {
		if job.Status() == status {
			n++
		}
	}
	return n
}

// Subscribe attaches a reader to the job's record log. Log records with
// cursor >= logsFrom and event records with cursor >= eventsFrom are
// replayed in production order, then live records follow. The channel
// closes once the job is terminal and every record has been delivered,
// or when ctx is cancelled. Cancelling a subscription never affects the
// job itself.
func (m *Manager) Subscribe(ctx context.Context, jobID string, logsFrom, eventsFrom uint64) (<-chan Record, error) {
	job, err := m.Get(jobID)
	if err != nil {
		return nil, err
	}

	out := make(chan Record, 64)
	go func() {
		defer close(out)
		idx := 0
		for {
			batch, changed, done := job.wait(idx)
			if done {
				return
			}
			if changed != nil {
				select {
				case <-changed:
					continue
				case <-ctx.Done():
					return
				}
			}
			for _, rec := range batch {
				idx++
				if rec.Kind == RecordLog && rec.Cursor < logsFrom {
					continue
				}
				if rec.Kind == RecordEvent && rec.Cursor < eventsFrom {
					continue
				}
				select {
				case out <- rec:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// finish persists the terminal snapshot and schedules eviction.
func (m *Manager) finish(job *Job) {
	if m.history != nil {
		v := job.View()
		snap := storage.JobSnapshot{
			JobID:     v.JobID,
			ProjectID: v.ProjectID,
			Runner:    v.Runner,
			Command:   v.Command,
			Status:    string(v.Status),
			ExitCode:  v.ExitCode,
			CreatedAt: v.CreatedAt,
			EndedAt:   v.EndedAt,
		}
		if err := m.history.RecordJobSnapshot(snap); err != nil {
			m.logger.Printf("jobs: persist snapshot %s: %v", job.ID, err)
		}
	}
	time.AfterFunc(m.retention, func() {
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
	})
}

// jobEvents adapts runner callbacks onto a job's record log.
type jobEvents struct {
	job *Job
}

func (e *jobEvents) Started(int) {
	e.job.markRunning()
}

func (e *jobEvents) Output(line string) {
	e.job.appendLog(line)
}

func (e *jobEvents) Finished(exitCode int, err error) {
	e.job.markTerminal(exitCode)
}
