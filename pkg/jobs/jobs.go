// Package jobs creates, tracks, and streams one-off command executions.
// Each job owns an append-only record log with monotonic per-kind cursors;
// subscribers are independent readers of that log, so replay after a
// dropped connection is lossless and order-preserving.
package jobs

import (
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	wharferrors "github.com/wharfdev/wharf/pkg/errors"
)

// Status is a job lifecycle state. Transitions are monotonic:
// queued → running → {completed | failed}.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further records can be emitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RecordKind tags entries in a job's record log.
type RecordKind string

const (
	RecordLog   RecordKind = "log"
	RecordEvent RecordKind = "event"
)

// LifecycleEvent is the payload of an event record.
type LifecycleEvent struct {
	Type     string `json:"type"`
	ExitCode *int   `json:"exitCode,omitempty"`
}

// Record is one entry in a job's append-only log. Log and event records
// carry independent monotonic cursors; the slice order is the single
// production order every subscriber observes.
type Record struct {
	Kind   RecordKind      `json:"type"`
	Cursor uint64          `json:"cursor"`
	Data   string          `json:"data,omitempty"`
	Event  *LifecycleEvent `json:"event,omitempty"`
}

// Job is one tracked command execution.
type Job struct {
	ID        string
	ProjectID string
	Runner    string
	Command   []string
	Cwd       string
	CreatedAt time.Time

	mu        sync.Mutex
	status    Status
	exitCode  *int
	records   []Record
	nextLog   uint64
	nextEvent uint64
	changed   chan struct{} // closed and replaced on every append
	endedAt   *time.Time
}

func newJob(projectID, runnerID string, command []string, cwd string) *Job {
	return &Job{
		ID:        "job-" + strings.ToLower(ulid.Make().String()),
		ProjectID: projectID,
		Runner:    runnerID,
		Command:   append([]string(nil), command...),
		Cwd:       cwd,
		CreatedAt: time.Now().UTC(),
		status:    StatusQueued,
		changed:   make(chan struct{}),
	}
}

// notifyLocked wakes every waiting subscriber. Callers hold j.mu.
func (j *Job) notifyLocked() {
	close(j.changed)
	j.changed = make(chan struct{})
}

func (j *Job) appendLog(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	j.records = append(j.records, Record{Kind: RecordLog, Cursor: j.nextLog, Data: line})
	j.nextLog++
	j.notifyLocked()
}

func (j *Job) appendEvent(eventType string, exitCode *int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	j.records = append(j.records, Record{
		Kind:   RecordEvent,
		Cursor: j.nextEvent,
		Event:  &LifecycleEvent{Type: eventType, ExitCode: exitCode},
	})
	j.nextEvent++
	j.notifyLocked()
}

func (j *Job) markRunning() {
	j.mu.Lock()
	if j.status != StatusQueued {
		j.mu.Unlock()
		return
	}
	j.status = StatusRunning
	j.mu.Unlock()
	j.appendEvent("job.running", nil)
}

func (j *Job) markTerminal(exitCode int) {
	eventType := "job.completed"
	status := StatusCompleted
	if exitCode != 0 {
		eventType = "job.failed"
		status = StatusFailed
	}
	code := exitCode
	j.appendEvent(eventType, &code)

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	now := time.Now().UTC()
	j.status = status
	j.exitCode = &code
	j.endedAt = &now
	j.notifyLocked()
}

// View is the JSON representation of a job.
type View struct {
	JobID     string     `json:"jobId"`
	ProjectID string     `json:"projectId"`
	Runner    string     `json:"runner"`
	Command   []string   `json:"command"`
	Cwd       string     `json:"cwd,omitempty"`
	Status    Status     `json:"status"`
	ExitCode  *int       `json:"exitCode,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// View snapshots the job state for API responses.
func (j *Job) View() View {
	j.mu.Lock()
	defer j.mu.Unlock()
	v := View{
		JobID:     j.ID,
		ProjectID: j.ProjectID,
		Runner:    j.Runner,
		Command:   append([]string(nil), j.Command...),
		Cwd:       j.Cwd,
		Status:    j.status,
		CreatedAt: j.CreatedAt,
	}
	if j.exitCode != nil {
		code := *j.exitCode
		v.ExitCode = &code
	}
	if j.endedAt != nil {
		ts := *j.endedAt
		v.EndedAt = &ts
	}
	return v
}

// Status returns the current lifecycle state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// wait returns records past idx, or a channel to wait on when none are
// available yet. done=true means the job is terminal and fully drained.
func (j *Job) wait(idx int) (batch []Record, changed <-chan struct{}, done bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if idx < len(j.records) {
		return append([]Record(nil), j.records[idx:]...), nil, false
	}
	if j.status.Terminal() {
		return nil, nil, true
	}
	return nil, j.changed, false
}

func validationError(message string) error {
	return wharferrors.New(wharferrors.ErrCodeValidation, message)
}
