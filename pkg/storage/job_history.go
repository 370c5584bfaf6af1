package storage

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"
)

// JobSnapshot is the terminal state of a job, persisted so a restarted
// daemon can still answer "what happened to job X". The live record log
// is not persisted.
type JobSnapshot struct {
	JobID     string     `json:"jobId"`
	ProjectID string     `json:"projectId"`
	Runner    string     `json:"runner"`
	Command   []string   `json:"command"`
	Status    string     `json:"status"`
	ExitCode  *int       `json:"exitCode,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// RecordJobSnapshot upserts the terminal snapshot for a job.
func (s *Store) RecordJobSnapshot(snap JobSnapshot) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	cmd, err := json.Marshal(snap.Command)
	if err != nil {
		return err
	}
	var exit sql.NullInt64
	if snap.ExitCode != nil {
		exit = sql.NullInt64{Int64: int64(*snap.ExitCode), Valid: true}
	}
	var ended sql.NullTime
	if snap.EndedAt != nil {
		ended = sql.NullTime{Time: *snap.EndedAt, Valid: true}
	}
	_, err = s.db.Exec(`
		INSERT INTO job_history (job_id, project_id, runner, command, status, exit_code, created_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			status = excluded.status,
			exit_code = excluded.exit_code,
			ended_at = excluded.ended_at
	`, snap.JobID, snap.ProjectID, snap.Runner, string(cmd), snap.Status, exit, snap.CreatedAt.UTC(), ended)
	return err
}

// GetJobSnapshot loads the persisted snapshot for jobID, nil when absent.
func (s *Store) GetJobSnapshot(jobID string) (*JobSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	var snap JobSnapshot
	var cmd string
	var exit sql.NullInt64
	var ended sql.NullTime
	err := s.db.QueryRow(`
		SELECT job_id, project_id, runner, command, status, exit_code, created_at, ended_at
		FROM job_history WHERE job_id = ?
	`, strings.TrimSpace(jobID)).Scan(&snap.JobID, &snap.ProjectID, &snap.Runner, &cmd, &snap.Status, &exit, &snap.CreatedAt, &ended)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(cmd), &snap.Command); err != nil {
		snap.Command = nil
	}
	if exit.Valid {
		code := int(exit.Int64)
		snap.ExitCode = &code
	}
	if ended.Valid {
		ts := ended.Time
		snap.EndedAt = &ts
	}
	return &snap, nil
}

// ListJobSnapshots returns recent snapshots for a project, newest first.
func (s *Store) ListJobSnapshots(projectID string, limit int) ([]JobSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT job_id, project_id, runner, command, status, exit_code, created_at, ended_at
		FROM job_history WHERE project_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, strings.TrimSpace(projectID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []JobSnapshot
	for rows.Next() {
		var snap JobSnapshot
		var cmd string
		var exit sql.NullInt64
		var ended sql.NullTime
		if err := rows.Scan(&snap.JobID, &snap.ProjectID, &snap.Runner, &cmd, &snap.Status, &exit, &snap.CreatedAt, &ended); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(cmd), &snap.Command); err != nil {
			snap.Command = nil
		}
		if exit.Valid {
			code := int(exit.Int64)
			snap.ExitCode = &code
		}
		if ended.Valid {
			ts := ended.Time
			snap.EndedAt = &ts
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
