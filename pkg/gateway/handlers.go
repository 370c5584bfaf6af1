package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	wharferrors "github.com/wharfdev/wharf/pkg/errors"
	"github.com/wharfdev/wharf/pkg/project"
	"github.com/wharfdev/wharf/pkg/storage"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{
		"status":  "ok",
		"version": s.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireScope(w, r, storage.TokenScopeRead); !ok {
		return
	}
	includeDiscovered := r.URL.Query().Get("all") != "false"
	projects := s.registry.List(includeDiscovered)
	respondJSON(w, map[string]any{"projects": projects})
}

// resolveProject loads the project named in the route, or writes a 404.
func (s *Server) resolveProject(w http.ResponseWriter, r *http.Request) (*project.Project, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "project"))
	proj, err := s.registry.Get(id)
	if err != nil {
		respondError(w, err)
		return nil, false
	}
	return proj, true
}

type createJobRequest struct {
	Runner  string   `json:"runner"`
	Command []string `json:"command"`
	Cwd     string   `json:"cwd,omitempty"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.requireWrite(w, r)
	if !ok {
		return
	}
	proj, ok := s.resolveProject(w, r)
	if !ok {
		return
	}
	if !s.createLimiter.Allow("jobs:" + principal.Name) {
		respondError(w, wharferrors.New(wharferrors.ErrCodeStreamLimit, "job creation rate limit exceeded"))
		return
	}
	var req createJobRequest
	if err := decodeJSONBody(w, r, &req, maxBodyBytesSmall); err != nil {
		respondError(w, err)
		return
	}
	view, err := s.jobs.Create(proj, req.Runner, req.Command, req.Cwd)
	if err != nil {
		respondError(w, err)
		return
	}
	_ = s.store.RecordAuditLog(principal.Name, principal.Scope, "job.create", map[string]any{
		"jobId":   view.JobID,
		"project": proj.ID,
		"runner":  view.Runner,
		"command": view.Command,
	})
	s.logger.Printf("job %s created in %s by %s", view.JobID, proj.ID, principal.Name)
	respondJSON(w, map[string]any{"job": view})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireScope(w, r, storage.TokenScopeRead); !ok {
		return
	}
	proj, ok := s.resolveProject(w, r)
	if !ok {
		return
	}
	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	job, err := s.jobs.Get(jobID)
	if err == nil && job.ProjectID == proj.ID {
		respondJSON(w, map[string]any{"job": job.View()})
		return
	}
	if err == nil {
		err = wharferrors.New(wharferrors.ErrCodeNotFound, "unknown job: "+jobID)
	}
	// Evicted terminal jobs survive as snapshots: last known status.
	snap, snapErr := s.store.GetJobSnapshot(jobID)
	if snapErr != nil || snap == nil || snap.ProjectID != proj.ID {
		respondError(w, err)
		return
	}
	respondJSON(w, map[string]any{"job": snap})
}

type createShellRequest struct {
	Runner  string   `json:"runner,omitempty"`
	Command []string `json:"command,omitempty"`
	Cols    int      `json:"cols,omitempty"`
	Rows    int      `json:"rows,omitempty"`
}

func (s *Server) handleCreateShell(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.requireWrite(w, r)
	if !ok {
		return
	}
	proj, ok := s.resolveProject(w, r)
	if !ok {
		return
	}
	if !s.createLimiter.Allow("shells:" + principal.Name) {
		respondError(w, wharferrors.New(wharferrors.ErrCodeStreamLimit, "shell creation rate limit exceeded"))
		return
	}
	var req createShellRequest
	if err := decodeJSONBody(w, r, &req, maxBodyBytesTiny); err != nil {
		respondError(w, err)
		return
	}
	cols, _ := intToUint16(req.Cols)
	rows, _ := intToUint16(req.Rows)
	view, err := s.shells.Create(proj, req.Runner, req.Command, cols, rows)
	if err != nil {
		respondError(w, err)
		return
	}
	_ = s.store.RecordAuditLog(principal.Name, principal.Scope, "shell.create", map[string]any{
		"shellId": view.ShellID,
		"project": proj.ID,
	})
	respondJSON(w, map[string]any{"shell": view})
}

type createTokenRequest struct {
	Name  string `json:"name"`
	Scope string `json:"scope"`
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireScope(w, r, storage.TokenScopeWrite); !ok {
		return
	}
	tokens, err := s.store.ListTokens()
	if err != nil {
		respondError(w, wharferrors.Wrap(err, wharferrors.ErrCodeStorage, "list tokens"))
		return
	}
	respondJSON(w, map[string]any{"tokens": tokens})
}

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.requireWrite(w, r)
	if !ok {
		return
	}
	var req createTokenRequest
	if err := decodeJSONBody(w, r, &req, maxBodyBytesTiny); err != nil {
		respondError(w, err)
		return
	}
	secret, err := storage.GenerateTokenValue()
	if err != nil {
		respondError(w, wharferrors.Wrap(err, wharferrors.ErrCodeInternal, "generate token"))
		return
	}
	record, err := s.store.IssueToken(req.Name, req.Scope, secret)
	if err != nil {
		respondError(w, wharferrors.Wrap(err, wharferrors.ErrCodeStorage, "issue token"))
		return
	}
	_ = s.store.RecordAuditLog(principal.Name, principal.Scope, "token.issue", map[string]any{
		"id":    record.ID,
		"name":  record.Name,
		"scope": record.Scope,
	})
	// The secret appears exactly once, in this response.
	respondJSON(w, map[string]any{
		"token":  secret,
		"record": record,
	})
}

func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.requireWrite(w, r)
	if !ok {
		return
	}
	tokenID := strings.TrimSpace(chi.URLParam(r, "tokenID"))
	if tokenID == "" {
		respondError(w, wharferrors.New(wharferrors.ErrCodeValidation, "token id required"))
		return
	}
	revoked, err := s.store.RevokeToken(tokenID)
	if err != nil {
		respondError(w, wharferrors.Wrap(err, wharferrors.ErrCodeStorage, "revoke token"))
		return
	}
	if !revoked {
		respondError(w, wharferrors.New(wharferrors.ErrCodeNotFound, "no active token with id "+tokenID))
		return
	}
	_ = s.store.RecordAuditLog(principal.Name, principal.Scope, "token.revoke", map[string]any{"id": tokenID})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireScope(w, r, storage.TokenScopeRead); !ok {
		return
	}
	allowed, err := s.allowWrites()
	if err != nil {
		respondError(w, wharferrors.Wrap(err, wharferrors.ErrCodeStorage, "read settings"))
		return
	}
	respondJSON(w, map[string]any{"allowWrites": allowed})
}

type setAllowWritesRequest struct {
	Enabled bool `json:"enabled"`
}

// handleSetAllowWrites flips the global write gate. Closing the gate only
// requires write scope, so an operator can always shut writes off over
// the API. Opening it remotely still goes through requireWrite, which
// fails while the gate is closed: re-enabling writes is a local CLI
// operation, a remote caller cannot hand itself the second key.
func (s *Server) handleSetAllowWrites(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.requireScope(w, r, storage.TokenScopeWrite)
	if !ok {
		return
	}
	var req setAllowWritesRequest
	if err := decodeJSONBody(w, r, &req, maxBodyBytesTiny); err != nil {
		respondError(w, err)
		return
	}
	if req.Enabled {
		if _, ok := s.requireWrite(w, r); !ok {
			return
		}
	}
	if err := s.store.SetAllowWrites(req.Enabled); err != nil {
		respondError(w, wharferrors.Wrap(err, wharferrors.ErrCodeStorage, "update allow_writes"))
		return
	}
	_ = s.store.RecordAuditLog(principal.Name, principal.Scope, "settings.allow_writes", map[string]any{"enabled": req.Enabled})
	respondJSON(w, map[string]any{"allowWrites": req.Enabled})
}

func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireScope(w, r, storage.TokenScopeWrite); !ok {
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 100)
	entries, err := s.store.ListAuditLogs(limit)
	if err != nil {
		respondError(w, wharferrors.Wrap(err, wharferrors.ErrCodeStorage, "list audit logs"))
		return
	}
	respondJSON(w, map[string]any{"audit": entries})
}
