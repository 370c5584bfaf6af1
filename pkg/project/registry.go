// Package project tracks the projects the gateway can drive: entries
// registered in config plus compose projects discovered on disk under the
// projects root.
package project

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/wharfdev/wharf/pkg/config"
	wharferrors "github.com/wharfdev/wharf/pkg/errors"
)

// composeFileNames are the markers that make a directory a project.
var composeFileNames = []string{
	"docker-compose.yml",
	"docker-compose.yaml",
	"compose.yml",
	"compose.yaml",
}

// Project is a driveable development project.
type Project struct {
	ID         string `json:"id"`
	Path       string `json:"path"`
	Compose    string `json:"composeFile,omitempty"`
	Registered bool   `json:"registered"`
}

// Registry resolves project ids to paths. Registered projects come from
// config and always win over discovered ones with the same id.
type Registry struct {
	root       string
	registered []config.ProjectRef

	mu         sync.RWMutex
	discovered map[string]Project

	logger *log.Logger
}

// NewRegistry builds a registry over the configured projects root.
func NewRegistry(root string, registered []config.ProjectRef, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(os.Stderr, "[projects] ", log.LstdFlags)
	}
	r := &Registry{
		root:       strings.TrimSpace(root),
		registered: append([]config.ProjectRef(nil), registered...),
		discovered: make(map[string]Project),
		logger:     logger,
	}
	r.Refresh()
	return r
}

// Refresh rescans the projects root for compose projects.
func (r *Registry) Refresh() {
	if r.root == "" {
		return
	}
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return
	}
	found := make(map[string]Project)
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dir := filepath.Join(r.root, entry.Name())
		compose := composeFileIn(dir)
		if compose == "" {
			continue
		}
		found[entry.Name()] = Project{
			ID:      entry.Name(),
			Path:    dir,
			Compose: compose,
		}
	}
	r.mu.Lock()
	r.discovered = found
	r.mu.Unlock()
}

func composeFileIn(dir string) string {
	for _, name := range composeFileNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// Watch refreshes discovery when the projects root changes. Blocks until
// the context is cancelled; callers run it in a goroutine.
func (r *Registry) Watch(ctx context.Context) error {
	if r.root == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(r.root); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				r.Refresh()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Printf("projects watch error: %v", err)
		}
	}
}

// List returns all known projects, registered first, sorted by id.
func (r *Registry) List(includeDiscovered bool) []Project {
	var out []Project
	seen := make(map[string]struct{})
	for _, ref := range r.registered {
		out = append(out, Project{
			ID:         ref.ID,
			Path:       ref.Path,
			Compose:    composeFileIn(ref.Path),
			Registered: true,
		})
		seen[ref.ID] = struct{}{}
	}
	if includeDiscovered {
		r.mu.RLock()
		for id, proj := range r.discovered {
			if _, dup := seen[id]; dup {
				continue
			}
			out = append(out, proj)
		}
		r.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Registered != out[j].Registered {
			return out[i].Registered
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get resolves a project id. Fails with not_found for unknown ids.
func (r *Registry) Get(id string) (*Project, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, wharferrors.New(wharferrors.ErrCodeValidation, "project id required")
	}
	for _, ref := range r.registered {
		if ref.ID == id {
			return &Project{ID: ref.ID, Path: ref.Path, Compose: composeFileIn(ref.Path), Registered: true}, nil
		}
	}
	r.mu.RLock()
	proj, ok := r.discovered[id]
	r.mu.RUnlock()
	if !ok {
		return nil, wharferrors.Newf(wharferrors.ErrCodeNotFound, "unknown project %q", id)
	}
	return &proj, nil
}
