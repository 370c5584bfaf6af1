package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wharfdev/wharf/pkg/config"
	wharferrors "github.com/wharfdev/wharf/pkg/errors"
)

func makeProjectDir(t *testing.T, root, name, composeName string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if composeName != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, composeName), []byte("services: {}\n"), 0o644))
	}
	return dir
}

func TestDiscoversComposeProjects(t *testing.T) {
	root := t.TempDir()
	makeProjectDir(t, root, "api", "docker-compose.yml")
	makeProjectDir(t, root, "web", "compose.yaml")
	makeProjectDir(t, root, "notes", "") // no compose file, not a project

	reg := NewRegistry(root, nil, nil)
	projects := reg.List(true)
	require.Len(t, projects, 2)
	require.Equal(t, "api", projects[0].ID)
	require.Equal(t, "web", projects[1].ID)
	require.False(t, projects[0].Registered)
}

func TestRegisteredWinsOverDiscovered(t *testing.T) {
	root := t.TempDir()
	discovered := makeProjectDir(t, root, "api", "docker-compose.yml")
	registeredPath := t.TempDir()

	reg := NewRegistry(root, []config.ProjectRef{{ID: "api", Path: registeredPath}}, nil)

	proj, err := reg.Get("api")
	require.NoError(t, err)
	require.True(t, proj.Registered)
	require.Equal(t, registeredPath, proj.Path)
	require.NotEqual(t, discovered, proj.Path)
}

func TestListExcludesDiscoveredWhenAsked(t *testing.T) {
	root := t.TempDir()
	makeProjectDir(t, root, "api", "docker-compose.yml")

	reg := NewRegistry(root, []config.ProjectRef{{ID: "demo", Path: t.TempDir()}}, nil)
	require.Len(t, reg.List(false), 1)
	require.Len(t, reg.List(true), 2)
}

func TestGetUnknownProject(t *testing.T) {
	reg := NewRegistry(t.TempDir(), nil, nil)
	_, err := reg.Get("ghost")
	require.Equal(t, wharferrors.ErrCodeNotFound, wharferrors.CodeOf(err))
}

func TestRefreshPicksUpNewProjects(t *testing.T) {
	root := t.TempDir()
	reg := NewRegistry(root, nil, nil)
	require.Empty(t, reg.List(true))

	makeProjectDir(t, root, "fresh", "compose.yml")
	reg.Refresh()

	projects := reg.List(true)
	require.Len(t, projects, 1)
	require.Equal(t, "fresh", projects[0].ID)
}
