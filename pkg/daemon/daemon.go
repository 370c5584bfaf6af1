package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wharfdev/wharf/pkg/config"
	"github.com/wharfdev/wharf/pkg/gateway"
	"github.com/wharfdev/wharf/pkg/jobs"
	"github.com/wharfdev/wharf/pkg/project"
	"github.com/wharfdev/wharf/pkg/shells"
	"github.com/wharfdev/wharf/pkg/storage"
)

// Run is the gateway composition root: it claims the pid file, opens
// storage, wires the managers into the HTTP server, and serves until
// SIGTERM/SIGINT. Everything a handler touches hangs off the state built
// here.
func Run(cfg *config.Config, version string) error {
	logger := log.New(os.Stdout, "[wharf] ", log.LstdFlags)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}
	if err := WritePIDFile(cfg.PIDFilePath(), logger.Printf); err != nil {
		return err
	}
	defer RemovePIDFile(cfg.PIDFilePath())
	defer os.Remove(cfg.AddrFilePath())

	store, err := storage.New(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	registry := project.NewRegistry(cfg.ProjectsRoot, cfg.Projects, logger)
	jobMgr := jobs.NewManager(ctx, store, cfg.Gateway.JobRetention, logger)
	shellMgr := shells.NewManager(cfg.Gateway.ShellIdleTimeout, logger)
	server := gateway.NewServer(cfg.Gateway, version, store, registry, jobMgr, shellMgr)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Start(groupCtx)
	})
	group.Go(func() error {
		// Project discovery refresh; a watch failure degrades to the
		// startup scan rather than killing the daemon.
		if err := registry.Watch(groupCtx); err != nil {
			logger.Printf("project watch unavailable: %v", err)
		}
		return nil
	})
	group.Go(func() error {
		shellMgr.SweepIdle(groupCtx)
		return nil
	})
	group.Go(func() error {
		addrCtx, cancel := context.WithTimeout(groupCtx, 10*time.Second)
		defer cancel()
		addr, err := server.Addr(addrCtx)
		if err != nil {
			return nil
		}
		return WriteAddrFile(cfg.AddrFilePath(), addr)
	})

	logger.Printf("gateway daemon pid %d, data dir %s", os.Getpid(), cfg.DataDir)
	return group.Wait()
}

// StartDetached spawns `wharf gateway run` as a background process and
// waits for it to publish its listen address. runArgs are appended to the
// child argv so the daemon loads the same config the caller resolved cfg
// from.
func StartDetached(cfg *config.Config, runArgs ...string) (pid int, addr string, err error) {
	if existing, state, err := ReadPIDFile(cfg.PIDFilePath()); err != nil {
		return 0, "", err
	} else if state == StateRunning {
		return existing, ReadAddrFile(cfg.AddrFilePath()), nil
	}

	self, err := os.Executable()
	if err != nil {
		return 0, "", fmt.Errorf("locate executable: %w", err)
	}
	_ = os.Remove(cfg.AddrFilePath())

	argv := append([]string{"gateway", "run"}, runArgs...)
	cmd := exec.Command(self, argv...)
	cmd.Env = os.Environ()
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, "", fmt.Errorf("spawn gateway: %w", err)
	}
	pid = cmd.Process.Pid
	// Detach: the daemon outlives this CLI invocation.
	_ = cmd.Process.Release()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if addr := ReadAddrFile(cfg.AddrFilePath()); addr != "" {
			return pid, addr, nil
		}
		if !processAlive(pid) {
			return pid, "", fmt.Errorf("gateway process %d exited during startup; run `wharf gateway run` in the foreground to see why", pid)
		}
		time.Sleep(100 * time.Millisecond)
	}
	return pid, "", fmt.Errorf("gateway started (pid %d) but never published its address", pid)
}

// WaitForExit polls until the pid is gone or the grace window lapses.
func WaitForExit(pid int, grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return !processAlive(pid)
}
