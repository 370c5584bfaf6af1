package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/wharfdev/wharf/pkg/client"
	"github.com/wharfdev/wharf/pkg/daemon"
)

func runGatewayCommand(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: wharf gateway <run|start|stop|status> [flags]")
	}
	switch args[0] {
	case "run":
		return runGatewayRun(args[1:])
	case "start":
		return runGatewayStart(args[1:])
	case "stop":
		return runGatewayStop(args[1:])
	case "status":
		return runGatewayStatus(args[1:])
	default:
		return fmt.Errorf("unknown gateway subcommand: %s", args[0])
	}
}

func runGatewayRun(args []string) error {
	fs := flag.NewFlagSet("gateway run", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	bind := fs.String("bind", "", "override gateway bind address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *bind != "" {
		cfg.Gateway.Bind = *bind
	}
	return daemon.Run(cfg, version)
}

func runGatewayStart(args []string) error {
	fs := flag.NewFlagSet("gateway start", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	bind := fs.String("bind", "", "override gateway bind address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *bind != "" {
		cfg.Gateway.Bind = *bind
	}
	pid, addr, err := daemon.StartDetached(cfg, detachedRunArgs(*configPath, *bind)...)
	if err != nil {
		return err
	}
	fmt.Printf("gateway started (pid %d) on %s\n", pid, addr)
	return nil
}

// detachedRunArgs carries the start flags into the spawned `gateway run`
// so the child resolves the same config and bind as the parent. Without
// them the child would load the default config and publish its address
// under a different data dir than the one the parent polls.
func detachedRunArgs(configPath, bind string) []string {
	var args []string
	if configPath != "" {
		args = append(args, "-config", configPath)
	}
	if bind != "" {
		args = append(args, "-bind", bind)
	}
	return args
}

func runGatewayStop(args []string) error {
	fs := flag.NewFlagSet("gateway stop", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	grace := fs.Duration("grace", 10*time.Second, "how long to wait for the daemon to exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	pid, err := daemon.Stop(cfg.PIDFilePath())
	if err != nil {
		return err
	}
	if !daemon.WaitForExit(pid, *grace) {
		return fmt.Errorf("gateway (pid %d) did not exit within %s", pid, *grace)
	}
	fmt.Printf("gateway stopped (pid %d)\n", pid)
	return nil
}

func runGatewayStatus(args []string) error {
	fs := flag.NewFlagSet("gateway status", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	pid, state, err := daemon.ReadPIDFile(cfg.PIDFilePath())
	if err != nil {
		return err
	}
	switch state {
	case daemon.StateNotRunning:
		fmt.Println("gateway: not running")
		return nil
	case daemon.StateStale:
		fmt.Printf("gateway: stale pid file (pid %d is gone); next start will clear it\n", pid)
		return nil
	}

	addr := daemon.ReadAddrFile(cfg.AddrFilePath())
	if addr == "" {
		fmt.Printf("gateway: running (pid %d), address not yet published\n", pid)
		return nil
	}

	// The status endpoint is unauthenticated, so probe it directly.
	c, err := client.New(addr, "")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := c.Status(ctx)
	if err != nil {
		fmt.Printf("gateway: running (pid %d) on %s, but not responding: %v\n", pid, addr, err)
		return nil
	}
	fmt.Printf("gateway: running (pid %d) on %s, version %s\n", pid, addr, info.Version)
	return nil
}
