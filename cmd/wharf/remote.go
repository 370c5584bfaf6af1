package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/wharfdev/wharf/pkg/client"
	"github.com/wharfdev/wharf/pkg/daemon"
)

// resolveClient builds a gateway client from flags, the environment, and
// the running daemon's published address, in that order.
func resolveClient(configPath, addr, token string) (*client.Client, error) {
	if token == "" {
		token = strings.TrimSpace(os.Getenv("WHARF_TOKEN"))
	}
	if addr == "" {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return nil, err
		}
		addr = daemon.ReadAddrFile(cfg.AddrFilePath())
		if addr == "" {
			addr = cfg.Gateway.Bind
		}
	}
	return client.New(addr, token)
}

func runProjectsCommand(args []string) error {
	fs := flag.NewFlagSet("projects", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	addr := fs.String("addr", "", "gateway address")
	token := fs.String("token", "", "bearer token (or WHARF_TOKEN)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := resolveClient(*configPath, *addr, *token)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	projects, err := c.Projects(ctx)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Println("no projects registered or discovered")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPATH\tSOURCE\tCOMPOSE")
	for _, p := range projects {
		source := "discovered"
		if p.Registered {
			source = "registered"
		}
		compose := p.Compose
		if compose == "" {
			compose = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Path, source, compose)
	}
	return w.Flush()
}

func runJobCommand(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: wharf job <run|status|logs> [flags]")
	}
	switch args[0] {
	case "run":
		return runJobRun(args[1:])
	case "status":
		return runJobStatus(args[1:])
	case "logs":
		return runJobLogs(args[1:])
	default:
		return fmt.Errorf("unknown job subcommand: %s", args[0])
	}
}

func runJobRun(args []string) error {
	fs := flag.NewFlagSet("job run", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	addr := fs.String("addr", "", "gateway address")
	token := fs.String("token", "", "bearer token (or WHARF_TOKEN)")
	projectID := fs.String("project", "", "project id")
	runnerID := fs.String("runner", "generic", "runner id: generic or compose:<service>")
	cwd := fs.String("cwd", "", "working directory relative to the project root")
	detach := fs.Bool("detach", false, "create the job and print its id without streaming")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *projectID == "" {
		return fmt.Errorf("job run requires -project")
	}
	command := fs.Args()
	if len(command) == 0 {
		return fmt.Errorf("job run requires a command, e.g. `wharf job run -project demo -- make test`")
	}

	c, err := resolveClient(*configPath, *addr, *token)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	view, err := c.CreateJob(ctx, *projectID, *runnerID, command, *cwd)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "job %s created\n", view.JobID)
	if *detach {
		fmt.Println(view.JobID)
		return nil
	}
	return streamJobToTerminal(ctx, c, *projectID, view.JobID, client.StreamOptions{})
}

// streamJobToTerminal prints log frames to stdout and lifecycle events to
// stderr, and turns the terminal event's exit code into the process exit
// code.
func streamJobToTerminal(ctx context.Context, c *client.Client, projectID, jobID string, opts client.StreamOptions) error {
	exitCode := 0
	failed := false
	err := c.StreamJob(ctx, projectID, jobID, opts, func(f client.JobFrame) {
		switch f.Type {
		case "log":
			fmt.Println(f.Data)
		case "event":
			if f.Event == nil {
				return
			}
			switch f.Event.Type {
			case "job.running":
				fmt.Fprintf(os.Stderr, "job %s running\n", jobID)
			case "job.completed", "job.failed":
				if f.Event.ExitCode != nil {
					exitCode = *f.Event.ExitCode
				}
				failed = f.Event.Type == "job.failed"
				fmt.Fprintf(os.Stderr, "job %s %s (exit %d)\n",
					jobID, strings.TrimPrefix(f.Event.Type, "job."), exitCode)
			}
		}
	})
	if err != nil {
		return err
	}
	if failed && exitCode == 0 {
		exitCode = 1
	}
	if exitCode != 0 {
		return withExitCode(nil, exitCode)
	}
	return nil
}

func runJobStatus(args []string) error {
	fs := flag.NewFlagSet("job status", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	addr := fs.String("addr", "", "gateway address")
	token := fs.String("token", "", "bearer token (or WHARF_TOKEN)")
	projectID := fs.String("project", "", "project id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *projectID == "" || fs.NArg() != 1 {
		return fmt.Errorf("usage: wharf job status -project ID JOB-ID")
	}

	c, err := resolveClient(*configPath, *addr, *token)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	view, err := c.GetJob(ctx, *projectID, fs.Arg(0))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func runJobLogs(args []string) error {
	fs := flag.NewFlagSet("job logs", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	addr := fs.String("addr", "", "gateway address")
	token := fs.String("token", "", "bearer token (or WHARF_TOKEN)")
	projectID := fs.String("project", "", "project id")
	logsFrom := fs.Uint64("logs-from", 0, "resume log replay from this cursor")
	eventsFrom := fs.Uint64("events-from", 0, "resume event replay from this cursor")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *projectID == "" || fs.NArg() != 1 {
		return fmt.Errorf("usage: wharf job logs -project ID [-logs-from N] [-events-from N] JOB-ID")
	}

	c, err := resolveClient(*configPath, *addr, *token)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()
	return streamJobToTerminal(ctx, c, *projectID, fs.Arg(0), client.StreamOptions{
		LogsFrom:   *logsFrom,
		EventsFrom: *eventsFrom,
	})
}

func runShellCommand(args []string) error {
	fs := flag.NewFlagSet("shell", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	addr := fs.String("addr", "", "gateway address")
	token := fs.String("token", "", "bearer token (or WHARF_TOKEN)")
	projectID := fs.String("project", "", "project id")
	runnerID := fs.String("runner", "generic", "runner id: generic or compose:<service>")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *projectID == "" {
		return fmt.Errorf("shell requires -project")
	}

	c, err := resolveClient(*configPath, *addr, *token)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	view, err := c.CreateShell(ctx, *projectID, *runnerID, fs.Args())
	if err != nil {
		return err
	}
	code, err := c.AttachShell(ctx, *projectID, view.ShellID)
	if err != nil {
		return err
	}
	if code != 0 {
		return withExitCode(nil, code)
	}
	return nil
}
