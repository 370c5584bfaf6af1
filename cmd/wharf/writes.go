package main

import (
	"context"
	"flag"
	"fmt"
	"time"
)

// runWritesCommand flips the global write gate. Enabling is local-only:
// the gateway rejects a remote enable while the gate is closed, so the
// second key always stays on the machine running the daemon.
func runWritesCommand(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: wharf writes <on|off> [flags]")
	}
	var enable bool
	switch args[0] {
	case "on":
		enable = true
	case "off":
		enable = false
	default:
		return fmt.Errorf("unknown writes subcommand: %s (want on or off)", args[0])
	}

	fs := flag.NewFlagSet("writes "+args[0], flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	remote := fs.Bool("remote", false, "flip via a running gateway instead of the local store")
	addr := fs.String("addr", "", "gateway address for -remote")
	token := fs.String("token", "", "bearer token for -remote (or WHARF_TOKEN)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	if *remote {
		if enable {
			return fmt.Errorf("writes cannot be enabled remotely; run `wharf writes on` on the daemon host")
		}
		c, err := resolveClient(*configPath, *addr, *token)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := c.SetAllowWrites(ctx, false); err != nil {
			return err
		}
		fmt.Println("gateway writes disabled")
		return nil
	}

	store, err := openLocalStore(*configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SetAllowWrites(enable); err != nil {
		return err
	}
	if enable {
		fmt.Println("gateway writes enabled")
	} else {
		fmt.Println("gateway writes disabled")
	}
	return nil
}
