package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/wharfdev/wharf/pkg/storage"
)

func runTokenCommand(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: wharf token <create|list|revoke> [flags]")
	}
	switch args[0] {
	case "create":
		return runTokenCreate(args[1:])
	case "list":
		return runTokenList(args[1:])
	case "revoke":
		return runTokenRevoke(args[1:])
	default:
		return fmt.Errorf("unknown token subcommand: %s", args[0])
	}
}

// openLocalStore opens the daemon's own database. Token administration is
// a local operation; the gateway exposes the same surface over HTTP for
// already-authorized write-scope callers.
func openLocalStore(configPath string) (*storage.Store, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return storage.New(cfg.DatabasePath())
}

func runTokenCreate(args []string) error {
	fs := flag.NewFlagSet("token create", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	name := fs.String("name", "", "human-readable token name")
	scope := fs.String("scope", storage.TokenScopeRead, "token scope: read or write")
	remote := fs.Bool("remote", false, "issue via a running gateway instead of the local store")
	addr := fs.String("addr", "", "gateway address for -remote")
	token := fs.String("token", "", "bearer token for -remote (or WHARF_TOKEN)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("token create requires -name")
	}

	if *remote {
		c, err := resolveClient(*configPath, *addr, *token)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		secret, record, err := c.CreateToken(ctx, *name, *scope)
		if err != nil {
			return err
		}
		printIssuedToken(record, secret)
		return nil
	}

	store, err := openLocalStore(*configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	secret, err := storage.GenerateTokenValue()
	if err != nil {
		return err
	}
	record, err := store.IssueToken(*name, *scope, secret)
	if err != nil {
		return err
	}
	printIssuedToken(record, secret)
	return nil
}

func printIssuedToken(record *storage.Token, secret string) {
	fmt.Printf("token %s issued (scope %s)\n", record.ID, record.Scope)
	fmt.Printf("secret: %s\n", secret)
	fmt.Println("store this secret now; it is hashed and cannot be shown again")
}

func runTokenList(args []string) error {
	fs := flag.NewFlagSet("token list", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	remote := fs.Bool("remote", false, "list via a running gateway instead of the local store")
	addr := fs.String("addr", "", "gateway address for -remote")
	token := fs.String("token", "", "bearer token for -remote (or WHARF_TOKEN)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var tokens []storage.Token
	if *remote {
		c, err := resolveClient(*configPath, *addr, *token)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		tokens, err = c.ListTokens(ctx)
		if err != nil {
			return err
		}
	} else {
		store, err := openLocalStore(*configPath)
		if err != nil {
			return err
		}
		defer store.Close()
		tokens, err = store.ListTokens()
		if err != nil {
			return err
		}
	}

	if len(tokens) == 0 {
		fmt.Println("no tokens issued")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSCOPE\tSTATE\tCREATED")
	for _, t := range tokens {
		state := "active"
		if t.Revoked() {
			state = "revoked"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Name, t.Scope, state, t.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runTokenRevoke(args []string) error {
	fs := flag.NewFlagSet("token revoke", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	remote := fs.Bool("remote", false, "revoke via a running gateway instead of the local store")
	addr := fs.String("addr", "", "gateway address for -remote")
	token := fs.String("token", "", "bearer token for -remote (or WHARF_TOKEN)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: wharf token revoke TOKEN-ID")
	}
	id := fs.Arg(0)

	if *remote {
		c, err := resolveClient(*configPath, *addr, *token)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := c.RevokeToken(ctx, id); err != nil {
			return err
		}
		fmt.Printf("token %s revoked\n", id)
		return nil
	}

	store, err := openLocalStore(*configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	revoked, err := store.RevokeToken(id)
	if err != nil {
		return err
	}
	if !revoked {
		fmt.Printf("token %s was already revoked or does not exist\n", id)
		return nil
	}
	fmt.Printf("token %s revoked\n", id)
	return nil
}
