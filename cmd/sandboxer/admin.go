package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/chriopter/sandboxer/internal/adapter/postgres"
	"github.com/chriopter/sandboxer/internal/config"
	"github.com/chriopter/sandboxer/internal/port/database"
)

// runAdmin dispatches admin subcommands (hash-password, list-sessions,
// clear-messages).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "hash-password":
		return runAdminHashPassword(args[1:])
	case "list-sessions":
		return runAdminListSessions(args[1:])
	case "clear-messages":
		return runAdminClearMessages(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: sandboxer admin <command> [options]

Commands:
  hash-password    Generate a bcrypt hash for reverse-proxy basic auth
  list-sessions    List all registered sessions
  clear-messages   Delete a session's chat transcript
  help             Show this help message

Examples:
  sandboxer admin hash-password
  sandboxer admin list-sessions
  sandboxer admin clear-messages --session work-claude-1
`)
}

func loadAdminStore() (database.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	cleanup := func() {
		pool.Close()
	}
	return postgres.NewStore(pool), cleanup, nil
}

func runAdminHashPassword(args []string) error {
	fs := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	password := fs.String("password", "", "password to hash (prompted if not provided)") //nolint:gosec // CLI flag
	if err := fs.Parse(args); err != nil {
		return err
	}

	pass := *password
	if pass == "" {
		var err error
		pass, err = promptPassword("Password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		confirm, err := promptPassword("Confirm password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		if pass != confirm {
			return fmt.Errorf("passwords do not match")
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	fmt.Println(string(hash))
	return nil
}

func runAdminListSessions(args []string) error {
	fs := flag.NewFlagSet("list-sessions", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, cleanup, err := loadAdminStore()
	if err != nil {
		return err
	}
	defer cleanup()

	sessions, err := store.ListSessions(context.Background())
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tTYPE\tMODE\tWORKDIR\tTITLE")
	for i := range sessions {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			sessions[i].Name, sessions[i].Type, sessions[i].Mode, sessions[i].Workdir, sessions[i].Title)
	}
	return w.Flush()
}

func runAdminClearMessages(args []string) error {
	fs := flag.NewFlagSet("clear-messages", flag.ContinueOnError)
	name := fs.String("session", "", "session name (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("--session is required")
	}

	store, cleanup, err := loadAdminStore()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	if _, err := store.GetSession(ctx, *name); err != nil {
		return fmt.Errorf("session %s: %w", *name, err)
	}
	if err := store.ClearMessages(ctx, *name); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Transcript cleared for %s\n", *name)
	return nil
}

// promptPassword reads a password from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
