// Package tmux implements the terminal backend port on top of the tmux CLI.
// tmux keeps every pane alive independent of the server process, which is
// what lets sessions survive server restarts and client disconnects.
package tmux

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/chriopter/sandboxer/internal/port/terminal"
)

// Backend drives tmux through its CLI.
type Backend struct{}

var _ terminal.Backend = (*Backend)(nil)

// NewBackend creates a tmux backend.
func NewBackend() *Backend {
	return &Backend{}
}

// run executes a tmux command and returns its stdout.
func run(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "tmux", args...).Output()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w", args[0], err)
	}
	return string(out), nil
}

// Create starts a detached session with workdir as its working directory and
// mouse mode enabled for scrollback.
func (b *Backend) Create(ctx context.Context, name, workdir string) error {
	if _, err := run(ctx, "new-session", "-d", "-s", name, "-c", workdir); err != nil {
		return err
	}
	_, err := run(ctx, "set", "-t", name, "mouse", "on")
	return err
}

// SendKeys types keys into the session followed by Enter.
func (b *Backend) SendKeys(ctx context.Context, name, keys string) error {
	_, err := run(ctx, "send-keys", "-t", name, keys, "Enter")
	return err
}

// Kill terminates the session and whatever runs inside it.
func (b *Backend) Kill(ctx context.Context, name string) error {
	_, err := run(ctx, "kill-session", "-t", name)
	return err
}

// Rename changes a session's name.
func (b *Backend) Rename(ctx context.Context, oldName, newName string) error {
	_, err := run(ctx, "rename-session", "-t", oldName, newName)
	return err
}

// listFormat matches parsePanes below.
const listFormat = "#{session_name}|#{session_created}|#{session_windows}"

// List returns all live sessions. A missing tmux server means no sessions,
// not an error.
func (b *Backend) List(ctx context.Context) ([]terminal.Pane, error) {
	out, err := exec.CommandContext(ctx, "tmux", "list-sessions", "-F", listFormat).Output()
	if err != nil {
		return nil, nil //nolint:nilerr // no server running means no sessions
	}
	return parsePanes(string(out)), nil
}

// parsePanes decodes list-sessions output, oldest first.
func parsePanes(out string) []terminal.Pane {
	var panes []terminal.Pane
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		p := terminal.Pane{Name: parts[0], Windows: 1}
		if len(parts) > 1 {
			if sec, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
				p.Created = time.Unix(sec, 0)
			}
		}
		if len(parts) > 2 {
			if n, err := strconv.Atoi(parts[2]); err == nil {
				p.Windows = n
			}
		}
		panes = append(panes, p)
	}
	return panes
}

// Has reports whether a session with exactly the given name exists.
func (b *Backend) Has(ctx context.Context, name string) (bool, error) {
	// The = prefix forces an exact match instead of tmux's prefix match.
	err := exec.CommandContext(ctx, "tmux", "has-session", "-t", "="+name).Run()
	return err == nil, nil
}

// PaneTitle returns the title the program inside the pane has set.
func (b *Backend) PaneTitle(ctx context.Context, name string) (string, error) {
	out, err := run(ctx, "display-message", "-t", name, "-p", "#{pane_title}")
	if err != nil {
		return "", err
	}
	return normalizeTitle(out), nil
}

// normalizeTitle strips the busy-indicator prefix the agent CLI prepends and
// rejects the terminal default.
func normalizeTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.TrimPrefix(title, "✳ ")
	if title == "Window Title" {
		return ""
	}
	return title
}

// Resize sets the session's window geometry.
func (b *Backend) Resize(ctx context.Context, name string, rows, cols uint16) error {
	_, err := run(ctx, "resize-window", "-t", name,
		"-x", strconv.Itoa(int(cols)), "-y", strconv.Itoa(int(rows)))
	return err
}

// Capture returns the pane's current visible buffer, escapes included.
func (b *Backend) Capture(ctx context.Context, name string) (string, error) {
	return run(ctx, "capture-pane", "-p", "-e", "-t", name)
}
