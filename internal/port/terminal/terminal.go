// Package terminal defines the port for the OS-level terminal multiplexer
// that keeps sessions alive independent of any connected client.
package terminal

import (
	"context"
	"time"
)

// Pane describes one live multiplexer session.
type Pane struct {
	Name    string
	Created time.Time
	Windows int
}

// Backend drives the terminal multiplexer: pane lifecycle, input injection,
// geometry, and buffer capture. A pane outlives every client; only Kill
// terminates it.
type Backend interface {
	// Create starts a detached pane named name with workdir as its
	// working directory.
	Create(ctx context.Context, name, workdir string) error

	// SendKeys types keys into the pane followed by Enter.
	SendKeys(ctx context.Context, name, keys string) error

	// Kill terminates the pane and the program inside it.
	Kill(ctx context.Context, name string) error

	// Rename changes a pane's name.
	Rename(ctx context.Context, oldName, newName string) error

	// List returns all live panes.
	List(ctx context.Context) ([]Pane, error)

	// Has reports whether a pane with the given name exists.
	Has(ctx context.Context, name string) (bool, error)

	// PaneTitle returns the title the program inside the pane has set,
	// or "" when no meaningful title is available.
	PaneTitle(ctx context.Context, name string) (string, error)

	// Resize sets the pane's window geometry.
	Resize(ctx context.Context, name string, rows, cols uint16) error

	// Capture returns the pane's current visible buffer contents.
	Capture(ctx context.Context, name string) (string, error)
}
