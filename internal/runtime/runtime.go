// Package runtime defines the terminal runtime surface the bridge drives.
// A runtime hosts one window per terminal agent instance; the bridge types
// keystrokes into windows and reads their scrollback.
package runtime

import (
	"context"
	"errors"
)

// ErrWindowNotFound reports that a window target no longer exists.
// Router and the buffer fallback branch on this to give recovery guidance.
var ErrWindowNotFound = errors.New("window not found")

// WindowInfo describes one window in the runtime.
type WindowInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Runtime is the terminal surface used for terminal-kind agent instances.
// Implementations must be safe for concurrent use.
type Runtime interface {
	// TypeKeys types text into a window without submitting it.
	TypeKeys(ctx context.Context, windowID, text string) error

	// SendEnter submits whatever is typed in the window.
	SendEnter(ctx context.Context, windowID string) error

	// CapturePane returns the window's visible buffer with terminal
	// escape sequences stripped.
	CapturePane(ctx context.Context, windowID string) (string, error)

	// ListWindows enumerates the runtime's windows.
	ListWindows(ctx context.Context) ([]WindowInfo, error)

	// FocusWindow makes a window the active one.
	FocusWindow(ctx context.Context, windowID string) error

	// KillWindow destroys a window.
	KillWindow(ctx context.Context, windowID string) error

	// EnsureWindow creates a window running the given command in dir if no
	// window with that name exists yet.
	EnsureWindow(ctx context.Context, name, dir, command string) error
}
