// Package tmux implements the runtime.Runtime interface by shelling out to
// the tmux binary. Windows live inside a single named session.
package tmux

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/discode/discode/internal/common/logger"
	"github.com/discode/discode/internal/runtime"
)

// ansiEscape matches CSI/OSC escape sequences left in captured panes.
var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*(\x07|\x1b\\)`)

// Runtime drives windows of one tmux session.
type Runtime struct {
	session string
	logger  *logger.Logger
}

// New creates a tmux runtime for the given session name.
func New(session string, log *logger.Logger) *Runtime {
	return &Runtime{
		session: session,
		logger:  log.WithFields(zap.String("component", "tmux-runtime")),
	}
}

// Available reports whether the tmux binary can be found.
func Available() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

// Session returns the session name this runtime drives.
func (r *Runtime) Session() string { return r.session }

// TypeKeys types text literally into a window without submitting it.
func (r *Runtime) TypeKeys(ctx context.Context, windowID, text string) error {
	_, err := r.run(ctx, "send-keys", "-t", r.target(windowID), "-l", "--", text)
	return err
}

// SendEnter submits whatever is typed in the window.
func (r *Runtime) SendEnter(ctx context.Context, windowID string) error {
	_, err := r.run(ctx, "send-keys", "-t", r.target(windowID), "Enter")
	return err
}

// CapturePane returns the window's visible buffer, escape sequences stripped.
func (r *Runtime) CapturePane(ctx context.Context, windowID string) (string, error) {
	out, err := r.run(ctx, "capture-pane", "-p", "-t", r.target(windowID))
	if err != nil {
		return "", err
	}
	return stripEscapes(out), nil
}

// ListWindows enumerates the session's windows.
func (r *Runtime) ListWindows(ctx context.Context) ([]runtime.WindowInfo, error) {
	out, err := r.run(ctx, "list-windows", "-t", r.session,
		"-F", "#{window_id}\t#{window_name}\t#{window_active}")
	if err != nil {
		return nil, err
	}

	var windows []runtime.WindowInfo
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		windows = append(windows, runtime.WindowInfo{
			ID:     parts[0],
			Name:   parts[1],
			Active: parts[2] == "1",
		})
	}
	return windows, nil
}

// FocusWindow makes a window the session's active one.
func (r *Runtime) FocusWindow(ctx context.Context, windowID string) error {
	_, err := r.run(ctx, "select-window", "-t", r.target(windowID))
	return err
}

// KillWindow destroys a window.
func (r *Runtime) KillWindow(ctx context.Context, windowID string) error {
	_, err := r.run(ctx, "kill-window", "-t", r.target(windowID))
	return err
}

// EnsureWindow creates a named window running command in dir unless one with
// that name already exists. The session itself is created on first use.
func (r *Runtime) EnsureWindow(ctx context.Context, name, dir, command string) error {
	windows, err := r.ListWindows(ctx)
	if err != nil && !isWindowMissing(err.Error()) {
		return err
	}
	for _, w := range windows {
		if w.Name == name {
			return nil
		}
	}

	if len(windows) == 0 {
		args := []string{"new-session", "-d", "-s", r.session, "-n", name}
		if dir != "" {
			args = append(args, "-c", dir)
		}
		if command != "" {
			args = append(args, command)
		}
		_, err = r.run(ctx, args...)
		return err
	}

	args := []string{"new-window", "-d", "-t", r.session, "-n", name}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	if command != "" {
		args = append(args, command)
	}
	_, err = r.run(ctx, args...)
	return err
}

// run executes one tmux command, translating missing-target failures into
// runtime.ErrWindowNotFound.
func (r *Runtime) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "tmux", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		r.logger.Debug("tmux command failed",
			zap.Strings("args", args),
			zap.String("stderr", msg))
		if isWindowMissing(msg) {
			return "", fmt.Errorf("tmux %s: %w", args[0], runtime.ErrWindowNotFound)
		}
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("tmux %s: %s", args[0], msg)
	}
	return stdout.String(), nil
}

func (r *Runtime) target(windowID string) string {
	return r.session + ":" + windowID
}

// isWindowMissing classifies tmux stderr for a destroyed or never-created target.
func isWindowMissing(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "can't find window") ||
		strings.Contains(s, "can't find pane") ||
		strings.Contains(s, "can't find session") ||
		strings.Contains(s, "no server running")
}

// stripEscapes removes ANSI escape sequences and carriage returns.
func stripEscapes(s string) string {
	s = ansiEscape.ReplaceAllString(s, "")
	return strings.ReplaceAll(s, "\r", "")
}
