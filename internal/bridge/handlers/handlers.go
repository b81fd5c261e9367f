// Package handlers implements one handler per hook event type. Each handler
// is a small state transition over the dependency bundle; failures are logged
// or turned into error-state transitions, never raised to the pipeline.
package handlers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/discode/discode/internal/bridge/pending"
	"github.com/discode/discode/internal/bridge/streaming"
	"github.com/discode/discode/internal/bridge/timers"
	"github.com/discode/discode/internal/common/logger"
	"github.com/discode/discode/internal/events"
	"github.com/discode/discode/internal/platform"
	"github.com/discode/discode/internal/state"
)

// DefaultLifecycleIdleDelay: a session that emits no activity within this
// window is treated as a local-command turn and completed quietly.
const DefaultLifecycleIdleDelay = 5 * time.Second

// Default waits before an unanswered permission request or interactive
// prompt gets a timeout notice on the channel.
const (
	DefaultApprovalTimeout = 2 * time.Minute
	DefaultQuestionTimeout = 5 * time.Minute
)

// thinkingTickInterval drives the "🧠 Thinking… (Ns)" progress line.
const thinkingTickInterval = 5 * time.Second

// activityHistoryLimit bounds the per-turn activity lines kept for error context.
const activityHistoryLimit = 5

// Deps is the explicit dependency bundle handlers work through. The timer
// registries are owned by the pipeline; handlers only arm and clear them.
type Deps struct {
	Client    platform.Client
	Tracker   *pending.Tracker
	Streams   *streaming.Updater
	Thinking  *timers.Registry
	Lifecycle *timers.Registry
	Prompts   *timers.Registry
	Logger    *logger.Logger

	// LifecycleIdleDelay overrides DefaultLifecycleIdleDelay when non-zero.
	LifecycleIdleDelay time.Duration

	// ApprovalTimeout and QuestionTimeout bound how long an unanswered
	// permission request or interactive prompt sits before a timeout
	// notice is posted. Zero selects the defaults.
	ApprovalTimeout time.Duration
	QuestionTimeout time.Duration
}

// Context carries one event's resolved routing state into its handler.
// Pending is the tracker snapshot taken at pipeline-enqueue time; handlers
// must work from it rather than re-reading, except where they deliberately
// need live state.
type Context struct {
	Event       *events.Envelope
	Project     *state.Project
	Instance    *state.Instance
	ChannelID   string
	InstanceKey string
	Key         pending.Key
	Pending     pending.Entry
	HasPending  bool
}

// Func handles one event.
type Func func(ctx context.Context, hctx *Context) error

// Set is the handler table plus the per-turn presentation state the handlers
// share (activity history, task checklists).
type Set struct {
	deps  Deps
	table map[string]Func

	mu       sync.Mutex
	activity map[string][]string
	tasks    map[string]map[string]bool
}

// NewSet builds the handler table.
func NewSet(deps Deps) *Set {
	if deps.LifecycleIdleDelay == 0 {
		deps.LifecycleIdleDelay = DefaultLifecycleIdleDelay
	}
	if deps.ApprovalTimeout == 0 {
		deps.ApprovalTimeout = DefaultApprovalTimeout
	}
	if deps.QuestionTimeout == 0 {
		deps.QuestionTimeout = DefaultQuestionTimeout
	}
	if deps.Prompts == nil {
		deps.Prompts = timers.NewRegistry()
	}
	s := &Set{
		deps:     deps,
		activity: make(map[string][]string),
		tasks:    make(map[string]map[string]bool),
	}
	s.table = map[string]Func{
		events.TypeSessionStart:        s.handleSessionStart,
		events.TypeSessionEnd:          s.handleSessionEnd,
		events.TypeSessionError:        s.handleSessionError,
		events.TypeSessionNotification: s.handleSessionNotification,
		events.TypeSessionIdle:         s.handleSessionIdle,
		events.TypeThinkingStart:       s.handleThinkingStart,
		events.TypeThinkingStop:        s.handleThinkingStop,
		events.TypeToolActivity:        s.handleToolActivity,
		events.TypePromptSubmit:        s.handlePromptSubmit,
		events.TypePermissionRequest:   s.handlePermissionRequest,
		events.TypeToolFailure:         s.handleToolFailure,
		events.TypeTaskCompleted:       s.handleTaskCompleted,
		events.TypeTeammateIdle:        s.handleTeammateIdle,
	}
	return s
}

// Dispatch runs the handler for the event's type. Unknown types are the
// pipeline's concern; Dispatch treats them as a no-op.
func (s *Set) Dispatch(ctx context.Context, hctx *Context) error {
	handler, ok := s.table[hctx.Event.Type]
	if !ok {
		return nil
	}
	return handler(ctx, hctx)
}

// send posts text to the context's channel, logging failures.
func (s *Set) send(ctx context.Context, hctx *Context, text string) {
	if text == "" {
		return
	}
	if _, err := s.deps.Client.SendMessage(ctx, hctx.ChannelID, text); err != nil {
		s.deps.Logger.WithError(err).Warn("send failed",
			zap.String("channel", hctx.ChannelID),
			zap.String("event", hctx.Event.Type))
	}
}

// notifyTimeout posts a prompt-timeout notice from a timer goroutine.
func (s *Set) notifyTimeout(channelID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.deps.Client.SendMessage(ctx, channelID, text); err != nil {
		s.deps.Logger.WithError(err).Warn("timeout notice failed",
			zap.String("channel", channelID))
	}
}

// recordActivity keeps the last few activity lines for error context.
func (s *Set) recordActivity(key pending.Key, line string) {
	id := key.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := append(s.activity[id], line)
	if len(lines) > activityHistoryLimit {
		lines = lines[len(lines)-activityHistoryLimit:]
	}
	s.activity[id] = lines
}

// recentActivity returns and keeps the recorded lines.
func (s *Set) recentActivity(key pending.Key) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.activity[key.String()]...)
}

// clearActivity drops the recorded lines for a settled turn.
func (s *Set) clearActivity(key pending.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activity, key.String())
}

// ensureStreaming lazily creates the start message and binds the streaming
// session to it. Returns the start message id, or empty when none could be
// created (no pending entry, or the platform send failed).
func (s *Set) ensureStreaming(ctx context.Context, hctx *Context) string {
	id, err := s.deps.Tracker.EnsureStartMessage(ctx, hctx.Key, "")
	if err != nil || id == "" {
		return ""
	}
	s.deps.Streams.Start(hctx.Project.Name, hctx.InstanceKey, hctx.ChannelID, id)
	return id
}
