// Package router turns inbound chat messages into agent input: it resolves
// the target project and instance, sanitizes the text, registers pending
// state, and submits to the terminal window or SDK runner.
package router

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/discode/discode/internal/bridge/fallback"
	"github.com/discode/discode/internal/bridge/pending"
	"github.com/discode/discode/internal/bridge/sdkrunner"
	"github.com/discode/discode/internal/common/config"
	"github.com/discode/discode/internal/common/logger"
	"github.com/discode/discode/internal/platform"
	"github.com/discode/discode/internal/runtime"
	"github.com/discode/discode/internal/state"
)

// Enricher processes a message's attachments and returns a marker string to
// append to the content (for example a local path the agent can open).
type Enricher func(ctx context.Context, msg platform.InboundMessage) (string, error)

const helpText = `**discode** bridges this channel to a coding agent.

Type a message to send it as a prompt. Reactions on your message track progress:
⏳ working, 🧠 thinking, ✅ done, ❌ error, ❓ waiting for input.

Commands:
- help: show this message

Files the agent produces are attached to the channel automatically.`

// Router is the chat-message ingress.
type Router struct {
	cfg       *config.Config
	store     state.Store
	client    platform.Client
	tracker   *pending.Tracker
	fallbacks *fallback.Scheduler
	runners   *sdkrunner.Registry
	rt        runtime.Runtime
	logger    *logger.Logger

	enrich Enricher
}

// New creates a router. rt may be nil when no terminal runtime is configured.
func New(cfg *config.Config, store state.Store, client platform.Client, tracker *pending.Tracker,
	fallbacks *fallback.Scheduler, runners *sdkrunner.Registry, rt runtime.Runtime,
	log *logger.Logger) *Router {

	return &Router{
		cfg:       cfg,
		store:     store,
		client:    client,
		tracker:   tracker,
		fallbacks: fallbacks,
		runners:   runners,
		rt:        rt,
		logger:    log.WithFields(zap.String("component", "router")),
	}
}

// SetEnricher installs the attachment processor.
func (r *Router) SetEnricher(e Enricher) {
	r.enrich = e
}

// HandleInbound processes one chat message. It satisfies
// platform.InboundHandler; failures are reported on the channel, never
// returned.
func (r *Router) HandleInbound(ctx context.Context, msg platform.InboundMessage) {
	project, instance, err := r.resolve(ctx, msg)
	if err != nil {
		r.logger.WithError(err).Warn("inbound message on unmapped channel",
			zap.String("channel", msg.ChannelID))
		r.reply(ctx, msg.ChannelID, "⚠️ This channel is not mapped to a project. Check the projects section of discode.yaml.")
		return
	}

	content := strings.TrimSpace(msg.Content)
	if strings.EqualFold(content, "help") {
		r.reply(ctx, msg.ChannelID, helpText)
		return
	}

	if len(msg.Attachments) > 0 && r.enrich != nil {
		marker, err := r.enrich(ctx, msg)
		if err != nil {
			r.logger.WithError(err).Warn("attachment processing failed",
				zap.String("channel", msg.ChannelID))
		} else if marker != "" {
			content = strings.TrimSpace(content + "\n" + marker)
		}
	}

	if reason := validateContent(content, r.cfg.Router.MaxMessageChars); reason != "" {
		r.reply(ctx, msg.ChannelID, "⚠️ "+reason)
		return
	}

	key := pending.Key{Project: project.Name, Agent: instance.AgentType, Instance: instance.ID}
	if msg.MessageID != "" {
		r.tracker.MarkPending(project.Name, instance.AgentType, msg.ChannelID, msg.MessageID, instance.ID)
	} else {
		r.tracker.EnsurePending(project.Name, instance.AgentType, msg.ChannelID, instance.ID)
	}
	r.tracker.SetPromptPreview(key, content)

	if instance.Kind == state.KindSDK {
		if err := r.runners.Submit(instance.ID, content); err != nil {
			r.logger.WithError(err).Warn("sdk submit failed",
				zap.String("instance", instance.ID))
		}
	} else {
		if err := r.submitToTerminal(ctx, instance, content); err != nil {
			r.tracker.MarkError(key)
			r.reply(ctx, msg.ChannelID, recoveryGuidance(err, instance))
			return
		}
		if r.fallbacks != nil {
			r.fallbacks.Schedule(project.Name, instance.AgentType, instance.ID, msg.ChannelID, instance.WindowID)
		}
	}

	if err := r.store.TouchProject(ctx, project.Name, time.Now()); err != nil {
		r.logger.WithError(err).Debug("failed to touch project",
			zap.String("project", project.Name))
	}
}

// resolve picks the target project and instance for a message: an explicit
// instance mapping wins, then the channel mapping, then the primary instance.
func (r *Router) resolve(ctx context.Context, msg platform.InboundMessage) (*state.Project, *state.Instance, error) {
	project, instance, err := r.store.ResolveChannel(ctx, msg.ChannelID)
	if err != nil {
		return nil, nil, err
	}
	if msg.MappedInstanceID != "" {
		if mapped, err := r.store.GetInstance(ctx, project.Name, msg.MappedInstanceID); err == nil {
			instance = mapped
		}
	}
	return project, instance, nil
}

// validateContent returns a rejection reason, or "" when content is sendable.
func validateContent(content string, maxChars int) string {
	if content == "" {
		return "Empty message; nothing to send."
	}
	if !utf8.ValidString(content) {
		return "Message contains invalid text and was not sent."
	}
	if n := utf8.RuneCountInString(content); n > maxChars {
		return fmt.Sprintf("Message too long (%d chars, limit %d); not sent.", n, maxChars)
	}
	return ""
}

// submitToTerminal types the message into the instance's window, waits the
// agent-specific settle delay, then presses Enter.
func (r *Router) submitToTerminal(ctx context.Context, instance *state.Instance, content string) error {
	if r.rt == nil {
		return runtime.ErrWindowNotFound
	}
	if instance.WindowID == "" {
		return fmt.Errorf("instance %q has no terminal window: %w", instance.ID, runtime.ErrWindowNotFound)
	}
	if err := r.rt.TypeKeys(ctx, instance.WindowID, content); err != nil {
		return err
	}
	// The TUI needs a beat to ingest pasted text before Enter submits it.
	time.Sleep(r.cfg.Router.SubmitDelay(instance.AgentType))
	return r.rt.SendEnter(ctx, instance.WindowID)
}

// recoveryGuidance renders a delivery-failure reply, differentiating a
// vanished window from a general runtime failure.
func recoveryGuidance(err error, instance *state.Instance) string {
	if stderrors.Is(err, runtime.ErrWindowNotFound) {
		return fmt.Sprintf("❌ Terminal window for %q is gone. Restart the agent in tmux, then update the window mapping (or restart the bridge to re-provision it).", instance.ID)
	}
	return fmt.Sprintf("❌ Could not deliver the message to %q: %v", instance.ID, err)
}

func (r *Router) reply(ctx context.Context, channelID, text string) {
	if _, err := r.client.SendMessage(ctx, channelID, text); err != nil {
		r.logger.WithError(err).Warn("failed to post reply", zap.String("channel", channelID))
	}
}
