package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// handleSessionStart announces a new agent session and arms the lifecycle
// timer that quietly completes local-command turns producing no activity.
func (s *Set) handleSessionStart(ctx context.Context, hctx *Context) error {
	s.deps.Prompts.Clear(hctx.Key.String())
	s.deps.Tracker.SetHookActive(hctx.Key)

	if hctx.Event.Source != "startup" {
		text := "🚀 Session started"
		var details []string
		if hctx.Event.Source != "" {
			details = append(details, hctx.Event.Source)
		}
		if hctx.Event.Model != "" {
			details = append(details, hctx.Event.Model)
		}
		if len(details) > 0 {
			text += " (" + strings.Join(details, ", ") + ")"
		}
		s.send(ctx, hctx, text)
	}

	key := hctx.Key
	project, instanceKey := hctx.Project.Name, hctx.InstanceKey
	s.deps.Lifecycle.Replace(key.String(), s.deps.LifecycleIdleDelay, func() {
		// A turn with no tool or thinking activity by now never got a
		// streaming message; treat it as settled.
		if s.deps.Streams.Has(project, instanceKey) {
			return
		}
		if entry, ok := s.deps.Tracker.GetPending(key); ok && entry.StartMessageID == "" {
			s.deps.Tracker.MarkCompleted(key)
		}
	})
	return nil
}

// handleSessionEnd announces the session's end.
func (s *Set) handleSessionEnd(ctx context.Context, hctx *Context) error {
	s.deps.Tracker.SetHookActive(hctx.Key)

	text := "🏁 Session ended"
	if hctx.Event.Reason != "" {
		text += " (" + hctx.Event.Reason + ")"
	}
	s.send(ctx, hctx, text)
	return nil
}

// handleSessionError tears down the turn: timers cleared, streaming session
// discarded, ❌ on the source message, error text plus recent activity lines
// posted for context.
func (s *Set) handleSessionError(ctx context.Context, hctx *Context) error {
	s.deps.Thinking.Clear(hctx.Key.String())
	s.deps.Lifecycle.Clear(hctx.Key.String())
	s.deps.Prompts.Clear(hctx.Key.String())
	s.deps.Streams.Discard(hctx.Project.Name, hctx.InstanceKey)

	recent := s.recentActivity(hctx.Key)
	s.clearActivity(hctx.Key)

	s.deps.Tracker.MarkError(hctx.Key)

	text := "⚠️ Error"
	if body := hctx.Event.BodyText(); body != "" {
		text += ": " + body
	}
	if len(recent) > 0 {
		text += "\n\nRecent activity:\n" + strings.Join(recent, "\n")
	}
	s.send(ctx, hctx, text)
	return nil
}

// notificationEmojis maps notification types to their leading glyph.
var notificationEmojis = map[string]string{
	"permission_prompt":  "🔐",
	"idle_prompt":        "💤",
	"auth_success":       "🔑",
	"elicitation_dialog": "❓",
}

// handleSessionNotification relays an agent notification. The prompt text of
// an elicitation dialog is withheld; the later session.idle delivers its
// interactive choices instead.
func (s *Set) handleSessionNotification(ctx context.Context, hctx *Context) error {
	emoji, ok := notificationEmojis[hctx.Event.NotificationType]
	if !ok {
		emoji = "🔔"
	}

	text := emoji
	if body := hctx.Event.BodyText(); body != "" {
		text += " " + body
	}
	s.send(ctx, hctx, text)

	if hctx.Event.PromptText != "" && hctx.Event.NotificationType != "elicitation_dialog" {
		s.send(ctx, hctx, hctx.Event.PromptText)
	}
	return nil
}

// handleThinkingStart begins the 🧠 phase: start message plus streaming
// session exist from here on, and a ticker renders elapsed thinking time.
func (s *Set) handleThinkingStart(ctx context.Context, hctx *Context) error {
	s.deps.Lifecycle.Clear(hctx.Key.String())
	s.deps.Prompts.Clear(hctx.Key.String())
	s.ensureStreaming(ctx, hctx)
	s.deps.Tracker.AddThinkingReaction(hctx.Key)

	project, instanceKey := hctx.Project.Name, hctx.InstanceKey
	s.deps.Thinking.ReplaceInterval(hctx.Key.String(), thinkingTickInterval, func(elapsed time.Duration) {
		s.deps.Streams.Append(project, instanceKey,
			fmt.Sprintf("🧠 Thinking… (%ds)", int(elapsed.Seconds())))
	})
	return nil
}

// handleThinkingStop closes the 🧠 phase, noting long thoughts.
func (s *Set) handleThinkingStop(ctx context.Context, hctx *Context) error {
	elapsed := s.deps.Thinking.Clear(hctx.Key.String())
	if elapsed.Seconds() >= 5 {
		s.deps.Streams.AppendCumulative(hctx.Project.Name, hctx.InstanceKey,
			fmt.Sprintf("🧠 Thought for %ds", int(elapsed.Seconds())))
	}
	s.deps.Tracker.ResolveThinkingReaction(hctx.Key)
	return nil
}
