package handlers

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// handleSessionIdle settles the turn: timers cleared, the streaming message
// finalized under a usage (or waiting-for-input) header, the source-message
// reaction resolved, and the turn's outputs fanned out to the channel in
// reading order.
func (s *Set) handleSessionIdle(ctx context.Context, hctx *Context) error {
	s.deps.Thinking.Clear(hctx.Key.String())
	s.deps.Lifecycle.Clear(hctx.Key.String())
	s.deps.Prompts.Clear(hctx.Key.String())
	s.clearActivity(hctx.Key)

	event := hctx.Event
	project, instanceKey := hctx.Project.Name, hctx.InstanceKey
	prompting := len(event.PromptChoices) > 0

	header := DoneHeader(hctx)
	if prompting {
		header = "❓ Waiting for input..."
	}

	// Command turns that produced no streaming session may still deserve a
	// start message when the pending entry carries a prompt preview or the
	// turn was initiated from the terminal side.
	startMessageID := hctx.Pending.StartMessageID
	if !s.deps.Streams.Has(project, instanceKey) {
		if hctx.HasPending && (hctx.Pending.PromptPreview != "" || hctx.Pending.SourceMessageID == "") {
			if id, err := s.deps.Tracker.EnsureStartMessage(ctx, hctx.Key, ""); err == nil && id != "" {
				startMessageID = id
			}
		}
	}

	finalized := false
	if s.deps.Streams.Has(project, instanceKey) {
		s.deps.Streams.Finalize(ctx, project, instanceKey, header, "")
		finalized = true
	} else if startMessageID != "" {
		if err := s.deps.Client.EditMessage(ctx, hctx.ChannelID, startMessageID, header); err != nil {
			s.deps.Logger.WithError(err).Warn("failed to finalize start message",
				zap.String("key", hctx.Key.String()))
		} else {
			finalized = true
		}
	}

	if prompting {
		s.deps.Tracker.MarkWaiting(hctx.Key)
	} else {
		s.deps.Tracker.MarkCompleted(hctx.Key)
	}

	// Fan-out, in reading order. The usage summary only becomes its own
	// message when no finalized message carries the header already.
	if !finalized && event.Usage != nil {
		s.send(ctx, hctx, header)
	}
	if event.IntermediateText != "" {
		s.send(ctx, hctx, event.IntermediateText)
	}
	if event.Thinking != "" {
		s.send(ctx, hctx, "🧠 "+event.Thinking)
	}

	response := event.ResponseText()
	display, extracted := extractProjectFiles(response, hctx.Project.Path)
	if display != "" {
		s.send(ctx, hctx, display)
	}

	files := s.validFiles(event.Files, hctx.Project.Path)
	files = append(files, extracted...)
	if len(files) > 0 {
		if err := s.deps.Client.SendFiles(ctx, hctx.ChannelID, files); err != nil {
			s.deps.Logger.WithError(err).Warn("failed to send response files",
				zap.String("key", hctx.Key.String()))
		}
	}

	if prompting {
		var b strings.Builder
		b.WriteString("❓ Choose an option:")
		for i, choice := range event.PromptChoices {
			fmt.Fprintf(&b, "\n%d. %s", i+1, choice)
		}
		s.send(ctx, hctx, b.String())
		channelID := hctx.ChannelID
		s.deps.Prompts.Replace(hctx.Key.String(), s.deps.QuestionTimeout, func() {
			s.notifyTimeout(channelID, "⏰ Prompt expired with no reply")
		})
		if event.PlanFile != "" {
			if plan := s.validFiles([]string{event.PlanFile}, hctx.Project.Path); len(plan) > 0 {
				if err := s.deps.Client.SendFiles(ctx, hctx.ChannelID, plan); err != nil {
					s.deps.Logger.WithError(err).Warn("failed to attach plan file")
				}
			}
		}
	}
	return nil
}

// DoneHeader formats the finalize header from the event's usage accounting.
func DoneHeader(hctx *Context) string {
	usage := hctx.Event.Usage
	if usage == nil {
		return "✅ Done"
	}
	return fmt.Sprintf("✅ Done · %d tokens · $%.2f", usage.TotalTokens(), usage.TotalCostUsd)
}

// validFiles filters paths to ones that exist under the project root.
func (s *Set) validFiles(paths []string, projectRoot string) []string {
	var valid []string
	for _, p := range paths {
		if !pathWithinRoot(p, projectRoot) {
			s.deps.Logger.Warn("dropping file outside project root", zap.String("path", p))
			continue
		}
		if !fileExists(p) {
			s.deps.Logger.Warn("dropping missing file", zap.String("path", p))
			continue
		}
		valid = append(valid, p)
	}
	return valid
}

// handlePromptSubmit echoes the submitted prompt into the start message, or
// as a plain message when no start message can be created.
func (s *Set) handlePromptSubmit(ctx context.Context, hctx *Context) error {
	preview := hctx.Event.PromptText
	if preview == "" {
		preview = hctx.Event.BodyText()
	}
	if preview == "" {
		return nil
	}

	s.deps.Tracker.SetPromptPreview(hctx.Key, preview)
	id, err := s.deps.Tracker.EnsureStartMessage(ctx, hctx.Key, preview)
	if err != nil || id == "" {
		s.send(ctx, hctx, "📝 Prompt: "+preview)
	}
	return nil
}
