package handlers

import (
	"context"
	"strings"
)

// toolInputSnippetLimit bounds the echoed tool input on failure messages.
const toolInputSnippetLimit = 200

// handlePermissionRequest relays a permission prompt to the channel.
func (s *Set) handlePermissionRequest(ctx context.Context, hctx *Context) error {
	text := "🔐 Permission needed"
	if hctx.Event.ToolName != "" {
		text += ": " + hctx.Event.ToolName
	}
	if hctx.Event.ToolInput != "" {
		text += " — `" + snippet(hctx.Event.ToolInput) + "`"
	}
	s.send(ctx, hctx, text)

	channelID := hctx.ChannelID
	s.deps.Prompts.Replace(hctx.Key.String(), s.deps.ApprovalTimeout, func() {
		s.notifyTimeout(channelID, "⏰ Permission request timed out with no reply")
	})
	return nil
}

// handleToolFailure reports a failed tool call with a truncated input snippet.
func (s *Set) handleToolFailure(ctx context.Context, hctx *Context) error {
	tool := hctx.Event.ToolName
	if tool == "" {
		tool = "tool"
	}
	text := "⚠️ " + tool + " failed"
	if hctx.Event.Error != "" {
		text += ": " + hctx.Event.Error
	}
	if hctx.Event.ToolInput != "" {
		text += "\n`" + snippet(hctx.Event.ToolInput) + "`"
	}
	s.send(ctx, hctx, text)
	return nil
}

// handleTaskCompleted announces a completed task and checks it off.
func (s *Set) handleTaskCompleted(ctx context.Context, hctx *Context) error {
	subject := hctx.Event.Subject
	if subject == "" {
		subject = hctx.Event.BodyText()
	}

	text := "✅ Task completed"
	if subject != "" {
		text += ": " + subject
	}
	if hctx.Event.Teammate != "" {
		text = "[" + hctx.Event.Teammate + "] " + text
	}
	s.send(ctx, hctx, text)

	if subject != "" {
		s.markTaskDone(hctx.Key.String(), subject)
	}
	return nil
}

// handleTeammateIdle announces an idle teammate.
func (s *Set) handleTeammateIdle(ctx context.Context, hctx *Context) error {
	teammate := hctx.Event.Teammate
	if teammate == "" {
		teammate = hctx.InstanceKey
	}
	text := "💤 [" + teammate + "] idle"
	if hctx.Event.Team != "" {
		text += " (" + hctx.Event.Team + ")"
	}
	s.send(ctx, hctx, text)
	return nil
}

// snippet truncates tool input to a single readable line.
func snippet(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= toolInputSnippetLimit {
		return s
	}
	return string(runes[:toolInputSnippetLimit]) + "…"
}
