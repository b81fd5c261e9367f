package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Structured activity prefixes. Text after the colon is JSON.
const (
	prefixTaskCreate   = "TASK_CREATE:"
	prefixTaskUpdate   = "TASK_UPDATE:"
	prefixGitCommit    = "GIT_COMMIT:"
	prefixGitPush      = "GIT_PUSH:"
	prefixSubagentDone = "SUBAGENT_DONE:"
)

// handleToolActivity records one progress line on the streaming message.
// Known structured prefixes render as richer lines; everything else passes
// through as-is.
func (s *Set) handleToolActivity(ctx context.Context, hctx *Context) error {
	s.deps.Lifecycle.Clear(hctx.Key.String())
	s.deps.Prompts.Clear(hctx.Key.String())
	s.ensureStreaming(ctx, hctx)

	text := strings.TrimSpace(hctx.Event.BodyText())
	if text == "" {
		return nil
	}

	line := s.renderActivity(hctx, text)
	if line == "" {
		return nil
	}
	s.recordActivity(hctx.Key, line)
	s.deps.Streams.AppendCumulative(hctx.Project.Name, hctx.InstanceKey, line)
	return nil
}

// renderActivity turns raw activity text into its display line.
func (s *Set) renderActivity(hctx *Context, text string) string {
	switch {
	case strings.HasPrefix(text, prefixTaskCreate):
		return renderTaskCreate(text[len(prefixTaskCreate):])
	case strings.HasPrefix(text, prefixTaskUpdate):
		return s.renderTaskUpdate(hctx, text[len(prefixTaskUpdate):])
	case strings.HasPrefix(text, prefixGitCommit):
		return renderGitCommit(text[len(prefixGitCommit):])
	case strings.HasPrefix(text, prefixGitPush):
		return renderGitPush(text[len(prefixGitPush):])
	case strings.HasPrefix(text, prefixSubagentDone):
		return renderSubagentDone(text[len(prefixSubagentDone):])
	}

	if hctx.Event.ToolName != "" {
		return "🔧 " + hctx.Event.ToolName + ": " + text
	}
	return text
}

type taskPayload struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

func renderTaskCreate(raw string) string {
	var p taskPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &p); err != nil || p.Title == "" {
		return "🆕 Task created"
	}
	return "🆕 Task created: " + p.Title
}

func (s *Set) renderTaskUpdate(hctx *Context, raw string) string {
	var p taskPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &p); err != nil || p.Title == "" {
		return "🔄 Task updated"
	}
	if strings.EqualFold(p.Status, "done") || strings.EqualFold(p.Status, "completed") {
		s.markTaskDone(hctx.Key.String(), p.Title)
		return "✅ Task done: " + p.Title
	}
	if p.Status == "" {
		return "🔄 Task updated: " + p.Title
	}
	return fmt.Sprintf("🔄 Task %s → %s", p.Title, p.Status)
}

type commitPayload struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
	Stat    string `json:"stat"`
}

func renderGitCommit(raw string) string {
	var p commitPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &p); err != nil {
		return "📦 Commit"
	}
	line := "📦 Commit"
	if p.Hash != "" {
		hash := p.Hash
		if len(hash) > 8 {
			hash = hash[:8]
		}
		line += " `" + hash + "`"
	}
	if p.Message != "" {
		line += " " + p.Message
	}
	if p.Stat != "" {
		line += " (" + p.Stat + ")"
	}
	return line
}

type pushPayload struct {
	Remote string `json:"remote"`
	Branch string `json:"branch"`
}

func renderGitPush(raw string) string {
	var p pushPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &p); err != nil {
		return "🚀 Pushed"
	}
	switch {
	case p.Branch != "" && p.Remote != "":
		return fmt.Sprintf("🚀 Pushed %s to %s", p.Branch, p.Remote)
	case p.Branch != "":
		return "🚀 Pushed " + p.Branch
	default:
		return "🚀 Pushed"
	}
}

type subagentPayload struct {
	Name   string `json:"name"`
	Result string `json:"result"`
}

func renderSubagentDone(raw string) string {
	var p subagentPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &p); err != nil || p.Name == "" {
		return "🤖 Subagent finished"
	}
	line := "🤖 Subagent " + p.Name + " finished"
	if p.Result != "" {
		line += ": " + p.Result
	}
	return line
}

// markTaskDone records a completed task in the per-instance checklist.
func (s *Set) markTaskDone(id, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[id] == nil {
		s.tasks[id] = make(map[string]bool)
	}
	s.tasks[id][title] = true
}
