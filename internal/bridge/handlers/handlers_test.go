package handlers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discode/discode/internal/bridge/pending"
	"github.com/discode/discode/internal/bridge/streaming"
	"github.com/discode/discode/internal/bridge/timers"
	"github.com/discode/discode/internal/common/logger"
	"github.com/discode/discode/internal/events"
	"github.com/discode/discode/internal/platform"
	"github.com/discode/discode/internal/platform/platformtest"
	"github.com/discode/discode/internal/state"
)

type fixture struct {
	set     *Set
	client  *platformtest.FakeClient
	tracker *pending.Tracker
	streams *streaming.Updater
	deps    Deps
	project *state.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := platformtest.NewFakeClient()
	log := logger.Default()
	tracker := pending.NewTracker(client, log)
	streams := streaming.NewUpdater(client, 30*time.Millisecond, log)
	deps := Deps{
		Client:             client,
		Tracker:            tracker,
		Streams:            streams,
		Thinking:           timers.NewRegistry(),
		Lifecycle:          timers.NewRegistry(),
		Prompts:            timers.NewRegistry(),
		Logger:             log,
		LifecycleIdleDelay: 60 * time.Millisecond,
	}
	t.Cleanup(func() {
		deps.Thinking.StopAll()
		deps.Lifecycle.StopAll()
		deps.Prompts.StopAll()
		streams.Shutdown()
	})
	return &fixture{
		set:     NewSet(deps),
		client:  client,
		tracker: tracker,
		streams: streams,
		deps:    deps,
		project: &state.Project{Name: "myapp", Path: "/home/dev/myapp", ChannelID: "ch1"},
	}
}

func (f *fixture) ctx(event *events.Envelope) *Context {
	key := pending.Key{Project: "myapp", Agent: event.EffectiveAgentType(), Instance: event.InstanceKey()}
	snapshot, has := f.tracker.GetPending(key)
	return &Context{
		Event:       event,
		Project:     f.project,
		Instance:    &state.Instance{ID: event.InstanceKey(), ProjectName: "myapp", AgentType: event.EffectiveAgentType()},
		ChannelID:   "ch1",
		InstanceKey: event.InstanceKey(),
		Key:         key,
		Pending:     snapshot,
		HasPending:  has,
	}
}

func (f *fixture) dispatch(t *testing.T, event *events.Envelope) {
	t.Helper()
	require.NoError(t, f.set.Dispatch(context.Background(), f.ctx(event)))
}

func settle() { time.Sleep(50 * time.Millisecond) }

func TestHappyPathThinkingThenIdle(t *testing.T) {
	f := newFixture(t)
	f.tracker.MarkPending("myapp", "claude", "ch1", "u1", "i1")
	f.tracker.SetPromptPreview(pending.Key{Project: "myapp", Agent: "claude", Instance: "i1"}, "hello")

	f.dispatch(t, &events.Envelope{Type: events.TypeThinkingStart, ProjectName: "myapp", AgentType: "claude", InstanceID: "i1"})
	settle()

	// Start message posted and streaming session live.
	require.NotEmpty(t, f.client.Sent())
	assert.Contains(t, f.client.Sent()[0].Text, "hello")
	assert.True(t, f.streams.Has("myapp", "i1"))
	assert.Contains(t, f.client.NetReactions("u1"), platform.ReactionThinking)

	f.dispatch(t, &events.Envelope{
		Type: events.TypeSessionIdle, ProjectName: "myapp", AgentType: "claude", InstanceID: "i1",
		Text:  "Hi there!",
		Usage: &events.Usage{InputTokens: 100, OutputTokens: 50, TotalCostUsd: 0.001},
	})
	settle()

	// The streaming message finalized under the usage header.
	edits := f.client.Edits()
	require.NotEmpty(t, edits)
	assert.Contains(t, edits[len(edits)-1].Text, "✅ Done · 150 tokens · $0.00")

	// Response text delivered, reaction resolved to ✅.
	assert.True(t, f.client.ContainsSend("Hi there!"))
	net := f.client.NetReactions("u1")
	assert.Contains(t, net, platform.ReactionDone)
	assert.NotContains(t, net, platform.ReactionPending)
	assert.False(t, f.tracker.HasPending(pending.Key{Project: "myapp", Agent: "claude", Instance: "i1"}))
}

func TestLocalCommandTurnCompletesQuietly(t *testing.T) {
	f := newFixture(t)
	key := pending.Key{Project: "myapp", Agent: "claude", Instance: "i1"}
	f.tracker.MarkPending("myapp", "claude", "ch1", "u1", "i1")

	f.dispatch(t, &events.Envelope{Type: events.TypeSessionStart, ProjectName: "myapp", AgentType: "claude", InstanceID: "i1", Source: "user"})

	require.Eventually(t, func() bool {
		return !f.tracker.HasPending(key)
	}, time.Second, 10*time.Millisecond)

	// No orphan processing message; the only send is the session banner.
	for _, text := range f.client.SentTexts() {
		assert.NotContains(t, text, "Working")
	}
	settle()
	assert.Contains(t, f.client.NetReactions("u1"), platform.ReactionDone)
}

func TestSessionStartStartupSuppressed(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, &events.Envelope{Type: events.TypeSessionStart, ProjectName: "myapp", Source: "startup"})
	assert.Empty(t, f.client.Sent())
}

func TestSessionStartBannerDetails(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, &events.Envelope{Type: events.TypeSessionStart, ProjectName: "myapp", Source: "user", Model: "claude-sonnet"})
	sent := f.client.SentTexts()
	require.Len(t, sent, 1)
	assert.Equal(t, "🚀 Session started (user, claude-sonnet)", sent[0])
}

func TestSessionEnd(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, &events.Envelope{Type: events.TypeSessionEnd, ProjectName: "myapp", Reason: "exit"})
	sent := f.client.SentTexts()
	require.Len(t, sent, 1)
	assert.Equal(t, "🏁 Session ended (exit)", sent[0])
}

func TestErrorDuringThinking(t *testing.T) {
	f := newFixture(t)
	key := pending.Key{Project: "myapp", Agent: "claude", Instance: "i1"}
	f.tracker.MarkPending("myapp", "claude", "ch1", "u1", "i1")

	f.dispatch(t, &events.Envelope{Type: events.TypeThinkingStart, ProjectName: "myapp", AgentType: "claude", InstanceID: "i1"})
	f.dispatch(t, &events.Envelope{Type: events.TypeToolActivity, ProjectName: "myapp", AgentType: "claude", InstanceID: "i1", Text: "Reading config"})
	f.dispatch(t, &events.Envelope{
		Type: events.TypeSessionError, ProjectName: "myapp", AgentType: "claude", InstanceID: "i1",
		Text: "API key invalid",
	})
	settle()

	assert.False(t, f.deps.Thinking.Has(key.String()))
	assert.False(t, f.streams.Has("myapp", "i1"))
	assert.False(t, f.tracker.HasPending(key))

	var errMsg string
	for _, text := range f.client.SentTexts() {
		if strings.Contains(text, "⚠️ Error") {
			errMsg = text
		}
	}
	require.NotEmpty(t, errMsg)
	assert.Contains(t, errMsg, "API key invalid")
	assert.Contains(t, errMsg, "Reading config")
	assert.Contains(t, f.client.NetReactions("u1"), platform.ReactionError)
}

func TestNotificationEmojiMapping(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, &events.Envelope{
		Type: events.TypeSessionNotification, ProjectName: "myapp",
		NotificationType: "permission_prompt", Text: "needs approval", PromptText: "Allow?",
	})

	sent := f.client.SentTexts()
	require.Len(t, sent, 2)
	assert.Equal(t, "🔐 needs approval", sent[0])
	assert.Equal(t, "Allow?", sent[1])
}

func TestElicitationDefersPromptText(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, &events.Envelope{
		Type: events.TypeSessionNotification, ProjectName: "myapp",
		NotificationType: "elicitation_dialog", Text: "question pending", PromptText: "Pick one",
	})

	sent := f.client.SentTexts()
	require.Len(t, sent, 1)
	assert.Equal(t, "❓ question pending", sent[0])
}

func TestThinkingStopRecordsLongThought(t *testing.T) {
	f := newFixture(t)
	key := pending.Key{Project: "myapp", Agent: "claude", Instance: "i1"}
	f.tracker.MarkPending("myapp", "claude", "ch1", "u1", "i1")

	f.dispatch(t, &events.Envelope{Type: events.TypeThinkingStart, ProjectName: "myapp", AgentType: "claude", InstanceID: "i1"})
	// Short thought: no line appended.
	f.dispatch(t, &events.Envelope{Type: events.TypeThinkingStop, ProjectName: "myapp", AgentType: "claude", InstanceID: "i1"})
	settle()

	assert.False(t, f.deps.Thinking.Has(key.String()))
	net := f.client.NetReactions("u1")
	assert.NotContains(t, net, platform.ReactionThinking)
	assert.Contains(t, net, platform.ReactionDone)
}

func TestToolActivityAccumulates(t *testing.T) {
	f := newFixture(t)
	f.tracker.MarkPending("myapp", "claude", "ch1", "u1", "i1")

	for _, step := range []string{"Step A", "Step B", "Step C"} {
		f.dispatch(t, &events.Envelope{Type: events.TypeToolActivity, ProjectName: "myapp", AgentType: "claude", InstanceID: "i1", Text: step})
	}
	time.Sleep(150 * time.Millisecond)

	edits := f.client.Edits()
	require.Len(t, edits, 1)
	assert.True(t, strings.HasSuffix(edits[0].Text, "Step C"))
}

func TestIdleWithPromptChoices(t *testing.T) {
	f := newFixture(t)
	key := pending.Key{Project: "myapp", Agent: "claude", Instance: "i1"}
	f.tracker.MarkPending("myapp", "claude", "ch1", "u1", "i1")
	f.dispatch(t, &events.Envelope{Type: events.TypeToolActivity, ProjectName: "myapp", AgentType: "claude", InstanceID: "i1", Text: "preparing plan"})

	f.dispatch(t, &events.Envelope{
		Type: events.TypeSessionIdle, ProjectName: "myapp", AgentType: "claude", InstanceID: "i1",
		PromptChoices: []string{"Approve", "Reject"},
	})
	settle()

	edits := f.client.Edits()
	require.NotEmpty(t, edits)
	assert.Contains(t, edits[len(edits)-1].Text, "❓ Waiting for input...")

	var choices string
	for _, text := range f.client.SentTexts() {
		if strings.Contains(text, "Choose an option") {
			choices = text
		}
	}
	require.NotEmpty(t, choices)
	assert.Contains(t, choices, "1. Approve")
	assert.Contains(t, choices, "2. Reject")

	assert.Contains(t, f.client.NetReactions("u1"), platform.ReactionWaiting)
	assert.False(t, f.tracker.HasPending(key))
}

func TestIdleFanOutOrder(t *testing.T) {
	f := newFixture(t)
	f.tracker.EnsurePending("myapp", "claude", "ch1", "i1")

	f.dispatch(t, &events.Envelope{
		Type: events.TypeSessionIdle, ProjectName: "myapp", AgentType: "claude", InstanceID: "i1",
		IntermediateText: "working notes",
		Thinking:         "considered options",
		TurnText:         "final answer",
		Usage:            &events.Usage{InputTokens: 10, OutputTokens: 5},
	})

	texts := f.client.SentTexts()
	var idxIntermediate, idxThinking, idxAnswer = -1, -1, -1
	for i, text := range texts {
		switch {
		case strings.Contains(text, "working notes"):
			idxIntermediate = i
		case strings.Contains(text, "considered options"):
			idxThinking = i
		case strings.Contains(text, "final answer"):
			idxAnswer = i
		}
	}
	require.NotEqual(t, -1, idxIntermediate)
	require.NotEqual(t, -1, idxThinking)
	require.NotEqual(t, -1, idxAnswer)
	assert.Less(t, idxIntermediate, idxThinking)
	assert.Less(t, idxThinking, idxAnswer)
}

func TestIdleUsageSummaryOnlyWithoutFinalize(t *testing.T) {
	f := newFixture(t)
	// User-initiated turn without a prompt preview: no start message is
	// created, so the usage header becomes its own message.
	f.tracker.MarkPending("myapp", "claude", "ch1", "u1", "i1")
	f.dispatch(t, &events.Envelope{
		Type: events.TypeSessionIdle, ProjectName: "myapp", AgentType: "claude", InstanceID: "i1",
		Text:  "done",
		Usage: &events.Usage{InputTokens: 100, OutputTokens: 50, TotalCostUsd: 0.001},
	})

	found := false
	for _, text := range f.client.SentTexts() {
		if strings.Contains(text, "✅ Done · 150 tokens") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestPromptSubmitCreatesStartMessage(t *testing.T) {
	f := newFixture(t)
	f.tracker.EnsurePending("myapp", "claude", "ch1", "i1")

	f.dispatch(t, &events.Envelope{
		Type: events.TypePromptSubmit, ProjectName: "myapp", AgentType: "claude", InstanceID: "i1",
		PromptText: "refactor the auth layer",
	})

	sent := f.client.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "refactor the auth layer")

	entry, ok := f.tracker.GetPending(pending.Key{Project: "myapp", Agent: "claude", Instance: "i1"})
	require.True(t, ok)
	assert.Equal(t, sent[0].MessageID, entry.StartMessageID)
}

func TestPromptSubmitFallsBackToPlainMessage(t *testing.T) {
	f := newFixture(t)
	// No pending entry: no start message can exist.
	f.dispatch(t, &events.Envelope{
		Type: events.TypePromptSubmit, ProjectName: "myapp", AgentType: "claude", InstanceID: "i1",
		PromptText: "hello",
	})

	sent := f.client.SentTexts()
	require.Len(t, sent, 1)
	assert.Equal(t, "📝 Prompt: hello", sent[0])
}

func TestPermissionRequestFormat(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, &events.Envelope{
		Type: events.TypePermissionRequest, ProjectName: "myapp",
		ToolName: "bash", ToolInput: "rm -rf build",
	})
	sent := f.client.SentTexts()
	require.Len(t, sent, 1)
	assert.Equal(t, "🔐 Permission needed: bash — `rm -rf build`", sent[0])
}

func TestPermissionRequestTimeoutNotice(t *testing.T) {
	f := newFixture(t)
	deps := f.deps
	deps.ApprovalTimeout = 40 * time.Millisecond
	set := NewSet(deps)

	require.NoError(t, set.Dispatch(context.Background(), f.ctx(&events.Envelope{
		Type: events.TypePermissionRequest, ProjectName: "myapp",
		ToolName: "bash", ToolInput: "rm -rf build",
	})))

	require.Eventually(t, func() bool {
		return f.client.ContainsSend("⏰ Permission request timed out with no reply")
	}, time.Second, 10*time.Millisecond)
}

func TestPromptChoicesTimeoutNotice(t *testing.T) {
	f := newFixture(t)
	deps := f.deps
	deps.QuestionTimeout = 40 * time.Millisecond
	set := NewSet(deps)

	f.tracker.MarkPending("myapp", "claude", "ch1", "u1", "i1")
	require.NoError(t, set.Dispatch(context.Background(), f.ctx(&events.Envelope{
		Type: events.TypeSessionIdle, ProjectName: "myapp", AgentType: "claude", InstanceID: "i1",
		PromptChoices: []string{"Approve", "Reject"},
	})))

	require.Eventually(t, func() bool {
		return f.client.ContainsSend("⏰ Prompt expired with no reply")
	}, time.Second, 10*time.Millisecond)
}

func TestPromptTimeoutCancelledByActivity(t *testing.T) {
	f := newFixture(t)
	deps := f.deps
	deps.QuestionTimeout = 60 * time.Millisecond
	set := NewSet(deps)

	f.tracker.MarkPending("myapp", "claude", "ch1", "u1", "i1")
	require.NoError(t, set.Dispatch(context.Background(), f.ctx(&events.Envelope{
		Type: events.TypeSessionIdle, ProjectName: "myapp", AgentType: "claude", InstanceID: "i1",
		PromptChoices: []string{"Approve"},
	})))

	// The agent resumed; the armed question timer must not fire.
	require.NoError(t, set.Dispatch(context.Background(), f.ctx(&events.Envelope{
		Type: events.TypeToolActivity, ProjectName: "myapp", AgentType: "claude", InstanceID: "i1",
		Text: "applying approved plan",
	})))

	time.Sleep(150 * time.Millisecond)
	assert.False(t, f.client.ContainsSend("⏰ Prompt expired with no reply"))
}

func TestToolFailureTruncatesInput(t *testing.T) {
	f := newFixture(t)
	longInput := strings.Repeat("x", 300)
	f.dispatch(t, &events.Envelope{
		Type: events.TypeToolFailure, ProjectName: "myapp",
		ToolName: "webfetch", Error: "timeout", ToolInput: longInput,
	})
	sent := f.client.SentTexts()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "⚠️ webfetch failed: timeout")
	assert.Contains(t, sent[0], "…")
	assert.Less(t, len(sent[0]), 300)
}

func TestTaskCompletedWithTeammate(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, &events.Envelope{
		Type: events.TypeTaskCompleted, ProjectName: "myapp",
		Subject: "write tests", Teammate: "reviewer",
	})
	sent := f.client.SentTexts()
	require.Len(t, sent, 1)
	assert.Equal(t, "[reviewer] ✅ Task completed: write tests", sent[0])
}

func TestTeammateIdleFormat(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, &events.Envelope{
		Type: events.TypeTeammateIdle, ProjectName: "myapp",
		Teammate: "reviewer", Team: "backend",
	})
	sent := f.client.SentTexts()
	require.Len(t, sent, 1)
	assert.Equal(t, "💤 [reviewer] idle (backend)", sent[0])
}

func TestUnknownTypeIsNoop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.set.Dispatch(context.Background(), f.ctx(&events.Envelope{Type: "future.event", ProjectName: "myapp"})))
	assert.Empty(t, f.client.Sent())
}

func TestStructuredActivityRendering(t *testing.T) {
	assert.Equal(t, "🆕 Task created: add login", renderTaskCreate(` {"id":"t1","title":"add login"}`))
	assert.Equal(t, "🆕 Task created", renderTaskCreate(`not json`))

	assert.Equal(t, "📦 Commit `abc12345` fix bug (2 files changed)",
		renderGitCommit(`{"hash":"abc12345deadbeef","message":"fix bug","stat":"2 files changed"}`))
	assert.Equal(t, "📦 Commit", renderGitCommit(`broken`))

	assert.Equal(t, "🚀 Pushed main to origin", renderGitPush(`{"remote":"origin","branch":"main"}`))
	assert.Equal(t, "🤖 Subagent tester finished: all green",
		renderSubagentDone(`{"name":"tester","result":"all green"}`))
}

func TestTaskUpdateMarksChecklist(t *testing.T) {
	f := newFixture(t)
	f.tracker.EnsurePending("myapp", "claude", "ch1", "i1")

	f.dispatch(t, &events.Envelope{
		Type: events.TypeToolActivity, ProjectName: "myapp", AgentType: "claude", InstanceID: "i1",
		Text: `TASK_UPDATE:{"id":"t1","title":"add login","status":"done"}`,
	})

	key := pending.Key{Project: "myapp", Agent: "claude", Instance: "i1"}
	f.set.mu.Lock()
	defer f.set.mu.Unlock()
	assert.True(t, f.set.tasks[key.String()]["add login"])
}

func TestExtractProjectFiles(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "report.md")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	text := "Wrote the report to " + file + " for review.\nAlso see /etc/passwd and " + filepath.Join(root, "missing.md")
	display, paths := extractProjectFiles(text, root)

	require.Equal(t, []string{file}, paths)
	assert.NotContains(t, display, file)
	// Paths outside the root or not on disk stay in the text.
	assert.Contains(t, display, "/etc/passwd")
	assert.Contains(t, display, "missing.md")
}

func TestPathWithinRoot(t *testing.T) {
	assert.True(t, pathWithinRoot("/home/dev/myapp/a.txt", "/home/dev/myapp"))
	assert.False(t, pathWithinRoot("/home/dev/other/a.txt", "/home/dev/myapp"))
	assert.False(t, pathWithinRoot("/home/dev/myapp/../other/a.txt", "/home/dev/myapp"))
	assert.False(t, pathWithinRoot("relative/path", "/home/dev/myapp"))
}
