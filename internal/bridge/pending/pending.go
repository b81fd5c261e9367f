// Package pending tracks in-flight user requests and drives reaction
// transitions on the originating chat message. It is the source of truth for
// "is an agent turn active" per (project, agent, instance).
package pending

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/discode/discode/internal/common/logger"
	"github.com/discode/discode/internal/platform"
)

// Key identifies one in-flight request.
type Key struct {
	Project  string
	Agent    string
	Instance string
}

// String renders the key for logs and timer maps.
func (k Key) String() string {
	return k.Project + "/" + k.Agent + "/" + k.Instance
}

// Entry is the tracked state of one in-flight request. Callers receive value
// copies; only the tracker mutates the live entry.
type Entry struct {
	Key             Key
	ChannelID       string
	SourceMessageID string // chat message that initiated the turn; empty for agent-initiated turns
	StartMessageID  string // lazily created prompt-echo message
	PromptPreview   string
	HookActive      bool
	Thinking        bool // 🧠 currently on the source message
	CreatedAt       time.Time
}

// Exists reports whether this snapshot describes a live entry.
func (e Entry) Exists() bool {
	return e.ChannelID != ""
}

// Tracker owns the pending-entry map.
type Tracker struct {
	mu      sync.Mutex
	entries map[Key]*Entry

	client platform.Client
	logger *logger.Logger

	// abandonPriorReactions preserves the historical behavior of leaving a
	// superseded entry's ⏳ in place when a new request replaces it.
	abandonPriorReactions bool
}

// NewTracker creates a tracker posting reactions through client.
func NewTracker(client platform.Client, log *logger.Logger) *Tracker {
	return &Tracker{
		entries:               make(map[Key]*Entry),
		client:                client,
		logger:                log.WithFields(zap.String("component", "pending-tracker")),
		abandonPriorReactions: true,
	}
}

// SetAbandonPriorReactions toggles whether a superseded entry's reactions are
// left untouched (true, the default) or cleaned up.
func (t *Tracker) SetAbandonPriorReactions(abandon bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.abandonPriorReactions = abandon
}

// MarkPending creates or replaces the entry for a user-initiated turn and
// attaches ⏳ to the source message. Returns control as soon as in-memory
// state is updated; the reaction is fire-and-forget.
func (t *Tracker) MarkPending(project, agent, channelID, sourceMessageID, instance string) {
	key := Key{Project: project, Agent: agent, Instance: instance}

	t.mu.Lock()
	prior := t.entries[key]
	t.entries[key] = &Entry{
		Key:             key,
		ChannelID:       channelID,
		SourceMessageID: sourceMessageID,
		CreatedAt:       time.Now(),
	}
	cleanup := prior != nil && !t.abandonPriorReactions
	var priorCopy Entry
	if cleanup {
		priorCopy = *prior
	}
	t.mu.Unlock()

	if cleanup {
		t.react(priorCopy.ChannelID, priorCopy.SourceMessageID, platform.ReactionPending, false)
	}
	t.react(channelID, sourceMessageID, platform.ReactionPending, true)
}

// EnsurePending creates the entry if absent, with no source message. Used
// when hooks arrive before (or without) a corresponding chat message.
func (t *Tracker) EnsurePending(project, agent, channelID, instance string) {
	key := Key{Project: project, Agent: agent, Instance: instance}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[key]; exists {
		return
	}
	t.entries[key] = &Entry{
		Key:       key,
		ChannelID: channelID,
		CreatedAt: time.Now(),
	}
}

// HasPending reports whether an entry exists for key.
func (t *Tracker) HasPending(key Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[key]
	return ok
}

// GetPending returns a value snapshot of the entry. The caller must treat the
// snapshot as read-only truth for the duration of its work.
func (t *Tracker) GetPending(key Key) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// SetHookActive marks that hook events have begun flowing for this turn.
// The buffer fallback reads this to suppress itself.
func (t *Tracker) SetHookActive(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.entries[key]; ok {
		entry.HookActive = true
	}
}

// SetPromptPreview stores the user's raw prompt text for the lazily-created
// start message.
func (t *Tracker) SetPromptPreview(key Key, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.entries[key]; ok {
		entry.PromptPreview = text
	}
}

// EnsureStartMessage lazily creates the prompt-echo chat message anchoring
// the turn's streaming session and returns its id. Idempotent; the message is
// posted synchronously because callers bind streaming state to its id.
func (t *Tracker) EnsureStartMessage(ctx context.Context, key Key, promptPreview string) (string, error) {
	t.mu.Lock()
	entry, ok := t.entries[key]
	if !ok {
		t.mu.Unlock()
		return "", nil
	}
	if entry.StartMessageID != "" {
		id := entry.StartMessageID
		t.mu.Unlock()
		return id, nil
	}
	preview := promptPreview
	if preview == "" {
		preview = entry.PromptPreview
	}
	channelID := entry.ChannelID
	t.mu.Unlock()

	text := "⏳ Working..."
	if preview != "" {
		text = "📝 " + truncatePreview(preview)
	}

	id, err := t.client.SendMessage(ctx, channelID, text)
	if err != nil {
		t.logger.WithError(err).Warn("failed to post start message",
			zap.String("key", key.String()))
		return "", err
	}

	t.mu.Lock()
	// A concurrent handler may have won the race; keep the first id.
	if entry, ok := t.entries[key]; ok {
		if entry.StartMessageID == "" {
			entry.StartMessageID = id
		} else {
			id = entry.StartMessageID
		}
	}
	t.mu.Unlock()
	return id, nil
}

// AddThinkingReaction attaches 🧠 to the source message.
func (t *Tracker) AddThinkingReaction(key Key) {
	t.mu.Lock()
	entry, ok := t.entries[key]
	if !ok || entry.Thinking || entry.SourceMessageID == "" {
		t.mu.Unlock()
		return
	}
	entry.Thinking = true
	channelID, messageID := entry.ChannelID, entry.SourceMessageID
	t.mu.Unlock()

	t.react(channelID, messageID, platform.ReactionThinking, true)
}

// ResolveThinkingReaction replaces 🧠 with ✅ on the source message.
func (t *Tracker) ResolveThinkingReaction(key Key) {
	t.mu.Lock()
	entry, ok := t.entries[key]
	if !ok || !entry.Thinking || entry.SourceMessageID == "" {
		t.mu.Unlock()
		return
	}
	entry.Thinking = false
	channelID, messageID := entry.ChannelID, entry.SourceMessageID
	t.mu.Unlock()

	t.react(channelID, messageID, platform.ReactionThinking, false)
	t.react(channelID, messageID, platform.ReactionDone, true)
}

// MarkCompleted transitions ⏳ to ✅ and deletes the entry.
func (t *Tracker) MarkCompleted(key Key) {
	t.finish(key, platform.ReactionDone)
}

// MarkWaiting transitions ⏳ to ❓ and deletes the entry. Used when the idle
// event carries a user-facing prompt.
func (t *Tracker) MarkWaiting(key Key) {
	t.finish(key, platform.ReactionWaiting)
}

// MarkError transitions ⏳ to ❌ and deletes the entry.
func (t *Tracker) MarkError(key Key) {
	t.finish(key, platform.ReactionError)
}

func (t *Tracker) finish(key Key, glyph string) {
	t.mu.Lock()
	entry, ok := t.entries[key]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	snapshot := *entry
	t.mu.Unlock()

	if snapshot.SourceMessageID == "" {
		return
	}
	t.react(snapshot.ChannelID, snapshot.SourceMessageID, platform.ReactionPending, false)
	if snapshot.Thinking {
		t.react(snapshot.ChannelID, snapshot.SourceMessageID, platform.ReactionThinking, false)
	}
	t.react(snapshot.ChannelID, snapshot.SourceMessageID, glyph, true)
}

// react performs one reaction change as a detached task. Failures are logged
// and swallowed; a reaction must never change the request's outcome.
func (t *Tracker) react(channelID, messageID, glyph string, add bool) {
	if messageID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var err error
		if add {
			err = t.client.AddReaction(ctx, channelID, messageID, glyph)
		} else {
			err = t.client.RemoveReaction(ctx, channelID, messageID, glyph)
		}
		if err != nil {
			t.logger.WithError(err).Debug("reaction update failed",
				zap.String("channel", channelID),
				zap.String("glyph", glyph),
				zap.Bool("add", add))
		}
	}()
}

// truncatePreview bounds the prompt echo to a readable length.
func truncatePreview(s string) string {
	const max = 200
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
