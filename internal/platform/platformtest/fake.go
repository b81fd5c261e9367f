// Package platformtest provides a recording in-memory platform client for
// bridge tests.
package platformtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Sent records one SendMessage call.
type Sent struct {
	ChannelID string
	MessageID string
	Text      string
}

// Edit records one EditMessage call.
type Edit struct {
	ChannelID string
	MessageID string
	Text      string
}

// Reaction records one Add/RemoveReaction call.
type Reaction struct {
	ChannelID string
	MessageID string
	Glyph     string
	Added     bool
}

// FakeClient implements platform.Client and records every call.
type FakeClient struct {
	mu        sync.Mutex
	nextID    int
	sent      []Sent
	edits     []Edit
	reactions []Reaction
	files     [][]string

	// FailSends and FailEdits make the corresponding calls return an error.
	FailSends bool
	FailEdits bool

	chunkLimit int
}

// NewFakeClient creates a fake with a large chunk budget.
func NewFakeClient() *FakeClient {
	return &FakeClient{chunkLimit: 4000}
}

func (f *FakeClient) Name() string { return "fake" }

func (f *FakeClient) ChunkLimit() int { return f.chunkLimit }

// SetChunkLimit overrides the reported chunk budget.
func (f *FakeClient) SetChunkLimit(n int) { f.chunkLimit = n }

func (f *FakeClient) SendMessage(ctx context.Context, channelID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailSends {
		return "", fmt.Errorf("send failed")
	}
	f.nextID++
	id := fmt.Sprintf("msg-%d", f.nextID)
	f.sent = append(f.sent, Sent{ChannelID: channelID, MessageID: id, Text: text})
	return id, nil
}

func (f *FakeClient) EditMessage(ctx context.Context, channelID, messageID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailEdits {
		return fmt.Errorf("edit failed")
	}
	f.edits = append(f.edits, Edit{ChannelID: channelID, MessageID: messageID, Text: text})
	return nil
}

func (f *FakeClient) AddReaction(ctx context.Context, channelID, messageID, glyph string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, Reaction{ChannelID: channelID, MessageID: messageID, Glyph: glyph, Added: true})
	return nil
}

func (f *FakeClient) RemoveReaction(ctx context.Context, channelID, messageID, glyph string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, Reaction{ChannelID: channelID, MessageID: messageID, Glyph: glyph, Added: false})
	return nil
}

func (f *FakeClient) SendFiles(ctx context.Context, channelID string, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, append([]string(nil), paths...))
	return nil
}

// Sent returns a copy of the recorded sends.
func (f *FakeClient) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// SentTexts returns just the text of every recorded send.
func (f *FakeClient) SentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	texts := make([]string, len(f.sent))
	for i, s := range f.sent {
		texts[i] = s.Text
	}
	return texts
}

// Edits returns a copy of the recorded edits.
func (f *FakeClient) Edits() []Edit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Edit(nil), f.edits...)
}

// Reactions returns a copy of the recorded reaction calls.
func (f *FakeClient) Reactions() []Reaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Reaction(nil), f.reactions...)
}

// Files returns a copy of the recorded file uploads.
func (f *FakeClient) Files() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.files...)
}

// NetReactions returns the glyphs currently on a message after replaying all
// recorded add/remove calls.
func (f *FakeClient) NetReactions(messageID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var net []string
	for _, r := range f.reactions {
		if r.MessageID != messageID {
			continue
		}
		if r.Added {
			net = append(net, r.Glyph)
			continue
		}
		for i := len(net) - 1; i >= 0; i-- {
			if net[i] == r.Glyph {
				net = append(net[:i], net[i+1:]...)
				break
			}
		}
	}
	return net
}

// LastSentOn returns the most recent send text on a channel.
func (f *FakeClient) LastSentOn(channelID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].ChannelID == channelID {
			return f.sent[i].Text, true
		}
	}
	return "", false
}

// ContainsSend reports whether any send text contains substr.
func (f *FakeClient) ContainsSend(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sent {
		if strings.Contains(s.Text, substr) {
			return true
		}
	}
	return false
}
