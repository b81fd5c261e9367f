// Package platform abstracts the chat platform (Discord, Slack) behind a
// narrow client interface the bridge core talks to. Adapters live in
// subpackages; the core never imports a platform SDK directly.
package platform

import "context"

// Reaction glyphs mirrored onto the user's source message.
const (
	ReactionPending  = "⏳"
	ReactionThinking = "🧠"
	ReactionDone     = "✅"
	ReactionError    = "❌"
	ReactionWaiting  = "❓"
)

// Per-chunk message budgets in UTF-8 bytes.
const (
	DiscordChunkLimit = 1890
	SlackChunkLimit   = 3890
)

// Attachment describes a file attached to an inbound chat message.
type Attachment struct {
	Filename string
	URL      string
	Size     int
}

// InboundMessage is a chat message delivered to the Router.
type InboundMessage struct {
	ChannelID        string
	MessageID        string
	UserID           string
	Content          string
	Attachments      []Attachment
	MappedInstanceID string // set when the platform layer maps a thread to an instance
}

// InboundHandler receives chat messages from the platform adapter.
type InboundHandler func(ctx context.Context, msg InboundMessage)

// Client is the chat-platform surface the bridge core depends on.
// Implementations must be safe for concurrent use.
type Client interface {
	// Name identifies the platform ("discord", "slack").
	Name() string

	// SendMessage posts text to a channel, splitting it across the
	// platform's chunk budget. It returns the id of the last chunk sent.
	SendMessage(ctx context.Context, channelID, text string) (string, error)

	// EditMessage replaces the content of an existing message.
	EditMessage(ctx context.Context, channelID, messageID, text string) error

	// AddReaction attaches a reaction glyph to a message.
	AddReaction(ctx context.Context, channelID, messageID, glyph string) error

	// RemoveReaction detaches a reaction glyph from a message.
	RemoveReaction(ctx context.Context, channelID, messageID, glyph string) error

	// SendFiles uploads local files to a channel.
	SendFiles(ctx context.Context, channelID string, paths []string) error

	// ChunkLimit returns the per-message byte budget.
	ChunkLimit() int
}
