// Package discord implements the platform.Client interface on top of the
// discordgo SDK.
package discord

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/discode/discode/internal/common/logger"
	"github.com/discode/discode/internal/platform"
)

// Client is a thin wrapper around a discordgo session.
type Client struct {
	session *discordgo.Session
	logger  *logger.Logger

	mu      sync.RWMutex
	inbound platform.InboundHandler
}

// NewClient creates a Discord client for the given bot token.
// Call Start to open the gateway connection.
func NewClient(token string, log *logger.Logger) (*Client, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	return &Client{
		session: session,
		logger:  log.WithFields(zap.String("component", "discord-client")),
	}, nil
}

// SetInboundHandler registers the handler that receives user messages.
// Must be called before Start.
func (c *Client) SetInboundHandler(handler platform.InboundHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbound = handler
}

// Start opens the gateway connection and begins delivering inbound messages.
func (c *Client) Start(ctx context.Context) error {
	c.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		c.handleMessageCreate(ctx, s, m)
	})

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord gateway: %w", err)
	}

	c.logger.Info("discord gateway connected")
	return nil
}

// Stop closes the gateway connection.
func (c *Client) Stop() error {
	return c.session.Close()
}

// Name identifies the platform.
func (c *Client) Name() string { return "discord" }

// ChunkLimit returns the per-message byte budget.
func (c *Client) ChunkLimit() int { return platform.DiscordChunkLimit }

// SendMessage posts text to a channel, splitting across the chunk budget.
// Returns the id of the last chunk sent.
func (c *Client) SendMessage(ctx context.Context, channelID, text string) (string, error) {
	var lastID string
	for _, chunk := range platform.Split(text, platform.DiscordChunkLimit) {
		msg, err := c.session.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx))
		if err != nil {
			return lastID, fmt.Errorf("failed to send message: %w", err)
		}
		lastID = msg.ID
	}
	return lastID, nil
}

// EditMessage replaces the content of an existing message. Oversized text is
// truncated to the chunk budget; edits cannot fan out across messages.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID, text string) error {
	chunks := platform.Split(text, platform.DiscordChunkLimit)
	if len(chunks) == 0 {
		return nil
	}
	if _, err := c.session.ChannelMessageEdit(channelID, messageID, chunks[0], discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

// AddReaction attaches a reaction glyph to a message.
func (c *Client) AddReaction(ctx context.Context, channelID, messageID, glyph string) error {
	if err := c.session.MessageReactionAdd(channelID, messageID, glyph, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to add reaction: %w", err)
	}
	return nil
}

// RemoveReaction detaches the bot's own reaction glyph from a message.
func (c *Client) RemoveReaction(ctx context.Context, channelID, messageID, glyph string) error {
	if err := c.session.MessageReactionRemove(channelID, messageID, glyph, "@me", discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to remove reaction: %w", err)
	}
	return nil
}

// SendFiles uploads local files to a channel.
func (c *Client) SendFiles(ctx context.Context, channelID string, paths []string) error {
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		_, err = c.session.ChannelFileSend(channelID, filepath.Base(path), f, discordgo.WithContext(ctx))
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", path, err)
		}
	}
	return nil
}

// handleMessageCreate forwards user messages to the registered inbound handler.
func (c *Client) handleMessageCreate(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore our own messages and other bots.
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	c.mu.RLock()
	handler := c.inbound
	c.mu.RUnlock()
	if handler == nil {
		return
	}

	attachments := make([]platform.Attachment, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		attachments = append(attachments, platform.Attachment{
			Filename: a.Filename,
			URL:      a.URL,
			Size:     a.Size,
		})
	}

	handler(ctx, platform.InboundMessage{
		ChannelID:   m.ChannelID,
		MessageID:   m.ID,
		UserID:      m.Author.ID,
		Content:     m.Content,
		Attachments: attachments,
	})
}

// Verify interface implementation.
var _ platform.Client = (*Client)(nil)
