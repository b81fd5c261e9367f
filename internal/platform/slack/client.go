// Package slack implements the platform.Client interface on top of the
// slack-go SDK. Outbound calls use the Web API; inbound messages arrive
// over Socket Mode so no public HTTP endpoint is required.
package slack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"

	"github.com/discode/discode/internal/common/logger"
	"github.com/discode/discode/internal/platform"
)

// reactionNames maps the shared reaction glyphs to Slack emoji names.
// Slack's reactions API takes names, not unicode.
var reactionNames = map[string]string{
	platform.ReactionPending:  "hourglass_flowing_sand",
	platform.ReactionThinking: "brain",
	platform.ReactionDone:     "white_check_mark",
	platform.ReactionError:    "x",
	platform.ReactionWaiting:  "question",
}

// Client wraps a Slack Web API client plus a Socket Mode connection.
type Client struct {
	api    *slack.Client
	socket *socketmode.Client
	logger *logger.Logger

	botUserID string

	mu      sync.RWMutex
	inbound platform.InboundHandler
}

// NewClient creates a Slack client. botToken is the xoxb bot token and
// appToken the xapp app-level token required for Socket Mode.
func NewClient(botToken, appToken string, log *logger.Logger) (*Client, error) {
	if botToken == "" {
		return nil, fmt.Errorf("slack bot token is required")
	}
	if appToken == "" {
		return nil, fmt.Errorf("slack app token is required for socket mode")
	}

	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	return &Client{
		api:    api,
		socket: socketmode.New(api),
		logger: log.WithFields(zap.String("component", "slack-client")),
	}, nil
}

// SetInboundHandler registers the handler that receives user messages.
// Must be called before Start.
func (c *Client) SetInboundHandler(handler platform.InboundHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbound = handler
}

// Start verifies credentials and runs the Socket Mode event loop until the
// context is cancelled.
func (c *Client) Start(ctx context.Context) error {
	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test failed: %w", err)
	}
	c.botUserID = auth.UserID
	c.logger.Info("slack authenticated", zap.String("bot_user_id", auth.UserID))

	go c.eventLoop(ctx)
	go func() {
		if err := c.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			c.logger.WithError(err).Error("socket mode connection terminated")
		}
	}()
	return nil
}

// Stop is a no-op; the Socket Mode loop exits with the Start context.
func (c *Client) Stop() error { return nil }

// Name identifies the platform.
func (c *Client) Name() string { return "slack" }

// ChunkLimit returns the per-message byte budget.
func (c *Client) ChunkLimit() int { return platform.SlackChunkLimit }

// SendMessage posts text to a channel, splitting across the chunk budget.
// Returns the timestamp of the last chunk, which Slack uses as message id.
func (c *Client) SendMessage(ctx context.Context, channelID, text string) (string, error) {
	var lastTS string
	for _, chunk := range platform.Split(text, platform.SlackChunkLimit) {
		_, ts, err := c.api.PostMessageContext(ctx, channelID,
			slack.MsgOptionText(chunk, false))
		if err != nil {
			return lastTS, fmt.Errorf("failed to post message: %w", err)
		}
		lastTS = ts
	}
	return lastTS, nil
}

// EditMessage replaces the content of an existing message. Oversized text is
// truncated to the chunk budget; edits cannot fan out across messages.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID, text string) error {
	chunks := platform.Split(text, platform.SlackChunkLimit)
	if len(chunks) == 0 {
		return nil
	}
	_, _, _, err := c.api.UpdateMessageContext(ctx, channelID, messageID,
		slack.MsgOptionText(chunks[0], false))
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	return nil
}

// AddReaction attaches a reaction glyph to a message.
func (c *Client) AddReaction(ctx context.Context, channelID, messageID, glyph string) error {
	if err := c.api.AddReactionContext(ctx, emojiName(glyph), slack.ItemRef{
		Channel:   channelID,
		Timestamp: messageID,
	}); err != nil {
		return fmt.Errorf("failed to add reaction: %w", err)
	}
	return nil
}

// RemoveReaction detaches the bot's own reaction glyph from a message.
func (c *Client) RemoveReaction(ctx context.Context, channelID, messageID, glyph string) error {
	if err := c.api.RemoveReactionContext(ctx, emojiName(glyph), slack.ItemRef{
		Channel:   channelID,
		Timestamp: messageID,
	}); err != nil {
		return fmt.Errorf("failed to remove reaction: %w", err)
	}
	return nil
}

// SendFiles uploads local files to a channel.
func (c *Client) SendFiles(ctx context.Context, channelID string, paths []string) error {
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		_, err = c.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
			Channel:  channelID,
			Reader:   f,
			Filename: filepath.Base(path),
			FileSize: int(info.Size()),
		})
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", path, err)
		}
	}
	return nil
}

// eventLoop drains the Socket Mode event stream and dispatches message events.
func (c *Client) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.socket.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeConnected:
				c.logger.Info("socket mode connected")
			case socketmode.EventTypeEventsAPI:
				apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				c.socket.Ack(*evt.Request)
				c.handleEventsAPI(ctx, apiEvent)
			}
		}
	}
}

func (c *Client) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	msg, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	// Ignore our own messages, bot messages and edits.
	if msg.User == "" || msg.User == c.botUserID || msg.BotID != "" || msg.SubType != "" {
		return
	}

	c.mu.RLock()
	handler := c.inbound
	c.mu.RUnlock()
	if handler == nil {
		return
	}

	var attachments []platform.Attachment
	for _, f := range msg.Files {
		attachments = append(attachments, platform.Attachment{
			Filename: f.Name,
			URL:      f.URLPrivateDownload,
			Size:     f.Size,
		})
	}

	handler(ctx, platform.InboundMessage{
		ChannelID:   msg.Channel,
		MessageID:   msg.TimeStamp,
		UserID:      msg.User,
		Content:     msg.Text,
		Attachments: attachments,
	})
}

// emojiName resolves a shared glyph to the Slack emoji name, falling back to
// the raw value for callers that already pass a name.
func emojiName(glyph string) string {
	if name, ok := reactionNames[glyph]; ok {
		return name
	}
	return glyph
}

// Verify interface implementation.
var _ platform.Client = (*Client)(nil)
