// Package console is the stand-in platform adapter used when no chat
// platform is configured. Outbound traffic goes to the log; nothing comes in.
package console

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/discode/discode/internal/common/logger"
	"github.com/discode/discode/internal/platform"
)

// Client logs every platform call. Useful for dry runs and local debugging.
type Client struct {
	logger *logger.Logger
	nextID atomic.Int64
}

var _ platform.Client = (*Client)(nil)

// NewClient creates a console client.
func NewClient(log *logger.Logger) *Client {
	return &Client{logger: log.WithFields(zap.String("component", "console-platform"))}
}

func (c *Client) Name() string { return "console" }

func (c *Client) ChunkLimit() int { return platform.SlackChunkLimit }

// SetInboundHandler is a no-op; the console produces no inbound messages.
func (c *Client) SetInboundHandler(handler platform.InboundHandler) {}

func (c *Client) Start(ctx context.Context) error { return nil }

func (c *Client) Stop() error { return nil }

func (c *Client) SendMessage(ctx context.Context, channelID, text string) (string, error) {
	id := fmt.Sprintf("console-%d", c.nextID.Add(1))
	c.logger.Info("send", zap.String("channel", channelID), zap.String("message_id", id), zap.String("text", text))
	return id, nil
}

func (c *Client) EditMessage(ctx context.Context, channelID, messageID, text string) error {
	c.logger.Info("edit", zap.String("channel", channelID), zap.String("message_id", messageID), zap.String("text", text))
	return nil
}

func (c *Client) AddReaction(ctx context.Context, channelID, messageID, glyph string) error {
	c.logger.Info("react", zap.String("message_id", messageID), zap.String("glyph", glyph))
	return nil
}

func (c *Client) RemoveReaction(ctx context.Context, channelID, messageID, glyph string) error {
	c.logger.Info("unreact", zap.String("message_id", messageID), zap.String("glyph", glyph))
	return nil
}

func (c *Client) SendFiles(ctx context.Context, channelID string, paths []string) error {
	c.logger.Info("send files", zap.String("channel", channelID), zap.Strings("paths", paths))
	return nil
}
