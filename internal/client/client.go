// Package client talks to a bridge server over WebSocket.
package client

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/koscakluka/ema-bridge/core/audio"
	"github.com/koscakluka/ema-bridge/core/codec"
	"github.com/koscakluka/ema-bridge/core/events"
	"github.com/koscakluka/ema-bridge/core/transport"
)

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithInputEncoding sets the encoding announced on every audio chunk.
func WithInputEncoding(encoding audio.EncodingInfo) Option {
	return func(c *Client) {
		c.inputEncoding = encoding
	}
}

type Client struct {
	conn          transport.Conn
	logger        *slog.Logger
	inputEncoding audio.EncodingInfo
}

// Dial connects to the bridge at url.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	conn, err := transport.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return New(conn, opts...), nil
}

// New wraps an established connection.
func New(conn transport.Conn, opts ...Option) *Client {
	c := &Client{
		conn:          conn,
		logger:        logger,
		inputEncoding: audio.GetDefaultEncodingInfo(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SendText(ctx context.Context, text string) error {
	return c.send(ctx, events.NewTextInput(text, events.RoleUser))
}

func (c *Client) SendAudio(ctx context.Context, chunk []byte) error {
	return c.send(ctx, events.NewAudioInput(chunk, c.inputEncoding))
}

func (c *Client) send(ctx context.Context, event events.Event) error {
	raw, err := codec.Encode(event)
	if err != nil {
		return err
	}
	if err := c.conn.Send(ctx, raw); err != nil {
		return fmt.Errorf("failed to send %s: %w", event.Kind(), err)
	}
	return nil
}

// Events yields server events until the connection closes. A clean close
// ends the sequence without an error. Undecodable messages are logged and
// skipped.
func (c *Client) Events(ctx context.Context) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		for {
			raw, err := c.conn.Receive(ctx)
			if errors.Is(err, transport.ErrClosed) {
				return
			} else if err != nil {
				yield(nil, err)
				return
			}

			event, err := Decode(raw)
			if err != nil {
				c.logger.Warn("dropping undecodable server message", "error", err)
				continue
			}
			if !yield(event, nil) {
				return
			}
		}
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}
