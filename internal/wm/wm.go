// Package wm talks to the external window-manager service over its paired
// TCP socket using newline-delimited JSON commands.
package wm

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/footron/footron/internal/experience"
	"github.com/footron/footron/internal/log"
)

// API is what the controller needs from a window manager.
type API interface {
	SetLayout(ctx context.Context, layout experience.Layout) error
	ClearViewport(ctx context.Context, include ...string) error
}

type command struct {
	Type    string            `json:"type"`
	After   int64             `json:"after,omitempty"`
	Before  int64             `json:"before,omitempty"`
	Layout  experience.Layout `json:"layout,omitempty"`
	Include []string          `json:"include,omitempty"`
}

// Client maintains one connection to the window manager, redialing lazily
// after errors. Sends are serialized; the WM applies commands in order.
type Client struct {
	addr   string
	logger zerolog.Logger

	mu   sync.Mutex
	conn net.Conn
}

func New(addr string) *Client {
	return &Client{
		addr:   addr,
		logger: log.WithComponent("wm"),
	}
}

func (c *Client) SetLayout(ctx context.Context, layout experience.Layout) error {
	return c.send(ctx, command{
		Type:   "layout",
		After:  time.Now().UnixMilli(),
		Layout: layout,
	})
}

func (c *Client) ClearViewport(ctx context.Context, include ...string) error {
	cmd := command{
		Type:   "clear_viewport",
		Before: time.Now().UnixMilli(),
	}
	if len(include) > 0 {
		cmd.Include = include
	}
	return c.send(ctx, cmd)
}

func (c *Client) send(ctx context.Context, cmd command) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.sendLocked(ctx, cmd)
	if err == nil {
		return nil
	}

	// One retry after a fresh dial; a wedged WM must not stall transitions.
	c.logger.Warn().Err(err).Str("event", "wm.send_failed").Msg("window manager send failed, retrying in 1s")
	c.closeLocked()
	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := c.sendLocked(ctx, cmd); err != nil {
		c.closeLocked()
		return err
	}
	return nil
}

func (c *Client) sendLocked(ctx context.Context, cmd command) error {
	if c.conn == nil {
		dialer := net.Dialer{Timeout: 2 * time.Second}
		conn, err := dialer.DialContext(ctx, "tcp", c.addr)
		if err != nil {
			return err
		}
		c.conn = conn
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	return json.NewEncoder(c.conn).Encode(cmd)
}

func (c *Client) closeLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

// Disabled is a no-op window manager for FT_DISABLE_WM deployments.
type Disabled struct{}

func (Disabled) SetLayout(context.Context, experience.Layout) error { return nil }
func (Disabled) ClearViewport(context.Context, ...string) error     { return nil }
