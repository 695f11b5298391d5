// Package ws adapts a syncmanager.Channel to a WebSocket duplex connection
// (spec §6), with the periodic ping/idle-timeout enforcement and
// reconnection backoff the sync manager itself stays agnostic of (spec §9:
// "the design does not require or benefit from" any particular transport;
// spec §4.8's protocol is connection-agnostic by construction).
package ws

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/gorilla/websocket"

	"github.com/fubhy/jazz/syncmanager"
)

// idleTimeout is reset on every inbound frame, including pings (spec §6).
const idleTimeout = 2500 * time.Millisecond

// pingInterval is how often this side emits its own keepalive frame.
const pingInterval = 1 * time.Second

// maxBackoff caps the exponential reconnection delay (spec §9 supplemented
// feature: "reconnection backoff").
const maxBackoff = 30 * time.Second

// wireMessage is the JSON record syncmanager.Message marshals to — spec
// §4.8/§6 describe the protocol as "JSON records"; ids.* fields are
// already strings, []byte fields go through encoding/json's standard
// base64 and the [32]byte hash as an array of numbers, so plain
// encoding/json round-trips them without a custom codec.
type wireMessage = syncmanager.Message

// Channel is a reconnecting syncmanager.Channel over one WebSocket URL. It
// keeps dialing with exponential backoff until Close is called; Send/Recv
// block across a reconnect rather than failing the caller for a transient
// drop, since the sync manager itself has no notion of "briefly
// disconnected" versus "gone" (spec §7: ChannelClosed means "removed the
// peer", which should only happen once this Channel gives up for good, at
// Close).
type Channel struct {
	log logger.Logger
	url string

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	done   chan struct{}
}

// Dial creates a Channel and starts its connection-maintenance loop. The
// first connection attempt happens synchronously so Dial's error return is
// meaningful for a cold start; subsequent drops reconnect silently in the
// background with backoff.
func Dial(ctx context.Context, log logger.Logger, rawURL string) (*Channel, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, err
	}
	c := &Channel{log: log, url: rawURL, done: make(chan struct{})}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.pingLoop(ctx)
	return c, nil
}

func (c *Channel) currentConn() (*websocket.Conn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn, c.closed
}

// Send writes one message, reconnecting first if the last known connection
// was dropped.
func (c *Channel) Send(msg syncmanager.Message) error {
	conn, closed := c.currentConn()
	if closed {
		return syncmanager.ErrChannelClosed
	}
	if conn == nil {
		conn = c.reconnect()
		if conn == nil {
			return syncmanager.ErrChannelClosed
		}
	}
	if err := conn.WriteJSON(wireMessage(msg)); err != nil {
		c.dropConn()
		return err
	}
	return nil
}

// Recv blocks for the next message, transparently reconnecting (with
// backoff) across drops until Close is called.
func (c *Channel) Recv() (syncmanager.Message, error) {
	for {
		conn, closed := c.currentConn()
		if closed {
			return syncmanager.Message{}, syncmanager.ErrChannelClosed
		}
		if conn == nil {
			conn = c.reconnect()
			if conn == nil {
				return syncmanager.Message{}, syncmanager.ErrChannelClosed
			}
		}

		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if c.log != nil {
				logger.Sugar.Debugf("ws: recv: %v", err)
			}
			c.dropConn()
			continue
		}
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		return syncmanager.Message(msg), nil
	}
}

// Close ends the channel permanently; no further reconnection is attempted.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Channel) dropConn() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

// reconnect dials with exponential backoff capped at maxBackoff. Every
// call starts again from the base delay; there is no network-up signal
// that resets a sequence already in progress. Returns nil once Close has
// been called.
func (c *Channel) reconnect() *websocket.Conn {
	if c.url == "" {
		// Server-accepted connections have no URL to redial; once dropped
		// they're done (a new inbound Upgrade produces a fresh Channel).
		return nil
	}
	backoff := 250 * time.Millisecond
	for {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return nil
		}

		conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()
			return conn
		}
		if c.log != nil {
			logger.Sugar.Debugf("ws: dial %s: %v", c.url, err)
		}

		select {
		case <-time.After(backoff):
		case <-c.done:
			return nil
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Channel) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = c.Send(syncmanager.Message{Kind: syncmanager.KindPing})
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}
