// Package client implements the multiplexer (C5): one persistent duplex
// connection fanning frames out to per-bucket Channels, with heartbeat and
// reconnect/backoff (spec §4.5).
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/wezm/node-simperium/internal/channel"
	"github.com/wezm/node-simperium/internal/syncerr"
	"github.com/wezm/node-simperium/internal/wire"
)

// Client owns one socket and a registry of bucket-scoped Channels.
type Client struct {
	cfg Config

	Events Events

	mu       sync.Mutex
	conn     *websocket.Conn
	channels []*channel.Channel
	byName   map[string]int

	heartbeatCounter int
	lastServerBeat   time.Time

	cmds chan func(context.Context)
}

// New constructs a Client. Call RegisterChannel for each bucket before
// calling Run.
func New(cfg Config) *Client {
	cfg.setDefaults()
	return &Client{
		cfg:    cfg,
		byName: make(map[string]int),
		cmds:   make(chan func(context.Context), 64),
	}
}

// Identity returns the clientid/library/version this Client authenticates
// every channel with, so callers building a channel.Config don't have to
// duplicate them.
func (c *Client) Identity() (clientID, library, version string) {
	return c.cfg.ClientID, c.cfg.Library, c.cfg.Version
}

// RegisterChannel assigns ch the next free multiplex index and adds it to
// the registry. Must be called before Run.
func (c *Client) RegisterChannel(name string, factory func(index int) *channel.Channel) (*channel.Channel, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	index := len(c.channels)
	ch := factory(index)
	c.channels = append(c.channels, ch)
	c.byName[name] = index
	return ch, index
}

// Submit enqueues fn to run on the Client's event loop, the single
// goroutine that owns all channel/ghost state (§5). Safe to call from any
// goroutine; fn runs serialized with frame dispatch and timers.
func (c *Client) Submit(fn func(context.Context)) {
	c.cmds <- fn
}

// Send implements channel.Sender: writes one "<index>:<body>" frame to the
// socket. The socket has exactly one writer by construction (§5) since
// Send is only ever called from Channel methods, which only ever run on
// the Client's own event loop.
func (c *Client) Send(index int, body string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: not connected", syncerr.ErrTransport)
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(wire.EncodeChannel(index, body)))
}

// Run dials, authenticates every registered channel, and services the
// connection until ctx is cancelled, reconnecting with backoff on every
// disconnect (§4.5).
func (c *Client) Run(ctx context.Context) error {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.cfg.BackoffInitial,
		RandomizationFactor: c.cfg.BackoffJitter,
		Multiplier:          2,
		MaxInterval:         c.cfg.BackoffMax,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	attempt := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.Endpoint, nil)
		if err != nil {
			attempt++
			c.Events.Reconnect.Publish(ReconnectEvent{Attempt: attempt})
			log.Warn().Err(err).Int("attempt", attempt).Msg("dial failed, backing off")
			if !c.wait(ctx, b.NextBackOff()) {
				return ctx.Err()
			}
			continue
		}

		b.Reset()
		attempt = 0
		c.onConnected(ctx, conn)

		err = c.serviceConnection(ctx, conn)
		c.onDisconnected()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Msg("connection lost, reconnecting")
	}
}

// wait blocks for d, continuing to drain Submit-ted commands so
// application calls made while disconnected (e.g. Bucket.Update queuing a
// local Change) still land instead of backing up the cmds buffer (§5:
// "pending changes remain in their queues and resume after reconnect").
func (c *Client) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			return true
		case <-ctx.Done():
			return false
		case fn := <-c.cmds:
			fn(ctx)
		}
	}
}

func (c *Client) onConnected(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	channels := append([]*channel.Channel(nil), c.channels...)
	c.mu.Unlock()

	c.lastServerBeat = time.Now()
	for _, ch := range channels {
		ch.OnReconnect(ctx)
		ch.Reset()
	}
}

func (c *Client) onDisconnected() {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
}

// serviceConnection runs the single event loop for one connection's
// lifetime: reading inbound frames, dispatching commands submitted via
// Submit, and driving the heartbeat (§4.5, §5).
func (c *Client) serviceConnection(ctx context.Context, conn *websocket.Conn) error {
	frames := make(chan wire.Frame, 64)
	readErr := make(chan error, 1)
	go func() {
		defer close(frames)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				readErr <- fmt.Errorf("%w: %v", syncerr.ErrTransport, err)
				return
			}
			f, err := wire.Parse(string(msg))
			if err != nil {
				log.Warn().Err(err).Msg("dropping malformed frame")
				continue
			}
			frames <- f
		}
	}()

	heartbeatTicker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer heartbeatTicker.Stop()
	staleCheck := time.NewTicker(c.cfg.HeartbeatInterval)
	defer staleCheck.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return ctx.Err()

		case f, ok := <-frames:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return fmt.Errorf("%w: connection closed", syncerr.ErrTransport)
				}
			}
			c.dispatchFrame(ctx, f)

		case fn := <-c.cmds:
			fn(ctx)

		case <-heartbeatTicker.C:
			c.heartbeatCounter++
			if err := conn.WriteMessage(websocket.TextMessage, []byte(wire.EncodeHeartbeat(c.heartbeatCounter))); err != nil {
				return fmt.Errorf("%w: %v", syncerr.ErrTransport, err)
			}

		case <-staleCheck.C:
			if time.Since(c.lastServerBeat) > 3*c.cfg.HeartbeatInterval {
				conn.Close()
				return fmt.Errorf("%w: no heartbeat from server", syncerr.ErrTransport)
			}
		}
	}
}

// ServeCommandsOnly drains Submit-ted commands until ctx is done, without
// dialing a connection. It gives tests (and any offline-only embedding) a
// way to run the event loop's command side without a real socket.
func (c *Client) ServeCommandsOnly(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-c.cmds:
			fn(ctx)
		}
	}
}

func (c *Client) dispatchFrame(ctx context.Context, f wire.Frame) {
	if f.Heartbeat {
		c.lastServerBeat = time.Now()
		return
	}
	c.mu.Lock()
	var ch *channel.Channel
	if f.ChannelIndex >= 0 && f.ChannelIndex < len(c.channels) {
		ch = c.channels[f.ChannelIndex]
	}
	c.mu.Unlock()
	if ch == nil {
		log.Warn().Int("index", f.ChannelIndex).Msg("frame for unknown channel")
		return
	}
	cmd, rest := wire.Command(f.Body)
	ch.HandleFrame(ctx, cmd, rest)
}
