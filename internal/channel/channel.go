// Package channel implements the per-bucket protocol state machine (C3):
// authentication handshake, initial index download, change submission,
// change reception, conflict resolution against outstanding local
// changes, and ghost maintenance (spec §4.3).
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wezm/node-simperium/internal/ghost"
	"github.com/wezm/node-simperium/internal/syncerr"
	"github.com/wezm/node-simperium/internal/wire"
)

// Sender is the narrow interface a Channel uses to write frames onto the
// Client's single socket (§5: "the socket is written by exactly one
// owner"). Client implements it.
type Sender interface {
	Send(channelIndex int, body string) error
}

// Config carries everything a Channel needs to run the handshake, as
// explicit fields rather than the source's module-level globals (Design
// Note 9.4).
type Config struct {
	Index    int // this channel's multiplex index, assigned by the Client
	Name     string
	AppID    string
	Token    string
	ClientID string
	Library  string
	Version  string

	// IndexPageLimit bounds how many entries the server returns per "i"
	// page; "" lets the server pick its own default.
	IndexPageLimit string
	// ChangeTimeout is how long a sent Change waits for an ack before
	// reverting to pending and being resent (§4.3 "Outbound changes").
	ChangeTimeout time.Duration
}

// Channel is one bucket-scoped connection to the sync service.
type Channel struct {
	cfg    Config
	sender Sender
	ghosts ghost.Store
	bucket BucketHandle
	log    zerolog.Logger

	state State

	// queues holds the per-key FIFO of in-flight Changes; at most the
	// first entry for a key may be in the Sent state (§3, §5).
	queues map[string][]*Change
	timers map[string]*time.Timer // ccid -> ack timeout timer

	// indexSeen tracks ids already delivered by the current index pass,
	// so change frames for them can be applied immediately during
	// INDEXING while frames for unseen ids are deferred (§4.3).
	indexSeen   map[string]bool
	indexBuffer map[string][]wire.ChangePayload
	indexMark   string

	// pendingResync holds change payloads awaiting a full-object fetch
	// triggered by a version mismatch, keyed by the id under resync.
	pendingResync map[string]wire.ChangePayload
	// revisionWaiters holds in-flight getRevisions fetch continuations,
	// keyed by id.
	revisionWaiters map[string][]chan wire.EntityResponse
}

// New constructs a Channel. ghosts and bucket are the Channel's two
// collaborators (§6); sender is the owning Client.
func New(cfg Config, sender Sender, ghosts ghost.Store, bucket BucketHandle) *Channel {
	if cfg.ChangeTimeout == 0 {
		cfg.ChangeTimeout = 20 * time.Second
	}
	return &Channel{
		cfg:             cfg,
		sender:          sender,
		ghosts:          ghosts,
		bucket:          bucket,
		log:             log.With().Str("bucket", cfg.Name).Logger(),
		state:           Disconnected,
		queues:          make(map[string][]*Change),
		timers:          make(map[string]*time.Timer),
		indexSeen:       make(map[string]bool),
		indexBuffer:     make(map[string][]wire.ChangePayload),
		pendingResync:   make(map[string]wire.ChangePayload),
		revisionWaiters: make(map[string][]chan wire.EntityResponse),
	}
}

// State reports the channel's current handshake state.
func (c *Channel) State() State { return c.state }

// Reset restarts the channel from AUTHORIZING, as Client does for every
// registered channel on (re)connect (§4.5). Outstanding Sent changes
// revert to Pending so they are resent once the channel reaches READY
// again (§5 cancellation).
func (c *Channel) Reset() {
	c.state = Authorizing
	c.indexSeen = make(map[string]bool)
	c.indexBuffer = make(map[string][]wire.ChangePayload)
	c.indexMark = ""
	for _, t := range c.timers {
		t.Stop()
	}
	c.timers = make(map[string]*time.Timer)
	for _, q := range c.queues {
		for _, ch := range q {
			if ch.State == Sent {
				ch.State = Pending
			}
		}
	}
	c.sendInit()
}

func (c *Channel) sendInit() {
	payload := wire.InitPayload{
		ClientID: c.cfg.ClientID,
		API:      1,
		AppID:    c.cfg.AppID,
		Token:    c.cfg.Token,
		Name:     c.cfg.Name,
		Library:  c.cfg.Library,
		Version:  c.cfg.Version,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		c.bucket.EmitError(fmt.Errorf("%w: encode init: %v", syncerr.ErrProtocol, err))
		return
	}
	c.send("init:" + string(b))
}

func (c *Channel) send(body string) {
	if err := c.sender.Send(c.cfg.Index, body); err != nil {
		c.bucket.EmitError(fmt.Errorf("%w: %v", syncerr.ErrTransport, err))
	}
}

// HandleFrame dispatches one decoded channel-body command (§6).
func (c *Channel) HandleFrame(ctx context.Context, cmd, rest string) {
	switch cmd {
	case "auth":
		c.handleAuth(ctx, rest)
	case "i":
		c.handleIndex(ctx, rest)
	case "c":
		c.handleChangeBody(ctx, rest)
	case "e":
		c.handleEntity(ctx, rest)
	case "log":
		c.handleLog(rest)
	default:
		c.log.Warn().Str("cmd", cmd).Msg("unrecognized channel command")
	}
}

func (c *Channel) handleAuth(ctx context.Context, body string) {
	if body == "expired" {
		c.bucket.EmitError(fmt.Errorf("%w: credentials expired", syncerr.ErrAuth))
		c.state = Disconnected
		return
	}
	c.state = Indexing
	c.bucket.EmitIndexing()
	c.requestIndexPage(ctx, "")
}

// requestIndexPage issues an "i" request for one page of the index, as
// "i:1:<mark>:<limit>:". The offset field is the literal "1" on every
// page; pagination is driven by mark, not an incrementing offset.
func (c *Channel) requestIndexPage(ctx context.Context, mark string) {
	c.send(wire.IndexRequest("1", mark, c.cfg.IndexPageLimit, ""))
}

func (c *Channel) handleLog(body string) {
	var level int
	if _, err := fmt.Sscanf(body, "%d", &level); err != nil {
		c.log.Warn().Str("body", body).Msg("malformed log level frame")
		return
	}
	c.log = c.log.Level(zerologLevel(level))
}

func zerologLevel(n int) zerolog.Level {
	switch {
	case n <= 0:
		return zerolog.ErrorLevel
	case n == 1:
		return zerolog.WarnLevel
	case n == 2:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}

// HasLocalChanges reports whether any per-key queue is non-empty (§4.3).
func (c *Channel) HasLocalChanges() bool {
	for _, q := range c.queues {
		if len(q) > 0 {
			return true
		}
	}
	return false
}

var newCCID = func() string { return uuid.NewString() }
