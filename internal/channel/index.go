package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wezm/node-simperium/internal/ghost"
	"github.com/wezm/node-simperium/internal/jsondiff"
	"github.com/wezm/node-simperium/internal/syncerr"
	"github.com/wezm/node-simperium/internal/wire"
)

// handleIndex processes one page of the "i" response stream (§4.3).
func (c *Channel) handleIndex(ctx context.Context, body string) {
	var resp wire.IndexResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		c.log.Error().Err(err).Msg("malformed index page")
		c.bucket.EmitError(fmt.Errorf("%w: malformed index page: %v", syncerr.ErrProtocol, err))
		return
	}
	for _, entry := range resp.Index {
		var native interface{}
		if err := json.Unmarshal(entry.Data, &native); err != nil {
			c.log.Error().Err(err).Str("id", entry.ID).Msg("malformed index entry data")
			continue
		}
		data := jsondiff.FromNative(native)
		if err := c.ghosts.Put(ctx, entry.ID, &ghost.Ghost{Key: entry.ID, Version: entry.Version, Data: data}); err != nil {
			c.bucket.EmitError(fmt.Errorf("%w: %v", syncerr.ErrStore, err))
			continue
		}
		if err := c.bucket.StoreWrite(ctx, entry.ID, data, true); err != nil {
			c.bucket.EmitError(fmt.Errorf("%w: %v", syncerr.ErrStore, err))
			continue
		}
		c.indexSeen[entry.ID] = true
		c.bucket.EmitUpdate(entry.ID, data, RemoteInfo{Original: data, IsIndexing: true})

		for _, buffered := range c.indexBuffer[entry.ID] {
			c.applyChangePayload(ctx, buffered)
		}
		delete(c.indexBuffer, entry.ID)
	}

	if resp.Mark != "" {
		c.indexMark = resp.Mark
		c.requestIndexPage(ctx, resp.Mark)
		return
	}

	c.finishIndexing(ctx)
}

func (c *Channel) finishIndexing(ctx context.Context) {
	// Any change frames still buffered named ids the index page never
	// mentioned (created after the index was taken); apply them now that
	// indexing is otherwise complete.
	for id, buffered := range c.indexBuffer {
		for _, payload := range buffered {
			c.applyChangePayload(ctx, payload)
		}
		delete(c.indexBuffer, id)
	}
	c.state = Ready
	c.bucket.EmitIndex()
	c.flushQueues(ctx)
}

// flushQueues attempts to send the head of every key's queue, used after
// reaching READY. (After an ack, only that key's queue is advanced, via
// trySend.)
func (c *Channel) flushQueues(ctx context.Context) {
	for key := range c.queues {
		c.trySend(ctx, key)
	}
}

// Reload forces the channel back through INDEXING without a full
// disconnect (§9 supplemented feature), for a client that suspects
// local/remote drift.
func (c *Channel) Reload(ctx context.Context) {
	if c.state != Ready {
		return
	}
	c.state = Indexing
	c.indexSeen = make(map[string]bool)
	c.indexBuffer = make(map[string][]wire.ChangePayload)
	c.indexMark = ""
	c.bucket.EmitIndexing()
	c.requestIndexPage(ctx, "")
}
