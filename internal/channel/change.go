package channel

import (
	"context"
	"fmt"

	"github.com/wezm/node-simperium/internal/ghost"
	"github.com/wezm/node-simperium/internal/jsondiff"
	"github.com/wezm/node-simperium/internal/syncerr"
	"github.com/wezm/node-simperium/internal/wire"
)

// handleChangeBody decodes a "c:" frame body, which is one object or a
// JSON array of them (§6), and routes each to applyChangePayload, subject
// to the INDEXING defer rule (§4.3).
func (c *Channel) handleChangeBody(ctx context.Context, body string) {
	payloads, err := wire.ParseChangeFrame(body)
	if err != nil {
		c.log.Error().Err(err).Msg("malformed change frame")
		c.bucket.EmitError(fmt.Errorf("%w: %v", syncerr.ErrProtocol, err))
		return
	}
	for _, p := range payloads {
		if p.Error != "" {
			c.bucket.EmitError(fmt.Errorf("%w: %s", syncerr.ErrProtocol, p.Error))
			continue
		}
		if c.state == Indexing && !c.indexSeen[p.ID] {
			c.indexBuffer[p.ID] = append(c.indexBuffer[p.ID], p)
			continue
		}
		c.applyChangePayload(ctx, p)
	}
}

// applyChangePayload is the inbound-change procedure of §4.3.
func (c *Channel) applyChangePayload(ctx context.Context, p wire.ChangePayload) {
	if c.tryAcknowledgeLocal(ctx, p) {
		return
	}

	g, err := c.ghosts.Get(ctx, p.ID)
	if err != nil {
		c.bucket.EmitError(fmt.Errorf("%w: %v", syncerr.ErrStore, err))
		return
	}
	if g == nil {
		g = &ghost.Ghost{Key: p.ID, Version: 0, Data: jsondiff.Object(nil)}
	}

	if p.EV <= g.Version {
		// Idempotent re-delivery: already applied, discard silently.
		return
	}

	if p.SV != nil && *p.SV != g.Version {
		c.log.Debug().Err(syncerr.ErrVersionMismatch).Str("id", p.ID).
			Int("sv", *p.SV).Int("ghost_version", g.Version).Msg("resyncing via full fetch")
		c.pendingResync[p.ID] = p
		c.send(wire.EntityRequest(p.ID, p.EV))
		return
	}

	if p.Op == "-" {
		c.applyRemoteRemove(ctx, p.ID)
		return
	}

	c.applyRemoteUpdate(ctx, g, p)
}

// tryAcknowledgeLocal implements §4.3 step 1: if ccid matches a local
// in-flight Sent change for this id, treat the frame as its
// acknowledgment instead of an independent remote change.
func (c *Channel) tryAcknowledgeLocal(ctx context.Context, p wire.ChangePayload) bool {
	q := c.queues[p.ID]
	if len(q) == 0 || q[0].CCID != p.CCID || q[0].State != Sent {
		return false
	}
	head := q[0]
	c.stopTimer(head.CCID)

	g, err := c.ghosts.Get(ctx, p.ID)
	if err != nil {
		c.bucket.EmitError(fmt.Errorf("%w: %v", syncerr.ErrStore, err))
		return true
	}
	if g == nil {
		g = &ghost.Ghost{Key: p.ID, Version: 0, Data: jsondiff.Object(nil)}
	}

	var newData jsondiff.Value
	if head.Remove {
		newData = jsondiff.Object(nil)
	} else {
		newData, err = jsondiff.ApplyObjectDiff(head.Ops, g.Data)
		if err != nil {
			c.bucket.EmitError(fmt.Errorf("%w: %v", syncerr.ErrOperationPreconditionViolated, err))
			newData = g.Data
		}
	}
	g.Version = p.EV
	g.Data = newData
	if head.Remove {
		if err := c.ghosts.Delete(ctx, p.ID); err != nil {
			c.bucket.EmitError(fmt.Errorf("%w: %v", syncerr.ErrStore, err))
		}
		if err := c.bucket.StoreRemove(ctx, p.ID); err != nil {
			c.bucket.EmitError(fmt.Errorf("%w: %v", syncerr.ErrStore, err))
		}
	} else {
		if err := c.ghosts.Put(ctx, p.ID, g); err != nil {
			c.bucket.EmitError(fmt.Errorf("%w: %v", syncerr.ErrStore, err))
		}
	}

	head.State = Acknowledged
	c.queues[p.ID] = q[1:]
	if len(c.queues[p.ID]) == 0 {
		delete(c.queues, p.ID)
	}
	c.trySend(ctx, p.ID)
	return true
}

func (c *Channel) applyRemoteRemove(ctx context.Context, id string) {
	if err := c.ghosts.Delete(ctx, id); err != nil {
		c.bucket.EmitError(fmt.Errorf("%w: %v", syncerr.ErrStore, err))
	}
	if err := c.bucket.StoreRemove(ctx, id); err != nil {
		c.bucket.EmitError(fmt.Errorf("%w: %v", syncerr.ErrStore, err))
		return
	}
	delete(c.queues, id)
	c.bucket.EmitRemove(id)
}

// applyRemoteUpdate is §4.3 steps 3-4: resolve local state, rebase any
// pending local change, apply upstream to the ghost and store.
func (c *Channel) applyRemoteUpdate(ctx context.Context, g *ghost.Ghost, p wire.ChangePayload) {
	storeValue, _, err := c.bucket.StoreGet(ctx, p.ID)
	if err != nil {
		c.bucket.EmitError(fmt.Errorf("%w: %v", syncerr.ErrStore, err))
		return
	}
	local := c.bucket.BeforeNetworkChange(p.ID, storeValue)

	upstreamApplied, err := jsondiff.ApplyObjectDiff(p.Ops, g.Data)
	if err != nil {
		c.log.Error().Err(err).Str("id", p.ID).Msg("dropping change, full resync")
		c.bucket.EmitError(fmt.Errorf("%w: %v", syncerr.ErrOperationPreconditionViolated, err))
		c.send(wire.EntityRequest(p.ID, p.EV))
		return
	}

	// Rebase the outstanding change for this key regardless of whether it
	// is Sent or Pending (§4.3 step 3, scenario 2): in READY operation
	// LocalUpdate sends immediately, so the head is almost always Sent by
	// the time an independent upstream change arrives. Leaving a Sent
	// change's stale ops/source_version untouched would mis-apply it on
	// ack or only correct it after the ack timeout.
	if q := c.queues[p.ID]; len(q) > 0 && !q[0].Remove {
		head := q[0]
		wasSent := head.State == Sent
		rebased, err := jsondiff.TransformObjectDiff(head.Ops, p.Ops, g.Data)
		if err != nil {
			c.bucket.EmitError(fmt.Errorf("%w: %v", syncerr.ErrMalformedOperation, err))
		} else if len(rebased) == 0 {
			if wasSent {
				c.stopTimer(head.CCID)
			}
			c.queues[p.ID] = q[1:]
			if len(c.queues[p.ID]) == 0 {
				delete(c.queues, p.ID)
			}
		} else {
			if wasSent {
				c.stopTimer(head.CCID)
			}
			head.Ops = rebased
			head.SourceVersion = p.EV
			head.State = Pending
		}
	}

	g.Version = p.EV
	g.Data = upstreamApplied
	isIndexing := c.state == Indexing
	if err := c.ghosts.Put(ctx, p.ID, g); err != nil {
		c.bucket.EmitError(fmt.Errorf("%w: %v", syncerr.ErrStore, err))
	}
	if err := c.bucket.StoreWrite(ctx, p.ID, upstreamApplied, isIndexing); err != nil {
		c.bucket.EmitError(fmt.Errorf("%w: %v", syncerr.ErrStore, err))
		return
	}
	c.bucket.EmitUpdate(p.ID, upstreamApplied, RemoteInfo{Original: local, Patch: p.Ops, IsIndexing: isIndexing})
	c.trySend(ctx, p.ID)
}
