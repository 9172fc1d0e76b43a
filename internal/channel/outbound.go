package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/wezm/node-simperium/internal/ghost"
	"github.com/wezm/node-simperium/internal/jsondiff"
	"github.com/wezm/node-simperium/internal/syncerr"
	"github.com/wezm/node-simperium/internal/wire"
)

// LocalUpdate enqueues a Change diffing the current ghost against newData
// (§4.3 "Outbound changes"). If ghost data already equals newData, no
// Change is enqueued.
func (c *Channel) LocalUpdate(ctx context.Context, id string, newData jsondiff.Value) error {
	g, err := c.ghostOrEmpty(ctx, id)
	if err != nil {
		return err
	}
	ops, err := jsondiff.ObjectDiff(g.Data, newData)
	if err != nil {
		return fmt.Errorf("%w: %v", syncerr.ErrMalformedOperation, err)
	}
	if len(ops) == 0 {
		return nil
	}
	c.enqueue(&Change{
		CCID:          newCCID(),
		Key:           id,
		SourceVersion: g.Version,
		Ops:           ops,
		State:         Pending,
	})
	c.trySend(ctx, id)
	return nil
}

// LocalRemove cancels pending non-remove changes for id and enqueues a
// remove Change (§4.4, §5 "A remove(id) cancels pending non-remove changes
// for that key").
func (c *Channel) LocalRemove(ctx context.Context, id string) error {
	g, err := c.ghostOrEmpty(ctx, id)
	if err != nil {
		return err
	}
	q := c.queues[id]
	kept := q[:0]
	for _, ch := range q {
		if ch.State == Sent {
			kept = append(kept, ch)
		}
	}
	c.queues[id] = kept
	c.enqueue(&Change{
		CCID:          newCCID(),
		Key:           id,
		SourceVersion: g.Version,
		Remove:        true,
		State:         Pending,
	})
	c.trySend(ctx, id)
	return nil
}

func (c *Channel) ghostOrEmpty(ctx context.Context, id string) (*ghost.Ghost, error) {
	g, err := c.ghosts.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", syncerr.ErrStore, err)
	}
	if g == nil {
		g = &ghost.Ghost{Key: id, Version: 0, Data: jsondiff.Object(nil)}
	}
	return g, nil
}

func (c *Channel) enqueue(ch *Change) {
	c.queues[ch.Key] = append(c.queues[ch.Key], ch)
}

// trySend sends the head of key's queue if the channel is READY and the
// head is Pending (at most one Change per key may be Sent, §3/§5).
func (c *Channel) trySend(ctx context.Context, key string) {
	if c.state != Ready {
		return
	}
	q := c.queues[key]
	if len(q) == 0 || q[0].State != Pending {
		return
	}
	head := q[0]

	payload := wire.ChangePayload{
		ClientID: c.cfg.ClientID,
		ID:       key,
		CCID:     head.CCID,
	}
	sv := head.SourceVersion
	payload.SV = &sv
	if head.Remove {
		payload.Op = "-"
	} else {
		payload.Op = "M"
		payload.Ops = head.Ops
	}

	body, err := wire.EncodeChangeFrame(payload)
	if err != nil {
		c.bucket.EmitError(fmt.Errorf("%w: %v", syncerr.ErrProtocol, err))
		return
	}
	c.send(body)
	head.State = Sent
	c.startTimer(ctx, head)
}

func (c *Channel) startTimer(ctx context.Context, ch *Change) {
	ccid := ch.CCID
	c.timers[ccid] = time.AfterFunc(c.cfg.ChangeTimeout, func() {
		c.onChangeTimeout(ctx, ch)
	})
}

func (c *Channel) stopTimer(ccid string) {
	if t, ok := c.timers[ccid]; ok {
		t.Stop()
		delete(c.timers, ccid)
	}
}

// onChangeTimeout reverts an un-acked Change to Pending and recomputes its
// ops against the latest ghost before it is resent (§4.3, scenario 6).
func (c *Channel) onChangeTimeout(ctx context.Context, ch *Change) {
	delete(c.timers, ch.CCID)
	q := c.queues[ch.Key]
	if len(q) == 0 || q[0] != ch || ch.State != Sent {
		return
	}
	c.refreshAgainstGhost(ctx, ch)
	ch.State = Pending
	c.trySend(ctx, ch.Key)
}

// refreshAgainstGhost recomputes a pending change's ops and source_version
// from the current ghost, used on reconnect and timeout (§4.3 scenario 6).
func (c *Channel) refreshAgainstGhost(ctx context.Context, ch *Change) {
	if ch.Remove {
		return
	}
	g, err := c.ghostOrEmpty(ctx, ch.Key)
	if err != nil {
		c.bucket.EmitError(err)
		return
	}
	if g.Version == ch.SourceVersion {
		return
	}
	after, err := jsondiff.ApplyObjectDiff(ch.Ops, g.Data)
	if err != nil {
		// The ghost moved out from under this change in a way its own
		// recorded ops can no longer replay against; drop it rather
		// than send a precondition-violating frame. The application's
		// next local mutation will produce a fresh diff.
		c.bucket.EmitError(fmt.Errorf("%w: %v", syncerr.ErrOperationPreconditionViolated, err))
		if q := c.queues[ch.Key]; len(q) > 0 && q[0] == ch {
			c.queues[ch.Key] = q[1:]
			if len(c.queues[ch.Key]) == 0 {
				delete(c.queues, ch.Key)
			}
		}
		return
	}
	refreshed, err := jsondiff.ObjectDiff(g.Data, after)
	if err != nil {
		c.bucket.EmitError(err)
		return
	}
	ch.Ops = refreshed
	ch.SourceVersion = g.Version
}

// OnReconnect reverts every Sent change to Pending and refreshes it
// against the current ghost, then resumes sending once READY (§5
// cancellation: "pending changes remain in their queues and resume after
// reconnect").
func (c *Channel) OnReconnect(ctx context.Context) {
	for _, q := range c.queues {
		for _, ch := range q {
			if ch.State == Sent {
				c.stopTimer(ch.CCID)
				c.refreshAgainstGhost(ctx, ch)
				ch.State = Pending
			}
		}
	}
}
