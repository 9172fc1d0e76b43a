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

// handleEntity resolves an inbound "e" frame: either the reply to a
// version-mismatch resync (§4.3 step 2) or to a getRevisions fetch (§9).
func (c *Channel) handleEntity(ctx context.Context, body string) {
	resp, err := wire.ParseEntityFrame(body)
	if err != nil {
		c.log.Error().Err(err).Msg("malformed entity frame")
		c.bucket.EmitError(fmt.Errorf("%w: %v", syncerr.ErrProtocol, err))
		return
	}

	if waiters := c.revisionWaiters[resp.ID]; len(waiters) > 0 {
		waiters[0] <- resp
		close(waiters[0])
		c.revisionWaiters[resp.ID] = waiters[1:]
		if len(c.revisionWaiters[resp.ID]) == 0 {
			delete(c.revisionWaiters, resp.ID)
		}
		return
	}

	pending, ok := c.pendingResync[resp.ID]
	if !ok {
		return
	}
	delete(c.pendingResync, resp.ID)

	var native interface{}
	if err := json.Unmarshal(resp.Data, &native); err != nil {
		c.bucket.EmitError(fmt.Errorf("%w: %v", syncerr.ErrProtocol, err))
		return
	}
	data := jsondiff.FromNative(native)
	g := &ghost.Ghost{Key: resp.ID, Version: resp.Version, Data: data}
	if err := c.ghosts.Put(ctx, resp.ID, g); err != nil {
		c.bucket.EmitError(fmt.Errorf("%w: %v", syncerr.ErrStore, err))
		return
	}

	// The fetched object already reflects the change that triggered the
	// resync, so write it straight to the store and notify the
	// application; re-entering applyChangePayload would hit its own
	// ev<=ghost.version idempotence check (now always true) and discard
	// silently, leaving the store and listeners stale.
	storeValue, _, err := c.bucket.StoreGet(ctx, resp.ID)
	if err != nil {
		c.bucket.EmitError(fmt.Errorf("%w: %v", syncerr.ErrStore, err))
		return
	}
	local := c.bucket.BeforeNetworkChange(resp.ID, storeValue)
	if err := c.bucket.StoreWrite(ctx, resp.ID, data, false); err != nil {
		c.bucket.EmitError(fmt.Errorf("%w: %v", syncerr.ErrStore, err))
		return
	}
	c.bucket.EmitUpdate(resp.ID, data, RemoteInfo{Original: local, Patch: pending.Ops, IsIndexing: false})
	c.trySend(ctx, resp.ID)
}

// GetVersion returns the locally known ghost version for id (0 if the
// object has never been acknowledged by the server).
func (c *Channel) GetVersion(ctx context.Context, id string) (int, error) {
	return ghost.Version(ctx, c.ghosts, id)
}

// BeginGetRevisions issues a fetch for every historical version of id from
// floor up to (but not including) its current ghost version, oldest
// first (§9 supplemented feature: the natural reading of "revisions"
// given the wire protocol's only history primitive, repeated "e:id.v"
// fetches). It returns immediately with one response channel per version
// requested, in order; the caller (expected to run on a goroutine other
// than the Channel's owning event loop, per §5's single-loop-owns-state
// model) receives from each to collect the results without blocking the
// loop that must deliver them.
func (c *Channel) BeginGetRevisions(ctx context.Context, id string, floor int) ([]<-chan wire.EntityResponse, error) {
	g, err := c.ghosts.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", syncerr.ErrStore, err)
	}
	if g == nil || g.Version <= floor {
		return nil, nil
	}
	chans := make([]<-chan wire.EntityResponse, 0, g.Version-floor)
	for v := floor; v < g.Version; v++ {
		ch := make(chan wire.EntityResponse, 1)
		c.revisionWaiters[id] = append(c.revisionWaiters[id], ch)
		chans = append(chans, ch)
		c.send(wire.EntityRequest(id, v))
	}
	return chans, nil
}

// DecodeRevision is a small helper for the caller side of
// BeginGetRevisions: decode one EntityResponse's JSON body into a Value.
func DecodeRevision(resp wire.EntityResponse) (jsondiff.Value, error) {
	var native interface{}
	if err := json.Unmarshal(resp.Data, &native); err != nil {
		return jsondiff.Value{}, fmt.Errorf("%w: %v", syncerr.ErrProtocol, err)
	}
	return jsondiff.FromNative(native), nil
}

// Touch sends a no-op change to bump the object's change-version /
// liveness without mutating its data (§9 supplemented feature).
func (c *Channel) Touch(ctx context.Context, id string) error {
	g, err := c.ghostOrEmpty(ctx, id)
	if err != nil {
		return err
	}
	c.enqueue(&Change{
		CCID:          newCCID(),
		Key:           id,
		SourceVersion: g.Version,
		Ops:           jsondiff.ObjectOperationSet{},
		State:         Pending,
	})
	c.trySend(ctx, id)
	return nil
}
