package channel

import (
	"context"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/wezm/node-simperium/internal/ghost"
	"github.com/wezm/node-simperium/internal/jsondiff"
	"github.com/wezm/node-simperium/internal/wire"
)

// fakeSender records the body of every frame a Channel writes, in order;
// the channel index is ignored.
type fakeSender struct {
	frames []string
}

func (s *fakeSender) Send(index int, body string) error {
	s.frames = append(s.frames, body)
	return nil
}

func (s *fakeSender) last() string {
	if len(s.frames) == 0 {
		return ""
	}
	return s.frames[len(s.frames)-1]
}

// fakeHandle is an in-memory channel.BucketHandle double.
type fakeHandle struct {
	store     map[string]jsondiff.Value
	resolver  func(id string, storeValue jsondiff.Value) jsondiff.Value
	updates   []RemoteInfo
	updateIDs []string
	removed   []string
	errors    []error
	indexed   int
	indexing  int
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{store: make(map[string]jsondiff.Value)}
}

func (h *fakeHandle) StoreGet(ctx context.Context, id string) (jsondiff.Value, bool, error) {
	v, ok := h.store[id]
	return v, ok, nil
}

func (h *fakeHandle) StoreWrite(ctx context.Context, id string, data jsondiff.Value, isIndexing bool) error {
	h.store[id] = data
	return nil
}

func (h *fakeHandle) StoreRemove(ctx context.Context, id string) error {
	delete(h.store, id)
	return nil
}

func (h *fakeHandle) BeforeNetworkChange(id string, storeValue jsondiff.Value) jsondiff.Value {
	if h.resolver == nil {
		return storeValue
	}
	resolved := h.resolver(id, storeValue)
	if resolved.Kind == jsondiff.KindNull {
		return storeValue
	}
	return resolved
}

func (h *fakeHandle) EmitIndexing() { h.indexing++ }
func (h *fakeHandle) EmitIndex()    { h.indexed++ }

func (h *fakeHandle) EmitUpdate(id string, data jsondiff.Value, info RemoteInfo) {
	h.store[id] = data
	h.updateIDs = append(h.updateIDs, id)
	h.updates = append(h.updates, info)
}

func (h *fakeHandle) EmitRemove(id string) {
	h.removed = append(h.removed, id)
}

func (h *fakeHandle) EmitError(err error) {
	h.errors = append(h.errors, err)
}

func newTestChannel() (*Channel, *fakeSender, *fakeHandle, ghost.Store) {
	sender := &fakeSender{}
	handle := newFakeHandle()
	ghosts := ghost.NewMemory()
	ch := New(Config{Index: 0, Name: "notes", ClientID: "cl1"}, sender, ghosts, handle)
	ch.state = Ready
	return ch, sender, handle, ghosts
}

// Scenario: create then update (spec §8 scenario 1) - a fresh local object
// produces an ADD diff against the empty ghost, and the server's ack
// commits it into the ghost at the acknowledged version.
func TestChannelCreateThenUpdate(t *testing.T) {
	ctx := context.Background()
	ch, sender, _, ghosts := newTestChannel()

	err := ch.LocalUpdate(ctx, "note1", jsondiff.Object(map[string]jsondiff.Value{
		"content": jsondiff.String("Hi"),
	}))
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(sender.frames))

	q := ch.queues["note1"]
	assert.Equal(t, 1, len(q))
	ccid := q[0].CCID
	assert.Equal(t, Sent, q[0].State)

	ack := wire.ChangePayload{ID: "note1", Op: "M", CCID: ccid, EV: 1}
	ch.applyChangePayload(ctx, ack)

	assert.Equal(t, 0, len(ch.queues["note1"]))
	g, err := ghosts.Get(ctx, "note1")
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, g.Version)
	v, _ := g.Data.Obj["content"]
	assert.Equal(t, "Hi", v.Str)
}

// Scenario: idempotent re-delivery (spec §8 scenario 5) - a change frame
// whose ev is at or below the ghost's already-acknowledged version is
// discarded silently, never double-applied.
func TestChannelIdempotentRedelivery(t *testing.T) {
	ctx := context.Background()
	ch, _, handle, ghosts := newTestChannel()

	ghosts.Put(ctx, "note1", &ghost.Ghost{Key: "note1", Version: 3, Data: jsondiff.Object(map[string]jsondiff.Value{
		"content": jsondiff.String("v3"),
	})})

	stale := wire.ChangePayload{
		ID: "note1", Op: "M", CCID: "unrelated", EV: 2,
		Ops: jsondiff.ObjectOperationSet{"content": jsondiff.Replace(jsondiff.String("should not apply"))},
	}
	ch.applyChangePayload(ctx, stale)

	g, _ := ghosts.Get(ctx, "note1")
	assert.Equal(t, 3, g.Version)
	assert.Equal(t, "v3", g.Data.Obj["content"].Str)
	assert.Equal(t, 0, len(handle.updateIDs))
}

// Scenario: concurrent REPLACE (spec §8 scenario 4) - an upstream REPLACE
// wins over a conflicting local edit of the same key (a DMP text op here,
// since both strings are non-empty) that is still outstanding as Sent (the common case in READY operation, since
// LocalUpdate sends immediately), which is dropped by the transform table
// rather than resent, and its ack timer is cancelled.
func TestChannelConcurrentReplaceUpstreamWins(t *testing.T) {
	ctx := context.Background()
	ch, _, handle, ghosts := newTestChannel()

	ghosts.Put(ctx, "note1", &ghost.Ghost{Key: "note1", Version: 1, Data: jsondiff.Object(map[string]jsondiff.Value{
		"title": jsondiff.String("old"),
	})})

	err := ch.LocalUpdate(ctx, "note1", jsondiff.Object(map[string]jsondiff.Value{
		"title": jsondiff.String("local wins?"),
	}))
	assert.Equal(t, nil, err)
	head := ch.queues["note1"][0]
	assert.Equal(t, Sent, head.State)
	ccid := head.CCID

	sv := 1
	upstream := wire.ChangePayload{
		ID: "note1", Op: "M", CCID: "server-ccid", EV: 2, SV: &sv,
		Ops: jsondiff.ObjectOperationSet{"title": jsondiff.Replace(jsondiff.String("remote wins"))},
	}
	ch.applyChangePayload(ctx, upstream)

	assert.Equal(t, 0, len(ch.queues["note1"]))
	_, stillTiming := ch.timers[ccid]
	assert.Equal(t, false, stillTiming)
	g, _ := ghosts.Get(ctx, "note1")
	assert.Equal(t, "remote wins", g.Data.Obj["title"].Str)
	assert.Equal(t, 1, len(handle.updateIDs))
}

// Scenario: counter commute (spec §8 scenario 3) - a local INCREMENT still
// outstanding as Sent survives a conflicting upstream INCREMENT: it is
// pulled back to Pending, rebased on top of the now-updated ghost, and
// resent with a refreshed source_version rather than mis-applied on ack.
func TestChannelCounterIncrementSurvivesTransform(t *testing.T) {
	ctx := context.Background()
	ch, sender, _, ghosts := newTestChannel()

	ghosts.Put(ctx, "counter1", &ghost.Ghost{Key: "counter1", Version: 1, Data: jsondiff.Object(map[string]jsondiff.Value{
		"count": jsondiff.Number(5),
	})})

	err := ch.LocalUpdate(ctx, "counter1", jsondiff.Object(map[string]jsondiff.Value{
		"count": jsondiff.Number(7), // local +2
	}))
	assert.Equal(t, nil, err)
	assert.Equal(t, Sent, ch.queues["counter1"][0].State)
	originalCCID := ch.queues["counter1"][0].CCID
	originalTimer := ch.timers[originalCCID]

	sv := 1
	upstream := wire.ChangePayload{
		ID: "counter1", Op: "M", CCID: "server-ccid", EV: 2, SV: &sv,
		Ops: jsondiff.ObjectOperationSet{"count": jsondiff.Increment(3)},
	}
	ch.applyChangePayload(ctx, upstream)

	g, _ := ghosts.Get(ctx, "counter1")
	assert.Equal(t, float64(8), g.Data.Obj["count"].Num) // 5 + 3 upstream

	q := ch.queues["counter1"]
	assert.Equal(t, 1, len(q))
	assert.Equal(t, jsondiff.OpIncrement, q[0].Ops["count"].Tag)
	// The rebase stopped the first ack timer; the resend started a fresh
	// one under the same ccid, which the server's ack will carry.
	resendTimer, stillTiming := ch.timers[originalCCID]
	assert.Equal(t, true, stillTiming)
	assert.Equal(t, true, resendTimer != originalTimer)

	// The rebased change was resent (re-reaching Sent) with its
	// source_version refreshed to the new ghost version, against the
	// surviving +2 now applied on top of 8.
	assert.Equal(t, Sent, q[0].State)
	assert.Equal(t, 2, q[0].SourceVersion)

	cmd, rest := wire.Command(sender.last())
	assert.Equal(t, "c", cmd)
	resent, err := wire.ParseChangeFrame(rest)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(resent))
	assert.Equal(t, "counter1", resent[0].ID)
	assert.Equal(t, 2, *resent[0].SV)
	assert.Equal(t, jsondiff.OpIncrement, resent[0].Ops["count"].Tag)
}

// Scenario: version mismatch triggers a full-object resync via "e" before
// the change is applied (spec §4.3 step 2).
func TestChannelVersionMismatchTriggersResync(t *testing.T) {
	ctx := context.Background()
	ch, sender, handle, ghosts := newTestChannel()

	ghosts.Put(ctx, "note1", &ghost.Ghost{Key: "note1", Version: 1, Data: jsondiff.Object(map[string]jsondiff.Value{
		"title": jsondiff.String("v1"),
	})})

	sv := 4 // does not match ghost version 1
	mismatched := wire.ChangePayload{
		ID: "note1", Op: "M", CCID: "server-ccid", EV: 5, SV: &sv,
		Ops: jsondiff.ObjectOperationSet{"title": jsondiff.Replace(jsondiff.String("v5"))},
	}
	ch.applyChangePayload(ctx, mismatched)

	assert.Equal(t, 1, len(sender.frames))
	assert.Equal(t, "e:note1.5", sender.last())
	_, pending := ch.pendingResync["note1"]
	assert.Equal(t, true, pending)

	// The ghost is unchanged until the resync resolves.
	g, _ := ghosts.Get(ctx, "note1")
	assert.Equal(t, 1, g.Version)

	// The server's "e" reply completes the resync: the ghost lands at the
	// fetched version, and the full object reaches the store and the
	// application rather than being discarded by the ev<=ghost.version
	// idempotence check.
	ch.handleEntity(ctx, "note1.5\n{\"title\":\"v5\"}")

	g, _ = ghosts.Get(ctx, "note1")
	assert.Equal(t, 5, g.Version)
	assert.Equal(t, "v5", g.Data.Obj["title"].Str)
	_, stillPending := ch.pendingResync["note1"]
	assert.Equal(t, false, stillPending)

	assert.Equal(t, 1, len(handle.updateIDs))
	assert.Equal(t, "note1", handle.updateIDs[0])
	stored, ok := handle.store["note1"]
	assert.Equal(t, true, ok)
	assert.Equal(t, "v5", stored.Obj["title"].Str)
}

// Scenario: reconnect during send (spec §8 scenario 6) - an unacked Sent
// change reverts to Pending and is refreshed against the ghost on
// reconnect rather than being lost or double-applied.
func TestChannelReconnectRevertsSentToPending(t *testing.T) {
	ctx := context.Background()
	ch, _, _, _ := newTestChannel()

	err := ch.LocalUpdate(ctx, "note1", jsondiff.Object(map[string]jsondiff.Value{
		"title": jsondiff.String("draft"),
	}))
	assert.Equal(t, nil, err)
	assert.Equal(t, Sent, ch.queues["note1"][0].State)

	ch.OnReconnect(ctx)
	assert.Equal(t, Pending, ch.queues["note1"][0].State)

	ch.state = Ready
	ch.flushQueues(ctx)
	assert.Equal(t, Sent, ch.queues["note1"][0].State)
}

// A remote remove clears both ghost and local store state and fires the
// remove event, without requiring any local change to be queued first.
func TestChannelApplyRemoteRemove(t *testing.T) {
	ctx := context.Background()
	ch, _, handle, ghosts := newTestChannel()
	handle.store["note1"] = jsondiff.Object(map[string]jsondiff.Value{"title": jsondiff.String("x")})
	ghosts.Put(ctx, "note1", &ghost.Ghost{Key: "note1", Version: 2, Data: jsondiff.Object(nil)})

	ch.applyChangePayload(ctx, wire.ChangePayload{ID: "note1", Op: "-", CCID: "server-ccid", EV: 3})

	assert.Equal(t, []string{"note1"}, handle.removed)
	_, ok := handle.store["note1"]
	assert.Equal(t, false, ok)
	g, _ := ghosts.Get(ctx, "note1")
	assert.Equal(t, (*ghost.Ghost)(nil), g)
}
