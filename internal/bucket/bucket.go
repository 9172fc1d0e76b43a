// Package bucket implements the application-facing facade (C4): a local
// store plus one Channel, emitting lifecycle events (spec §4.4).
package bucket

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/wezm/node-simperium/internal/bucketstore"
	"github.com/wezm/node-simperium/internal/channel"
	"github.com/wezm/node-simperium/internal/client"
	"github.com/wezm/node-simperium/internal/ghost"
	"github.com/wezm/node-simperium/internal/jsondiff"
	"github.com/wezm/node-simperium/internal/syncerr"
)

// Resolver is the application hook installed via SetBeforeNetworkChange
// (§4.4): invoked before each inbound change, it returns the local-known
// value to present as RemoteInfo.Original. The zero Value signals "defer
// to the store's own value".
type Resolver func(id string, storeValue jsondiff.Value) jsondiff.Value

// Bucket is a named collection of JSON objects, backed by a local
// bucketstore.Store and synchronized through one channel.Channel.
type Bucket struct {
	name     string
	store    bucketstore.Store
	loop     *client.Client
	ch       *channel.Channel
	resolver Resolver

	Events Events
}

// Open registers a new channel on cli for bucket name and returns the
// Bucket facade over store. cfg supplies AppID/Token and the tuning
// fields; Open sets its Name and Index, and overwrites ClientID/Library/
// Version with cli's Identity().
func Open(name string, store bucketstore.Store, ghosts ghost.Store, cli *client.Client, cfg channel.Config) *Bucket {
	b := &Bucket{name: name, store: store, loop: cli}
	cfg.Name = name
	cfg.ClientID, cfg.Library, cfg.Version = cli.Identity()
	ch, _ := cli.RegisterChannel(name, func(index int) *channel.Channel {
		cfg.Index = index
		return channel.New(cfg, cli, ghosts, b)
	})
	b.ch = ch
	return b
}

// SetBeforeNetworkChange installs resolver, replacing any previously
// installed one (§4.4).
func (b *Bucket) SetBeforeNetworkChange(resolver Resolver) {
	b.resolver = resolver
}

// Add allocates a fresh id and stores data under it, forwarding to the
// channel for sync (§4.4).
func (b *Bucket) Add(ctx context.Context, data jsondiff.Value) (string, jsondiff.Value, error) {
	id := uuid.NewString()
	if err := b.Update(ctx, id, data, true); err != nil {
		return "", jsondiff.Value{}, err
	}
	return id, data, nil
}

// Get returns the locally stored record for id, or nil if absent.
func (b *Bucket) Get(ctx context.Context, id string) (*bucketstore.Record, error) {
	r, err := b.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", syncerr.ErrStore, err)
	}
	return r, nil
}

// Update writes data to the local store and, if sync, forwards a diff to
// the channel for submission to the server (§4.4).
func (b *Bucket) Update(ctx context.Context, id string, data jsondiff.Value, sync bool) error {
	if !data.IsObject() {
		return fmt.Errorf("%w: bucket object data must be a mapping", syncerr.ErrMalformedOperation)
	}
	if _, err := b.store.Update(ctx, id, data, false); err != nil {
		return fmt.Errorf("%w: %v", syncerr.ErrStore, err)
	}
	b.Events.Update.Publish(UpdateEvent{ID: id, Data: data})
	if sync {
		b.onLoop(ctx, func(ctx context.Context) {
			if err := b.ch.LocalUpdate(ctx, id, data); err != nil {
				b.Events.Error.Publish(err)
			}
		})
	}
	return nil
}

// Remove deletes id from the local store and forwards the removal to the
// channel (§4.4).
func (b *Bucket) Remove(ctx context.Context, id string) error {
	if err := b.store.Remove(ctx, id); err != nil {
		return fmt.Errorf("%w: %v", syncerr.ErrStore, err)
	}
	b.Events.Remove.Publish(id)
	b.onLoop(ctx, func(ctx context.Context) {
		if err := b.ch.LocalRemove(ctx, id); err != nil {
			b.Events.Error.Publish(err)
		}
	})
	return nil
}

// Find is an opaque pass-through to the store (§1 Non-goals: no offline
// query engine).
func (b *Bucket) Find(ctx context.Context, query interface{}) ([]bucketstore.Record, error) {
	recs, err := b.store.Find(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", syncerr.ErrStore, err)
	}
	return recs, nil
}

// GetVersion pass-through to the channel (§4.4).
func (b *Bucket) GetVersion(ctx context.Context, id string) (int, error) {
	var version int
	var err error
	b.onLoop(ctx, func(ctx context.Context) {
		version, err = b.ch.GetVersion(ctx, id)
	})
	return version, err
}

// Touch pass-through to the channel (§4.4, §9 supplemented feature).
func (b *Bucket) Touch(ctx context.Context, id string) error {
	var err error
	b.onLoop(ctx, func(ctx context.Context) {
		err = b.ch.Touch(ctx, id)
	})
	return err
}

// Reload pass-through to the channel (§4.4, §9 supplemented feature).
func (b *Bucket) Reload(ctx context.Context) error {
	b.onLoop(ctx, func(ctx context.Context) {
		b.ch.Reload(ctx)
	})
	return nil
}

// onLoop submits fn to the client's event loop and blocks the calling
// goroutine (never the loop itself) until it runs, or ctx is done.
func (b *Bucket) onLoop(ctx context.Context, fn func(ctx context.Context)) {
	done := make(chan struct{})
	b.loop.Submit(func(loopCtx context.Context) {
		fn(loopCtx)
		close(done)
	})
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// --- channel.BucketHandle ---

func (b *Bucket) StoreGet(ctx context.Context, id string) (jsondiff.Value, bool, error) {
	r, err := b.store.Get(ctx, id)
	if err != nil {
		return jsondiff.Value{}, false, err
	}
	if r == nil {
		return jsondiff.Value{}, false, nil
	}
	return r.Data, true, nil
}

func (b *Bucket) StoreWrite(ctx context.Context, id string, data jsondiff.Value, isIndexing bool) error {
	_, err := b.store.Update(ctx, id, data, isIndexing)
	return err
}

func (b *Bucket) StoreRemove(ctx context.Context, id string) error {
	return b.store.Remove(ctx, id)
}

// BeforeNetworkChange calls the installed resolver, if any. A resolver
// returning KindNull defers to the store's own value, matching §4.4's
// "its return value (or the store's value if it returns null)".
func (b *Bucket) BeforeNetworkChange(id string, storeValue jsondiff.Value) jsondiff.Value {
	if b.resolver == nil {
		return storeValue
	}
	resolved := b.resolver(id, storeValue)
	if resolved.Kind == jsondiff.KindNull {
		return storeValue
	}
	return resolved
}

func (b *Bucket) EmitIndexing() { b.Events.Indexing.Publish(struct{}{}) }
func (b *Bucket) EmitIndex()    { b.Events.Index.Publish(struct{}{}) }

func (b *Bucket) EmitUpdate(id string, data jsondiff.Value, info channel.RemoteInfo) {
	b.Events.Update.Publish(UpdateEvent{ID: id, Data: data, Remote: info})
}

func (b *Bucket) EmitRemove(id string) {
	b.Events.Remove.Publish(id)
}

func (b *Bucket) EmitError(err error) {
	b.Events.Error.Publish(err)
}

var _ channel.BucketHandle = (*Bucket)(nil)
