package bucket

import (
	"context"

	"github.com/wezm/node-simperium/internal/channel"
	"github.com/wezm/node-simperium/internal/jsondiff"
	"github.com/wezm/node-simperium/internal/wire"
)

// GetRevisions fetches historical versions of id from floor up to (but not
// including) its current version, oldest first (§4.4, §9 supplemented
// feature). The fetch requests are issued on the client's event loop;
// this method then blocks the calling goroutine, not the loop, waiting
// for each "e" reply to arrive via ordinary frame dispatch.
func (b *Bucket) GetRevisions(ctx context.Context, id string, floor int) ([]jsondiff.Value, error) {
	var waiters []<-chan wire.EntityResponse
	var beginErr error
	b.onLoop(ctx, func(ctx context.Context) {
		waiters, beginErr = b.ch.BeginGetRevisions(ctx, id, floor)
	})
	if beginErr != nil {
		return nil, beginErr
	}

	out := make([]jsondiff.Value, 0, len(waiters))
	for _, w := range waiters {
		select {
		case resp, ok := <-w:
			if !ok {
				continue
			}
			v, err := channel.DecodeRevision(resp)
			if err != nil {
				return out, err
			}
			out = append(out, v)
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
	return out, nil
}
