package bucket

import (
	"github.com/wezm/node-simperium/internal/channel"
	"github.com/wezm/node-simperium/internal/events"
	"github.com/wezm/node-simperium/internal/jsondiff"
)

// UpdateEvent is the payload of the "update" event (§4.4).
type UpdateEvent struct {
	ID     string
	Data   jsondiff.Value
	Remote channel.RemoteInfo
}

// Events groups a Bucket's public event buses: index, indexing, update,
// remove, error (§4.4), one typed Bus per kind (Design Note 9.1).
type Events struct {
	Index    events.Bus[struct{}]
	Indexing events.Bus[struct{}]
	Update   events.Bus[UpdateEvent]
	Remove   events.Bus[string]
	Error    events.Bus[error]
}
