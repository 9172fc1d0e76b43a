// Package ghost implements the per-object ghost record (C2): the local
// copy of the last server-acknowledged {version, data} for each key a
// bucket has seen, keyed exactly as the object's id.
package ghost

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/wezm/node-simperium/internal/jsondiff"
)

// Ghost is the last server-confirmed state of one object.
type Ghost struct {
	Key     string         `json:"key"`
	Version int            `json:"version"`
	Data    jsondiff.Value `json:"data"`
}

// Store is the ghost collaborator interface consumed by internal/channel
// (§6). Implementations need not be safe for concurrent use; callers are
// expected to serialize access on the owning Client's event loop.
type Store interface {
	Get(ctx context.Context, key string) (*Ghost, error)
	Put(ctx context.Context, key string, g *Ghost) error
	Delete(ctx context.Context, key string) error
	EachKey(ctx context.Context, fn func(key string) error) error
}

// Version is a convenience wrapper: 0 if no ghost exists for key.
func Version(ctx context.Context, s Store, key string) (int, error) {
	g, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if g == nil {
		return 0, nil
	}
	return g.Version, nil
}

// Memory is an in-memory Store, the default used by tests and the demo.
type Memory struct {
	mu  sync.Mutex
	ghs map[string]*Ghost
}

func NewMemory() *Memory {
	return &Memory{ghs: make(map[string]*Ghost)}
}

func (m *Memory) Get(ctx context.Context, key string) (*Ghost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.ghs[key]
	if !ok {
		return nil, nil
	}
	cp := *g
	cp.Data = g.Data.Clone()
	return &cp, nil
}

func (m *Memory) Put(ctx context.Context, key string, g *Ghost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	cp.Data = g.Data.Clone()
	m.ghs[key] = &cp
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ghs, key)
	return nil
}

func (m *Memory) EachKey(ctx context.Context, fn func(key string) error) error {
	m.mu.Lock()
	keys := make([]string, 0, len(m.ghs))
	for k := range m.ghs {
		keys = append(keys, k)
	}
	m.mu.Unlock()
	for _, k := range keys {
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

var _ Store = (*Memory)(nil)

// marshalGhost/unmarshalGhost are shared by the bbolt backend to persist a
// Ghost as a JSON blob.
func marshalGhost(g *Ghost) ([]byte, error) {
	return json.Marshal(g)
}

func unmarshalGhost(b []byte) (*Ghost, error) {
	var g Ghost
	if err := json.Unmarshal(b, &g); err != nil {
		return nil, fmt.Errorf("ghost: corrupt record: %w", err)
	}
	return &g, nil
}
