// Package bucketstore implements the external local object store (§6): a
// key->(data, isIndexing) mapping, out of scope for correctness per spec.md
// §1 but needed as a concrete collaborator for internal/bucket and
// internal/channel to exercise.
package bucketstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/wezm/node-simperium/internal/jsondiff"
)

// Record is one stored BucketObject as the local store sees it.
type Record struct {
	ID         string         `json:"id"`
	Data       jsondiff.Value `json:"data"`
	IsIndexing bool           `json:"isIndexing"`
}

// Store is the BucketStore collaborator interface (§6). find's query shape
// is intentionally opaque (§1 Non-goals: no offline query engine); it is
// passed through to Find verbatim.
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	Update(ctx context.Context, id string, data jsondiff.Value, isIndexing bool) (*Record, error)
	Remove(ctx context.Context, id string) error
	Find(ctx context.Context, query interface{}) ([]Record, error)
}

// Memory is an in-memory Store with a naive linear Find: it evaluates query
// as a func(Record) bool predicate when one is supplied, and otherwise
// returns every record, matching the "opaque pass-through" contract of §1.
type Memory struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]*Record)}
}

func (m *Memory) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	cp.Data = r.Data.Clone()
	return &cp, nil
}

func (m *Memory) Update(ctx context.Context, id string, data jsondiff.Value, isIndexing bool) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &Record{ID: id, Data: data.Clone(), IsIndexing: isIndexing}
	m.records[id] = r
	cp := *r
	cp.Data = r.Data.Clone()
	return &cp, nil
}

func (m *Memory) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *Memory) Find(ctx context.Context, query interface{}) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pred, _ := query.(func(Record) bool)
	var out []Record
	for _, r := range m.records {
		cp := *r
		cp.Data = r.Data.Clone()
		if pred == nil || pred(cp) {
			out = append(out, cp)
		}
	}
	return out, nil
}

var _ Store = (*Memory)(nil)

func marshalRecord(r *Record) ([]byte, error) { return json.Marshal(r) }

func unmarshalRecord(b []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("bucketstore: corrupt record: %w", err)
	}
	return &r, nil
}
