package bucketstore

import (
	"context"
	"fmt"

	"github.com/wezm/node-simperium/internal/jsondiff"
	"go.etcd.io/bbolt"
)

// BboltStore persists bucket object records to a local bbolt file, one
// bucket-per-table keyed by bucket name, mirroring ghost.BboltStore.
type BboltStore struct {
	db         *bbolt.DB
	bucketName []byte
}

// OpenBbolt opens (creating if absent) a bbolt-backed Store at path, using
// a dedicated table for bucketName so multiple buckets can share one file.
func OpenBbolt(path, bucketName string) (*BboltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("bucketstore: open bbolt store: %w", err)
	}
	name := []byte("objects:" + bucketName)
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(name)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bucketstore: init bbolt bucket: %w", err)
	}
	return &BboltStore{db: db, bucketName: name}, nil
}

func (s *BboltStore) Close() error { return s.db.Close() }

func (s *BboltStore) Get(ctx context.Context, id string) (*Record, error) {
	var r *Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(s.bucketName).Get([]byte(id))
		if v == nil {
			return nil
		}
		decoded, err := unmarshalRecord(v)
		if err != nil {
			return err
		}
		r = decoded
		return nil
	})
	return r, err
}

func (s *BboltStore) Update(ctx context.Context, id string, data jsondiff.Value, isIndexing bool) (*Record, error) {
	r := &Record{ID: id, Data: data.Clone(), IsIndexing: isIndexing}
	b, err := marshalRecord(r)
	if err != nil {
		return nil, fmt.Errorf("bucketstore: encode: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucketName).Put([]byte(id), b)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *BboltStore) Remove(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucketName).Delete([]byte(id))
	})
}

func (s *BboltStore) Find(ctx context.Context, query interface{}) ([]Record, error) {
	pred, _ := query.(func(Record) bool)
	var out []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucketName).ForEach(func(k, v []byte) error {
			r, err := unmarshalRecord(v)
			if err != nil {
				return err
			}
			if pred == nil || pred(*r) {
				out = append(out, *r)
			}
			return nil
		})
	})
	return out, err
}

var _ Store = (*BboltStore)(nil)
