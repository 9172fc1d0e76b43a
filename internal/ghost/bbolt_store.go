package ghost

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"
)

var bucketName = []byte("ghosts")

// BboltStore persists ghosts to a local bbolt file, so a client retains
// ghost/version state across process restarts instead of re-indexing every
// bucket on every launch.
type BboltStore struct {
	db *bbolt.DB
}

// OpenBbolt opens (creating if absent) a bbolt-backed Store at path.
func OpenBbolt(path string) (*BboltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("ghost: open bbolt store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ghost: init bbolt bucket: %w", err)
	}
	return &BboltStore{db: db}, nil
}

func (s *BboltStore) Close() error { return s.db.Close() }

func (s *BboltStore) Get(ctx context.Context, key string) (*Ghost, error) {
	var g *Ghost
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v == nil {
			return nil
		}
		decoded, err := unmarshalGhost(v)
		if err != nil {
			return err
		}
		g = decoded
		return nil
	})
	return g, err
}

func (s *BboltStore) Put(ctx context.Context, key string, g *Ghost) error {
	b, err := marshalGhost(g)
	if err != nil {
		return fmt.Errorf("ghost: encode: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), b)
	})
}

func (s *BboltStore) Delete(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
}

func (s *BboltStore) EachKey(ctx context.Context, fn func(key string) error) error {
	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

var _ Store = (*BboltStore)(nil)
