// Package bolt is the bbolt-backed kv.Store. A key "ns/name" lives in bucket
// "ns" under "name"; keys without a namespace use the default bucket.
package bolt

import (
	"context"
	"fmt"
	"strings"
	"time"

	bbolt "go.etcd.io/bbolt"
	"go.uber.org/multierr"

	"github.com/haukened/rr-filter/internal/filter/repos/kv"
)

var bucketDefault = []byte("default")

type boltStore struct {
	db *bbolt.DB
}

// New opens (or creates) a Bolt database at path.
func New(path string) (kv.Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDefault)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db}, nil
}

// split maps a key to its bucket and in-bucket name.
func split(key string) ([]byte, []byte, error) {
	ns, name, found := strings.Cut(key, "/")
	if !found {
		ns, name = "", key
	}
	if name == "" {
		return nil, nil, fmt.Errorf("%w: %q", kv.ErrInvalidKey, key)
	}
	if ns == "" {
		return bucketDefault, []byte(name), nil
	}
	return []byte(ns), []byte(name), nil
}

func (s *boltStore) Close() error { return s.db.Close() }

func (s *boltStore) Get(_ context.Context, key string) ([]byte, error) {
	bucket, name, err := split(key)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return kv.ErrNotFound
		}
		v := b.Get(name)
		if v == nil {
			return kv.ErrNotFound
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	return out, err
}

func (s *boltStore) Set(ctx context.Context, key string, value []byte) error {
	return s.SetMany(ctx, map[string][]byte{key: value})
}

func (s *boltStore) Remove(ctx context.Context, key string) error {
	return s.RemoveMany(ctx, []string{key})
}

func (s *boltStore) GetMany(_ context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	err := s.db.View(func(tx *bbolt.Tx) error {
		for _, k := range keys {
			bucket, name, err := split(k)
			if err != nil {
				return err
			}
			b := tx.Bucket(bucket)
			if b == nil {
				continue
			}
			if v := b.Get(name); v != nil {
				cp := make([]byte, len(v))
				copy(cp, v)
				out[k] = cp
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetMany writes every entry in one transaction; either all land or none.
func (s *boltStore) SetMany(_ context.Context, entries map[string][]byte) error {
	var invalid error
	for k := range entries {
		if _, _, err := split(k); err != nil {
			invalid = multierr.Append(invalid, err)
		}
	}
	if invalid != nil {
		return invalid
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		for k, v := range entries {
			bucket, name, _ := split(k)
			b, err := tx.CreateBucketIfNotExists(bucket)
			if err != nil {
				return err
			}
			if err := b.Put(name, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveMany deletes every key in one transaction. Absent keys are ignored.
func (s *boltStore) RemoveMany(_ context.Context, keys []string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, k := range keys {
			bucket, name, err := split(k)
			if err != nil {
				return err
			}
			b := tx.Bucket(bucket)
			if b == nil {
				continue
			}
			if err := b.Delete(name); err != nil {
				return err
			}
		}
		return nil
	})
}
