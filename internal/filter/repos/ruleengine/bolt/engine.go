// Package bolt stores the dynamic rules of the host engine in bbolt. Rules
// are keyed by big-endian id so a cursor walk returns them in id order, and
// UpdateRules applies its removals and additions in one transaction.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/rr-filter/internal/filter/common/clock"
	"github.com/haukened/rr-filter/internal/filter/domain"
)

var (
	bucketRules = []byte("rules")
	bucketMeta  = []byte("meta")
	keyUpdated  = []byte("updated")
	keyCount    = []byte("count")
)

// ErrRuleLimit is returned when an update would exceed the rule ceiling.
var ErrRuleLimit = errors.New("rule engine capacity exceeded")

// Engine is a bbolt-backed rule engine.
type Engine struct {
	db       *bbolt.DB
	maxRules int
	clock    clock.Clock
}

// New opens (or creates) the rule database at path. maxRules <= 0 uses
// domain.MaxRulesCount.
func New(path string, maxRules int) (*Engine, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		rules, err := tx.CreateBucketIfNotExists(bucketRules)
		if err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if meta.Get(keyCount) != nil {
			return nil
		}
		n := 0
		if err := rules.ForEach(func(_, _ []byte) error { n++; return nil }); err != nil {
			return err
		}
		return meta.Put(keyCount, u64(uint64(n)))
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	if maxRules <= 0 {
		maxRules = domain.MaxRulesCount
	}
	return &Engine{db: db, maxRules: maxRules, clock: clock.RealClock{}}, nil
}

func (e *Engine) Close() error { return e.db.Close() }

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func idKey(id int) []byte { return u64(uint64(id)) }

// ActiveRules returns every stored rule ordered by id.
func (e *Engine) ActiveRules(_ context.Context) ([]domain.CompiledRule, error) {
	var out []domain.CompiledRule
	err := e.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRules).ForEach(func(_, v []byte) error {
			var r domain.CompiledRule
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decoding stored rule: %w", err)
			}
			out = append(out, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateRules removes removeIDs and then adds add, atomically. Adding an id
// that is still present after the removals fails the whole update.
func (e *Engine) UpdateRules(ctx context.Context, removeIDs []int, add []domain.CompiledRule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRules)
		meta := tx.Bucket(bucketMeta)
		n := int(binary.BigEndian.Uint64(meta.Get(keyCount)))
		for _, id := range removeIDs {
			k := idKey(id)
			if b.Get(k) == nil {
				continue
			}
			if err := b.Delete(k); err != nil {
				return err
			}
			n--
		}
		for _, r := range add {
			if r.ID < 1 || r.ID > domain.MaxRuleID {
				return fmt.Errorf("rule id %d out of bounds", r.ID)
			}
			k := idKey(r.ID)
			if b.Get(k) != nil {
				return fmt.Errorf("rule id %d already active", r.ID)
			}
			v, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := b.Put(k, v); err != nil {
				return err
			}
			n++
		}
		if n > e.maxRules {
			return fmt.Errorf("%w: %d rules, limit %d", ErrRuleLimit, n, e.maxRules)
		}
		if err := meta.Put(keyCount, u64(uint64(n))); err != nil {
			return err
		}
		return meta.Put(keyUpdated, u64(uint64(e.clock.Now().Unix())))
	})
}

// Stats reports the number of stored rules and the last update time.
func (e *Engine) Stats() (count int, updated time.Time) {
	_ = e.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if v := meta.Get(keyCount); len(v) == 8 {
			count = int(binary.BigEndian.Uint64(v))
		}
		if v := meta.Get(keyUpdated); len(v) == 8 {
			updated = time.Unix(int64(binary.BigEndian.Uint64(v)), 0)
		}
		return nil
	})
	return count, updated
}
