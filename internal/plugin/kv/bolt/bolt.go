// Package bolt provides a single-node KeyValueStore persisted in a BoltDB file.
// Expiry is lazy: expired keys read as absent and are purged by Sweep.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-identity/internal/config"
	registrykv "github.com/chirino/conversation-identity/internal/registry/kv"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("kv")

func init() {
	registrykv.Register(registrykv.Plugin{
		Name: "bolt",
		Loader: func(ctx context.Context) (registrykv.KeyValueStore, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.BoltPath == "" {
				return nil, fmt.Errorf("bolt kv: CONVERSATION_IDENTITY_BOLT_PATH is required")
			}
			return Open(cfg.BoltPath)
		},
	})
}

type record struct {
	Value     string `json:"v"`
	ExpiresAt int64  `json:"exp,omitempty"` // unix nanos, 0 = forever
}

// Store is a KeyValueStore over one bolt bucket.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens (creating if needed) the bolt file at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("bolt kv: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt kv: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt kv: create bucket: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	var (
		rec   record
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketName).Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			// Skip malformed entries instead of failing the read
			log.Warn("bolt kv: skipping malformed record", "key", key, "err", err)
			return nil
		}
		found = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	if !found || rec.expired(s.now()) {
		return "", false, nil
	}
	return rec.Value, true, nil
}

func (s *Store) Put(_ context.Context, key string, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return registrykv.ErrInvalidTTL
	}
	return s.put(key, record{Value: value, ExpiresAt: s.now().Add(ttl).UnixNano()})
}

func (s *Store) PutForever(_ context.Context, key string, value string) error {
	return s.put(key, record{Value: value})
}

func (s *Store) put(key string, rec record) error {
	enc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), enc)
	})
}

func (s *Store) Forget(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
}

// Sweep deletes every record expired at now, plus records that no longer decode.
func (s *Store) Sweep(_ context.Context, now time.Time) (int, error) {
	var dead [][]byte
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if err := b.ForEach(func(k, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil || rec.expired(now) {
				dead = append(dead, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range dead {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(dead), nil
}

func (r record) expired(now time.Time) bool {
	return r.ExpiresAt != 0 && now.UnixNano() >= r.ExpiresAt
}

var (
	_ registrykv.KeyValueStore = (*Store)(nil)
	_ registrykv.Sweeper       = (*Store)(nil)
)
