package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pauseguard/pauseguard/internal/core"
)

// Store persists the journal history as a single JSON array.
type Store interface {
	Load(ctx context.Context) ([]core.ThreatEvent, error)
	Save(ctx context.Context, events []core.ThreatEvent) error
	Clear(ctx context.Context) error
	Close() error
}

// OpenStore returns the store selected by cfg.Store, or nil for "none".
func OpenStore(cfg core.JournalConfig) (Store, error) {
	switch cfg.Store {
	case "", "file":
		return NewFileStore(cfg.Path), nil
	case "redis":
		rs, err := NewRedisStore(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.RedisKey)
		if err != nil {
			return nil, err
		}
		return rs, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown journal store %q", cfg.Store)
	}
}

func decodeEvents(data []byte) ([]core.ThreatEvent, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding journal: %w", err)
	}
	out := make([]core.ThreatEvent, 0, len(raw))
	for _, r := range raw {
		ev, err := core.UnmarshalThreatEvent(r)
		if err != nil || ev.ID == "" {
			// Skip corrupt entries rather than losing the whole history.
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// ─── File ───────────────────────────────────────────────────────────────────

// FileStore keeps the journal in a JSON file, replaced atomically on save.
type FileStore struct {
	path string
}

// NewFileStore creates a store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(_ context.Context) ([]core.ThreatEvent, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading journal file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return decodeEvents(data)
}

func (s *FileStore) Save(_ context.Context, events []core.ThreatEvent) error {
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshaling journal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating journal dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing journal file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing journal file: %w", err)
	}
	return nil
}

func (s *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

// ─── Redis ──────────────────────────────────────────────────────────────────

// RedisStore keeps the journal under one Redis key holding a JSON array.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int, key string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStoreWithClient(client, key), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = "pauseguard:journal"
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) ([]core.ThreatEvent, error) {
	val, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading journal key: %w", err)
	}
	return decodeEvents(val)
}

func (s *RedisStore) Save(ctx context.Context, events []core.ThreatEvent) error {
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshaling journal: %w", err)
	}
	return s.client.Set(ctx, s.key, data, 0).Err()
}

func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
