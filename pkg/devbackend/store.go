package devbackend

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ConfigTTL is how long a tenant config lives in redis after its last
// update.
const ConfigTTL = 30 * 24 * time.Hour

var ErrNotFound = errors.New("tenant not found")

// Store persists tenant configs.
type Store interface {
	Get(ctx context.Context, clientID string) (TenantConfig, error)
	Put(ctx context.Context, cfg TenantConfig) error
	Close() error
}

type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]TenantConfig
}

func NewMemoryStore(seed ...TenantConfig) *MemoryStore {
	s := &MemoryStore{tenants: map[string]TenantConfig{}}
	for _, cfg := range seed {
		s.tenants[cfg.ClientID] = cfg
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, clientID string) (TenantConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.tenants[clientID]
	if !ok {
		return TenantConfig{}, ErrNotFound
	}
	return cfg, nil
}

func (s *MemoryStore) Put(_ context.Context, cfg TenantConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.tenants[cfg.ClientID] = cfg
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// RedisStore keeps each tenant under client:{id}:config.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, ttl: ConfigTTL}
}

func redisKey(clientID string) string {
	return "client:" + clientID + ":config"
}

func (s *RedisStore) Get(ctx context.Context, clientID string) (TenantConfig, error) {
	raw, err := s.client.Get(ctx, redisKey(clientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return TenantConfig{}, ErrNotFound
	}
	if err != nil {
		return TenantConfig{}, errors.Wrap(err, "redis get tenant config")
	}
	var cfg TenantConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return TenantConfig{}, errors.Wrapf(err, "decode stored config of %s", clientID)
	}
	return cfg, nil
}

func (s *RedisStore) Put(ctx context.Context, cfg TenantConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encode tenant config")
	}
	return errors.Wrap(s.client.Set(ctx, redisKey(cfg.ClientID), raw, s.ttl).Err(), "redis set tenant config")
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
