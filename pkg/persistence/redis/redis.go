// Package redis implements pkg/persistence.IPersistence on top of Redis,
// a shared store suitable for an aggregator-side deployment where
// several signer-facing processes need a consistent view of
// registration rounds and checkpoints.
package redis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cardano-stm/mithril-core/pkg/persistence"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Key prefixes for namespacing in Redis.
const (
	keyPrefixRound       = "mithril:round:"
	keyCheckpoint        = "mithril:checkpoint:main"
	keySchemaVersion     = "mithril:metadata:schema_version"
	currentSchemaVersion = "v1"

	// keySetRounds indexes round keys since Redis has no native prefix
	// iteration.
	keySetRounds = "mithril:rounds:index"
)

// RedisPersistence is a production-ready persistence implementation using Redis.
// Provides durable, distributed storage suitable for cloud-native deployments.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

var _ persistence.IPersistence = (*RedisPersistence)(nil)

// RedisConfig holds the configuration for connecting to Redis.
type RedisConfig struct {
	Address string
	Password string
	DB      int
	// KeyPrefix is an optional custom prefix for all keys (for
	// multi-tenant setups), prepended ahead of the "mithril:" namespace.
	KeyPrefix string
}

// NewRedisPersistence creates a new Redis-backed persistence layer.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("redis persistence initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)
	return rp, nil
}

func (r *RedisPersistence) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}
	return nil
}

// SaveRegistrationRound persists a closed registration round.
func (r *RedisPersistence) SaveRegistrationRound(round *persistence.RegistrationRound) error {
	if round == nil {
		return fmt.Errorf("cannot save nil RegistrationRound")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	data, err := persistence.MarshalRegistrationRound(round)
	if err != nil {
		return fmt.Errorf("failed to marshal RegistrationRound: %w", err)
	}

	key := r.prefixKey(fmt.Sprintf("%s%d", keyPrefixRound, round.Epoch))
	indexKey := r.prefixKey(keySetRounds)

	pipe := r.client.Pipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.SAdd(ctx, indexKey, round.Epoch)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save RegistrationRound: %w", err)
	}
	return nil
}

// LoadRegistrationRound retrieves a registration round by epoch.
func (r *RedisPersistence) LoadRegistrationRound(epoch uint64) (*persistence.RegistrationRound, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	key := r.prefixKey(fmt.Sprintf("%s%d", keyPrefixRound, epoch))

	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load RegistrationRound: %w", err)
	}

	round, err := persistence.UnmarshalRegistrationRound(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal RegistrationRound: %w", err)
	}
	return round, nil
}

// ListRegistrationRounds returns every persisted round sorted by epoch ascending.
func (r *RedisPersistence) ListRegistrationRounds() ([]*persistence.RegistrationRound, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	indexKey := r.prefixKey(keySetRounds)

	epochs, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list RegistrationRound epochs: %w", err)
	}
	if len(epochs) == 0 {
		return []*persistence.RegistrationRound{}, nil
	}

	keys := make([]string, len(epochs))
	for i, epoch := range epochs {
		keys[i] = r.prefixKey(fmt.Sprintf("%s%s", keyPrefixRound, epoch))
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch RegistrationRounds: %w", err)
	}

	var rounds []*persistence.RegistrationRound
	for i, val := range values {
		if val == nil {
			r.client.SRem(ctx, indexKey, epochs[i])
			continue
		}
		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("unexpected value type for RegistrationRound", "key", keys[i])
			continue
		}
		round, err := persistence.UnmarshalRegistrationRound([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("failed to unmarshal RegistrationRound, skipping",
				"key", keys[i], "error", err)
			continue
		}
		rounds = append(rounds, round)
	}

	sort.Slice(rounds, func(i, j int) bool { return rounds[i].Epoch < rounds[j].Epoch })
	return rounds, nil
}

// DeleteRegistrationRound removes a registration round by epoch.
func (r *RedisPersistence) DeleteRegistrationRound(epoch uint64) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	key := r.prefixKey(fmt.Sprintf("%s%d", keyPrefixRound, epoch))
	indexKey := r.prefixKey(keySetRounds)

	pipe := r.client.Pipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, indexKey, epoch)
	_, err := pipe.Exec(ctx)
	return err
}

// SaveCheckpoint persists the state machine's current checkpoint.
func (r *RedisPersistence) SaveCheckpoint(checkpoint *persistence.SignerCheckpoint) error {
	if checkpoint == nil {
		return fmt.Errorf("cannot save nil SignerCheckpoint")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	key := r.prefixKey(keyCheckpoint)

	data, err := persistence.MarshalCheckpoint(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal SignerCheckpoint: %w", err)
	}
	return r.client.Set(ctx, key, data, 0).Err()
}

// LoadCheckpoint retrieves the last saved checkpoint.
func (r *RedisPersistence) LoadCheckpoint() (*persistence.SignerCheckpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	key := r.prefixKey(keyCheckpoint)

	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load SignerCheckpoint: %w", err)
	}

	checkpoint, err := persistence.UnmarshalCheckpoint(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal SignerCheckpoint: %w", err)
	}
	return checkpoint, nil
}

// Close shuts down the persistence layer.
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}
	r.logger.Sugar().Info("redis persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational.
func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	schemaKey := r.prefixKey(keySchemaVersion)
	_, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return fmt.Errorf("schema version not found - database may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}
	return nil
}
