// Package badger implements pkg/persistence.IPersistence on top of
// Badger, a single-node embedded key-value store. It is the default
// backend for a signer running on its own disk.
package badger

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cardano-stm/mithril-core/pkg/persistence"
	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// Key prefixes for namespacing.
const (
	keyPrefixRound       = "round:"
	keyCheckpoint        = "checkpoint:main"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"
)

// BadgerPersistence is a production-ready persistence implementation using Badger.
// Provides durable, disk-based storage with ACID guarantees.
type BadgerPersistence struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

var _ persistence.IPersistence = (*BadgerPersistence)(nil)

// NewBadgerPersistence creates a new Badger-backed persistence layer.
// The database is opened at the specified path with SyncWrites enabled for durability.
// A background goroutine is started for garbage collection.
func NewBadgerPersistence(dataPath string, logger *zap.Logger) (*BadgerPersistence, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.SyncWrites = true // Ensure durability (fsync on every write)
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1 // We don't need versioning within Badger

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bp := &BadgerPersistence{
		db:     db,
		logger: logger,
	}

	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp.gcCancel = cancel
	bp.gcWg.Add(1)
	go bp.runGC(ctx)

	logger.Sugar().Infow("badger persistence initialized", "path", absPath)

	return bp, nil
}

// initSchema initializes or validates the schema version.
func (b *BadgerPersistence) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}
		return nil
	})
}

// runGC runs periodic garbage collection in the background.
func (b *BadgerPersistence) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && err != badgerdb.ErrNoRewrite {
				b.logger.Sugar().Warnw("badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// SaveRegistrationRound persists a closed registration round.
func (b *BadgerPersistence) SaveRegistrationRound(round *persistence.RegistrationRound) error {
	if round == nil {
		return fmt.Errorf("cannot save nil RegistrationRound")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalRegistrationRound(round)
	if err != nil {
		return fmt.Errorf("failed to marshal RegistrationRound: %w", err)
	}

	key := fmt.Sprintf("%s%d", keyPrefixRound, round.Epoch)
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// LoadRegistrationRound retrieves a registration round by epoch.
func (b *BadgerPersistence) LoadRegistrationRound(epoch uint64) (*persistence.RegistrationRound, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	key := fmt.Sprintf("%s%d", keyPrefixRound, epoch)

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load RegistrationRound: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	round, err := persistence.UnmarshalRegistrationRound(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal RegistrationRound: %w", err)
	}
	return round, nil
}

// ListRegistrationRounds returns every persisted round sorted by epoch ascending.
func (b *BadgerPersistence) ListRegistrationRounds() ([]*persistence.RegistrationRound, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	var rounds []*persistence.RegistrationRound
	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixRound)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			var data []byte
			if err := item.Value(func(val []byte) error {
				data = append([]byte{}, val...)
				return nil
			}); err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}

			round, err := persistence.UnmarshalRegistrationRound(data)
			if err != nil {
				b.logger.Sugar().Warnw("failed to unmarshal RegistrationRound, skipping",
					"key", string(item.Key()), "error", err)
				continue
			}
			rounds = append(rounds, round)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list RegistrationRounds: %w", err)
	}

	sort.Slice(rounds, func(i, j int) bool { return rounds[i].Epoch < rounds[j].Epoch })
	return rounds, nil
}

// DeleteRegistrationRound removes a registration round by epoch.
func (b *BadgerPersistence) DeleteRegistrationRound(epoch uint64) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	key := fmt.Sprintf("%s%d", keyPrefixRound, epoch)
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// SaveCheckpoint persists the state machine's current checkpoint.
func (b *BadgerPersistence) SaveCheckpoint(checkpoint *persistence.SignerCheckpoint) error {
	if checkpoint == nil {
		return fmt.Errorf("cannot save nil SignerCheckpoint")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalCheckpoint(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal SignerCheckpoint: %w", err)
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(keyCheckpoint), data)
	})
}

// LoadCheckpoint retrieves the last saved checkpoint.
func (b *BadgerPersistence) LoadCheckpoint() (*persistence.SignerCheckpoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keyCheckpoint))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load SignerCheckpoint: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	checkpoint, err := persistence.UnmarshalCheckpoint(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal SignerCheckpoint: %w", err)
	}
	return checkpoint, nil
}

// Close shuts down the persistence layer.
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("badger persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational.
func (b *BadgerPersistence) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
