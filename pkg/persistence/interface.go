// Package persistence defines the durable-state contract a signer
// process needs to survive restarts: its state-machine checkpoint and
// the registration rounds it has closed, one per epoch. Two concrete
// backends implement it — pkg/persistence/badger for a single-node disk
// store, pkg/persistence/redis for a shared, distributed one.
package persistence

// IPersistence defines the interface for persisting signer state across
// restarts. All implementations must be thread-safe: the state machine
// and any concurrent registration-round builder may call into it from
// different goroutines.
type IPersistence interface {
	// Registration round management.

	// SaveRegistrationRound persists a closed registration round indexed
	// by epoch. Returns error only on storage failure; overwrites any
	// existing round for the same epoch.
	SaveRegistrationRound(round *RegistrationRound) error

	// LoadRegistrationRound retrieves a round by epoch. Returns nil, nil
	// if no round has been closed for that epoch yet.
	LoadRegistrationRound(epoch uint64) (*RegistrationRound, error)

	// ListRegistrationRounds returns every persisted round sorted by
	// epoch ascending. Returns an empty slice if none exist.
	ListRegistrationRounds() ([]*RegistrationRound, error)

	// DeleteRegistrationRound removes a round by epoch. Idempotent.
	DeleteRegistrationRound(epoch uint64) error

	// Checkpoint management.

	// SaveCheckpoint persists the state machine's current checkpoint,
	// overwriting whatever was stored before.
	SaveCheckpoint(checkpoint *SignerCheckpoint) error

	// LoadCheckpoint retrieves the last saved checkpoint. Returns nil,
	// nil on first run, when nothing has been saved yet.
	LoadCheckpoint() (*SignerCheckpoint, error)

	// Lifecycle management.

	// Close cleanly shuts down the persistence layer. Idempotent.
	Close() error

	// HealthCheck verifies the persistence layer is operational. Called
	// during signer startup to fail fast rather than discover a broken
	// store mid-epoch.
	HealthCheck() error
}
