package repository

import "context"

// Keys of the independently refreshable entries of the local durable store.
const (
	KeyEmergencyQueue     = "emergency_queue"
	KeyRiskSnapshots      = "risk_snapshots"
	KeyDashboardSnapshot  = "dashboard_snapshot"
	KeyDistrictOverlay    = "district_overlay"
	KeySafetyInstructions = "safety_instructions"
)

// UpdateFunc receives the current value of a key (nil when absent) and returns the
// value to store. Returning an error aborts the update and leaves the key untouched.
// Implementations may call it more than once, so it must not have side effects.
type UpdateFunc func(current []byte) ([]byte, error)

// KVStore is the durable substrate every persisted component sits on.
type KVStore interface {
	// Get returns nil, nil when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// Update is an atomic read-modify-write of a single key.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Close() error
}
