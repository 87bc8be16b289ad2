package lock

import (
	"context"
	"fmt"
	"time"
)

// Manager provides distributed mutual exclusion keyed by a string. Holding
// a lock grants the exclusive right to mutate the guarded records; it does
// not grant exclusive read rights.
type Manager interface {
	// Acquire atomically sets the key with expiry and returns a fencing
	// token. Fails with domain.ErrLockBusy when another holder exists;
	// never blocks.
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Release compare-and-deletes the key. A mismatched or absent token is
	// ignored so a caller cannot release a lock that already expired and
	// was taken over.
	Release(ctx context.Context, key, token string) error

	// Extend pushes the expiry out by additional. Fails with
	// domain.ErrLockLost when the lock already expired; the caller must
	// treat its in-progress mutation as failed.
	Extend(ctx context.Context, key, token string, additional time.Duration) error
}

// InventoryKey builds the lock key serializing all mutations for one
// (hotel, room-type).
func InventoryKey(hotelID, roomTypeID string) string {
	return fmt.Sprintf("inv:%s:%s", hotelID, roomTypeID)
}

// RoomEditKey builds the lock key guarding edits of a single room record.
func RoomEditKey(roomID string) string {
	return fmt.Sprintf("roomedit:%s", roomID)
}
