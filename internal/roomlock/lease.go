package roomlock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Lease actions, ordered by strength. A same-user re-acquire may upgrade
// the action but never silently downgrades it.
const (
	ActionViewing   = "viewing"
	ActionEditing   = "editing"
	ActionAssigning = "assigning"
)

var actionRank = map[string]int{
	ActionViewing:   1,
	ActionEditing:   2,
	ActionAssigning: 3,
}

var (
	// ErrRoomLocked indicates another user holds an active lease.
	ErrRoomLocked = errors.New("room locked")

	// ErrNotOwner indicates a non-owner tried to release or extend without force.
	ErrNotOwner = errors.New("lease not owned by user")

	// ErrNoLease indicates no active lease exists for the room.
	ErrNoLease = errors.New("no active lease")
)

// LockedError carries the holder details surfaced to the refused caller.
type LockedError struct {
	LockedBy  string
	Action    string
	ExpiresAt time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("room locked by %s (%s) until %s", e.LockedBy, e.Action, e.ExpiresAt.Format(time.RFC3339))
}

func (e *LockedError) Unwrap() error {
	return ErrRoomLocked
}

// Lease is a short-lived exclusive hold on a single room record, distinct
// from the inventory lock. TTL expiry is passive: every active-lease read
// filters by expires_at > now, and the reaper deletes expired rows.
type Lease struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	LockID    string    `json:"lock_id" gorm:"not null;uniqueIndex"`
	RoomID    string    `json:"room_id" gorm:"not null;uniqueIndex"`
	UserID    string    `json:"user_id" gorm:"not null"`
	Action    string    `json:"action" gorm:"not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null;index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (Lease) TableName() string {
	return "room_edit_leases"
}

// LeaseRepository persists room-edit leases.
type LeaseRepository interface {
	// WithTx runs fn against a transactional repository view.
	WithTx(ctx context.Context, fn func(repo LeaseRepository) error) error

	// FindActive returns the lease for roomID with expires_at > now, nil
	// when none exists.
	FindActive(ctx context.Context, roomID string, now time.Time) (*Lease, error)

	Save(ctx context.Context, lease *Lease) error

	// DeleteByRoom removes any lease row for the room, expired or not.
	DeleteByRoom(ctx context.Context, roomID string) error

	// DeleteExpired reaps rows whose expiry has passed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
