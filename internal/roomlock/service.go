package roomlock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tair/roomsync/internal/lock"
	"github.com/tair/roomsync/pkg/logger"
)

const (
	// DefaultDuration is the lease length when the caller does not ask
	// for one.
	DefaultDuration = 5 * time.Minute

	// guardTTL bounds the redis guard taken around the read-then-write
	// transaction so two concurrent acquires cannot interleave.
	guardTTL = 2 * time.Second
)

// Service hands out short-lived edit leases on individual room records.
type Service struct {
	repo  LeaseRepository
	locks lock.Manager
	now   func() time.Time
}

// NewService creates a new room-edit lock service
func NewService(repo LeaseRepository, locks lock.Manager) *Service {
	return &Service{
		repo:  repo,
		locks: locks,
		now:   time.Now,
	}
}

// Acquire grants or refreshes a lease on a room. An active lease by
// another user refuses with LockedError carrying the holder details; a
// same-user re-acquire refreshes the expiry and may upgrade the action.
func (s *Service) Acquire(ctx context.Context, roomID, userID, action string, duration time.Duration) (*Lease, error) {
	if _, ok := actionRank[action]; !ok {
		return nil, fmt.Errorf("unknown action %q", action)
	}
	if duration <= 0 {
		duration = DefaultDuration
	}

	token, err := s.locks.Acquire(ctx, lock.RoomEditKey(roomID), guardTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = s.locks.Release(ctx, lock.RoomEditKey(roomID), token)
	}()

	now := s.now().UTC()
	var result *Lease

	err = s.repo.WithTx(ctx, func(repo LeaseRepository) error {
		existing, err := repo.FindActive(ctx, roomID, now)
		if err != nil {
			return err
		}

		if existing != nil {
			if existing.UserID != userID {
				return &LockedError{
					LockedBy:  existing.UserID,
					Action:    existing.Action,
					ExpiresAt: existing.ExpiresAt,
				}
			}
			// Same-user refresh; upgrade only.
			if actionRank[action] > actionRank[existing.Action] {
				existing.Action = action
			}
			existing.ExpiresAt = now.Add(duration)
			if err := repo.Save(ctx, existing); err != nil {
				return err
			}
			result = existing
			return nil
		}

		// Clear any expired row so the unique room index stays clean.
		if err := repo.DeleteByRoom(ctx, roomID); err != nil {
			return err
		}

		lease := &Lease{
			LockID:    uuid.NewString(),
			RoomID:    roomID,
			UserID:    userID,
			Action:    action,
			ExpiresAt: now.Add(duration),
		}
		if err := repo.Save(ctx, lease); err != nil {
			return err
		}
		result = lease
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug(ctx).
		Str("room_id", roomID).
		Str("user_id", userID).
		Str("action", result.Action).
		Time("expires_at", result.ExpiresAt).
		Msg("Room-edit lease acquired")

	return result, nil
}

// Release frees a lease. Only the owner may release; force overrides for
// admin cleanup.
func (s *Service) Release(ctx context.Context, roomID, userID string, force bool) error {
	now := s.now().UTC()
	return s.repo.WithTx(ctx, func(repo LeaseRepository) error {
		existing, err := repo.FindActive(ctx, roomID, now)
		if err != nil {
			return err
		}
		if existing == nil {
			return nil
		}
		if existing.UserID != userID && !force {
			return fmt.Errorf("held by %s: %w", existing.UserID, ErrNotOwner)
		}
		return repo.DeleteByRoom(ctx, roomID)
	})
}

// Extend pushes the lease expiry out by additional.
func (s *Service) Extend(ctx context.Context, roomID, userID string, additional time.Duration) (*Lease, error) {
	if additional <= 0 {
		additional = DefaultDuration
	}

	now := s.now().UTC()
	var result *Lease
	err := s.repo.WithTx(ctx, func(repo LeaseRepository) error {
		existing, err := repo.FindActive(ctx, roomID, now)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("room %s: %w", roomID, ErrNoLease)
		}
		if existing.UserID != userID {
			return fmt.Errorf("held by %s: %w", existing.UserID, ErrNotOwner)
		}
		existing.ExpiresAt = existing.ExpiresAt.Add(additional)
		if err := repo.Save(ctx, existing); err != nil {
			return err
		}
		result = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// IsLocked returns the active lease for a room; expired leases read as nil.
func (s *Service) IsLocked(ctx context.Context, roomID string) (*Lease, error) {
	return s.repo.FindActive(ctx, roomID, s.now().UTC())
}

// RunReaper deletes expired lease rows until the context is cancelled. The
// expires_at filter on every read stays authoritative; the reaper only
// keeps the table small.
func (s *Service) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := s.repo.DeleteExpired(ctx, s.now().UTC())
			if err != nil {
				logger.Error(ctx).Err(err).Msg("Lease reaper failed")
				continue
			}
			if reaped > 0 {
				logger.Debug(ctx).Int64("reaped", reaped).Msg("Expired room-edit leases reaped")
			}
		}
	}
}
