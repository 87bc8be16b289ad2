package roomlock

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// GormLeaseRepository implements LeaseRepository on PostgreSQL.
type GormLeaseRepository struct {
	db *gorm.DB
}

// NewGormLeaseRepository creates a new lease repository
func NewGormLeaseRepository(db *gorm.DB) *GormLeaseRepository {
	return &GormLeaseRepository{db: db}
}

// AutoMigrate creates the lease table
func (r *GormLeaseRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&Lease{})
}

// WithTx runs fn against a repository bound to one transaction.
func (r *GormLeaseRepository) WithTx(ctx context.Context, fn func(repo LeaseRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormLeaseRepository{db: tx})
	})
}

// FindActive returns the unexpired lease for a room, nil when none exists.
func (r *GormLeaseRepository) FindActive(ctx context.Context, roomID string, now time.Time) (*Lease, error) {
	var lease Lease
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND expires_at > ?", roomID, now).
		First(&lease).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lease, nil
}

// Save persists a lease.
func (r *GormLeaseRepository) Save(ctx context.Context, lease *Lease) error {
	return r.db.WithContext(ctx).Save(lease).Error
}

// DeleteByRoom removes any lease row for the room.
func (r *GormLeaseRepository) DeleteByRoom(ctx context.Context, roomID string) error {
	return r.db.WithContext(ctx).Where("room_id = ?", roomID).Delete(&Lease{}).Error
}

// DeleteExpired reaps rows whose expiry has passed.
func (r *GormLeaseRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&Lease{})
	return res.RowsAffected, res.Error
}
