package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tair/roomsync/internal/inventory/domain"
)

// GormBookingRepository persists booking provenance.
type GormBookingRepository struct {
	gormStore
}

// NewGormBookingRepository creates a new booking repository
func NewGormBookingRepository(db *gorm.DB) *GormBookingRepository {
	return &GormBookingRepository{gormStore{db: db}}
}

// AutoMigrate creates the booking tables
func (r *GormBookingRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&domain.Booking{}, &domain.BookingModification{})
}

// Create inserts a booking. A second delivery of the same
// (source, channel_booking_id) pair hits the unique index and surfaces as
// ErrDuplicateDelivery.
func (r *GormBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	err := r.conn(ctx).Create(booking).Error
	if isUniqueViolation(err) {
		return fmt.Errorf("booking %s/%s: %w", booking.Source, booking.ChannelBookingID, domain.ErrDuplicateDelivery)
	}
	return mapStoreError(err)
}

// Update saves the mutable booking fields.
func (r *GormBookingRepository) Update(ctx context.Context, booking *domain.Booking) error {
	return mapStoreError(r.conn(ctx).Save(booking).Error)
}

// FindByChannel returns nil, nil when no booking matches.
func (r *GormBookingRepository) FindByChannel(ctx context.Context, source domain.Source, channelBookingID string) (*domain.Booking, error) {
	var booking domain.Booking
	err := r.conn(ctx).
		Preload("Modifications").
		Where("source = ? AND channel_booking_id = ?", source, channelBookingID).
		First(&booking).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, mapStoreError(err)
	}
	return &booking, nil
}

// FindByBookingID looks a booking up by its public identifier.
func (r *GormBookingRepository) FindByBookingID(ctx context.Context, bookingID string) (*domain.Booking, error) {
	var booking domain.Booking
	err := r.conn(ctx).
		Preload("Modifications").
		Where("booking_id = ?", bookingID).
		First(&booking).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", bookingID, domain.ErrBookingNotFound)
	}
	if err != nil {
		return nil, mapStoreError(err)
	}
	return &booking, nil
}

// AppendModification records one change applied to the booking.
func (r *GormBookingRepository) AppendModification(ctx context.Context, booking *domain.Booking, mod domain.BookingModification) error {
	mod.BookingRef = booking.ID
	if err := r.conn(ctx).Create(&mod).Error; err != nil {
		return mapStoreError(err)
	}
	booking.Modifications = append(booking.Modifications, mod)
	return nil
}
