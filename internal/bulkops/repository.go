package bulkops

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tair/roomsync/internal/inventory/domain"
)

// GormRoomRepository implements RoomRepository on PostgreSQL.
type GormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository creates a new room repository
func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	return &GormRoomRepository{db: db}
}

// AutoMigrate creates the room tables
func (r *GormRoomRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&Room{}, &RoomBlock{})
}

// FindByRoomID returns nil, nil when the room does not exist.
func (r *GormRoomRepository) FindByRoomID(ctx context.Context, roomID string) (*Room, error) {
	var room Room
	err := r.db.WithContext(ctx).Where("room_id = ?", roomID).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// FindByRoomIDs returns the rooms that exist among roomIDs.
func (r *GormRoomRepository) FindByRoomIDs(ctx context.Context, roomIDs []string) ([]Room, error) {
	var rooms []Room
	err := r.db.WithContext(ctx).Where("room_id IN ?", roomIDs).Find(&rooms).Error
	return rooms, err
}

// UpdateStatus writes the room status and reason.
func (r *GormRoomRepository) UpdateStatus(ctx context.Context, roomID, status, reason string) error {
	return r.db.WithContext(ctx).Model(&Room{}).
		Where("room_id = ?", roomID).
		Updates(map[string]interface{}{
			"status":        status,
			"status_reason": reason,
		}).Error
}

// Assign writes booking.room and room.status together in one transaction.
func (r *GormRoomRepository) Assign(ctx context.Context, room *Room, booking *domain.Booking) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Room{}).
			Where("room_id = ?", room.RoomID).
			Updates(map[string]interface{}{
				"status":             RoomStatusOccupied,
				"current_booking_id": booking.BookingID,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Booking{}).
			Where("booking_id = ?", booking.BookingID).
			Update("room_id", room.RoomID).Error
	})
}

// CreateBlock persists a block record.
func (r *GormRoomRepository) CreateBlock(ctx context.Context, block *RoomBlock) error {
	return r.db.WithContext(ctx).Create(block).Error
}
