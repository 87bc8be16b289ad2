package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tair/roomsync/internal/inventory/domain"
)

// GormAvailabilityStore implements domain.AvailabilityStore on PostgreSQL.
// This is the only layer that knows the store dialect; counter adjustments
// are single UPDATE statements with the invariant guards in the WHERE clause.
type GormAvailabilityStore struct {
	gormStore
}

// NewGormAvailabilityStore creates a new availability store
func NewGormAvailabilityStore(db *gorm.DB) *GormAvailabilityStore {
	return &GormAvailabilityStore{gormStore{db: db}}
}

// AutoMigrate creates the availability tables
func (s *GormAvailabilityStore) AutoMigrate() error {
	return s.db.AutoMigrate(
		&domain.AvailabilityRecord{},
		&domain.JournalEntry{},
		&domain.ChannelOverride{},
	)
}

// ReadRange returns one record per date in [checkIn, checkOut), ascending.
// A missing date is surfaced as ErrNoInventoryRecord, never silently filled.
func (s *GormAvailabilityStore) ReadRange(ctx context.Context, hotelID, roomTypeID string, checkIn, checkOut time.Time) ([]domain.AvailabilityRecord, error) {
	var records []domain.AvailabilityRecord
	err := s.conn(ctx).
		Where("hotel_id = ? AND room_type_id = ? AND date >= ? AND date < ?",
			hotelID, roomTypeID, domain.NormalizeDate(checkIn), domain.NormalizeDate(checkOut)).
		Order("date ASC").
		Find(&records).Error
	if err != nil {
		return nil, mapStoreError(err)
	}

	dates := domain.DateRange(checkIn, checkOut)
	if len(records) != len(dates) {
		for i, d := range dates {
			if i >= len(records) || !domain.NormalizeDate(records[i].Date).Equal(d) {
				return nil, fmt.Errorf("%s/%s %s: %w",
					hotelID, roomTypeID, d.Format("2006-01-02"), domain.ErrNoInventoryRecord)
			}
		}
	}
	return records, nil
}

// Read returns the record for a single date.
func (s *GormAvailabilityStore) Read(ctx context.Context, hotelID, roomTypeID string, date time.Time) (*domain.AvailabilityRecord, error) {
	var record domain.AvailabilityRecord
	err := s.conn(ctx).
		Where("hotel_id = ? AND room_type_id = ? AND date = ?", hotelID, roomTypeID, domain.NormalizeDate(date)).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s/%s %s: %w",
			hotelID, roomTypeID, domain.NormalizeDate(date).Format("2006-01-02"), domain.ErrNoInventoryRecord)
	}
	if err != nil {
		return nil, mapStoreError(err)
	}
	return &record, nil
}

// AtomicAdjust applies delta to one date's counters, appends the journal
// entry and flags the record for channel sync. The non-negativity guards
// live in the WHERE clause so a violated invariant simply matches no row.
func (s *GormAvailabilityStore) AtomicAdjust(ctx context.Context, hotelID, roomTypeID string, date time.Time, delta domain.Delta, entry domain.JournalEntry) error {
	day := domain.NormalizeDate(date)
	conn := s.conn(ctx)

	res := conn.Model(&domain.AvailabilityRecord{}).
		Where("hotel_id = ? AND room_type_id = ? AND date = ?", hotelID, roomTypeID, day).
		Where("available_rooms + ? >= 0", delta.Available).
		Where("sold_rooms + ? >= 0", delta.Sold).
		Where("blocked_rooms + ? >= 0", delta.Blocked).
		Where("out_of_order_rooms + ? >= 0", delta.OutOfOrder).
		Updates(map[string]interface{}{
			"available_rooms":    gorm.Expr("available_rooms + ?", delta.Available),
			"sold_rooms":         gorm.Expr("sold_rooms + ?", delta.Sold),
			"blocked_rooms":      gorm.Expr("blocked_rooms + ?", delta.Blocked),
			"out_of_order_rooms": gorm.Expr("out_of_order_rooms + ?", delta.OutOfOrder),
			"needs_sync":         true,
		})
	if res.Error != nil {
		return mapStoreError(res.Error)
	}
	if res.RowsAffected == 0 {
		// Distinguish a missing record from a guarded counter underflow.
		var count int64
		if err := conn.Model(&domain.AvailabilityRecord{}).
			Where("hotel_id = ? AND room_type_id = ? AND date = ?", hotelID, roomTypeID, day).
			Count(&count).Error; err != nil {
			return mapStoreError(err)
		}
		if count == 0 {
			return fmt.Errorf("%s/%s %s: %w",
				hotelID, roomTypeID, day.Format("2006-01-02"), domain.ErrNoInventoryRecord)
		}
		return fmt.Errorf("adjust %s/%s %s by %+v: %w",
			hotelID, roomTypeID, day.Format("2006-01-02"), delta, domain.ErrConstraintViolation)
	}

	entry.HotelID = hotelID
	entry.RoomTypeID = roomTypeID
	entry.Date = day
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if err := conn.Create(&entry).Error; err != nil {
		return mapStoreError(err)
	}
	return nil
}

// FindOverride returns the channel override for a date, nil when absent.
func (s *GormAvailabilityStore) FindOverride(ctx context.Context, hotelID, roomTypeID string, date time.Time, channel string) (*domain.ChannelOverride, error) {
	var override domain.ChannelOverride
	err := s.conn(ctx).
		Where("hotel_id = ? AND room_type_id = ? AND date = ? AND channel = ?",
			hotelID, roomTypeID, domain.NormalizeDate(date), channel).
		First(&override).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, mapStoreError(err)
	}
	return &override, nil
}

// UpsertChannelOverride merges the present fields of override into the
// stored one, creating it when absent, and flags the base record for sync.
func (s *GormAvailabilityStore) UpsertChannelOverride(ctx context.Context, override domain.ChannelOverride) error {
	override.Date = domain.NormalizeDate(override.Date)

	return s.WithTx(ctx, func(ctx context.Context) error {
		conn := s.conn(ctx)

		existing, err := s.FindOverride(ctx, override.HotelID, override.RoomTypeID, override.Date, override.Channel)
		if err != nil {
			return err
		}
		if existing != nil {
			if override.ChannelAvailableRooms != nil {
				existing.ChannelAvailableRooms = override.ChannelAvailableRooms
			}
			if override.ChannelRate != nil {
				existing.ChannelRate = override.ChannelRate
			}
			if override.StopSell != nil {
				existing.StopSell = override.StopSell
			}
			if override.ClosedToArrival != nil {
				existing.ClosedToArrival = override.ClosedToArrival
			}
			if override.ClosedToDeparture != nil {
				existing.ClosedToDeparture = override.ClosedToDeparture
			}
			if err := conn.Save(existing).Error; err != nil {
				return mapStoreError(err)
			}
		} else {
			if err := conn.Create(&override).Error; err != nil {
				return mapStoreError(err)
			}
		}

		return s.markNeedsSync(ctx, override.HotelID, override.RoomTypeID, override.Date)
	})
}

// UpdateRate writes the base selling rate for a date and flags it for sync.
func (s *GormAvailabilityStore) UpdateRate(ctx context.Context, hotelID, roomTypeID string, date time.Time, rate float64, currency string) error {
	updates := map[string]interface{}{
		"selling_rate": rate,
		"needs_sync":   true,
	}
	if currency != "" {
		updates["currency"] = currency
	}

	res := s.conn(ctx).Model(&domain.AvailabilityRecord{}).
		Where("hotel_id = ? AND room_type_id = ? AND date = ?", hotelID, roomTypeID, domain.NormalizeDate(date)).
		Updates(updates)
	if res.Error != nil {
		return mapStoreError(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s/%s %s: %w",
			hotelID, roomTypeID, domain.NormalizeDate(date).Format("2006-01-02"), domain.ErrNoInventoryRecord)
	}
	return nil
}

// MarkSynced clears needs_sync after the channel publisher confirms fan-out.
// The updated_at guard skips records mutated since they were listed; those
// keep the flag and the next sweep publishes the newer counters.
func (s *GormAvailabilityStore) MarkSynced(ctx context.Context, records []domain.AvailabilityRecord) error {
	conn := s.conn(ctx)
	for _, rec := range records {
		err := conn.Model(&domain.AvailabilityRecord{}).
			Where("id = ? AND updated_at <= ?", rec.ID, rec.UpdatedAt).
			Update("needs_sync", false).Error
		if err != nil {
			return mapStoreError(err)
		}
	}
	return nil
}

// ListUnsynced returns records still awaiting channel fan-out, oldest first.
// Used by the reconciliation sweep when a post-commit emit failed.
func (s *GormAvailabilityStore) ListUnsynced(ctx context.Context, limit int) ([]domain.AvailabilityRecord, error) {
	var records []domain.AvailabilityRecord
	err := s.conn(ctx).
		Where("needs_sync = ?", true).
		Order("updated_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, mapStoreError(err)
	}
	return records, nil
}

// CreateRecord materializes an availability record.
func (s *GormAvailabilityStore) CreateRecord(ctx context.Context, record *domain.AvailabilityRecord) error {
	record.Date = domain.NormalizeDate(record.Date)
	err := s.conn(ctx).Create(record).Error
	if isUniqueViolation(err) {
		return fmt.Errorf("record %s/%s %s already exists: %w",
			record.HotelID, record.RoomTypeID, record.Date.Format("2006-01-02"), domain.ErrConstraintViolation)
	}
	return mapStoreError(err)
}

func (s *GormAvailabilityStore) markNeedsSync(ctx context.Context, hotelID, roomTypeID string, date time.Time) error {
	err := s.conn(ctx).Model(&domain.AvailabilityRecord{}).
		Where("hotel_id = ? AND room_type_id = ? AND date = ?", hotelID, roomTypeID, date).
		Update("needs_sync", true).Error
	return mapStoreError(err)
}
