//go:build wireinject
// +build wireinject

package inventory

import (
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/tair/roomsync/internal/inventory/domain"
	"github.com/tair/roomsync/internal/inventory/repository"
	"github.com/tair/roomsync/internal/lock"
	"github.com/tair/roomsync/kafka"
)

// ProvideAvailabilityStore provides the tracing-wrapped availability store
func ProvideAvailabilityStore(db *gorm.DB) domain.AvailabilityStore {
	return repository.NewTracingAvailabilityStore(repository.NewGormAvailabilityStore(db))
}

// ProvideBookingRepository provides the booking repository
func ProvideBookingRepository(db *gorm.DB) domain.BookingRepository {
	return repository.NewGormBookingRepository(db)
}

// ProvideLockManager provides the Redis lock manager
func ProvideLockManager(client *redis.Client) lock.Manager {
	return lock.NewRedisManager(client)
}

// ProvideDeltaPublisher provides the Kafka delta publisher
func ProvideDeltaPublisher(publisher *kafka.Publisher) DeltaPublisher {
	return publisher
}

// Wire sets
var EngineSet = wire.NewSet(
	ProvideAvailabilityStore,
	ProvideLockManager,
	ProvideDeltaPublisher,
	NewEngine,
)

// InitializeEngine initializes the inventory engine with all dependencies
func InitializeEngine(db *gorm.DB, redisClient *redis.Client, publisher *kafka.Publisher, cfg Config) (*Engine, error) {
	wire.Build(EngineSet)
	return nil, nil
}
