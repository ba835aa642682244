package internal

import (
	"openbroadcast/stream-api/internal/service"
	"openbroadcast/stream-api/internal/store"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

type Deps struct {
	DB        *gorm.DB
	Store     *store.Store
	Stream    service.StreamClient
	IDs       *service.IDs
	Lifecycle *service.Lifecycle
	Poller    *service.Poller
	// Nil when object storage is disabled
	Thumbnails *service.Thumbnails
	// Nil unless the poller lock is configured
	Redis *redis.Client
}

// Close releases the connections held by d
func (d *Deps) Close() error {
	var err error

	if d.Redis != nil {
		err = multierr.Append(err, d.Redis.Close())
	}

	if d.DB != nil {
		sqlDB, dbErr := d.DB.DB()
		if dbErr != nil {
			err = multierr.Append(err, dbErr)
		} else {
			err = multierr.Append(err, sqlDB.Close())
		}
	}

	return err
}
