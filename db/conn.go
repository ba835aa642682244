// Package db opens the database that backs both the pending uploads and the
// video catalog
package db

import (
	"fmt"
	"os"

	"openbroadcast/stream-api/internal/model"
	"openbroadcast/stream-api/pkg/util"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// schemaVersion is bumped whenever a model changes in a way AutoMigrate
// can't express on its own
const schemaVersion = "0001_uploads_videos"

type Config struct {
	// sqlite or postgres
	Driver string
	DSN    string
}

func New(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "database.db"
		}

		// If running in a docker container don't allow the sqlite file to be created.
		// The host should instead mount it using volumes
		if util.IsRunningInDocker() && dsn != ":memory:" {
			if _, err := os.Stat(dsn); os.IsNotExist(err) {
				return nil, fmt.Errorf("SQLite database file not mounted, please use docker volumes to mount it to /app/%s", dsn)
			}
		}

		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database, %w", cfg.Driver, err)
	}

	if cfg.Driver != "postgres" {
		// SQLite only allows a single writer. Funnel everything through one
		// connection so concurrent writers queue up instead of failing with
		// SQLITE_BUSY, and so :memory: databases aren't split per connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB, %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates the tables and records the schema version
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(model.Upload{}, model.Video{}, model.Migration{})
	if err != nil {
		return fmt.Errorf("failed to automigrate tables, %w", err)
	}

	err = db.
		Where(model.Migration{Name: schemaVersion}).
		FirstOrCreate(&model.Migration{Name: schemaVersion}).
		Error
	if err != nil {
		return fmt.Errorf("failed to record schema version, %w", err)
	}

	return nil
}
