package model

import "time"

// Migration records a schema version applied to the database
type Migration struct {
	ID        int       `gorm:"primaryKey"`
	Name      string    `gorm:"uniqueIndex;not null"`
	AppliedAt time.Time `gorm:"autoCreateTime"`
}

func (Migration) TableName() string {
	return "schema_migrations"
}
