package model

import "time"

// Video is a finished video visible in the catalog. It shares its ID with
// the upload it was promoted from.
type Video struct {
	ID        string        `gorm:"primaryKey;size:12" json:"id"`
	Metadata  VideoMetadata `gorm:"serializer:json;not null" json:"metadata"`
	CreatedAt time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (Video) TableName() string {
	return "videos"
}
