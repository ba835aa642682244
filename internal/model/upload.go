package model

import "time"

// Upload is a pending upload waiting for the streaming service to report
// the video as finished
type Upload struct {
	ID        string     `gorm:"primaryKey;size:12" json:"id"`
	Metadata  Metadata   `gorm:"serializer:json;not null" json:"metadata"`
	Signature Credential `gorm:"serializer:json;not null" json:"signature"`
	CreatedAt time.Time  `gorm:"index;not null" json:"created_at"`
}

func (Upload) TableName() string {
	return "uploads"
}
