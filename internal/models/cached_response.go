package models

import (
	"time"

	"gorm.io/datatypes"
)

// CachedResponse is one stored HTTP response in the background agent's cache.
// Rows are grouped by cache generation so activating a new agent version can
// delete everything a previous version stored.
type CachedResponse struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Generation  string         `gorm:"type:varchar(64);not null;index;uniqueIndex:idx_gen_request,priority:1" json:"generation"`
	RequestKey  string         `gorm:"type:varchar(1024);not null;uniqueIndex:idx_gen_request,priority:2" json:"request_key"`
	Class       string         `gorm:"type:varchar(20);not null" json:"class"` // navigation, asset, api
	StatusCode  int            `gorm:"not null" json:"status_code"`
	ContentType string         `gorm:"type:varchar(255)" json:"content_type"`
	Headers     datatypes.JSON `json:"headers"`
	Body        []byte         `json:"body"`
	StoredAt    time.Time      `gorm:"not null" json:"stored_at"`
}

func (CachedResponse) TableName() string {
	return "cached_responses"
}
