package models

import "time"

// LocationFix stores a single accepted device position. Consecutive stored
// fixes for a tracking session are always at least the configured minimum
// displacement apart; closer fixes are discarded before they reach this table.
type LocationFix struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Latitude   float64   `gorm:"not null" json:"latitude"`
	Longitude  float64   `gorm:"not null" json:"longitude"`
	Accuracy   float64   `json:"accuracy"`
	JobID      *uint     `gorm:"index" json:"job_id,omitempty"`
	JobStatus  string    `gorm:"type:varchar(30)" json:"status"`
	RecordedAt time.Time `gorm:"not null" json:"recorded_at"`
	Synced     bool      `gorm:"not null;default:false;index:idx_fix_synced" json:"synced"`
}

func (LocationFix) TableName() string {
	return "location_queue"
}
