package models

import (
	"time"

	"gorm.io/datatypes"
)

// JobDraft is the debounced autosave of an in-progress completion form.
// One draft per job; deleted when the job completes or is abandoned.
type JobDraft struct {
	JobID          uint           `gorm:"primaryKey" json:"job_id"`
	EngineerNotes  string         `gorm:"type:text" json:"engineer_notes"`
	TravelTime     int            `json:"travel_time"`
	TimeOnSite     int            `json:"time_on_site"`
	ChecklistItems datatypes.JSON `json:"checklist_items"`
	PartsUsed      datatypes.JSON `json:"parts_used"`
	Photos         datatypes.JSON `json:"photos"`
	LastUpdated    time.Time      `gorm:"not null" json:"last_updated"`
}

func (JobDraft) TableName() string {
	return "job_drafts"
}
