package models

import "time"

// Setting is a durable flag kept outside the entity tables
type Setting struct {
	Key       string    `gorm:"primaryKey;type:varchar(100)" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Setting) TableName() string {
	return "settings"
}

// Setting keys owned by the offline core
const (
	SettingTrackingConsent = "tracking_consent"
	SettingUnlockHash      = "offline_unlock_hash"
	SettingLastSyncAt      = "last_sync_at"
)

// TrackingConsent values. Consent gates the location pipeline regardless of
// job state and survives restarts.
const (
	ConsentPending = "pending"
	ConsentGranted = "granted"
	ConsentRevoked = "revoked"
)
