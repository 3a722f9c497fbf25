package models

import (
	"time"
)

// Job statuses as assigned by the scheduler and advanced by the technician.
const (
	JobStatusAllocated  = "allocated"
	JobStatusTravelling = "travelling"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
)

// Job is a local mirror of a server job record. The server id is the primary
// key; the only local write is a full replace-by-id upsert on refresh.
type Job struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	JobNumber   string     `gorm:"type:varchar(50)" json:"job_number"`
	CustomerID  uint       `gorm:"index" json:"customer_id"`
	SiteID      uint       `gorm:"index" json:"site_id"`
	AssetID     *uint      `json:"asset_id,omitempty"`
	EngineerID  uint       `json:"engineer_id"`
	Description string     `json:"description"`
	Priority    string     `gorm:"type:varchar(20)" json:"priority"`
	Status      string     `gorm:"type:varchar(30);index" json:"status"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	CachedAt    time.Time  `json:"cached_at"`
}

func (Job) TableName() string {
	return "jobs"
}

// Customer is a local mirror of a server customer record
type Customer struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Phone    string    `json:"phone"`
	Address  string    `json:"address"`
	CachedAt time.Time `json:"cached_at"`
}

func (Customer) TableName() string {
	return "customers"
}

// Site is a local mirror of a server site record
type Site struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CustomerID uint      `gorm:"index" json:"customer_id"`
	Name       string    `json:"name"`
	Address    string    `json:"address"`
	Postcode   string    `json:"postcode"`
	AccessInfo string    `json:"access_info"`
	CachedAt   time.Time `json:"cached_at"`
}

func (Site) TableName() string {
	return "sites"
}

// Asset is a local mirror of a server asset record
type Asset struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SiteID       uint      `gorm:"index" json:"site_id"`
	Name         string    `json:"name"`
	SerialNumber string    `gorm:"type:varchar(100)" json:"serial_number"`
	Model        string    `json:"model"`
	Manufacturer string    `json:"manufacturer"`
	CachedAt     time.Time `json:"cached_at"`
}

func (Asset) TableName() string {
	return "assets"
}

// Part is a local mirror of a server part record
type Part struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	PartNumber string    `gorm:"type:varchar(100)" json:"part_number"`
	Name       string    `json:"name"`
	UnitPrice  float64   `json:"unit_price"`
	StockQty   int       `json:"stock_qty"`
	CachedAt   time.Time `json:"cached_at"`
}

func (Part) TableName() string {
	return "parts"
}
