package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// MutationKind identifies the write intent a queued mutation carries
type MutationKind string

const (
	MutationUpdateJobStatus MutationKind = "update_job_status"
	MutationCompleteJob     MutationKind = "complete_job"
)

// MutationStatus is the queue lifecycle status of a mutation
type MutationStatus string

const (
	MutationPending    MutationStatus = "pending"
	MutationInProgress MutationStatus = "in_progress"
	MutationCompleted  MutationStatus = "completed"
	MutationFailed     MutationStatus = "failed"
)

// Mutation records an intent to change server state, captured while the
// client could not reach the API. The local id is monotonic and never reused;
// replay order is ascending EnqueuedAt.
type Mutation struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Kind       MutationKind   `gorm:"type:varchar(50);not null" json:"kind"`
	JobID      uint           `gorm:"not null;index" json:"job_id"`
	Payload    datatypes.JSON `json:"payload"`
	EnqueuedAt time.Time      `gorm:"not null;index" json:"enqueued_at"`
	Status     MutationStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_mutation_status" json:"status"`
	Attempts   int            `gorm:"default:0" json:"attempts"`
	LastError  *string        `gorm:"type:text" json:"last_error,omitempty"`
}

func (Mutation) TableName() string {
	return "mutation_queue"
}

// StatusChange is the payload of an update_job_status mutation
type StatusChange struct {
	Status string `json:"status"`
}

// PartUsage records a part consumed during a job
type PartUsage struct {
	PartID   uint `json:"part_id"`
	Quantity int  `json:"quantity"`
}

// ChecklistItem is a single completed checklist entry
type ChecklistItem struct {
	Label   string `json:"label"`
	Checked bool   `json:"checked"`
	Notes   string `json:"notes,omitempty"`
}

// JobCompletion is the payload of a complete_job mutation
type JobCompletion struct {
	EngineerNotes     string          `json:"engineer_notes"`
	TravelTime        int             `json:"travel_time"`
	TimeOnSite        int             `json:"time_on_site"`
	PartsUsed         []PartUsage     `json:"parts_used"`
	ChecklistItems    []ChecklistItem `json:"checklist_items"`
	CustomerSignature string          `json:"customer_signature"`
	Photos            []string        `json:"photos"`
}

// NewStatusChangeMutation builds a queued status-change intent
func NewStatusChangeMutation(jobID uint, change StatusChange) (*Mutation, error) {
	payload, err := json.Marshal(change)
	if err != nil {
		return nil, fmt.Errorf("failed to encode status change: %w", err)
	}
	return &Mutation{
		Kind:       MutationUpdateJobStatus,
		JobID:      jobID,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
		Status:     MutationPending,
	}, nil
}

// NewCompletionMutation builds a queued job-completion intent
func NewCompletionMutation(jobID uint, completion JobCompletion) (*Mutation, error) {
	payload, err := json.Marshal(completion)
	if err != nil {
		return nil, fmt.Errorf("failed to encode completion: %w", err)
	}
	return &Mutation{
		Kind:       MutationCompleteJob,
		JobID:      jobID,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
		Status:     MutationPending,
	}, nil
}

// StatusChange decodes the payload of an update_job_status mutation
func (m *Mutation) StatusChange() (StatusChange, error) {
	var change StatusChange
	if m.Kind != MutationUpdateJobStatus {
		return change, fmt.Errorf("mutation %d is %s, not %s", m.ID, m.Kind, MutationUpdateJobStatus)
	}
	if err := json.Unmarshal(m.Payload, &change); err != nil {
		return change, fmt.Errorf("failed to decode status change for mutation %d: %w", m.ID, err)
	}
	return change, nil
}

// Completion decodes the payload of a complete_job mutation
func (m *Mutation) Completion() (JobCompletion, error) {
	var completion JobCompletion
	if m.Kind != MutationCompleteJob {
		return completion, fmt.Errorf("mutation %d is %s, not %s", m.ID, m.Kind, MutationCompleteJob)
	}
	if err := json.Unmarshal(m.Payload, &completion); err != nil {
		return completion, fmt.Errorf("failed to decode completion for mutation %d: %w", m.ID, err)
	}
	return completion, nil
}
