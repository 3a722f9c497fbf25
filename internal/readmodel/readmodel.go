package readmodel

import (
	"sort"
	"sync"
	"time"

	"github.com/fieldaxis/fieldsync/internal/models"
	"github.com/fieldaxis/fieldsync/internal/queue"
	"github.com/fieldaxis/fieldsync/internal/store"
)

// Broadcaster pushes a changed read model to the open views
type Broadcaster interface {
	Broadcast(msgType string, payload interface{})
}

// SyncOutcome is the last drain result shown to the user
type SyncOutcome struct {
	Synced int       `json:"synced"`
	Failed int       `json:"failed"`
	At     time.Time `json:"at"`
}

// Snapshot is everything the UI layer reads from the offline core
type Snapshot struct {
	Jobs           []models.Job      `json:"jobs"`
	Customers      []models.Customer `json:"customers"`
	Sites          []models.Site     `json:"sites"`
	Assets         []models.Asset    `json:"assets"`
	Parts          []models.Part     `json:"parts"`
	QueueDepth     int               `json:"queue_depth"`
	TrackingStatus string            `json:"tracking_status"`
	StoreDegraded  bool              `json:"store_degraded"`
	LastSync       *SyncOutcome      `json:"last_sync,omitempty"`
}

// ReadModels recomputes the UI-facing state of the core on demand and pushes
// it to the views. The UI never reads the store or the queue directly.
type ReadModels struct {
	store *store.Store
	queue *queue.Queue
	views Broadcaster

	mu             sync.Mutex
	trackingStatus string
	lastSync       *SyncOutcome
}

// New creates the read-model layer. views may be nil in tests.
func New(st *store.Store, q *queue.Queue, views Broadcaster) *ReadModels {
	return &ReadModels{
		store:          st,
		queue:          q,
		views:          views,
		trackingStatus: "idle",
	}
}

// SetTrackingStatus records the pipeline's state and republishes
func (r *ReadModels) SetTrackingStatus(status string) {
	r.mu.Lock()
	r.trackingStatus = status
	r.mu.Unlock()
	r.Publish()
}

// RecordSyncOutcome records the last drain result and republishes
func (r *ReadModels) RecordSyncOutcome(synced, failed int) {
	r.mu.Lock()
	r.lastSync = &SyncOutcome{Synced: synced, Failed: failed, At: time.Now().UTC()}
	r.mu.Unlock()
	r.Publish()
}

// Snapshot recomputes the full read model
func (r *ReadModels) Snapshot() Snapshot {
	var snap Snapshot

	_ = r.store.GetAll(&snap.Jobs)
	_ = r.store.GetAll(&snap.Customers)
	_ = r.store.GetAll(&snap.Sites)
	_ = r.store.GetAll(&snap.Assets)
	_ = r.store.GetAll(&snap.Parts)

	sort.Slice(snap.Jobs, func(i, j int) bool { return snap.Jobs[i].ID < snap.Jobs[j].ID })

	snap.QueueDepth = r.queue.Depth()
	snap.StoreDegraded = r.store.Degraded()

	r.mu.Lock()
	snap.TrackingStatus = r.trackingStatus
	snap.LastSync = r.lastSync
	r.mu.Unlock()

	return snap
}

// Jobs returns the cached job list
func (r *ReadModels) Jobs() []models.Job {
	var jobs []models.Job
	_ = r.store.GetAll(&jobs)
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// Publish pushes the current snapshot to the open views
func (r *ReadModels) Publish() {
	if r.views == nil {
		return
	}
	r.views.Broadcast("READ_MODEL", r.Snapshot())
}
