package draft

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/fieldaxis/fieldsync/internal/database"
	"github.com/fieldaxis/fieldsync/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNoDraft is returned by Get when the job has no saved draft
var ErrNoDraft = errors.New("no draft for job")

// Autosave persists in-progress completion forms, one draft per job.
// Saves are debounced: every change cancels the pending delayed write and
// schedules a new one, so a burst of keystrokes costs a single store write.
type Autosave struct {
	db       *database.DB
	debounce time.Duration

	mu      sync.Mutex
	timers  map[uint]*time.Timer
	pending map[uint]models.JobDraft
}

// New creates an autosave service with the given debounce window
func New(db *database.DB, debounce time.Duration) *Autosave {
	if debounce <= 0 {
		debounce = time.Second
	}
	return &Autosave{
		db:       db,
		debounce: debounce,
		timers:   make(map[uint]*time.Timer),
		pending:  make(map[uint]models.JobDraft),
	}
}

// Save schedules a debounced write of the draft. The write happens once the
// form has been quiet for the debounce window, or on Flush.
func (a *Autosave) Save(jobID uint, d models.JobDraft) {
	d.JobID = jobID
	d.LastUpdated = time.Now().UTC()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.pending[jobID] = d
	if timer, ok := a.timers[jobID]; ok {
		timer.Stop()
	}
	a.timers[jobID] = time.AfterFunc(a.debounce, func() {
		a.flushJob(jobID)
	})
}

// Get returns the saved draft for a job, preferring an unflushed pending one
func (a *Autosave) Get(jobID uint) (models.JobDraft, error) {
	a.mu.Lock()
	if d, ok := a.pending[jobID]; ok {
		a.mu.Unlock()
		return d, nil
	}
	a.mu.Unlock()

	var d models.JobDraft
	if a.db == nil {
		return d, ErrNoDraft
	}
	err := a.db.First(&d, "job_id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return d, ErrNoDraft
	}
	if err != nil {
		return d, err
	}
	return d, nil
}

// Clear removes the draft for a job, including any write still pending in the
// debounce window. Called on completion so a stale draft cannot resurrect on
// the next visit to the job.
func (a *Autosave) Clear(jobID uint) error {
	a.mu.Lock()
	if timer, ok := a.timers[jobID]; ok {
		timer.Stop()
		delete(a.timers, jobID)
	}
	delete(a.pending, jobID)
	a.mu.Unlock()

	if a.db == nil {
		return nil
	}
	return a.db.Delete(&models.JobDraft{}, "job_id = ?", jobID).Error
}

// Flush writes every pending draft immediately. Called on teardown.
func (a *Autosave) Flush() {
	a.mu.Lock()
	for jobID, timer := range a.timers {
		timer.Stop()
		delete(a.timers, jobID)
	}
	jobIDs := make([]uint, 0, len(a.pending))
	for jobID := range a.pending {
		jobIDs = append(jobIDs, jobID)
	}
	a.mu.Unlock()

	for _, jobID := range jobIDs {
		a.flushJob(jobID)
	}
}

// flushJob writes one pending draft to the store
func (a *Autosave) flushJob(jobID uint) {
	a.mu.Lock()
	d, ok := a.pending[jobID]
	if ok {
		delete(a.pending, jobID)
	}
	delete(a.timers, jobID)
	a.mu.Unlock()

	if !ok {
		return
	}

	if a.db == nil {
		// No durable store this session; keep the draft readable in memory
		a.mu.Lock()
		a.pending[jobID] = d
		a.mu.Unlock()
		return
	}

	if err := a.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&d).Error; err != nil {
		log.Printf("⚠️ Failed to autosave draft for job %d: %v", jobID, err)
	}
}
