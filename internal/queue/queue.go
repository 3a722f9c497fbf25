package queue

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/fieldaxis/fieldsync/internal/database"
	"github.com/fieldaxis/fieldsync/internal/models"
)

// Queue is the durable mutation queue. Enqueue always succeeds locally, even
// while offline; this is what makes offline writes possible at all. If the
// durable store fails mid-session the queue keeps accepting mutations in a
// memory mirror so in-flight work is not thrown away.
//
// Replay order is FIFO by EnqueuedAt. The ordering is load-bearing: a
// complete_job mutation must never be applied before an earlier
// update_job_status mutation for the same job, or a stale status would
// resurrect after completion.
type Queue struct {
	db          *database.DB
	maxAttempts int

	mu       sync.Mutex
	degraded bool
	mem      map[int64]models.Mutation
	nextID   int64
}

// New creates a mutation queue over the durable store. maxAttempts bounds how
// many drain cycles retry a transiently failing mutation before it is
// abandoned for diagnostics.
func New(db *database.DB, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Queue{
		db:          db,
		maxAttempts: maxAttempts,
		degraded:    db == nil,
		mem:         make(map[int64]models.Mutation),
		nextID:      1,
	}
}

// Enqueue stores a mutation intent and returns its local id. The id is
// monotonic and never reused.
func (q *Queue) Enqueue(m *models.Mutation) (int64, error) {
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = time.Now().UTC()
	}
	if m.Status == "" {
		m.Status = models.MutationPending
	}

	q.mu.Lock()
	degraded := q.degraded
	q.mu.Unlock()

	if !degraded {
		if err := q.db.Create(m).Error; err != nil {
			q.degrade(err)
		} else {
			q.mirror(*m)
			return m.ID, nil
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	m.ID = q.nextID
	q.nextID++
	q.mem[m.ID] = *m
	return m.ID, nil
}

// ListPending returns the mutations eligible for the next drain in FIFO
// order. Failed items stay eligible until they exhaust their attempts;
// exhausted items are retained for diagnostics but never replayed. An
// in_progress item is eligible too: it means a drain was interrupted between
// marking and the outcome (crash, power loss), and the intent must survive
// the restart rather than strand invisibly.
func (q *Queue) ListPending() ([]models.Mutation, error) {
	q.mu.Lock()
	degraded := q.degraded
	q.mu.Unlock()

	if !degraded {
		var items []models.Mutation
		err := q.db.
			Where("status IN ? AND attempts < ?",
				[]models.MutationStatus{models.MutationPending, models.MutationInProgress, models.MutationFailed}, q.maxAttempts).
			Order("enqueued_at ASC, id ASC").
			Find(&items).Error
		if err != nil {
			q.degrade(err)
		} else {
			for _, it := range items {
				q.mirror(it)
			}
			return items, nil
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]models.Mutation, 0, len(q.mem))
	for _, m := range q.mem {
		eligible := m.Status == models.MutationPending ||
			m.Status == models.MutationInProgress ||
			m.Status == models.MutationFailed
		if eligible && m.Attempts < q.maxAttempts {
			items = append(items, m)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].EnqueuedAt.Equal(items[j].EnqueuedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].EnqueuedAt.Before(items[j].EnqueuedAt)
	})
	return items, nil
}

// MarkStatus transitions a mutation's lifecycle status
func (q *Queue) MarkStatus(id int64, status models.MutationStatus) error {
	return q.update(id, map[string]interface{}{"status": status}, func(m *models.Mutation) {
		m.Status = status
	})
}

// MarkFailed records a failed attempt. When abandon is true the mutation is
// immediately exhausted (a remote validation rejection will never succeed on
// retry); otherwise it stays eligible for the next drain cycle.
func (q *Queue) MarkFailed(id int64, cause string, abandon bool) error {
	return q.update(id, nil, func(m *models.Mutation) {
		m.Status = models.MutationFailed
		m.Attempts++
		if abandon {
			m.Attempts = q.maxAttempts
		}
		m.LastError = &cause
	})
}

// Remove deletes a mutation after successful remote application
func (q *Queue) Remove(id int64) error {
	q.mu.Lock()
	delete(q.mem, id)
	degraded := q.degraded
	q.mu.Unlock()

	if degraded {
		return nil
	}

	if err := q.db.Delete(&models.Mutation{}, id).Error; err != nil {
		q.degrade(err)
	}
	return nil
}

// Depth returns how many mutations are still waiting to reach the server
func (q *Queue) Depth() int {
	items, err := q.ListPending()
	if err != nil {
		return 0
	}
	return len(items)
}

// ListFailed returns abandoned mutations kept for diagnostics
func (q *Queue) ListFailed() ([]models.Mutation, error) {
	q.mu.Lock()
	degraded := q.degraded
	q.mu.Unlock()

	if !degraded {
		var items []models.Mutation
		err := q.db.
			Where("status = ? AND attempts >= ?", models.MutationFailed, q.maxAttempts).
			Order("enqueued_at ASC").
			Find(&items).Error
		if err == nil {
			return items, nil
		}
		q.degrade(err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	items := make([]models.Mutation, 0)
	for _, m := range q.mem {
		if m.Status == models.MutationFailed && m.Attempts >= q.maxAttempts {
			items = append(items, m)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].EnqueuedAt.Before(items[j].EnqueuedAt) })
	return items, nil
}

func (q *Queue) update(id int64, columns map[string]interface{}, apply func(*models.Mutation)) error {
	q.mu.Lock()
	if m, ok := q.mem[id]; ok {
		apply(&m)
		q.mem[id] = m
		if columns == nil {
			columns = map[string]interface{}{
				"status":     m.Status,
				"attempts":   m.Attempts,
				"last_error": m.LastError,
			}
		}
	}
	degraded := q.degraded
	q.mu.Unlock()

	if degraded {
		return nil
	}

	if columns == nil {
		// Item was never mirrored; recompute via a fresh model
		var m models.Mutation
		if err := q.db.First(&m, id).Error; err != nil {
			q.degrade(err)
			return nil
		}
		apply(&m)
		columns = map[string]interface{}{
			"status":     m.Status,
			"attempts":   m.Attempts,
			"last_error": m.LastError,
		}
	}

	if err := q.db.Model(&models.Mutation{}).Where("id = ?", id).Updates(columns).Error; err != nil {
		q.degrade(err)
	}
	return nil
}

func (q *Queue) mirror(m models.Mutation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.mem[m.ID] = m
	if m.ID >= q.nextID {
		q.nextID = m.ID + 1
	}
}

func (q *Queue) degrade(cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.degraded {
		q.degraded = true
		log.Printf("❌ Mutation queue degrading to memory for this session: %v", cause)
	}
}
