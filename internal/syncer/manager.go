package syncer

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldaxis/fieldsync/internal/api"
	"github.com/fieldaxis/fieldsync/internal/models"
	"github.com/fieldaxis/fieldsync/internal/queue"
)

// RemoteAPI is the slice of the API client the drain needs
type RemoteAPI interface {
	UpdateJobStatus(ctx context.Context, jobID uint, status string) error
	CompleteJob(ctx context.Context, jobID uint, completion models.JobCompletion) error
}

// DraftStore clears completion drafts once their job has reached the server
type DraftStore interface {
	Clear(jobID uint) error
}

// Online reports current connectivity; satisfied by connectivity.Monitor
type Online interface {
	IsOnline() bool
}

// Result is the outcome of one drain pass, reported to the user as the
// "synced" count
type Result struct {
	Synced         int
	Failed         int
	AlreadyRunning bool
	Duration       time.Duration
}

// Manager drains the mutation queue against the remote API. It is the only
// component that replays mutations; at most one drain pass runs at a time,
// enforced by an atomic in-progress flag so overlapping triggers (timer,
// reconnect, explicit request) collapse into a no-op.
type Manager struct {
	queue   *queue.Queue
	remote  RemoteAPI
	online  Online
	drafts  DraftStore
	onDrain func(Result)

	interval time.Duration
	draining atomic.Bool

	mu       sync.Mutex
	started  bool
	stopChan chan struct{}
	requests chan struct{}
}

// NewManager creates a sync manager. onDrain may be nil; when set it receives
// the result of every completed pass (not the collapsed no-ops).
func NewManager(q *queue.Queue, remote RemoteAPI, online Online, drafts DraftStore, interval time.Duration, onDrain func(Result)) *Manager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Manager{
		queue:    q,
		remote:   remote,
		online:   online,
		drafts:   drafts,
		onDrain:  onDrain,
		interval: interval,
		stopChan: make(chan struct{}),
		requests: make(chan struct{}, 1),
	}
}

// Start runs the drain loop: a repeating timer while online plus on-demand
// requests. Reconnect triggers are wired by the caller via RequestDrain.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go func() {
		log.Println("🔄 Sync manager started")
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.runDrain()
			case <-m.requests:
				m.runDrain()
			case <-m.stopChan:
				log.Println("🛑 Sync manager stopped")
				return
			}
		}
	}()
}

// Stop halts the drain loop
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	close(m.stopChan)
}

// RequestDrain asks for a drain pass without blocking. Used after an online
// enqueue fallback and by the agent's background-sync wake signal.
func (m *Manager) RequestDrain() {
	select {
	case m.requests <- struct{}{}:
	default:
	}
}

func (m *Manager) runDrain() {
	result := m.Drain(context.Background())
	if result.AlreadyRunning {
		return
	}
	if m.onDrain != nil && (result.Synced > 0 || result.Failed > 0) {
		m.onDrain(result)
	}
}

// Drain performs one pass over the pending mutations, in FIFO order, applying
// each against the remote API. Idempotent and safe to call concurrently: a
// pass already in flight makes this call a no-op. Failed items are left for
// the next cycle; items the server rejected outright are abandoned.
func (m *Manager) Drain(ctx context.Context) Result {
	if !m.online.IsOnline() {
		return Result{}
	}

	// An empty queue is checked before claiming the guard so a zero-item
	// pass is a true no-op: a concurrent caller never sees AlreadyRunning
	// when there was nothing to drain.
	if peek, err := m.queue.ListPending(); err != nil || len(peek) == 0 {
		return Result{}
	}

	if !m.draining.CompareAndSwap(false, true) {
		return Result{AlreadyRunning: true}
	}
	defer m.draining.Store(false)

	// Re-read under the guard; a drain that finished between the peek and
	// the claim may have emptied the queue already.
	items, err := m.queue.ListPending()
	if err != nil || len(items) == 0 {
		return Result{}
	}

	start := time.Now()
	var result Result

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}

		if err := m.queue.MarkStatus(item.ID, models.MutationInProgress); err != nil {
			log.Printf("⚠️ Failed to mark mutation %d in progress: %v", item.ID, err)
		}

		if err := m.apply(ctx, item); err != nil {
			result.Failed++
			abandon := api.IsRejected(err)
			if abandon {
				log.Printf("❌ Mutation %d (%s, job %d) rejected by server, abandoning: %v", item.ID, item.Kind, item.JobID, err)
			}
			if merr := m.queue.MarkFailed(item.ID, err.Error(), abandon); merr != nil {
				log.Printf("⚠️ Failed to record failure for mutation %d: %v", item.ID, merr)
			}
			// A failed item never blocks later items; cross-job mutations are
			// independent and same-job ordering is preserved on the retry pass.
			continue
		}

		if err := m.queue.Remove(item.ID); err != nil {
			log.Printf("⚠️ Failed to remove synced mutation %d: %v", item.ID, err)
		}
		result.Synced++

		if item.Kind == models.MutationCompleteJob && m.drafts != nil {
			if err := m.drafts.Clear(item.JobID); err != nil {
				log.Printf("⚠️ Failed to clear draft for job %d: %v", item.JobID, err)
			}
		}
	}

	result.Duration = time.Since(start)
	if result.Synced > 0 || result.Failed > 0 {
		log.Printf("✅ Drain completed in %v: %d synced, %d failed", result.Duration, result.Synced, result.Failed)
	}
	return result
}

// apply dispatches a single mutation to its API call
func (m *Manager) apply(ctx context.Context, item models.Mutation) error {
	switch item.Kind {
	case models.MutationUpdateJobStatus:
		change, err := item.StatusChange()
		if err != nil {
			return err
		}
		return m.remote.UpdateJobStatus(ctx, item.JobID, change.Status)
	case models.MutationCompleteJob:
		completion, err := item.Completion()
		if err != nil {
			return err
		}
		return m.remote.CompleteJob(ctx, item.JobID, completion)
	default:
		return &api.RemoteRejectedError{StatusCode: 0, Body: "unknown mutation kind " + string(item.Kind)}
	}
}
