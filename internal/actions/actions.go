package actions

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fieldaxis/fieldsync/internal/api"
	"github.com/fieldaxis/fieldsync/internal/models"
	"github.com/fieldaxis/fieldsync/internal/queue"
	"github.com/fieldaxis/fieldsync/internal/store"
	"github.com/fieldaxis/fieldsync/internal/syncer"
)

// Outcome tells the UI how a mutating action landed
type Outcome string

const (
	// OutcomeApplied means the server accepted the change directly
	OutcomeApplied Outcome = "applied"
	// OutcomeQueued means the change is saved locally and will sync later;
	// shown as "saved, will sync", never as an error
	OutcomeQueued Outcome = "queued"
)

// Online reports current connectivity
type Online interface {
	IsOnline() bool
}

// DrainRequester wakes the sync manager after an online enqueue fallback
type DrainRequester interface {
	RequestDrain()
}

// DraftStore clears a job's completion draft
type DraftStore interface {
	Clear(jobID uint) error
}

// Service implements the UI-facing mutating actions. The local cache is
// updated optimistically before any network attempt; a server-side failure
// rolls the cache back and surfaces the error, while an unreachable network
// falls back to the mutation queue.
type Service struct {
	store   *store.Store
	queue   *queue.Queue
	remote  syncer.RemoteAPI
	online  Online
	drafts  DraftStore
	syncMgr DrainRequester
}

// New creates the action service. syncMgr may be nil in tests.
func New(st *store.Store, q *queue.Queue, remote syncer.RemoteAPI, online Online, drafts DraftStore, syncMgr DrainRequester) *Service {
	return &Service{
		store:   st,
		queue:   q,
		remote:  remote,
		online:  online,
		drafts:  drafts,
		syncMgr: syncMgr,
	}
}

// SetJobStatus advances a job's status. Online it calls the API directly;
// offline (or when the network drops mid-call) it queues the intent.
func (s *Service) SetJobStatus(ctx context.Context, jobID uint, status string) (Outcome, error) {
	var job models.Job
	if err := s.store.Get(&job, jobID); err != nil {
		return "", fmt.Errorf("job %d not cached: %w", jobID, err)
	}
	previous := job.Status

	// Optimistic update before the network attempt
	job.Status = status
	job.CachedAt = time.Now().UTC()
	if err := s.store.Upsert(&job); err != nil && !errors.Is(err, store.ErrStorageUnavailable) {
		return "", err
	}

	if s.online.IsOnline() {
		err := s.remote.UpdateJobStatus(ctx, jobID, status)
		if err == nil {
			return OutcomeApplied, nil
		}
		if !errors.Is(err, api.ErrNetworkUnavailable) {
			// The server answered and said no: roll back and surface it
			s.rollback(job, previous)
			return "", err
		}
		// Thought we were online but the transport failed; fall through to queue
	}

	m, err := models.NewStatusChangeMutation(jobID, models.StatusChange{Status: status})
	if err != nil {
		s.rollback(job, previous)
		return "", err
	}
	if _, err := s.queue.Enqueue(m); err != nil {
		s.rollback(job, previous)
		return "", err
	}
	s.wakeSync()
	return OutcomeQueued, nil
}

// CompleteJob submits the completion form. The draft is purged whether the
// completion was applied directly or queued, so it cannot resurrect later.
func (s *Service) CompleteJob(ctx context.Context, jobID uint, completion models.JobCompletion) (Outcome, error) {
	var job models.Job
	if err := s.store.Get(&job, jobID); err != nil {
		return "", fmt.Errorf("job %d not cached: %w", jobID, err)
	}
	previous := job.Status

	job.Status = models.JobStatusCompleted
	job.CachedAt = time.Now().UTC()
	if err := s.store.Upsert(&job); err != nil && !errors.Is(err, store.ErrStorageUnavailable) {
		return "", err
	}

	if s.online.IsOnline() {
		err := s.remote.CompleteJob(ctx, jobID, completion)
		if err == nil {
			s.clearDraft(jobID)
			return OutcomeApplied, nil
		}
		if !errors.Is(err, api.ErrNetworkUnavailable) {
			// Draft survives a rejection so the technician can fix and resubmit
			s.rollback(job, previous)
			return "", err
		}
	}

	m, err := models.NewCompletionMutation(jobID, completion)
	if err != nil {
		s.rollback(job, previous)
		return "", err
	}
	if _, err := s.queue.Enqueue(m); err != nil {
		s.rollback(job, previous)
		return "", err
	}
	s.clearDraft(jobID)
	s.wakeSync()
	return OutcomeQueued, nil
}

// rollback restores the pre-mutation cached status
func (s *Service) rollback(job models.Job, previousStatus string) {
	job.Status = previousStatus
	if err := s.store.Upsert(&job); err != nil && !errors.Is(err, store.ErrStorageUnavailable) {
		log.Printf("⚠️ Failed to roll back job %d status: %v", job.ID, err)
	}
}

func (s *Service) clearDraft(jobID uint) {
	if s.drafts == nil {
		return
	}
	if err := s.drafts.Clear(jobID); err != nil {
		log.Printf("⚠️ Failed to clear draft for job %d: %v", jobID, err)
	}
}

func (s *Service) wakeSync() {
	if s.syncMgr != nil && s.online.IsOnline() {
		s.syncMgr.RequestDrain()
	}
}
