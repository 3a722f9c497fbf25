package syncer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldaxis/fieldsync/internal/api"
	"github.com/fieldaxis/fieldsync/internal/models"
	"github.com/fieldaxis/fieldsync/internal/queue"
)

type fakeRemote struct {
	mu      sync.Mutex
	calls   []string // "status:jobID:value" / "complete:jobID"
	results map[string]error
	block   chan struct{} // when set, calls wait here
}

func (f *fakeRemote) key(kind string, jobID uint) string {
	return fmt.Sprintf("%s:%d", kind, jobID)
}

func (f *fakeRemote) UpdateJobStatus(ctx context.Context, jobID uint, status string) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "status:"+status)
	return f.results[f.key("status", jobID)]
}

func (f *fakeRemote) CompleteJob(ctx context.Context, jobID uint, completion models.JobCompletion) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "complete")
	return f.results[f.key("complete", jobID)]
}

func (f *fakeRemote) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeOnline struct{ online bool }

func (f *fakeOnline) IsOnline() bool { return f.online }

type fakeDrafts struct {
	mu      sync.Mutex
	cleared []uint
}

func (f *fakeDrafts) Clear(jobID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, jobID)
	return nil
}

func enqueue(t *testing.T, q *queue.Queue, m *models.Mutation, err error, at time.Time) int64 {
	t.Helper()
	require.NoError(t, err)
	m.EnqueuedAt = at
	id, qerr := q.Enqueue(m)
	require.NoError(t, qerr)
	return id
}

func TestDrainOfflineIsNoOp(t *testing.T) {
	q := queue.New(nil, 5)
	remote := &fakeRemote{results: map[string]error{}}
	m, err := models.NewStatusChangeMutation(1, models.StatusChange{Status: "travelling"})
	enqueue(t, q, m, err, time.Now().UTC())

	mgr := NewManager(q, remote, &fakeOnline{online: false}, nil, time.Minute, nil)
	result := mgr.Drain(context.Background())

	assert.Equal(t, 0, result.Synced)
	assert.Empty(t, remote.callLog())
	assert.Equal(t, 1, q.Depth(), "offline drain must not consume the queue")
}

func TestDrainEmptyQueueReportsZero(t *testing.T) {
	q := queue.New(nil, 5)
	remote := &fakeRemote{results: map[string]error{}}

	mgr := NewManager(q, remote, &fakeOnline{online: true}, nil, time.Minute, nil)
	result := mgr.Drain(context.Background())

	assert.Equal(t, 0, result.Synced)
	assert.Equal(t, 0, result.Failed)
	assert.False(t, result.AlreadyRunning)
}

func TestDrainReplaysInFIFOOrder(t *testing.T) {
	// The offline session recorded travelling then in_progress; replay must
	// preserve that order or a stale status would land last on the server.
	q := queue.New(nil, 5)
	remote := &fakeRemote{results: map[string]error{}}
	base := time.Now().UTC()

	m1, err := models.NewStatusChangeMutation(1, models.StatusChange{Status: "travelling"})
	enqueue(t, q, m1, err, base)
	m2, err := models.NewStatusChangeMutation(1, models.StatusChange{Status: "in_progress"})
	enqueue(t, q, m2, err, base.Add(time.Second))

	mgr := NewManager(q, remote, &fakeOnline{online: true}, nil, time.Minute, nil)
	result := mgr.Drain(context.Background())

	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, []string{"status:travelling", "status:in_progress"}, remote.callLog())
	assert.Equal(t, 0, q.Depth())
}

func TestConcurrentDrainCollapsesToSinglePass(t *testing.T) {
	q := queue.New(nil, 5)
	block := make(chan struct{})
	remote := &fakeRemote{results: map[string]error{}, block: block}

	m, err := models.NewStatusChangeMutation(1, models.StatusChange{Status: "travelling"})
	enqueue(t, q, m, err, time.Now().UTC())

	mgr := NewManager(q, remote, &fakeOnline{online: true}, nil, time.Minute, nil)

	firstDone := make(chan Result, 1)
	go func() { firstDone <- mgr.Drain(context.Background()) }()

	// Wait until the first pass is inside the remote call, then race it
	require.Eventually(t, func() bool {
		return mgr.draining.Load()
	}, time.Second, time.Millisecond)

	second := mgr.Drain(context.Background())
	assert.True(t, second.AlreadyRunning)
	assert.Equal(t, 0, second.Synced)

	close(block)
	first := <-firstDone
	assert.Equal(t, 1, first.Synced)
	assert.Equal(t, []string{"status:travelling"}, remote.callLog(), "the item must be applied exactly once")
}

func TestTransientFailureLeavesItemForNextCycle(t *testing.T) {
	q := queue.New(nil, 5)
	remote := &fakeRemote{results: map[string]error{}}
	remote.results[remote.key("status", 1)] = &api.RemoteUnavailableError{StatusCode: 503}

	m, err := models.NewStatusChangeMutation(1, models.StatusChange{Status: "travelling"})
	enqueue(t, q, m, err, time.Now().UTC())

	mgr := NewManager(q, remote, &fakeOnline{online: true}, nil, time.Minute, nil)
	result := mgr.Drain(context.Background())

	assert.Equal(t, 0, result.Synced)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, q.Depth(), "transient failure stays queued")
}

func TestRejectionAbandonsItem(t *testing.T) {
	q := queue.New(nil, 5)
	remote := &fakeRemote{results: map[string]error{}}
	remote.results[remote.key("status", 1)] = &api.RemoteRejectedError{StatusCode: 422, Body: "invalid transition"}

	m, err := models.NewStatusChangeMutation(1, models.StatusChange{Status: "travelling"})
	enqueue(t, q, m, err, time.Now().UTC())

	mgr := NewManager(q, remote, &fakeOnline{online: true}, nil, time.Minute, nil)
	result := mgr.Drain(context.Background())

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, q.Depth(), "rejected item must never replay")

	failed, ferr := q.ListFailed()
	require.NoError(t, ferr)
	require.Len(t, failed, 1)
	assert.Contains(t, *failed[0].LastError, "422")
}

func TestFailedItemDoesNotBlockLaterItems(t *testing.T) {
	q := queue.New(nil, 5)
	remote := &fakeRemote{results: map[string]error{}}
	remote.results[remote.key("status", 1)] = &api.RemoteUnavailableError{StatusCode: 500}
	base := time.Now().UTC()

	m1, err := models.NewStatusChangeMutation(1, models.StatusChange{Status: "travelling"})
	enqueue(t, q, m1, err, base)
	m2, err := models.NewStatusChangeMutation(2, models.StatusChange{Status: "in_progress"})
	enqueue(t, q, m2, err, base.Add(time.Second))

	mgr := NewManager(q, remote, &fakeOnline{online: true}, nil, time.Minute, nil)
	result := mgr.Drain(context.Background())

	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.Failed)
}

func TestCompletionSyncClearsDraft(t *testing.T) {
	q := queue.New(nil, 5)
	remote := &fakeRemote{results: map[string]error{}}
	drafts := &fakeDrafts{}

	m, err := models.NewCompletionMutation(3, models.JobCompletion{EngineerNotes: "replaced filter"})
	enqueue(t, q, m, err, time.Now().UTC())

	mgr := NewManager(q, remote, &fakeOnline{online: true}, drafts, time.Minute, nil)
	result := mgr.Drain(context.Background())

	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, []uint{3}, drafts.cleared)
}

func TestRejectedCompletionKeepsDraft(t *testing.T) {
	q := queue.New(nil, 5)
	remote := &fakeRemote{results: map[string]error{}}
	remote.results[remote.key("complete", 3)] = &api.RemoteRejectedError{StatusCode: 400, Body: "signature missing"}
	drafts := &fakeDrafts{}

	m, err := models.NewCompletionMutation(3, models.JobCompletion{})
	enqueue(t, q, m, err, time.Now().UTC())

	mgr := NewManager(q, remote, &fakeOnline{online: true}, drafts, time.Minute, nil)
	mgr.Drain(context.Background())

	assert.Empty(t, drafts.cleared, "the draft is the only copy of the rejected work")
}

func TestRequestDrainWakesLoop(t *testing.T) {
	q := queue.New(nil, 5)
	remote := &fakeRemote{results: map[string]error{}}

	m, err := models.NewStatusChangeMutation(1, models.StatusChange{Status: "travelling"})
	enqueue(t, q, m, err, time.Now().UTC())

	done := make(chan Result, 1)
	mgr := NewManager(q, remote, &fakeOnline{online: true}, nil, time.Hour, func(r Result) {
		done <- r
	})
	mgr.Start()
	defer mgr.Stop()

	mgr.RequestDrain()

	select {
	case r := <-done:
		assert.Equal(t, 1, r.Synced)
	case <-time.After(2 * time.Second):
		t.Fatal("drain was never triggered")
	}
}

func TestDrainRecoversInterruptedMutation(t *testing.T) {
	// The previous session's drain marked the item in progress and died
	// before the outcome; a fresh manager must still replay it.
	q := queue.New(nil, 5)
	remote := &fakeRemote{results: map[string]error{}}

	m, err := models.NewStatusChangeMutation(1, models.StatusChange{Status: "travelling"})
	id := enqueue(t, q, m, err, time.Now().UTC())
	require.NoError(t, q.MarkStatus(id, models.MutationInProgress))

	mgr := NewManager(q, remote, &fakeOnline{online: true}, nil, time.Minute, nil)
	result := mgr.Drain(context.Background())

	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, []string{"status:travelling"}, remote.callLog())
	assert.Zero(t, q.Depth())
}

func TestEmptyDrainsNeverContend(t *testing.T) {
	q := queue.New(nil, 5)
	remote := &fakeRemote{results: map[string]error{}}
	mgr := NewManager(q, remote, &fakeOnline{online: true}, nil, time.Minute, nil)

	// With nothing queued, overlapping drains are pure reads: none may
	// claim the guard, so none may observe another as already running
	var wg sync.WaitGroup
	var contended atomic.Int32
	for i := 0; i < 50; i++ {
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if mgr.Drain(context.Background()).AlreadyRunning {
					contended.Add(1)
				}
			}()
		}
		wg.Wait()
	}

	assert.Zero(t, contended.Load())
	assert.False(t, mgr.draining.Load())
}
