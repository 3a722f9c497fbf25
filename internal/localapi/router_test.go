package localapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldaxis/fieldsync/internal/actions"
	"github.com/fieldaxis/fieldsync/internal/draft"
	"github.com/fieldaxis/fieldsync/internal/models"
	"github.com/fieldaxis/fieldsync/internal/queue"
	"github.com/fieldaxis/fieldsync/internal/readmodel"
	"github.com/fieldaxis/fieldsync/internal/session"
	"github.com/fieldaxis/fieldsync/internal/store"
	"github.com/fieldaxis/fieldsync/internal/syncer"
	"github.com/fieldaxis/fieldsync/internal/tracking"
)

type stubRemote struct{}

func (s *stubRemote) UpdateJobStatus(ctx context.Context, jobID uint, status string) error {
	return nil
}

func (s *stubRemote) CompleteJob(ctx context.Context, jobID uint, completion models.JobCompletion) error {
	return nil
}

func (s *stubRemote) UploadLocations(ctx context.Context, fixes []models.LocationFix) error {
	return nil
}

type stubOnline struct{ online bool }

func (s *stubOnline) IsOnline() bool { return s.online }

type fixture struct {
	server *httptest.Server
	sess   *session.Session
	queue  *queue.Queue
	online *stubOnline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewDegraded()
	require.NoError(t, st.Upsert(&models.Job{ID: 1, JobNumber: "JOB-001", Status: models.JobStatusAllocated}))

	q := queue.New(nil, 3)
	sess := session.New(nil)
	online := &stubOnline{}
	remote := &stubRemote{}
	drafts := draft.New(nil, 5*time.Millisecond)
	views := readmodel.New(st, q, nil)
	syncMgr := syncer.NewManager(q, remote, online, drafts, time.Hour, nil)
	feed := tracking.NewDeviceFeed()
	pipeline := tracking.New(tracking.NewMemoryFixStore(), feed, remote, online, tracking.Config{}, nil)
	t.Cleanup(pipeline.Stop)
	acts := actions.New(st, q, remote, online, drafts, syncMgr)

	router := NewRouter(sess, acts, drafts, views, pipeline, feed, syncMgr, q)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &fixture{server: server, sess: sess, queue: q, online: online}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestStateSnapshot(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, "GET", "/state", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "idle", body["tracking_status"])
	assert.Equal(t, float64(0), body["queue_depth"])
	assert.Equal(t, true, body["store_degraded"])
}

func TestSetToken(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, "POST", "/session/token", map[string]string{"token": "bearer-xyz"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bearer-xyz", f.sess.Token())

	resp, _ = f.do(t, "POST", "/session/token", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOfflineUnlockWithoutCredential(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, "POST", "/session/unlock", map[string]string{"pin": "1234"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOfflineStatusChangeQueues(t *testing.T) {
	f := newFixture(t)
	f.online.online = false

	resp, body := f.do(t, "PUT", "/jobs/1/status", map[string]string{"status": models.JobStatusTravelling})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "queued", body["outcome"])
	assert.Equal(t, 1, f.queue.Depth())

	// Optimistic update is visible through the jobs listing
	req, err := http.Get(f.server.URL + "/jobs")
	require.NoError(t, err)
	defer req.Body.Close()
	var jobs []models.Job
	require.NoError(t, json.NewDecoder(req.Body).Decode(&jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobStatusTravelling, jobs[0].Status)
}

func TestOnlineStatusChangeApplies(t *testing.T) {
	f := newFixture(t)
	f.online.online = true

	resp, body := f.do(t, "PUT", "/jobs/1/status", map[string]string{"status": models.JobStatusTravelling})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "applied", body["outcome"])
	assert.Zero(t, f.queue.Depth())
}

func TestUnknownJobStatusChange(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, "PUT", "/jobs/99/status", map[string]string{"status": models.JobStatusTravelling})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestDraftLifecycle(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, "PUT", "/jobs/1/draft", models.JobDraft{EngineerNotes: "replaced filter"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, body := f.do(t, "GET", "/jobs/1/draft", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "replaced filter", body["engineer_notes"])

	resp, _ = f.do(t, "DELETE", "/jobs/1/draft", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, "GET", "/jobs/1/draft", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConsentValidation(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, "POST", "/tracking/consent", map[string]string{"consent": "maybe"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := f.do(t, "POST", "/tracking/consent", map[string]string{"consent": models.ConsentGranted})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.ConsentGranted, body["consent"])

	resp, body = f.do(t, "GET", "/tracking/consent", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.ConsentGranted, body["consent"])
}

func TestDevicePermissionReport(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, "POST", "/device/permission", map[string]bool{"denied": true})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDevicePositionReport(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, "POST", "/device/position", map[string]float64{"Latitude": 51.5, "Longitude": -0.12, "Accuracy": 5})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestSyncEndpoints(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, "POST", "/sync/drain", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	req, err := http.Get(f.server.URL + "/sync/failed")
	require.NoError(t, err)
	defer req.Body.Close()
	assert.Equal(t, http.StatusOK, req.StatusCode)
	var failed []models.Mutation
	require.NoError(t, json.NewDecoder(req.Body).Decode(&failed))
	assert.Empty(t, failed)
}

func TestBadJobID(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, "PUT", fmt.Sprintf("/jobs/%s/status", "abc"), map[string]string{"status": models.JobStatusTravelling})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
