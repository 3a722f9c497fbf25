package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldaxis/fieldsync/internal/models"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func TestFetchJobsSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/jobs/my-jobs", r.URL.Path)
		json.NewEncoder(w).Encode([]models.Job{{ID: 1, Status: "allocated"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticToken("tok-123"), nil)
	jobs, err := c.FetchJobs(context.Background())

	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "Bearer tok-123", gotAuth)
}

func TestUpdateJobStatusPutsToJobPath(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticToken(""), nil)
	require.NoError(t, c.UpdateJobStatus(context.Background(), 42, "travelling"))

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/jobs/42", gotPath)
	assert.Equal(t, "travelling", gotBody["status"])
}

func TestTransportFailureIsNetworkUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := NewClient(srv.URL, nil, nil)
	err := c.UpdateJobStatus(context.Background(), 1, "travelling")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetworkUnavailable)
	assert.True(t, IsTransient(err))
}

func TestServerErrorIsRemoteUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	err := c.UpdateJobStatus(context.Background(), 1, "travelling")

	var unavailable *RemoteUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, 500, unavailable.StatusCode)
	assert.True(t, IsTransient(err))
	assert.False(t, IsRejected(err))
}

func TestClientErrorIsRejectionWithBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"invalid transition"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	err := c.UpdateJobStatus(context.Background(), 1, "completed")

	var rejected *RemoteRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, 422, rejected.StatusCode)
	assert.Contains(t, rejected.Body, "invalid transition")
	assert.False(t, IsTransient(err))
}

func TestUnauthorizedInvalidatesSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	invalidated := false
	c := NewClient(srv.URL, staticToken("expired"), func() { invalidated = true })
	_, err := c.FetchJobs(context.Background())

	require.Error(t, err)
	assert.True(t, invalidated, "a 401 from any call must invalidate the session")
	assert.True(t, IsRejected(err))
}

func TestUploadLocationsBatchShape(t *testing.T) {
	var body struct {
		Locations []struct {
			Latitude   float64   `json:"latitude"`
			JobID      *uint     `json:"job_id"`
			Status     string    `json:"status"`
			RecordedAt time.Time `json:"recorded_at"`
		} `json:"locations"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/locations/track", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	jobID := uint(7)
	fixes := []models.LocationFix{
		{Latitude: 51.5, Longitude: -0.12, JobID: &jobID, JobStatus: "travelling", RecordedAt: time.Now().UTC()},
		{Latitude: 51.6, Longitude: -0.13, RecordedAt: time.Now().UTC()},
	}

	c := NewClient(srv.URL, nil, nil)
	require.NoError(t, c.UploadLocations(context.Background(), fixes))

	require.Len(t, body.Locations, 2)
	assert.Equal(t, 51.5, body.Locations[0].Latitude)
	require.NotNil(t, body.Locations[0].JobID)
	assert.Equal(t, uint(7), *body.Locations[0].JobID)
	assert.Equal(t, "travelling", body.Locations[0].Status)
	assert.Nil(t, body.Locations[1].JobID)
}

func TestCompleteJobPostsPayload(t *testing.T) {
	var got models.JobCompletion
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jobs/9/complete", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	completion := models.JobCompletion{
		EngineerNotes: "replaced compressor",
		TimeOnSite:    95,
		PartsUsed:     []models.PartUsage{{PartID: 3, Quantity: 1}},
	}
	require.NoError(t, c.CompleteJob(context.Background(), 9, completion))

	assert.Equal(t, "replaced compressor", got.EngineerNotes)
	require.Len(t, got.PartsUsed, 1)
	assert.Equal(t, uint(3), got.PartsUsed[0].PartID)
}

func TestErrorHelpersRejectPlainErrors(t *testing.T) {
	plain := errors.New("something else")
	assert.False(t, IsTransient(plain))
	assert.False(t, IsRejected(plain))
}
