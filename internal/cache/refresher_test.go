package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldaxis/fieldsync/internal/api"
	"github.com/fieldaxis/fieldsync/internal/models"
	"github.com/fieldaxis/fieldsync/internal/store"
)

type fakeReader struct {
	jobs      []models.Job
	customers []models.Customer
	sites     []models.Site
	assets    []models.Asset
	parts     []models.Part
	err       error
	calls     int
}

func (f *fakeReader) FetchJobs(ctx context.Context) ([]models.Job, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.jobs, nil
}

func (f *fakeReader) FetchCustomers(ctx context.Context) ([]models.Customer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.customers, nil
}

func (f *fakeReader) FetchSites(ctx context.Context) ([]models.Site, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sites, nil
}

func (f *fakeReader) FetchAssets(ctx context.Context) ([]models.Asset, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.assets, nil
}

func (f *fakeReader) FetchParts(ctx context.Context) ([]models.Part, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.parts, nil
}

type fixedOnline bool

func (f fixedOnline) IsOnline() bool { return bool(f) }

func TestRefreshPopulatesStore(t *testing.T) {
	st := store.NewDegraded()
	remote := &fakeReader{
		jobs:      []models.Job{{ID: 1, JobNumber: "JOB-001"}, {ID: 2, JobNumber: "JOB-002"}},
		customers: []models.Customer{{ID: 10, Name: "Acme Facilities"}},
		sites:     []models.Site{{ID: 20, CustomerID: 10, Name: "Acme North Depot"}},
		assets:    []models.Asset{{ID: 30, SiteID: 20, SerialNumber: "SN-9931"}},
		parts:     []models.Part{{ID: 40, PartNumber: "P-100"}},
	}

	r := New(remote, st, fixedOnline(true), time.Minute, nil)
	r.Refresh(context.Background())

	var jobs []models.Job
	require.NoError(t, st.GetAll(&jobs))
	assert.Len(t, jobs, 2)

	var customers []models.Customer
	require.NoError(t, st.GetAll(&customers))
	assert.Len(t, customers, 1)

	var sites []models.Site
	require.NoError(t, st.GetAll(&sites))
	assert.Len(t, sites, 1)

	var assets []models.Asset
	require.NoError(t, st.GetAll(&assets))
	assert.Len(t, assets, 1)

	var parts []models.Part
	require.NoError(t, st.GetAll(&parts))
	assert.Len(t, parts, 1)
}

func TestRefreshStampsCachedAt(t *testing.T) {
	st := store.NewDegraded()
	remote := &fakeReader{jobs: []models.Job{{ID: 1, JobNumber: "JOB-001"}}}

	before := time.Now().UTC()
	r := New(remote, st, fixedOnline(true), time.Minute, nil)
	r.Refresh(context.Background())

	var job models.Job
	require.NoError(t, st.Get(&job, 1))
	assert.False(t, job.CachedAt.Before(before), "cached_at must be stamped at refresh time")
}

func TestRefreshOfflineDoesNothing(t *testing.T) {
	st := store.NewDegraded()
	remote := &fakeReader{jobs: []models.Job{{ID: 1}}}

	r := New(remote, st, fixedOnline(false), time.Minute, nil)
	r.Refresh(context.Background())

	assert.Zero(t, remote.calls, "offline refresh must not touch the network")
	var jobs []models.Job
	require.NoError(t, st.GetAll(&jobs))
	assert.Empty(t, jobs)
}

func TestRefreshReplacesStaleRecords(t *testing.T) {
	st := store.NewDegraded()
	require.NoError(t, st.Upsert(&models.Job{ID: 1, JobNumber: "JOB-001", Description: "old description"}))

	remote := &fakeReader{jobs: []models.Job{{ID: 1, JobNumber: "JOB-001"}}}
	r := New(remote, st, fixedOnline(true), time.Minute, nil)
	r.Refresh(context.Background())

	var job models.Job
	require.NoError(t, st.Get(&job, 1))
	assert.Empty(t, job.Description, "refresh is a whole-record replace")
}

func TestRefreshNotifiesJobListener(t *testing.T) {
	st := store.NewDegraded()
	remote := &fakeReader{jobs: []models.Job{{ID: 1}, {ID: 2}, {ID: 3}}}

	var seen []models.Job
	r := New(remote, st, fixedOnline(true), time.Minute, func(jobs []models.Job) { seen = jobs })
	r.Refresh(context.Background())

	assert.Len(t, seen, 3)
}

func TestRefreshNetworkFailureKeepsCache(t *testing.T) {
	st := store.NewDegraded()
	require.NoError(t, st.Upsert(&models.Job{ID: 7, JobNumber: "JOB-007"}))

	remote := &fakeReader{err: fmt.Errorf("dial tcp: %w", api.ErrNetworkUnavailable)}
	called := false
	r := New(remote, st, fixedOnline(true), time.Minute, func([]models.Job) { called = true })
	r.Refresh(context.Background())

	assert.False(t, called, "listener must not fire on a failed fetch")
	var job models.Job
	require.NoError(t, st.Get(&job, 7))
	assert.Equal(t, "JOB-007", job.JobNumber, "previous snapshot keeps serving")
}
