package cache

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/fieldaxis/fieldsync/internal/api"
	"github.com/fieldaxis/fieldsync/internal/models"
	"github.com/fieldaxis/fieldsync/internal/store"
)

// RemoteReader is the bulk-read slice of the API client used to seed the cache
type RemoteReader interface {
	FetchJobs(ctx context.Context) ([]models.Job, error)
	FetchCustomers(ctx context.Context) ([]models.Customer, error)
	FetchSites(ctx context.Context) ([]models.Site, error)
	FetchAssets(ctx context.Context) ([]models.Asset, error)
	FetchParts(ctx context.Context) ([]models.Part, error)
}

// Online reports current connectivity
type Online interface {
	IsOnline() bool
}

// Refresher keeps the entity cache warm: on every successful online fetch
// each table is refreshed wholesale by replace-by-id upsert. Offline it does
// nothing; reads fall back to whatever the cache already holds.
type Refresher struct {
	remote    RemoteReader
	store     *store.Store
	online    Online
	interval  time.Duration
	onRefresh func(jobs []models.Job)

	stop chan struct{}
}

// New creates a refresher. onRefresh receives the fresh job list after every
// successful pass (the tracking pipeline listens); it may be nil.
func New(remote RemoteReader, st *store.Store, online Online, interval time.Duration, onRefresh func([]models.Job)) *Refresher {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Refresher{
		remote:    remote,
		store:     st,
		online:    online,
		interval:  interval,
		onRefresh: onRefresh,
		stop:      make(chan struct{}),
	}
}

// Start begins the background refresh loop
func (r *Refresher) Start() {
	go func() {
		log.Println("📡 Cache refresher started")

		// Initial refresh shortly after startup
		time.Sleep(2 * time.Second)
		r.Refresh(context.Background())

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Refresh(context.Background())
			case <-r.stop:
				log.Println("🛑 Cache refresher stopped")
				return
			}
		}
	}()
}

// Stop halts the refresh loop
func (r *Refresher) Stop() {
	close(r.stop)
}

// Refresh performs one full pass over the five entity kinds. Network
// unavailability is expected and silent; the cache simply keeps serving the
// previous snapshot.
func (r *Refresher) Refresh(ctx context.Context) {
	if !r.online.IsOnline() {
		return
	}

	now := time.Now().UTC()

	jobs, err := r.remote.FetchJobs(ctx)
	if err == nil {
		for i := range jobs {
			jobs[i].CachedAt = now
		}
		r.upsert(jobs, "jobs")
		if r.onRefresh != nil {
			r.onRefresh(jobs)
		}
	} else {
		r.report("jobs", err)
	}

	if customers, err := r.remote.FetchCustomers(ctx); err == nil {
		for i := range customers {
			customers[i].CachedAt = now
		}
		r.upsert(customers, "customers")
	} else {
		r.report("customers", err)
	}

	if sites, err := r.remote.FetchSites(ctx); err == nil {
		for i := range sites {
			sites[i].CachedAt = now
		}
		r.upsert(sites, "sites")
	} else {
		r.report("sites", err)
	}

	if assets, err := r.remote.FetchAssets(ctx); err == nil {
		for i := range assets {
			assets[i].CachedAt = now
		}
		r.upsert(assets, "assets")
	} else {
		r.report("assets", err)
	}

	if parts, err := r.remote.FetchParts(ctx); err == nil {
		for i := range parts {
			parts[i].CachedAt = now
		}
		r.upsert(parts, "parts")
	} else {
		r.report("parts", err)
	}
}

func (r *Refresher) upsert(records interface{}, table string) {
	if err := r.store.UpsertMany(records); err != nil {
		log.Printf("⚠️ Failed to refresh %s cache: %v", table, err)
	}
}

func (r *Refresher) report(table string, err error) {
	if errors.Is(err, api.ErrNetworkUnavailable) {
		return // expected while offline, queue and cache carry on
	}
	log.Printf("⚠️ Failed to fetch %s: %v", table, err)
}
