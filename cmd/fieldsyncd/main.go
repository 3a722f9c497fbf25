package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldaxis/fieldsync/internal/actions"
	"github.com/fieldaxis/fieldsync/internal/api"
	"github.com/fieldaxis/fieldsync/internal/cache"
	"github.com/fieldaxis/fieldsync/internal/config"
	"github.com/fieldaxis/fieldsync/internal/connectivity"
	"github.com/fieldaxis/fieldsync/internal/database"
	"github.com/fieldaxis/fieldsync/internal/draft"
	"github.com/fieldaxis/fieldsync/internal/hub"
	"github.com/fieldaxis/fieldsync/internal/localapi"
	"github.com/fieldaxis/fieldsync/internal/models"
	"github.com/fieldaxis/fieldsync/internal/queue"
	"github.com/fieldaxis/fieldsync/internal/readmodel"
	"github.com/fieldaxis/fieldsync/internal/session"
	"github.com/fieldaxis/fieldsync/internal/store"
	"github.com/fieldaxis/fieldsync/internal/syncer"
	"github.com/fieldaxis/fieldsync/internal/tracking"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	coreCfg := config.LoadCoreConfig()

	// 2. Open the durable store (embedded vs external detected automatically).
	// A failed open degrades the session to memory, it never blocks startup.
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Printf("⚠️ Durable store unavailable, running degraded in memory: %v", err)
		db = nil
	}

	// 3. Synchronize schema (additive only, old rows stay readable)
	if db != nil {
		log.Println("🚀 Synchronizing database schema...")
		err = db.AutoMigrate(
			// Entity cache
			&models.Job{},
			&models.Customer{},
			&models.Site{},
			&models.Asset{},
			&models.Part{},

			// Offline state
			&models.Mutation{},
			&models.LocationFix{},
			&models.JobDraft{},
			&models.Setting{},

			// Agent response cache (the agent process has no migrate step)
			&models.CachedResponse{},
		)
		if err != nil {
			log.Printf("⚠️ Migration warning: %v\n", err)
		} else {
			log.Println("✅ Schema synchronized successfully")
		}
	}

	// 4. Core components
	var st *store.Store
	var fixes tracking.FixStore
	if db != nil {
		st = store.New(db)
		fixes = tracking.NewFixStore(db)
	} else {
		st = store.NewDegraded()
		fixes = tracking.NewMemoryFixStore()
	}
	q := queue.New(db, coreCfg.Sync.MaxAttempts)

	sess := session.New(db)
	client := api.NewClient(cfg.APIBaseURL, sess, func() {
		sess.Invalidate()
	})

	monitor := connectivity.NewMonitor(cfg.APIBaseURL, 15*time.Second)
	drafts := draft.New(db, time.Duration(coreCfg.Draft.DebounceMillis)*time.Millisecond)

	// 5. Websocket hub: views get read-model pushes, the agent gets a bridge
	var views *readmodel.ReadModels
	var pipeline *tracking.Pipeline
	var syncMgr *syncer.Manager

	h := hub.NewHub(sess, func() {
		// Background-sync wake relayed by the agent
		syncMgr.RequestDrain()
	})

	views = readmodel.New(st, q, h)

	syncMgr = syncer.NewManager(q, client, monitor, drafts,
		time.Duration(coreCfg.Sync.DrainInterval)*time.Second,
		func(res syncer.Result) {
			views.RecordSyncOutcome(res.Synced, res.Failed)
			h.Broadcast(hub.TypeSyncComplete, hub.SyncCompletePayload{
				Synced: res.Synced,
				Failed: res.Failed,
			})
			views.Publish()
		})

	feed := tracking.NewDeviceFeed()
	pipeline = tracking.New(fixes, feed, client, monitor,
		tracking.Config{
			MinDisplacementMeters: coreCfg.Tracking.MinDisplacementMeters,
			UploadInterval:        time.Duration(coreCfg.Tracking.UploadInterval) * time.Second,
			PruneSynced:           coreCfg.Tracking.PruneSynced,
		},
		func(status tracking.Status) {
			views.SetTrackingStatus(string(status))
			views.Publish()
		})

	acts := actions.New(st, q, client, monitor, drafts, syncMgr)

	refresher := cache.New(client, st, monitor, 5*time.Minute, func(jobs []models.Job) {
		pipeline.UpdateJobs(jobs)
		views.Publish()
	})

	// 6. Connectivity transitions wake the sync manager and the location
	// pipeline; views learn about it through the read models
	go func() {
		for ev := range monitor.Subscribe() {
			if ev.Online {
				log.Println("🌐 Back online")
				syncMgr.RequestDrain()
				pipeline.RequestUpload()
				refresher.Refresh(context.Background())
			} else {
				log.Println("📴 Offline, mutations will queue locally")
			}
			views.Publish()
		}
	}()

	// 7. Background loops
	monitor.Start()
	if coreCfg.Sync.Enabled {
		syncMgr.Start()
		if coreCfg.Sync.DrainOnStart {
			syncMgr.RequestDrain()
		}
	}
	refresher.Start()

	// 8. Local HTTP surface: command API + websocket endpoints
	local := localapi.NewRouter(sess, acts, drafts, views, pipeline, feed, syncMgr, q)
	local.HandleFunc("/ws", h.ServeViews)
	local.HandleFunc("/bridge", h.ServeBridge)

	server := &http.Server{
		Addr:    cfg.HubAddr,
		Handler: local,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		log.Printf("🚀 Sync core listening on %s\n", cfg.HubAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	refresher.Stop()
	syncMgr.Stop()
	pipeline.Stop()
	monitor.Stop()
	drafts.Flush()

	if db != nil {
		log.Println("🛑 Closing database connection...")
		if err := db.Close(); err != nil {
			log.Printf("Database close error: %v", err)
		}
	}

	log.Println("✅ Shutdown complete")
}
