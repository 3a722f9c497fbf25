package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldaxis/fieldsync/internal/agent"
	"github.com/fieldaxis/fieldsync/internal/config"
	"github.com/fieldaxis/fieldsync/internal/database"
	"github.com/fieldaxis/fieldsync/web"
)

// generation identifies this agent build's slice of the response cache.
// Bumped on release so activation can drop everything older versions stored.
var generation = "dev"

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	coreCfg := config.LoadCoreConfig()

	if g := os.Getenv("AGENT_GENERATION"); g != "" {
		generation = g
	}

	// 2. Open a second handle to the store the main client owns. The agent
	// never starts or migrates anything; if the main client is not up yet,
	// retry until it is.
	var db *database.DB
	for {
		db, err = database.ConnectExisting(cfg.Database)
		if err == nil {
			break
		}
		log.Printf("⚠️ Store not reachable yet, retrying: %v", err)
		time.Sleep(3 * time.Second)
	}

	// 3. Bridge to the main process for auth tokens and sync wakes
	bridge := agent.NewBridge(cfg.Agent.BridgeURL)

	// 4. Response cache under this build's generation; install the shell on
	// first run so navigation works offline before anything was ever fetched
	responses := agent.NewResponseCache(db.DB, generation)

	installed, err := responses.HasGeneration()
	if err != nil {
		log.Fatalf("Failed to inspect response cache: %v", err)
	}
	if !installed {
		shell, err := web.GetFileSystem()
		if err != nil {
			log.Fatalf("Failed to load application shell: %v", err)
		}
		if err := responses.Install(shell, coreCfg.Cache.ShellPaths); err != nil {
			log.Fatalf("Failed to install application shell: %v", err)
		}
	}

	bridge.OnSkipWaiting = func() {
		log.Println("⏭️  Skip-waiting received, activating this generation")
		if err := responses.Activate(); err != nil {
			log.Printf("⚠️ Activation failed: %v", err)
		}
	}
	bridge.Start()

	// A fresh install activates immediately unless a view asked the old
	// generation to keep serving until reload
	if os.Getenv("AGENT_WAIT_ACTIVATION") != "true" {
		if err := responses.Activate(); err != nil {
			log.Printf("⚠️ Activation failed: %v", err)
		}
	}

	// 5. The proxy itself
	a := agent.New(cfg.APIBaseURL, responses, bridge, bridge, coreCfg.Cache.AllowedRoutes)

	server := &http.Server{
		Addr:    cfg.Agent.ListenAddr,
		Handler: a.Handler(),
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		log.Printf("🚀 Network agent (%s) listening on %s\n", generation, cfg.Agent.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start agent: %v", err)
		}
	}()

	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	bridge.Stop()

	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
