package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fspulse/fspulse/internal/analysis"
	"github.com/fspulse/fspulse/internal/config"
	"github.com/fspulse/fspulse/internal/coordinator"
	"github.com/fspulse/fspulse/internal/events"
	"github.com/fspulse/fspulse/internal/store"
	"github.com/fspulse/fspulse/internal/validate"
)

func main() {
	cfg := config.Load()

	log.Printf("fspulsed starting...")
	log.Printf("  Database: %s", cfg.DBPath)
	log.Printf("  Analysis threads: %d", cfg.AnalysisThreads)
	log.Printf("  Poll interval: %v", cfg.PollInterval)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	bcast := events.NewBroadcaster()
	pool := &analysis.Pool{
		DB:              db,
		Registry:        validate.NewRegistry(),
		Bcast:           bcast,
		Threads:         cfg.AnalysisThreads,
		PageSize:        cfg.CandidatePageSize,
		ChannelCapacity: cfg.AnalysisChannelCapacity,
	}

	coord := coordinator.New(db, cfg, bcast, pool)
	coord.Start()
	defer coord.Stop()

	log.Printf("fspulsed ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
}
