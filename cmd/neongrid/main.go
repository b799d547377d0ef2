package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"neongrid/internal/cfg"
	"neongrid/internal/feed"
	"neongrid/internal/journal"
	"neongrid/internal/producer"
	"neongrid/internal/server"
	"neongrid/internal/telemetry"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := telemetry.New()
	store := feed.NewStore(c.ActivityCapacity)
	hub := feed.NewHub(store, c.QueueCapacity, m)

	var wg sync.WaitGroup

	jnl := openJournal(c)
	if jnl != nil {
		defer jnl.Close()
		startJournal(ctx, &wg, hub, jnl, m)
	}

	srv := server.New(hub, jnl, m, c.Listen)
	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("server start failed")
	}

	startProducers(ctx, &wg, hub, c)

	waitForShutdown(ctx, cancel, &wg)

	if err := srv.Stop(); err != nil {
		log.Error().Err(err).Msg("server stop failed")
	}
}

// openJournal opens the activity journal if DATA_PATH is configured.
func openJournal(c cfg.Settings) *journal.Journal {
	if c.DataPath == "" {
		return nil
	}
	jnl, err := journal.Open(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("journal initialization failed, continuing without persistence")
		return nil
	}
	return jnl
}

// startJournal attaches a subscriber feeding the activity journal.
func startJournal(ctx context.Context, wg *sync.WaitGroup, hub *feed.Hub, jnl *journal.Journal, m *telemetry.Metrics) {
	sub := hub.Attach()
	wg.Add(1)
	go func() {
		defer wg.Done()
		journal.Run(ctx, sub, jnl, m)
	}()
}

// startProducers starts the configured update sources.
func startProducers(ctx context.Context, wg *sync.WaitGroup, hub *feed.Hub, c cfg.Settings) {
	if c.Simulate {
		sim := producer.NewSimulator(hub, c.SimInterval, time.Now().UnixNano())
		wg.Add(1)
		go func() {
			defer wg.Done()
			sim.Run(ctx)
		}()
	}
	if c.PriceFeedURL != "" {
		pf := producer.NewPriceFeed(hub, c.PriceFeedURL, c.PollInterval, c.RESTTimeout)
		wg.Add(1)
		go func() {
			defer wg.Done()
			pf.Run(ctx)
		}()
	}
	if !c.Simulate && c.PriceFeedURL == "" {
		log.Warn().Msg("no producers configured, feed will only change via future publishers")
	}
}

// waitForShutdown waits for shutdown signals and handles graceful shutdown
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel()

	// Wait for all goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all goroutines stopped")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}
