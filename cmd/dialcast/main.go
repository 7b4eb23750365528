package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dialcast/dialcast/internal/agents"
	"github.com/dialcast/dialcast/internal/api"
	"github.com/dialcast/dialcast/internal/campaign"
	"github.com/dialcast/dialcast/internal/config"
	"github.com/dialcast/dialcast/internal/database"
	"github.com/dialcast/dialcast/internal/inbound"
	"github.com/dialcast/dialcast/internal/livekit"
	"github.com/dialcast/dialcast/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting dialcast",
		"port", cfg.Port,
		"data_dir", cfg.DataDir,
		"livekit_url", cfg.LiveKitURL,
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DataDir, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	tenants := database.NewTenantRepository(db)
	campaigns := database.NewCampaignRepository(db)
	leads := database.NewLeadRepository(db)
	agentRepo := database.NewAgentRepository(db)
	campaignAgents := database.NewCampaignAgentRepository(db)
	phoneNumbers := database.NewPhoneNumberRepository(db)
	callLogs := database.NewCallLogRepository(db)

	// Shared agent load accounting and selection.
	tracker := agents.NewTracker()
	selector := agents.NewSelector(agentRepo, campaignAgents, tracker, cfg.DefaultAgentName)

	// Telephony fabric client.
	lk := livekit.NewClient(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret)

	supervisor := campaign.NewSupervisor(
		campaigns, leads, callLogs,
		lk, selector, tracker,
		campaign.RuntimeOptions{
			DefaultCountryCode: cfg.DefaultCountryCode,
			Logger:             logger,
		},
	)

	// Repair state left behind by a crash before accepting any traffic.
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := supervisor.RecoverAtBoot(bootCtx); err != nil {
		bootCancel()
		slog.Error("boot recovery failed", "error", err)
		os.Exit(1)
	}
	bootCancel()

	router := inbound.NewRouter(phoneNumbers, agentRepo, leads, callLogs, selector, cfg.DefaultCountryCode, logger)

	authKey, err := cfg.JWTPublicKeyRSA()
	if err != nil {
		slog.Error("failed to load jwt public key", "error", err)
		os.Exit(1)
	}

	collector := metrics.NewCollector(supervisor, tracker, callLogs, time.Now())

	handler := api.NewServer(api.Deps{
		Config:         cfg,
		Tenants:        tenants,
		Campaigns:      campaigns,
		Leads:          leads,
		Agents:         agentRepo,
		CampaignAgents: campaignAgents,
		PhoneNumbers:   phoneNumbers,
		CallLogs:       callLogs,
		Supervisor:     supervisor,
		Inbound:        router,
		Telephony:      lk,
		AuthKey:        authKey,
		Metrics:        metrics.Handler(collector),
	})
	defer handler.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
		exitCode = 1
	}

	slog.Info("shutting down")

	// Stop accepting requests, then let in-flight calls drain.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		exitCode = 1
	}

	supervisor.Shutdown(cfg.ShutdownTimeout)

	slog.Info("dialcast stopped")
	os.Exit(exitCode)
}
