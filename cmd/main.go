// workforce-service
//
// Hiring workflow and training-compliance engine for the staffing console.
// Exposes a REST API used by the Gateway to implement:
//   - application lifecycle (evaluate legal actions, apply an action)
//   - training distribution with duplicate-assignment protection
//   - per-employee compliance snapshots
//
// A cron sweep recomputes compliance for all active employees and publishes
// EVENT_COMPLIANCE_ALERT to Redis for the notification forwarder.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medstaff/workforce-service/internal/compliance"
	"medstaff/workforce-service/internal/config"
	"medstaff/workforce-service/internal/db"
	"medstaff/workforce-service/internal/hiring"
	"medstaff/workforce-service/internal/scheduler"
)

const version = "1.0.0"

func main() {
	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[workforce-service] Config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── PostgreSQL ───────────────────────────────────────────────────────────
	log.Println("[workforce-service] Connecting to PostgreSQL…")
	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[workforce-service] PostgreSQL: %v", err)
	}
	defer pool.Close()
	log.Println("[workforce-service] PostgreSQL connected ✓")

	// ── Redis ────────────────────────────────────────────────────────────────
	log.Println("[workforce-service] Connecting to Redis…")
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("[workforce-service] Redis: %v", err)
	}
	defer rdb.Close()
	log.Println("[workforce-service] Redis connected ✓")

	// ── Services ─────────────────────────────────────────────────────────────
	hiringSvc := hiring.NewService(pool, rdb)
	complianceSvc := compliance.NewService(pool, rdb, cfg.RequirementHours)

	// ── Compliance sweep ─────────────────────────────────────────────────────
	sweep := scheduler.New(complianceSvc, cfg.SweepIntervalHours)
	if err := sweep.Start(ctx); err != nil {
		log.Fatalf("[workforce-service] Scheduler: %v", err)
	}
	defer sweep.Stop()

	// ── HTTP server ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)

	hiring.NewHandler(hiringSvc).RegisterRoutes(mux)
	compliance.NewHandler(complianceSvc).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[workforce-service] v%s listening on :%s", version, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[workforce-service] HTTP server error: %v", err)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[workforce-service] Shutting down…")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[workforce-service] Shutdown error: %v", err)
	}
	log.Println("[workforce-service] Stopped.")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "workforce-service",
		"version": version,
	})
}
