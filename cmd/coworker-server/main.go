// Coworker is a local-first filesystem coworker server.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coworker/internal/api"
	"coworker/internal/audit"
	"coworker/internal/config"
	"coworker/internal/cryptutil"
	"coworker/internal/jobs"
	"coworker/internal/metrics"
	"coworker/internal/middleware"
	"coworker/internal/store"
	"coworker/internal/tools"
)

func main() {
	log.SetFlags(log.LstdFlags | log.LUTC | log.Lmsgprefix)
	log.SetPrefix("[coworker-server] ")

	cfg := config.Parse()
	if err := cfg.Validate(); err != nil {
		log.Printf("invalid configuration: %v", err)
		os.Exit(1)
	}
	if !cfg.IsLoopback() {
		log.Printf("warning: binding to non-loopback host %q; this system is designed to be local-first", cfg.Host)
	}
	logConfig(cfg)

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.StorePath, cfg.TokenEncryptionKey)
	if err != nil {
		log.Printf("failed to open store: %v", err)
		os.Exit(1)
	}
	defer st.Close()

	registry := tools.NewRegistry()
	auditLog := audit.NewRegistry()
	defer auditLog.CloseAll()

	gw := api.New(st, registry, api.Config{SessionInactivityTTL: cfg.SessionInactivityTTL}, log.Default())

	workerCtx, workerCancel := context.WithCancel(ctx)
	for i := 0; i < cfg.WorkerCount; i++ {
		wcfg := jobs.Config{
			WorkerID:     fmt.Sprintf("worker-%d", i+1),
			PollInterval: cfg.PollInterval,
			LeaseMS:      cfg.LeaseMS,
		}
		w := jobs.NewWorker(st, registry, auditLog, wcfg, log.Default())
		go w.Run(workerCtx)
	}

	mux := http.NewServeMux()
	gw.Register(mux)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	rl := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerMinute: cfg.RateLimitPerMinute,
		BurstSize:         cfg.RateLimitBurst,
		CleanupInterval:   5 * time.Minute,
		Logger:            log.Default(),
	})
	defer rl.Stop()

	secCfg := middleware.DefaultSecurityHeadersConfig()
	secCfg.EnableCORS = cfg.EnableCORS

	handler := middleware.SecurityHeaders(secCfg)(rl.Middleware(mux))

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP gateway listening on %s", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var exitCode int
	select {
	case sig := <-sigCh:
		log.Printf("received signal: %s, initiating graceful shutdown...", sig)
	case err := <-errCh:
		log.Printf("server error: %v", err)
		exitCode = 1
	}

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		exitCode = 1
	} else {
		log.Printf("server stopped gracefully")
	}
	os.Exit(exitCode)
}

func logConfig(cfg config.Config) {
	log.Printf("coworker-server configuration:")
	log.Printf("  addr=%s", cfg.Addr())
	log.Printf("  store=%s", cfg.StorePath)
	log.Printf("  workers=%d", cfg.WorkerCount)
	log.Printf("  lease_ms=%d", cfg.LeaseMS)
	log.Printf("  poll_interval=%s", cfg.PollInterval)
	log.Printf("  session_ttl=%s", cfg.SessionInactivityTTL)
	log.Printf("  rate_limit_rpm=%d burst=%d", cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	log.Printf("  enable_cors=%v", cfg.EnableCORS)
	if cfg.TokenEncryptionKey == "" {
		log.Printf("  token_encryption_key=(disabled)")
	} else {
		log.Printf("  token_encryption_key=%s", cryptutil.RedactSecret(cfg.TokenEncryptionKey))
	}
	log.Printf("  log_level=%s", cfg.LogLevel)
}
