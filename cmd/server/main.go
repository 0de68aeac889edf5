package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/nicktill/tinytrack/pkg/auth"
	"github.com/nicktill/tinytrack/pkg/config"
	"github.com/nicktill/tinytrack/pkg/server"
)

const (
	serverReadTimeout = 10 * time.Second
	// Exports may take up to config.ExportTimeout to assemble.
	serverWriteTimeout = config.ExportTimeout + 5*time.Second
	shutdownTimeout    = 30 * time.Second
	tasksStopTimeout   = 5 * time.Second
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, "token:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "tinytrack:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}
	log, err := server.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck
	zap.ReplaceGlobals(log)

	log.Info("starting tinytrack server",
		zap.String("storage", cfg.Storage),
		zap.Int64("max_storage_gb", cfg.MaxStorageGB),
		zap.Strings("allowed_origins", cfg.AllowedOrigins),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := server.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	tasksCtx, cancelTasks := context.WithCancel(context.Background())
	defer cancelTasks()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		server.RunBadgerGC(tasksCtx, app.Store, quartz.NewReal(), log.Named("gc"))
	}()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      app.Router(),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening",
			zap.String("addr", srv.Addr),
			zap.Strings("routes", []string{"POST /events", "GET /stats", "GET /export", "GET /health", "GET /storage", "GET /metrics"}),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		cancelTasks()
		wg.Wait()
		return fmt.Errorf("server failed: %w", err)
	}

	// Background tasks stop first so they do not race the storage close.
	cancelTasks()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info("background tasks stopped")
	case <-time.After(tasksStopTimeout):
		log.Warn("background tasks did not stop in time")
	}

	log.Info("tinytrack server exited")
	return nil
}

// runToken prints a bearer token for /export signed with TINYTRACK_JWT_SECRET.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("sub", "admin", "token subject")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("TINYTRACK_JWT_SECRET must be set")
	}
	a, err := auth.New([]byte(cfg.JWTSecret), cfg.JWTIssuer)
	if err != nil {
		return err
	}
	token, err := a.Issue(*subject, *ttl, auth.ScopeExport)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
