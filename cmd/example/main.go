// Command example runs a small widget app that reports UI interactions to a
// TinyTrack server and prints the live dashboard snapshot.
//
//	go run ./cmd/server &
//	go run ./cmd/example
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/tinytrack/pkg/sdk"
	"github.com/nicktill/tinytrack/pkg/sdk/httpx"
	"github.com/nicktill/tinytrack/pkg/sdk/poller"
)

const (
	appAddr         = ":3001"
	shutdownTimeout = 10 * time.Second
)

var startTime = time.Now()

func main() {
	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck

	collector := os.Getenv("TINYTRACK_URL")
	if collector == "" {
		collector = sdk.DefaultEndpoint
	}

	client, err := sdk.New(sdk.Config{
		Endpoint: collector,
		AppID:    "example-app",
		Logger:   log,
	})
	if err != nil {
		log.Fatal("failed to create tracker", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client.Start(ctx)
	defer client.Stop()

	dashboard, err := poller.New(poller.Config{
		Endpoint:    collector,
		RecentLimit: 5,
		Logger:      log,
		OnUpdate:    printSnapshot(log.Named("dashboard")),
	})
	if err != nil {
		log.Fatal("failed to create poller", zap.Error(err))
	}
	dashboard.Start(ctx)
	defer dashboard.Stop()

	mux := http.NewServeMux()
	setupHandlers(mux, dashboard)

	server := &http.Server{
		Addr:    appAddr,
		Handler: httpx.Middleware(client, httpx.WithPageViews())(mux),
	}

	go func() {
		log.Info("example app listening",
			zap.String("addr", appAddr),
			zap.String("collector", collector),
			zap.String("session", client.SessionID()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("example app failed", zap.Error(err))
		}
	}()

	go startTrafficSimulator(ctx, "http://localhost"+appAddr, log.Named("traffic"))

	<-ctx.Done()
	log.Info("shutting down example app")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("forced shutdown", zap.Error(err))
	}

	// Deliver what is still queued before exiting.
	client.Flush(shutdownCtx)
	log.Info("example app exited", zap.Int("undelivered", client.Status().Pending))
}
