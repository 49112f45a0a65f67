// Command auction-server runs an in-memory auction service to point
// bidload at during local development.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Dedenruslan19/bidload/internal/auction"
)

func main() {
	addr := pflag.String("addr", ":8000", "Listen address")
	startingPrice := pflag.Int64("starting-price", auction.DefaultStartingPrice, "Highest bid of an item nobody has bid on")
	requireAuth := pflag.Bool("require-auth", false, "Reject bids without a bearer token")
	minLatency := pflag.Duration("min-latency", 0, "Minimum added latency per bid")
	maxLatency := pflag.Duration("max-latency", 0, "Maximum added latency per bid")
	debug := pflag.Bool("debug", false, "Log every bid")
	pflag.Parse()

	logger, _ := zap.NewProduction()
	if *debug {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	srv := auction.NewServer(auction.Config{
		StartingPrice: *startingPrice,
		RequireAuth:   *requireAuth,
		MinLatency:    *minLatency,
		MaxLatency:    *maxLatency,
		Logger:        logger,
	})

	// Configure server for high throughput
	server := &http.Server{
		Addr:              *addr,
		Handler:           srv.Handler(),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("starting auction server",
		zap.String("addr", *addr),
		zap.Int("cpus", runtime.NumCPU()),
		zap.Int64("startingPrice", *startingPrice),
		zap.Bool("requireAuth", *requireAuth))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("auction server stopped")
}
