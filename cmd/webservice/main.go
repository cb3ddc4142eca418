package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_nodal/internal/pkg/config"
	"github.com/ohowland/cgc_nodal/internal/pkg/datastreams/sinkgroup"
	"github.com/ohowland/cgc_nodal/internal/pkg/logging"
	"github.com/ohowland/cgc_nodal/internal/pkg/msg"
	"github.com/ohowland/cgc_nodal/internal/pkg/webservice"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "JSON config file")
	debug := flag.Bool("debug", false, "development logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalln("[Main] unable to load config:", err)
	}
	logger, err := logging.New(*debug || cfg.Debug)
	if err != nil {
		log.Fatalln("[Main] unable to build logger:", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := msg.NewPublisher(uuid.New())
	defer hub.Close()

	logger.Info("[Main] Starting Sinks")
	sinks, err := sinkgroup.Start(ctx, *cfg, hub, logger)
	if err != nil {
		logger.Fatal("[Main] unable to start sinks", zap.Error(err))
	}

	app := webservice.New(*cfg, hub, logger)
	if err := app.Start(ctx); err != nil {
		logger.Fatal("[Main] unable to start websocket hub", zap.Error(err))
	}

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("[Main] Starting Server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("[Main] server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("[Main] Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("[Main] server forced to shutdown", zap.Error(err))
	}
	sinks.Stop()
	logger.Info("[Main] Server exited")
}
