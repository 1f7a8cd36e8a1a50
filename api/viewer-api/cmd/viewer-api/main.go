// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Command viewer-api runs the WHEP live viewer with instant replay and its
// HTTP control surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rapidaai/whep-viewer/api/viewer-api/config"
	channel_whep "github.com/rapidaai/whep-viewer/api/viewer-api/internal/channel/whep"
	"github.com/rapidaai/whep-viewer/api/viewer-api/internal/connection"
	"github.com/rapidaai/whep-viewer/api/viewer-api/internal/replay"
	internal_surface "github.com/rapidaai/whep-viewer/api/viewer-api/internal/surface"
	internal_telemetry "github.com/rapidaai/whep-viewer/api/viewer-api/internal/telemetry"
	viewer_routers "github.com/rapidaai/whep-viewer/api/viewer-api/router"
	"github.com/rapidaai/whep-viewer/pkg/commons"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("viewer-api: %v", err)
	}
}

func run() error {
	vConfig, err := config.InitConfig()
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := config.GetApplicationConfig(vConfig)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := commons.NewApplicationLogger(
		commons.Name(cfg.Name),
		commons.Path(cfg.LogPath),
		commons.Level(cfg.LogLevel),
	)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := internal_telemetry.New()
	hub := internal_surface.NewHub(logger)
	defer hub.Close()
	view := internal_surface.NewHeadlessView(logger, hub)
	sink := internal_surface.NewCountingSink(logger)

	buffer := replay.NewBuffer(logger,
		replay.WithCapacity(cfg.ReplayConfig.Capacity),
		replay.WithSegmentInterval(cfg.ReplayConfig.SegmentInterval),
		replay.WithDefaultReplaySeconds(cfg.ReplayConfig.DefaultSeconds),
		replay.WithArtifactBuilder(replay.NewFileArtifactBuilder(cfg.ReplayConfig.ArtifactDir, cfg.ReplayConfig.SegmentInterval)),
		replay.WithIndicator(internal_surface.NewIndicator(logger, hub)),
		replay.WithNotifier(internal_surface.NewNotifier(logger, hub)),
		replay.WithView(view),
		replay.WithObserver(metrics),
	)

	signaler := channel_whep.NewSignaler(logger, cfg.WhepConfig.URL, cfg.WhepConfig.Token, cfg.WhepConfig.Timeout)
	transport := channel_whep.NewTransport(logger, webrtcConfig(cfg), signaler)

	manager := connection.NewManager(logger, transport, buffer,
		connection.WithRenderSink(sink),
		connection.WithObserver(metrics),
		connection.WithHandshakeTimeout(cfg.WhepConfig.Timeout),
		connection.WithReconnectDelay(cfg.ReconnectConfig.Delay),
		connection.WithHiddenRecheck(cfg.ReconnectConfig.HiddenRecheck),
	)
	manager.OnConnectionStateChange(func() {
		hub.Publish(internal_surface.Event{Type: internal_surface.EventChanged})
	})

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := viewer_routers.NewEngine(logger, metrics)
	viewer_routers.HealthCheckRoutes(cfg, engine, logger, func() bool { return ctx.Err() == nil })
	viewer_routers.MetricsRoutes(engine, logger, metrics)
	viewer_routers.ViewerApiRoute(cfg, engine, logger, manager, hub, view, sink)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return manager.Run(gCtx)
	})

	g.Go(func() error {
		logger.Infow("Control API listening", "addr", srv.Addr, "whep", cfg.WhepConfig.URL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Infow("Shutdown signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		hub.Close()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		watchVisibility(gCtx, logger, manager)
		return nil
	})

	g.Go(func() error {
		// The viewer starts streaming as soon as it is up.
		if err := manager.StartStream(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warnw("Initial stream start interrupted", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Infow("Viewer stopped")
	return nil
}

// watchVisibility maps SIGUSR1 to hidden and SIGUSR2 to visible.
func watchVisibility(ctx context.Context, logger commons.Logger, manager *connection.Manager) {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			visible := sig == syscall.SIGUSR2
			logger.Debugw("Visibility signal", "signal", sig.String(), "visible", visible)
			manager.SetVisible(visible)
		}
	}
}

func webrtcConfig(cfg *config.AppConfig) *channel_whep.Config {
	wc := &channel_whep.Config{ICETransportPolicy: cfg.WebRTCConfig.ICETransportPolicy}
	if urls := cfg.WebRTCConfig.ICEServerURLs(); len(urls) > 0 {
		wc.ICEServers = []channel_whep.ICEServer{{
			URLs:       urls,
			Username:   cfg.WebRTCConfig.ICEUsername,
			Credential: cfg.WebRTCConfig.ICECredential,
		}}
	}
	return wc
}
