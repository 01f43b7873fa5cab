// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

// Command server runs the Melobox backend: the playlist library, the
// playback engine, the state synchronization core and the HTTP/WebSocket
// surface, all under suture supervision.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/melobox/melobox/internal/api"
	"github.com/melobox/melobox/internal/config"
	"github.com/melobox/melobox/internal/library"
	"github.com/melobox/melobox/internal/logging"
	"github.com/melobox/melobox/internal/player"
	"github.com/melobox/melobox/internal/statesync"
	"github.com/melobox/melobox/internal/supervisor"
	"github.com/melobox/melobox/internal/websocket"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "melobox:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file (overrides MELOBOX_CONFIG)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("melobox", version)
		return nil
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Timestamp: true,
	})
	logging.Info().Str("version", version).Msg("melobox starting")

	store, err := library.OpenWithOptions(cfg.Library.Path, library.Options{
		CacheSize: cfg.Library.CacheSize,
		CacheTTL:  cfg.Library.CacheTTL,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Warn().Err(err).Msg("library close failed")
		}
	}()

	// Wire the core. The hub and the player each sit in a construction
	// cycle with the sync manager, closed via their setters.
	hub := websocket.NewHub()
	box := player.New(store)
	manager := statesync.NewManager(statesync.Config{
		OutboxMaxSize:    cfg.Sync.OutboxMaxSize,
		OutboxMaxRetries: cfg.Sync.OutboxMaxRetries,
		OperationTTL:     cfg.Sync.OperationTTL,
		CleanupInterval:  cfg.Sync.CleanupInterval,
		PositionThrottle: cfg.Sync.PositionThrottle,
	}, hub, store, box)
	hub.SetSession(manager)
	box.SetBroadcaster(manager)

	handler := api.NewHandler(store, box, manager, websocket.NewHandler(hub))

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddMessagingService(hub)
	tree.AddMessagingService(manager)
	tree.AddMessagingService(player.NewTicker(box, cfg.Player.TickInterval))
	tree.AddAPIService(supervisor.NewHTTPServer(supervisor.HTTPServerConfig{
		Addr:            cfg.Server.Addr(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, handler.Router()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("melobox stopped")
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
