// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/melobox/melobox/internal/logging"
)

// HTTPServerConfig holds listen address and timeout settings.
type HTTPServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// HTTPServer wraps http.Server as a suture.Service with graceful shutdown.
type HTTPServer struct {
	config  HTTPServerConfig
	handler http.Handler
}

// NewHTTPServer creates the supervised HTTP server service. Websocket
// connections are hijacked out of the server's timeout management, so the
// read/write timeouts only bound plain REST requests.
func NewHTTPServer(config HTTPServerConfig, handler http.Handler) *HTTPServer {
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	return &HTTPServer{
		config:  config,
		handler: handler,
	}
}

// Serve runs the HTTP server until ctx is canceled, then shuts it down
// gracefully. A listener error is returned to the supervisor for restart.
func (s *HTTPServer) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.handler,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.config.Addr).Msg("http server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("http server shutdown incomplete, closing")
		_ = server.Close()
	}
	logging.Info().Msg("http server stopped")
	return ctx.Err()
}
