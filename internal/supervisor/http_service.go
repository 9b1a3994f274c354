// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jmcrae/vigil/internal/logging"
)

// HTTPService adapts an http.Server to a suture.Service. Serve blocks
// until the context is cancelled, then shuts the server down within the
// grace period.
type HTTPService struct {
	server *http.Server
	grace  time.Duration
}

// NewHTTPService wraps the server with the given shutdown grace period.
func NewHTTPService(server *http.Server, grace time.Duration) *HTTPService {
	if grace <= 0 {
		grace = 10 * time.Second
	}
	return &HTTPService{server: server, grace: grace}
}

// Serve runs the listener until ctx is cancelled.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.server.Addr).Msg("http server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.grace)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logging.Err(err).Msg("http server shutdown incomplete")
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *HTTPService) String() string { return "http-server" }
