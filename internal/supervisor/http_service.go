package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"guardwatch/internal/logging"
)

// HTTPServer is the lifecycle subset of *http.Server.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService runs an HTTP server until its context ends, then drains it.
// OnShutdown, if set, runs after the listener is closed; it is where hijacked
// WebSocket connections get closed, since Shutdown does not track them.
type HTTPService struct {
	Server          HTTPServer
	ShutdownTimeout time.Duration
	OnShutdown      func()
}

// NewHTTPService wraps srv. A non-positive timeout means 10s.
func NewHTTPService(srv HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{Server: srv, ShutdownTimeout: shutdownTimeout}
}

func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), h.ShutdownTimeout)
		defer cancel()
		err := h.Server.Shutdown(sctx)
		if h.OnShutdown != nil {
			h.OnShutdown()
		}
		<-errCh
		if err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		logging.Info().Msg("http server stopped")
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return "http-server" }
