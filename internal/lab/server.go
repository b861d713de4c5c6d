package lab

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/Soberat/GLAD/pkg/log"
	"github.com/Soberat/GLAD/pkg/options"
)

const httpShutdownTimeout = 5 * time.Second

type httpServer struct {
	server  *http.Server
	options *options.HttpOptions
	log     log.Logger
}

func newHTTPServer(opts *options.HttpOptions, handler http.Handler, logger log.Logger) *httpServer {
	return &httpServer{
		server: &http.Server{
			Addr:         opts.Addr,
			Handler:      handler,
			ReadTimeout:  opts.Timeout,
			WriteTimeout: opts.Timeout,
		},
		options: opts,
		log:     logger,
	}
}

// Start serves until ctx is cancelled, then shuts the server down gracefully.
func (s *httpServer) Start(ctx context.Context) error {
	ln, err := net.Listen(s.options.Network, s.server.Addr)
	if err != nil {
		return err
	}
	s.log.Info("Starting HTTP server", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
