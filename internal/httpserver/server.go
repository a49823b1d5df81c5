package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Server wraps http.Server with the timeouts the API runs under. The write
// timeout does not apply to websocket connections, which are hijacked off the
// server before it can act.
type Server struct {
	inner *http.Server
}

// New builds a server for the given port and root handler.
func New(port int, handler http.Handler) *Server {
	return &Server{
		inner: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
	}
}

// Start serves HTTP traffic until the listener closes.
func (s *Server) Start() error {
	return s.inner.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
