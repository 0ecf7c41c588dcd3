// Package gateway implements the HTTP/WS/SSE Surface and the Request
// Pipeline: it assigns request ids, translates REST calls into
// signal-cli JSON-RPC calls via a static route table, and upgrades
// streaming endpoints into Receive Hub consumers.
package gateway

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nugget/signalgw/internal/daemon"
	"github.com/nugget/signalgw/internal/hub"
	"github.com/nugget/signalgw/internal/metrics"
	"github.com/nugget/signalgw/internal/signal"
	"github.com/nugget/signalgw/internal/webhook"
)

// Config controls TLS termination for the gateway's listener.
type Config struct {
	Address  string
	CertPath string
	KeyPath  string
}

func (c Config) tlsEnabled() bool {
	return c.CertPath != "" && c.KeyPath != ""
}

// Server is the gateway's HTTP/WS/SSE front-end.
type Server struct {
	cfg        Config
	logger     *slog.Logger
	accounts   *signal.Manager
	hub        *hub.Hub
	webhooks   *webhook.Deliverer
	metrics    *metrics.Registry
	supervisor *daemon.Supervisor

	httpServer *http.Server
}

// New constructs a Server wired to the gateway's shared components.
func New(cfg Config, accounts *signal.Manager, h *hub.Hub, wh *webhook.Deliverer, m *metrics.Registry, sup *daemon.Supervisor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:        cfg,
		logger:     logger,
		accounts:   accounts,
		hub:        h,
		webhooks:   wh,
		metrics:    m,
		supervisor: sup,
	}
}

// Start builds the route table and begins serving. It blocks until
// the listener stops (error or graceful Shutdown).
func (s *Server) Start() error {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         s.cfg.Address,
		Handler:      s.withLogging(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming endpoints (WS/SSE) must not be capped
	}

	s.logger.Info("starting gateway listener", "address", s.cfg.Address, "tls", s.cfg.tlsEnabled())

	if s.cfg.tlsEnabled() {
		cert, err := tls.LoadX509KeyPair(s.cfg.CertPath, s.cfg.KeyPath)
		if err != nil {
			return fmt.Errorf("load TLS keypair: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
		return s.httpServer.ListenAndServeTLS("", "")
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// withLogging assigns a request id, attaches it to the response, and
// emits one structured log line per request on completion.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := s.metrics.NextRequestID()

		rid := fmt.Sprintf("%d", id)
		w.Header().Set("x-request-id", rid)
		ctx := context.WithValue(r.Context(), requestIDKey{}, rid)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		s.logger.Info("request",
			"request_id", rid,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"latency_ms", time.Since(start).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// statusWriter captures the response status for logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush and Hijack pass through to the wrapped writer so the SSE and
// WebSocket handlers can stream through withLogging.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}
