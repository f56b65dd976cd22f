package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ccbridge/ccbridge/internal/debug"
)

// HealthServer provides HTTP liveness and readiness endpoints.
//
// /healthz reports ok while every registered adapter is connected.
// /readyz reports ready once the server is up; adapters that are briefly
// disconnected still accept work when they reconnect.
type HealthServer struct {
	port   int
	logger *log.Logger

	mu       sync.Mutex
	adapters map[string]bool
}

// NewHealthServer creates a health server listening on port.
func NewHealthServer(port int) *HealthServer {
	return &HealthServer{
		port:     port,
		logger:   debug.Logger("health"),
		adapters: map[string]bool{},
	}
}

// Register adds an adapter in the disconnected state.
func (h *HealthServer) Register(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.adapters[name]; !ok {
		h.adapters[name] = false
	}
}

// SetConnected updates an adapter's connection state.
func (h *HealthServer) SetConnected(name string, connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.adapters[name] = connected
}

// Disconnected lists registered adapters that are not connected.
func (h *HealthServer) Disconnected() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for name, ok := range h.adapters {
		if !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Handler returns the health mux.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if down := h.Disconnected(); len(down) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("disconnected: " + strings.Join(down, ",")))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}

// Start serves until ctx is cancelled.
func (h *HealthServer) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", h.port),
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	h.logger.Info("starting health server", "port", h.port)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		h.logger.Info("shutting down health server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("health server error: %w", err)
	}
}
