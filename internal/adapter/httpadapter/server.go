package httpadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/river-level-sync/internal/domain"
	"github.com/couchcryptid/river-level-sync/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Syncer runs and reports sync cycles.
type Syncer interface {
	Run(ctx context.Context, kind pipeline.Kind) (pipeline.CycleResult, error)
	Status() []pipeline.KindStatus
}

// SnapshotReader returns the latest persisted district summary.
type SnapshotReader interface {
	LatestSnapshot(ctx context.Context) (domain.DistrictSummarySnapshot, bool, error)
}

// Server exposes health, readiness, metrics, sync status, and manual sync
// trigger endpoints.
type Server struct {
	httpServer      *http.Server
	syncer          Syncer
	snapshots       SnapshotReader
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// NewServer creates the ops HTTP server. A nil snapshots reader disables
// GET /snapshot.
func NewServer(addr string, ready sharedobs.ReadinessChecker, syncer Syncer, snapshots SnapshotReader, shutdownTimeout time.Duration, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		syncer:          syncer,
		snapshots:       snapshots,
		shutdownTimeout: shutdownTimeout,
		logger:          logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /sync/{kind}", s.handleSync)
	if snapshots != nil {
		mux.HandleFunc("GET /snapshot", s.handleSnapshot)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Serve runs the server until ctx is cancelled, then drains connections.
// It implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *Server) String() string { return "http-server" }

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"kinds": s.syncer.Status()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok, err := s.snapshots.LatestSnapshot(r.Context())
	if err != nil {
		s.logger.Error("load latest snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no snapshot recorded yet"))
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, snap)
}

// handleSync runs one cycle synchronously. The cycle outlives a dropped client
// connection so a half-finished write pass is never abandoned.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	kind, err := pipeline.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// Cycles routinely outlast the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	s.logger.Info("manual sync requested", "kind", kind, "remote", r.RemoteAddr)
	res, err := s.syncer.Run(context.WithoutCancel(r.Context()), kind)
	switch {
	case errors.Is(err, pipeline.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, pipeline.ErrSyncDisabled), errors.Is(err, pipeline.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		sharedobs.WriteJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "result": res})
	default:
		sharedobs.WriteJSON(w, http.StatusOK, res)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": err.Error()})
}

// Readiness combines several checks; the first failure wins.
type Readiness []sharedobs.ReadinessChecker

func (r Readiness) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}
