package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"markergate/internal/config"
	"markergate/internal/conversion"
	"markergate/internal/gpu"
	"markergate/internal/logging"
	"markergate/internal/readiness"
	"markergate/internal/tables"
	"markergate/internal/uploads"
)

// Converter runs one saved upload through the pipeline.
type Converter interface {
	Convert(ctx context.Context, inputPath string) (conversion.Outcome, error)
}

// UploadStore validates and persists incoming files.
type UploadStore interface {
	Save(ctx context.Context, filename, contentType string, r io.Reader) (string, error)
}

// TableExporter writes a converted document's tables to workbooks.
type TableExporter interface {
	Export(ctx context.Context, document string) (tables.Report, error)
}

// GPUChecker reports the current readiness verdict without waiting.
type GPUChecker interface {
	Check(ctx context.Context) (gpu.Snapshot, readiness.Verdict)
}

// GPUPresence reports accelerator visibility.
type GPUPresence interface {
	Present(ctx context.Context) bool
	Summary(ctx context.Context) string
}

// Deps collects the collaborators the handlers call.
type Deps struct {
	Converter Converter
	Uploads   UploadStore
	Tables    TableExporter
	Gate      GPUChecker
	Presence  GPUPresence
	OutputDir string
	// MaxBodyBytes caps a request body; zero leaves it unbounded.
	MaxBodyBytes int64
}

// Server is the HTTP front end.
type Server struct {
	bind   string
	deps   Deps
	logger *slog.Logger
	router *mux.Router

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// New constructs a server bound to bind once Start is called.
func New(bind string, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		bind:   strings.TrimSpace(bind),
		deps:   deps,
		logger: logging.NewComponentLogger(logger, "api-server"),
	}
	s.router = s.routes()
	return s
}

// NewFromConfig wires the pipeline, upload store, and table exporter from cfg.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	pipeline, parts, err := conversion.NewFromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	deps := Deps{
		Converter: pipeline,
		Uploads:   uploads.NewStoreFromConfig(cfg, logger),
		Tables:    tables.NewExporterFromConfig(cfg, logger),
		Gate:      parts.Gate,
		Presence:  parts.Probe,
		OutputDir: cfg.Paths.OutputDir,
	}
	if limit := cfg.Uploads.MaxUploadBytes(); limit > 0 {
		deps.MaxBodyBytes = limit + multipartOverhead
	}
	return New(cfg.Paths.APIBind, deps, logger), nil
}

// multipartOverhead leaves room for form boundaries and headers above the
// upload size cap so the store reports the precise oversize error.
const multipartOverhead = 1 << 20

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/download/{filename}", s.handleDownload).Methods(http.MethodGet)
	api.HandleFunc("/tables/{document}", s.handleTables).Methods(http.MethodPost)
	api.HandleFunc("/gpu", s.handleGPU).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.bind == "" {
		return fmt.Errorf("api listen: bind address not configured")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, letting in-flight conversions finish for up to
// the shutdown grace period.
func (s *Server) Stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api shutdown incomplete",
			logging.Error(err),
			logging.String(logging.FieldEventType, "api_shutdown_incomplete"),
			logging.String(logging.FieldImpact, "in-flight conversions were interrupted"),
		)
	}
}

const shutdownGrace = 30 * time.Second

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
