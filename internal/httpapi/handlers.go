package httpapi

import (
	"errors"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"

	"markergate/internal/gpu"
	"markergate/internal/logging"
	"markergate/internal/readiness"
	"markergate/internal/services"
	"markergate/internal/uploads"
)

// UploadResponse is returned by a successful upload.
type UploadResponse struct {
	Status                string  `json:"status"`
	Filename              string  `json:"filename"`
	OutputPath            string  `json:"output_path"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
}

// TablesResponse is returned by a table export.
type TablesResponse struct {
	Document   string   `json:"document"`
	TableCount int      `json:"table_count"`
	ExcelFiles []string `json:"excel_files"`
	ExcelDir   string   `json:"excel_dir"`
}

// GPUResponse reports telemetry and the current verdict.
type GPUResponse struct {
	Present  bool              `json:"present"`
	Summary  string            `json:"summary,omitempty"`
	Snapshot gpu.Snapshot      `json:"snapshot"`
	Verdict  readiness.Verdict `json:"verdict"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	if s.deps.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxBodyBytes)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, r, services.Wrap(services.ErrInvalidInput, "upload", "read", "request body too large", nil))
			return
		}
		s.fail(w, r, services.Wrap(services.ErrInvalidInput, "upload", "read", "multipart field \"file\" is required", err))
		return
	}
	defer file.Close()

	saved, err := s.deps.Uploads.Save(ctx, header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	outcome, err := s.deps.Converter.Convert(ctx, saved)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, UploadResponse{
		Status:                "success",
		Filename:              filepath.Base(saved),
		OutputPath:            outcome.OutputPath,
		ProcessingTimeSeconds: math.Round(time.Since(start).Seconds()*100) / 100,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	path, err := uploads.ResolveExisting(s.deps.OutputDir, mux.Vars(r)["filename"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.fail(w, r, services.Wrap(services.ErrNotFound, "download", "open", "file not found", nil))
			return
		}
		s.fail(w, r, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	name := filepath.Base(path)
	w.Header().Set("Content-Type", "text/markdown")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Tables.Export(r.Context(), mux.Vars(r)["document"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	files := report.ExcelFiles
	if files == nil {
		files = []string{}
	}
	s.writeJSON(w, http.StatusOK, TablesResponse{
		Document:   report.Document,
		TableCount: report.TableCount,
		ExcelFiles: files,
		ExcelDir:   report.ExcelDir,
	})
}

func (s *Server) handleGPU(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := GPUResponse{}
	if s.deps.Presence != nil {
		resp.Present = s.deps.Presence.Present(ctx)
		if resp.Present {
			resp.Summary = s.deps.Presence.Summary(ctx)
		}
	}
	resp.Snapshot, resp.Verdict = s.deps.Gate.Check(ctx)
	if resp.Snapshot.Devices == nil {
		resp.Snapshot.Devices = []gpu.Device{}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// fail logs err with request context and writes it with its mapped status.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := services.HTTPStatus(err)
	logger := logging.WithContext(r.Context(), s.logger)
	attrs := []logging.Attr{
		logging.Error(err),
		logging.Int("status", status),
		logging.String("path", r.URL.Path),
	}
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logger, "request failed", "request_failed", attrs...)
	} else {
		logging.WarnWithContext(logger, "request rejected", "request_rejected", attrs...)
	}
	s.writeError(w, status, err.Error())
}
