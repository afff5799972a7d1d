package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/danshapiro/routeforge/internal/jobs"
	"github.com/danshapiro/routeforge/internal/results"
	"github.com/danshapiro/routeforge/internal/upload"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"projections": s.catalog.Len(),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxUploadBytes > 0 {
		// Headroom for the multipart framing around the capped file part.
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes+(1<<20))
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("multipart part %q is required: %v", "file", err))
		return
	}
	defer file.Close()

	desc, err := s.uploads.Save(file, hdr.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeData(w, http.StatusOK, desc)
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("fileId")
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	rows, desc, err := s.uploads.Sample(fileID, limit)
	if err != nil {
		if errors.Is(err, upload.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("file %s not found", fileID))
			return
		}
		s.log.Error("sample upload", zap.String("file_id", fileID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cannot read upload")
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"headers":   desc.Columns,
		"sample":    rows,
		"totalRows": desc.RowCount,
	})
}

func (s *Server) handleProjections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeData(w, http.StatusOK, s.catalog.List(q.Get("region"), q.Get("search")))
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var cfg jobs.Configuration
	problems, err := decodeConfiguration(r, &cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(problems) > 0 {
		writeValidationError(w, problems)
		return
	}

	desc, err := s.uploads.Get(cfg.FileID)
	if err != nil {
		if errors.Is(err, upload.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("file %s not found", cfg.FileID))
			return
		}
		s.log.Error("load upload descriptor", zap.String("file_id", cfg.FileID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cannot read upload")
		return
	}
	if _, ok := s.catalog.Get(cfg.CRSCode); !ok {
		writeValidationError(w, []string{fmt.Sprintf("crs: unknown reference system %q", cfg.CRSCode)})
		return
	}
	if problems := missingColumns(cfg, desc); len(problems) > 0 {
		writeValidationError(w, problems)
		return
	}

	job := s.registry.Create(cfg, desc.RowCount)
	writeData(w, http.StatusOK, map[string]string{"jobId": job.ID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.registry.Get(r.PathValue("jobId"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeData(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	job, ok := s.registry.Get(r.PathValue("jobId"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	snap := job.Snapshot()
	if snap.Status != jobs.StatusCompleted {
		writeError(w, http.StatusBadRequest, "Job not completed yet")
		return
	}

	resultPath, _ := job.Paths()
	fc, err := results.ReadCollection(resultPath)
	if err != nil {
		s.log.Error("read result collection", zap.String("job_id", job.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cannot read results")
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"jobId":    job.ID,
		"status":   snap.Status,
		"progress": snap.Progress,
		"results":  fc.Features,
		"errors":   job.Failures(),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	job, ok := s.registry.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status() != jobs.StatusCompleted {
		writeError(w, http.StatusBadRequest, "Job not completed yet")
		return
	}

	path, size, err := s.registry.ResultFile(jobID)
	if err != nil {
		s.log.Error("stat result file", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusNotFound, "result file not found")
		return
	}
	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "result file not found")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	// Streamed from disk; the collection is never materialised in memory.
	http.ServeContent(w, r, filepath.Base(path), job.CreatedAt, f)
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	job, ok := s.registry.Get(r.PathValue("jobId"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	_, metaPath := job.Paths()
	if metaPath == "" {
		writeError(w, http.StatusBadRequest, "Job not completed yet")
		return
	}
	meta, err := results.ReadMetadata(metaPath)
	if err != nil {
		s.log.Error("read metadata", zap.String("job_id", job.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cannot read metadata")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	fresh, err := s.registry.Cancel(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeData(w, http.StatusOK, map[string]any{"cancelled": fresh})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	switch err := s.registry.Cleanup(jobID); {
	case err == nil:
		writeData(w, http.StatusOK, map[string]any{"cleaned": true})
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobs.ErrNotTerminal):
		writeError(w, http.StatusBadRequest, "job is still running")
	default:
		s.log.Error("cleanup job", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cleanup failed")
	}
}

// missingColumns verifies the four configured coordinate columns against the
// upload's header.
func missingColumns(cfg jobs.Configuration, desc upload.Descriptor) []string {
	have := make(map[string]struct{}, len(desc.Columns))
	for _, c := range desc.Columns {
		have[c] = struct{}{}
	}
	var problems []string
	for _, col := range []struct{ field, name string }{
		{"originFields.x", cfg.OriginFields.X},
		{"originFields.y", cfg.OriginFields.Y},
		{"destinationFields.x", cfg.DestinationFields.X},
		{"destinationFields.y", cfg.DestinationFields.Y},
	} {
		if _, ok := have[col.name]; !ok {
			problems = append(problems, fmt.Sprintf("%s: column %q not in upload", col.field, col.name))
		}
	}
	return problems
}

// --- Response envelope ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func writeValidationError(w http.ResponseWriter, problems []string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"success": false,
		"error":   "validation failed",
		"details": problems,
	})
}
