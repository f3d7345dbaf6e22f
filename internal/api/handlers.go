package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/previewd/internal/engine"
	"github.com/mattjoyce/previewd/internal/store"
)

const defaultListLimit = 50

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleStatus handles GET /api/v1/status. Unlike /healthz it reports the
// disk picture alongside liveness, so it is scoped like other read endpoints.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}

	if snap, err := s.disk.Snapshot(); err == nil && snap != nil {
		resp.Disk = &DiskResponse{
			FreeBytes:   snap.FreeBytes,
			UsedBytes:   snap.UsedBytes,
			TotalBytes:  snap.TotalBytes,
			UsedPercent: snap.UsedPercent,
			CeilingPct:  s.config.MaxDiskUsagePercent,
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleSubmitBuild handles POST /api/v1/builds. The build runs inline and
// the response carries either the completed result or a classified failure.
func (s *Server) handleSubmitBuild(w http.ResponseWriter, r *http.Request) {
	var req BuildSubmission
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Files) == 0 {
		s.writeError(w, http.StatusBadRequest, "files must not be empty")
		return
	}

	result, err := s.builds.Build(r.Context(), engine.Request{
		Files:       req.Files,
		SubmittedBy: submittedBy(r),
	})
	if err != nil {
		kind, status := engine.ClassifyError(err)
		respondJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
		return
	}

	respondJSON(w, http.StatusCreated, result)
}

// handleGetBuild handles GET /api/v1/builds/{buildID}.
func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "buildID")

	rec, err := s.builds.Inspect(r.Context(), id)
	if errors.Is(err, store.ErrBuildNotFound) {
		s.writeError(w, http.StatusNotFound, "build not found")
		return
	}
	if err != nil {
		s.logger.Error("build lookup failed", "build_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "build lookup failed")
		return
	}

	respondJSON(w, http.StatusOK, toRecordResponse(*rec))
}

// handleListBuilds handles GET /api/v1/builds?limit=N.
func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	recs, err := s.builds.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("build list failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "build list failed")
		return
	}

	out := make([]BuildRecordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toRecordResponse(rec))
	}
	respondJSON(w, http.StatusOK, out)
}

// handleDestroyWorkspace handles DELETE /api/v1/workspaces/{workspaceID}.
func (s *Server) handleDestroyWorkspace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workspaceID")

	if err := s.builds.DestroyWorkspace(r.Context(), id); err != nil {
		s.logger.Error("workspace destroy failed", "workspace", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "workspace destroy failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDisk handles GET /api/v1/disk.
func (s *Server) handleDisk(w http.ResponseWriter, r *http.Request) {
	snap, err := s.disk.Snapshot()
	if err != nil {
		s.logger.Error("disk snapshot failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "disk snapshot failed")
		return
	}
	if snap == nil {
		s.writeError(w, http.StatusNotImplemented, "disk usage unavailable on this platform")
		return
	}

	respondJSON(w, http.StatusOK, DiskResponse{
		FreeBytes:   snap.FreeBytes,
		UsedBytes:   snap.UsedBytes,
		TotalBytes:  snap.TotalBytes,
		UsedPercent: snap.UsedPercent,
		CeilingPct:  s.config.MaxDiskUsagePercent,
	})
}

// handlePreview serves files out of a retained workspace's artifact dir.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workspaceID")

	root, err := s.builds.PreviewRoot(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "preview not found")
		return
	}

	rel := chi.URLParam(r, "*")
	if rel == "" {
		rel = "index.html"
	}
	full := filepath.Join(root, filepath.FromSlash(rel))

	// Confine to the artifact dir; reject traversal out of it.
	if !filepathWithin(root, full) {
		s.writeError(w, http.StatusNotFound, "preview not found")
		return
	}
	if fi, err := os.Stat(full); err == nil && fi.IsDir() {
		full = filepath.Join(full, "index.html")
	}

	// ServeContent rather than ServeFile: ServeFile redirects request paths
	// ending in /index.html instead of serving them.
	f, err := os.Open(full)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "preview not found")
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		s.writeError(w, http.StatusNotFound, "preview not found")
		return
	}

	http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
}

// handlePreviewRedirect normalizes /previews/{id} to its index page.
func (s *Server) handlePreviewRedirect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workspaceID")
	http.Redirect(w, r, "/previews/"+id+"/", http.StatusMovedPermanently)
}

func filepathWithin(root, full string) bool {
	rel, err := filepath.Rel(root, full)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func submittedBy(r *http.Request) string {
	// The bearer token names the caller well enough for audit purposes,
	// but never store the secret itself.
	if auth := r.Header.Get("Authorization"); auth != "" {
		return "token"
	}
	return ""
}

func toRecordResponse(rec store.Record) BuildRecordResponse {
	return BuildRecordResponse{
		ProjectID:      rec.ID,
		ProjectType:    rec.ProjectType,
		OutputDirName:  rec.OutputDir,
		Status:         string(rec.Status),
		ErrorKind:      rec.ErrorKind,
		ErrorDetail:    rec.ErrorDetail,
		FileCount:      rec.FileCount,
		WorkspaceBytes: rec.WorkspaceBytes,
		DurationMs:     rec.DurationMs,
		CreatedAt:      rec.CreatedAt,
		CompletedAt:    rec.CompletedAt,
	}
}

// respondJSON is a helper to write JSON responses.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
