package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/chaz8081/meetscribe/internal/audio"
	"github.com/chaz8081/meetscribe/internal/device"
	"github.com/chaz8081/meetscribe/internal/diagnostics"
	"github.com/chaz8081/meetscribe/internal/jobs"
	"github.com/chaz8081/meetscribe/internal/models"
	"github.com/chaz8081/meetscribe/internal/transcribe"
)

const maxUploadBytes = 2 << 30

type transcriptionRequest struct {
	Path     string       `json:"path"`
	Language string       `json:"language"`
	Windows  [][2]float64 `json:"windows"`
}

type switchRequest struct {
	ID string `json:"id"`
}

type benchmarkRequest struct {
	Duration int `json:"duration"`
}

type deviceResponse struct {
	Manager transcribe.Status `json:"manager"`
	Stats   device.Stats      `json:"stats"`
}

func (s *Server) handleCreateTranscription(w http.ResponseWriter, r *http.Request) {
	var req transcriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if _, err := os.Stat(req.Path); err != nil {
		writeError(w, http.StatusNotFound, transcribe.ErrNotFound.Error())
		return
	}

	windows := make([]transcribe.Window, 0, len(req.Windows))
	for _, pair := range req.Windows {
		if pair[1] <= pair[0] || pair[0] < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid window [%g, %g]", pair[0], pair[1]))
			return
		}
		windows = append(windows, transcribe.Window{Start: pair[0], End: pair[1]})
	}

	language := req.Language
	if language == "" {
		language = s.deps.Language
	}

	job, err := s.deps.Queue.Submit(jobs.Request{Path: req.Path, Language: language, Windows: windows})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID, "status": string(job.Status)})
}

func (s *Server) handleListTranscriptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Queue.List())
}

func (s *Server) handleGetTranscription(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, ok := s.deps.Queue.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleUpload streams the "file" part of a multipart body into the uploads
// directory under a fresh name.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart/form-data")
		return
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			writeError(w, http.StatusBadRequest, "missing file field")
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		name := part.FileName()
		if !audio.Supported(name) {
			part.Close()
			writeError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("unsupported audio format %q", filepath.Ext(name)))
			return
		}

		path, size, err := s.saveUpload(part, strings.ToLower(filepath.Ext(name)))
		part.Close()
		if err != nil {
			slog.Error("Upload failed", "file", name, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to store upload")
			return
		}

		slog.Info("Upload stored", "file", name, "path", path, "size_mb", fmt.Sprintf("%.2f", float64(size)/(1024*1024)))
		writeJSON(w, http.StatusCreated, map[string]string{"path": path})
		return
	}
}

func (s *Server) saveUpload(src io.Reader, ext string) (string, int64, error) {
	if err := os.MkdirAll(s.deps.UploadsDir, 0755); err != nil {
		return "", 0, fmt.Errorf("api: creating uploads dir: %w", err)
	}
	path := filepath.Join(s.deps.UploadsDir, uuid.NewString()+ext)
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("api: creating upload: %w", err)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("api: writing upload: %w", err)
	}
	return path, n, nil
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Manager.Models())
}

func (s *Server) handleSwitchModel(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"id\": \"<model>\"}")
		return
	}
	if err := s.deps.Manager.Switch(req.ID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Manager.Status())
}

func (s *Server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Manager.EnsureLoaded(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Manager.Status())
}

// handleDownloadModel starts a background download and returns immediately.
func (s *Server) handleDownloadModel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := models.Lookup(id); !ok {
		writeErr(w, fmt.Errorf("api: download %q: %w", id, models.ErrUnknownModel))
		return
	}

	s.mu.Lock()
	if s.downloading[id] {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "download already in progress")
		return
	}
	s.downloading[id] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.downloading, id)
			s.mu.Unlock()
		}()
		if err := s.deps.Manager.Download(s.ctx, id); err != nil {
			slog.Error("Model download failed", "model", id, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "downloading"})
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.deps.Manager.Delete(id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Manager.Status()
	writeJSON(w, http.StatusOK, deviceResponse{
		Manager: status,
		Stats:   s.deps.Stats.Stats(r.Context(), status.Device),
	})
}

func (s *Server) handleBenchmark(w http.ResponseWriter, r *http.Request) {
	var req benchmarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	report := s.deps.Bench.Run(r.Context(), diagnostics.ClampDuration(req.Duration))
	switch {
	case report.Error == "":
		writeJSON(w, http.StatusOK, report)
	case report.Error == diagnostics.ErrModelLoad:
		writeJSON(w, http.StatusServiceUnavailable, report)
	default:
		writeJSON(w, http.StatusInternalServerError, report)
	}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var loadErr *transcribe.ModelLoadError
	switch {
	case errors.Is(err, transcribe.ErrUnknownModel),
		errors.Is(err, models.ErrNotDownloaded),
		errors.Is(err, transcribe.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &loadErr), errors.Is(err, jobs.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
