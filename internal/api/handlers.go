package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"imgshift/internal/conversion"
	"imgshift/internal/logging"
	"imgshift/internal/pipeline"
	"imgshift/internal/services"
)

const multipartMemory = 32 << 20

var errMissingSession = fmt.Errorf("%w: session id is required", services.ErrValidation)

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	LiveFiles int    `json:"live_files"`
	Downloads int    `json:"downloads"`
}

// FormatRequest selects a target. Either field may be set.
type FormatRequest struct {
	Format    string `json:"format"`
	Selection string `json:"selection"`
}

func (f FormatRequest) value() string {
	if strings.TrimSpace(f.Selection) != "" {
		return f.Selection
	}
	return f.Format
}

// StreamEvent is one NDJSON line of a conversion stream.
type StreamEvent struct {
	Type     string                 `json:"type"`
	Progress *pipeline.ProgressView `json:"progress,omitempty"`
	Summary  *pipeline.SummaryView  `json:"summary,omitempty"`
	Error    *ErrorResponse         `json:"error,omitempty"`
}

func (s *Server) sessionID(r *http.Request) (string, error) {
	sid := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sid == "" {
		return "", errMissingSession
	}
	return sid, nil
}

func requestContext(r *http.Request) *http.Request {
	ctx := services.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
	return r.WithContext(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Uptime:    time.Since(s.started).Truncate(time.Second).String(),
		LiveFiles: s.svc.Files().Live(),
		Downloads: s.svc.Downloads(),
	})
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Formats())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Stats(strings.TrimSpace(r.Header.Get(UserHeader)), r.URL.Query().Get("scope"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r = requestContext(r)
	sid, err := s.sessionID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)

	uploads, err := readUploads(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = fmt.Errorf("%w: request body over %d bytes", pipeline.ErrFileTooLarge, tooLarge.Limit)
		}
		s.respondError(w, r, err)
		return
	}
	result, err := s.svc.Ingest(r.Context(), sid, uploads)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, result)
}

// readUploads accepts multipart forms ("files" or "file" fields) or a raw
// body named by the ?name= query parameter.
func readUploads(r *http.Request) ([]pipeline.Upload, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, pipeline.ErrNoImages
		}
		return []pipeline.Upload{{Name: r.URL.Query().Get("name"), Data: data}}, nil
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: parse multipart form: %w", services.ErrValidation, err)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	var uploads []pipeline.Upload
	for _, field := range []string{"files", "file"} {
		for _, header := range r.MultipartForm.File[field] {
			f, err := header.Open()
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", header.Filename, err)
			}
			data, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", header.Filename, err)
			}
			uploads = append(uploads, pipeline.Upload{Name: header.Filename, Data: data})
		}
	}
	return uploads, nil
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	sid, err := s.sessionID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	view, err := s.svc.Describe(r.Context(), sid)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleFormat(w http.ResponseWriter, r *http.Request) {
	r = requestContext(r)
	sid, err := s.sessionID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req FormatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: decode format request: %w", services.ErrValidation, err))
		return
	}
	view, err := s.svc.SelectFormat(r.Context(), sid, req.value())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// handleConvert streams progress as NDJSON. Failures detected before the
// conversion starts are returned as ordinary error responses.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	r = requestContext(r)
	sid, err := s.sessionID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req FormatRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.respondError(w, r, fmt.Errorf("%w: decode convert request: %w", services.ErrValidation, err))
			return
		}
	}
	if value := req.value(); strings.TrimSpace(value) != "" {
		if _, err := s.svc.SelectFormat(r.Context(), sid, value); err != nil {
			s.respondError(w, r, err)
			return
		}
	}

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	started := false
	begin := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}
	emit := func(ev StreamEvent) {
		begin()
		if err := enc.Encode(ev); err != nil {
			s.logger.Debug("stream write failed", logging.Error(err))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	every := r.URL.Query().Get("every") == "1"

	result, err := s.svc.Convert(r.Context(), sid, func(p conversion.Progress) {
		view := pipeline.NewProgressView(p)
		if !view.Report && !every {
			return
		}
		emit(StreamEvent{Type: "progress", Progress: &view})
	})
	if err != nil && !started && result.Summary.BatchID == "" {
		s.respondError(w, r, err)
		return
	}
	summary := result.View()
	emit(StreamEvent{Type: "summary", Summary: &summary})
	if err != nil {
		emit(StreamEvent{Type: "error", Error: &ErrorResponse{
			Error:     err.Error(),
			Code:      pipeline.Classify(err),
			RequestID: middleware.GetReqID(r.Context()),
		}})
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	r = requestContext(r)
	sid, err := s.sessionID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.svc.Cancel(r.Context(), sid); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// handleDownload streams the archive and releases it once fully sent.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "downloadID")
	f, view, err := s.svc.OpenDownload(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": view.Name}))
	w.Header().Set("Content-Length", strconv.FormatInt(view.Size, 10))
	w.WriteHeader(http.StatusOK)
	_, copyErr := io.Copy(w, f)
	_ = f.Close()
	if copyErr != nil {
		logging.WarnWithContext(s.logger, "download interrupted", "download_interrupted",
			logging.String("download_id", id),
			logging.Error(copyErr),
			logging.String(logging.FieldImpact, "archive kept for another attempt"),
		)
		return
	}
	s.svc.ReleaseDownload(id)
}

func (s *Server) handleDiscardDownload(w http.ResponseWriter, r *http.Request) {
	if !s.svc.ReleaseDownload(chi.URLParam(r, "downloadID")) {
		s.respondError(w, r, pipeline.ErrNoDownload)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
