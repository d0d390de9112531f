// Package server exposes the classification pipeline over HTTP. A single
// POST /scan endpoint accepts one binary per request, /health reports
// readiness and /metrics serves Prometheus collectors.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"pescan/classify"
	"pescan/config"
	"pescan/feature"
	"pescan/ingest"
	"pescan/logger"
	"pescan/model"
	"pescan/output"
	"pescan/version"
)

// uploadField is the multipart form field carrying the binary.
const uploadField = "file"

type Server struct {
	cfg     *config.Config
	svc     *classify.Service
	emitter *output.Emitter
	metrics *metrics
	limiter *rate.Limiter
	started time.Time
	httpSrv *http.Server
}

func New(cfg *config.Config, svc *classify.Service, emitter *output.Emitter) *Server {
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		emitter: emitter,
		started: time.Now(),
	}
	s.metrics = newMetrics(func() float64 { return float64(svc.InFlight()) })
	if cfg.RateLimitPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/scan", s.handleScan)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", s.metrics.handler())

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.logRequests(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	logger.Infof("listening on %s (model %s, schema v%d, %d workers)",
		s.cfg.ListenAddr, s.svc.ModelName(), feature.SchemaVersion, s.svc.Workers())
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

type scanResponse struct {
	Label         string            `json:"label"`
	Confidence    float64           `json:"confidence"`
	SchemaVersion int               `json:"schema_version"`
	Model         string            `json:"model"`
	Digest        string            `json:"digest"`
	Digests       map[string]string `json:"digests,omitempty"`
	SniffedType   string            `json:"sniffed_type"`
	TLSH          string            `json:"tlsh,omitempty"`
	Notes         []string          `json:"notes,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{"MethodNotAllowed", "use POST"})
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{"RateLimited", "too many requests"})
		return
	}

	data, name, err := s.readUpload(r)
	if err != nil {
		s.metrics.scansTotal.WithLabelValues("rejected").Inc()
		writeJSON(w, http.StatusBadRequest, errorResponse{"BadUpload", err.Error()})
		return
	}
	s.metrics.uploadBytes.Observe(float64(len(data)))

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.svc.Classify(ctx, data, name)
	s.metrics.scanDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.writeClassifyError(w, name, err)
		return
	}

	s.metrics.scansTotal.WithLabelValues("classified").Inc()
	s.emitter.EmitScan(output.ScanEvent{
		DeclaredName: name,
		Label:        string(result.Label),
		Confidence:   result.Confidence,
		Digest:       result.Digest,
		SniffedType:  result.SniffedType,
		Outcome:      "classified",
	})
	writeJSON(w, http.StatusOK, scanResponse{
		Label:         string(result.Label),
		Confidence:    result.Confidence,
		SchemaVersion: result.SchemaVersion,
		Model:         s.svc.ModelName(),
		Digest:        result.Digest,
		Digests:       result.Digests,
		SniffedType:   result.SniffedType,
		TLSH:          result.TLSH,
		Notes:         result.Notes,
	})
}

// writeClassifyError maps pipeline errors onto the HTTP error taxonomy.
// Malformed input is the caller's fault; saturation and deadline are
// capacity signals; a schema mismatch means the deployment is broken.
func (s *Server) writeClassifyError(w http.ResponseWriter, name string, err error) {
	var status int
	var kind string
	switch {
	case errors.Is(err, ingest.ErrEmpty):
		status, kind = http.StatusBadRequest, "Empty"
	case errors.Is(err, ingest.ErrTooLarge):
		status, kind = http.StatusBadRequest, "TooLarge"
	case errors.Is(err, feature.ErrUnreadable):
		status, kind = http.StatusBadRequest, "Unreadable"
	case errors.Is(err, model.ErrSchemaMismatch):
		status, kind = http.StatusUnprocessableEntity, "SchemaMismatch"
		logger.Errorf("schema mismatch between extractor and model: %v", err)
	case errors.Is(err, classify.ErrBusy):
		status, kind = http.StatusServiceUnavailable, "Busy"
		s.metrics.rejectedBusy.Inc()
	case errors.Is(err, classify.ErrTimeout):
		status, kind = http.StatusServiceUnavailable, "Timeout"
	case errors.Is(err, classify.ErrCanceled):
		status, kind = 499, "Canceled"
	default:
		status, kind = http.StatusInternalServerError, "Internal"
		logger.Errorf("scan failed for %q: %v", name, err)
	}
	if status < http.StatusInternalServerError {
		logger.Debugf("scan rejected for %q: %s: %v", name, kind, err)
	}
	s.metrics.scansTotal.WithLabelValues("failed").Inc()
	s.emitter.EmitScan(output.ScanEvent{
		DeclaredName: name,
		Outcome:      "failed",
	})
	writeJSON(w, status, errorResponse{kind, err.Error()})
}

// readUpload streams the first multipart file field without buffering more
// than one byte past the configured limit. Oversize uploads are still
// reported through ingest so the error taxonomy stays in one place.
func (s *Server) readUpload(r *http.Request) ([]byte, string, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", errors.New("expected multipart/form-data with a \"file\" field")
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, "", errors.New("multipart request has no \"file\" field")
		}
		if err != nil {
			return nil, "", err
		}
		if part.FormName() != uploadField {
			part.Close()
			continue
		}
		data, err := io.ReadAll(io.LimitReader(part, s.cfg.MaxUploadBytes+1))
		part.Close()
		if err != nil {
			return nil, "", err
		}
		return data, part.FileName(), nil
	}
}

type healthResponse struct {
	Status        string  `json:"status"`
	Model         string  `json:"model"`
	SchemaVersion int     `json:"schema_version"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Processed     int64   `json:"processed"`
	InFlight      int64   `json:"in_flight"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{"MethodNotAllowed", "use GET"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Model:         s.svc.ModelName(),
		SchemaVersion: feature.SchemaVersion,
		Version:       version.Version,
		UptimeSeconds: time.Since(s.started).Seconds(),
		Processed:     s.svc.Processed(),
		InFlight:      s.svc.InFlight(),
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debugf("%s %s -> %d (%s)", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warnf("failed to encode response: %v", err)
	}
}
