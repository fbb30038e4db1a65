// Package http serves the browser front end and the JSON API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"bilimusic/internal/core"
	"bilimusic/internal/flood"
	"bilimusic/internal/i18n"
	"bilimusic/internal/media"
	"bilimusic/pkg/videolink"
)

const (
	shutdownTimeout = 10 * time.Second
	// maxRequestBodySize caps JSON request bodies.
	maxRequestBodySize = 64 << 10
)

// Pipeline is what the server needs from core.Pipeline.
type Pipeline interface {
	Preview(ctx context.Context, rawText string) (*core.Preview, error)
	Current() (*core.Preview, bool)
	Convert(ctx context.Context, req core.ConvertRequest) (*core.ConvertResult, error)
}

type Server struct {
	config    *core.ServerConfig
	logger    *zap.Logger
	server    *http.Server
	metrics   *Metrics
	registry  *prometheus.Registry
	pipeline  Pipeline
	localizer *i18n.Localizer
	floodgate *flood.Floodgate
	outputDir string
}

// NewServer wires the routes. floodgate may be nil to disable rate limiting.
// Converted files are written to outputDir and removed once streamed.
func NewServer(
	config *core.ServerConfig,
	pipeline Pipeline,
	localizer *i18n.Localizer,
	floodgate *flood.Floodgate,
	outputDir string,
	logger *zap.Logger,
) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{
		config:    config,
		logger:    logger,
		metrics:   newMetrics(registry),
		registry:  registry,
		pipeline:  pipeline,
		localizer: localizer,
		floodgate: floodgate,
		outputDir: outputDir,
	}
	s.server = createHTTPServer(config, s.setupRoutes())
	return s
}

func createHTTPServer(config *core.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:           handler,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
	}
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"bilimusic"}`))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready","service":"bilimusic"}`))
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	mux.HandleFunc("POST /api/resolve", s.instrument("resolve", s.resolveHandler))
	mux.HandleFunc("GET /api/cover", s.instrument("cover", s.coverHandler))
	mux.HandleFunc("POST /api/convert", s.instrument("convert", s.convertHandler))
	mux.HandleFunc("GET /{$}", s.homeHandler)

	return mux
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Metrics returns the collectors, which also observe pipeline stages.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

type resolveRequest struct {
	Text string `json:"text"`
}

type trackPayload struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
}

type previewResponse struct {
	BVID     string       `json:"bvid"`
	Title    string       `json:"title"`
	Author   string       `json:"author"`
	CoverURL string       `json:"cover_url"`
	HasCover bool         `json:"has_cover"`
	Track    trackPayload `json:"track"`
	Message  string       `json:"message"`
}

type errorResponse struct {
	Error   core.ErrorKind `json:"error"`
	Message string         `json:"message"`
}

func (s *Server) resolveHandler(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}

	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	preview, err := s.pipeline.Preview(r.Context(), req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, previewResponse{
		BVID:     preview.Video.ID.String(),
		Title:    preview.Video.Title,
		Author:   preview.Video.Author,
		CoverURL: preview.Video.CoverURL,
		HasCover: preview.CoverPath != "",
		Track: trackPayload{
			Title:  preview.Track.Title,
			Artist: preview.Track.Artist,
		},
		Message: s.localizer.T("ui.resolved", preview.Video.ID.String()),
	})
}

// coverHandler serves the local cover copy, or redirects to the remote
// cover when the copy could not be fetched.
func (s *Server) coverHandler(w http.ResponseWriter, r *http.Request) {
	preview, ok := s.pipeline.Current()
	if !ok {
		s.writeError(w, core.ErrNoPreview)
		return
	}

	if preview.CoverPath == "" {
		http.Redirect(w, r, preview.Video.CoverURL, http.StatusFound)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, preview.CoverPath)
}

func (s *Server) convertHandler(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}

	var payload trackPayload
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &payload); err != nil {
			s.writeError(w, err)
			return
		}
	}

	req := core.ConvertRequest{OutputDir: s.outputDir, UniqueName: true}
	if payload.Title != "" || payload.Artist != "" {
		req.Track = &core.Track{Title: payload.Title, Artist: payload.Artist}
	}

	result, err := s.pipeline.Convert(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer s.removeFile(result.Path)

	file, err := os.Open(result.Path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer func() {
		_ = file.Close()
	}()

	w.Header().Set("Content-Type", contentType(result.Format))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": result.FileName,
	}))
	w.Header().Set("Content-Length", fmt.Sprint(result.Size))
	w.WriteHeader(http.StatusOK)

	written, err := io.Copy(w, file)
	if err != nil {
		s.logger.Warn("Failed to stream converted file",
			zap.String("path", result.Path),
			zap.Error(err))
		return
	}

	s.metrics.recordConversion(result.Format, written)
	s.logger.Info("Served converted file",
		zap.String("bvid", result.ID.String()),
		zap.String("file", result.FileName),
		zap.Int64("bytes", written))
}

// allow applies the floodgate. Rejections carry Retry-After in whole seconds.
func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.floodgate == nil {
		return true
	}

	ok, wait := s.floodgate.AllowRequest(r)
	if ok {
		return true
	}

	s.metrics.FloodRejectionsTotal.Inc()
	s.logger.Debug("Request rejected by floodgate",
		zap.String("client", s.floodgate.Key(r)),
		zap.Duration("retry_after", wait),
		zap.Int("tracked_clients", s.floodgate.Clients()))
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	s.writeJSON(w, http.StatusTooManyRequests, errorResponse{
		Error:   "flood",
		Message: s.localizer.T("error.flood"),
	})
	return false
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := core.Classify(err)
	s.metrics.ErrorsTotal.WithLabelValues(string(kind)).Inc()

	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("kind", string(kind)), zap.Error(err))
	} else {
		s.logger.Info("Request rejected", zap.String("kind", string(kind)), zap.Error(err))
	}

	s.writeJSON(w, status, errorResponse{
		Error:   kind,
		Message: s.errorMessage(kind, err),
	})
}

func (s *Server) errorMessage(kind core.ErrorKind, err error) string {
	switch kind {
	case core.KindInput:
		if errors.Is(err, core.ErrNoPreview) {
			return s.localizer.T("error.no_preview")
		}
		if errors.Is(err, core.ErrInvalidRequest) {
			return s.localizer.T("error.invalid_request")
		}
		return s.localizer.T("error.input")
	case core.KindResolution:
		var resolveErr *videolink.ResolveError
		if !errors.As(err, &resolveErr) {
			return s.localizer.T("error.resolution", err.Error())
		}
		if errors.Is(err, videolink.ErrShortLinkRequest) {
			return s.localizer.T("error.short_link", shortLinkDetail(resolveErr))
		}
		finalURL := resolveErr.FinalURL
		if finalURL == "" {
			finalURL = resolveErr.Input
		}
		return s.localizer.T("error.resolution", finalURL)
	case core.KindTransport:
		return s.localizer.T("error.transport", err.Error())
	case core.KindUpstream:
		return s.localizer.T("error.upstream", err.Error())
	case core.KindTool:
		var muxErr *media.MuxError
		if errors.As(err, &muxErr) {
			return s.localizer.T("error.tool", muxErr.Stderr)
		}
		return s.localizer.T("error.tool", err.Error())
	case core.KindBusy:
		return s.localizer.T("error.busy")
	default:
		return s.localizer.T("error.internal", err.Error())
	}
}

// shortLinkDetail names the short link and why its request failed: the
// response code, or the transport error.
func shortLinkDetail(resolveErr *videolink.ResolveError) string {
	var statusErr *videolink.StatusError
	if errors.As(resolveErr.Err, &statusErr) {
		if statusErr.URL != resolveErr.Input {
			return fmt.Sprintf("%s -> %s (HTTP %d)", resolveErr.Input, statusErr.URL, statusErr.StatusCode)
		}
		return fmt.Sprintf("%s (HTTP %d)", resolveErr.Input, statusErr.StatusCode)
	}

	var urlErr *url.Error
	if errors.As(resolveErr.Err, &urlErr) {
		return fmt.Sprintf("%s (%v)", resolveErr.Input, urlErr.Err)
	}
	return fmt.Sprintf("%s (%v)", resolveErr.Input, resolveErr.Err)
}

func statusForKind(kind core.ErrorKind) int {
	switch kind {
	case core.KindInput:
		return http.StatusBadRequest
	case core.KindResolution:
		return http.StatusUnprocessableEntity
	case core.KindUpstream:
		return http.StatusBadGateway
	case core.KindTransport:
		return http.StatusGatewayTimeout
	case core.KindBusy:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func contentType(format string) string {
	if format == core.FormatM4A {
		return "audio/mp4"
	}
	return "audio/mpeg"
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("Failed to write response", zap.Error(err))
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize))
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("%w: %w", core.ErrInvalidRequest, err)
	}
	return nil
}

func (s *Server) removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Failed to remove served file", zap.String("path", path), zap.Error(err))
	}
}
