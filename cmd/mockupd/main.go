// Command mockupd serves the mockup compositing HTTP API: POST a design
// URL and a template id, get back a rendered product mockup.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/printforge/mockupcore/internal/compositor"
	"github.com/printforge/mockupcore/internal/config"
	"github.com/printforge/mockupcore/internal/creds"
	"github.com/printforge/mockupcore/internal/fetch"
	"github.com/printforge/mockupcore/internal/logging"
	"github.com/printforge/mockupcore/internal/pipeline"
	"github.com/printforge/mockupcore/internal/ratelimit"
	"github.com/printforge/mockupcore/internal/store"
	"github.com/printforge/mockupcore/internal/usage"
	"github.com/printforge/mockupcore/pkg/pixelimg"
	"github.com/printforge/mockupcore/pkg/templates"
)

func main() {
	configPath := flag.String("config", "", "optional TOML config file")
	flag.Parse()

	logger := logging.NewLogger("mockupd.main")
	reporter := logging.NewErrorReporter()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", err)
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("failed to open database", err)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		logger.Fatal("failed to run migrations", err)
	}

	templateStore := templates.NewStore(256)
	defs, loadErrs := templates.LoadCatalogDirectory(cfg.TemplatesPath, cfg.TemplatesPath)
	for _, le := range loadErrs {
		logger.WarnWithContext("failed to load catalog file", map[string]interface{}{"error": le.Error()})
	}
	for _, le := range templateStore.LoadAll(defs) {
		logger.WarnWithContext("template unavailable", map[string]interface{}{"template_id": le.TemplateID, "error": le.Err.Error()})
	}

	credStore := creds.NewStore(db)

	var limiter ratelimit.Limiter
	if cfg.RateLimitBackend == "memory" {
		mem := ratelimit.NewMemoryLimiter()
		go ratelimit.RunPeriodicSweep(context.Background(), mem, time.Minute)
		limiter = mem
	} else {
		sqlLimiter := ratelimit.NewSQLLimiter(db)
		go sweepLoop(sqlLimiter, logger)
		limiter = sqlLimiter
	}

	fetcher := fetch.New(cfg.FetchMaxBytes, cfg.FetchTimeout())
	pool := compositor.NewPool(cfg.MaxConcurrentComposites, cfg.CompositorQueueSize)
	defer pool.Close()
	usageRecorder := usage.NewRecorder(db)

	pl := pipeline.New(credStore, limiter, fetcher, templateStore, pool, usageRecorder)

	mux := http.NewServeMux()
	srv := &server{pipeline: pl, templates: templateStore, usage: usageRecorder, logger: logger, reporter: reporter}
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/api/v1/templates", srv.handleListTemplates)
	mux.HandleFunc("/api/v1/mockups/generate", srv.handleRender)
	mux.HandleFunc("/api/v1/usage", srv.handleUsage)

	httpServer := &http.Server{
		Addr:         cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.InfoWithContext("listening", map[string]interface{}{"addr": httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", err)
	}
}

func sweepLoop(l *ratelimit.SQLLimiter, logger *logging.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		if err := l.Sweep(context.Background()); err != nil {
			logger.WarnWithContext("rate limit sweep failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

type server struct {
	pipeline  *pipeline.Pipeline
	templates *templates.Store
	usage     *usage.Recorder
	logger    *logging.Logger
	reporter  *logging.ErrorReporter
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"cache_stats":  s.templates.AssetCacheStats(),
		"error_counts": s.reporter.GetErrorStats(),
	})
}

func (s *server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		writeError(w, http.StatusUnauthorized, "MISSING_KEY", "missing API key")
		return
	}
	if _, err := s.pipeline.Authenticate(r.Context(), apiKey); err != nil {
		s.logger.WarnWithContext("template list authentication failed", map[string]interface{}{"auth_error": err.Error()})
		writeError(w, http.StatusUnauthorized, "INVALID_KEY", "invalid API key")
		return
	}
	list := s.templates.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{"templates": list, "count": len(list)})
}

type placementInput struct {
	Scale   float64 `json:"scale"`
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
}

type renderOptions struct {
	Format string `json:"format"`
}

type renderRequest struct {
	TemplateID string           `json:"template_id"`
	DesignURL  string           `json:"design_url"`
	Placement  *placementInput  `json:"placement"`
	Options    renderOptions    `json:"options"`
}

type dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type mockupMetadata struct {
	GenerationTimeMs int        `json:"generation_time_ms"`
	Dimensions       dimensions `json:"dimensions"`
	TemplateID       string     `json:"template_id"`
	Format           string     `json:"format"`
}

type mockupResponse struct {
	Success   bool           `json:"success"`
	MockupURL string         `json:"mockup_url"`
	Metadata  mockupMetadata `json:"metadata"`
}

func (s *server) handleRender(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	w.Header().Set("X-Request-ID", requestID)

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	var body renderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body")
		return
	}
	if body.Placement == nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "missing placement")
		return
	}

	format := body.Options.Format
	if format == "" {
		format = string(pixelimg.FormatPNG)
	}
	switch pixelimg.Format(format) {
	case pixelimg.FormatPNG, pixelimg.FormatJPEG, pixelimg.FormatWebP:
	default:
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "unsupported options.format")
		return
	}

	apiKey := r.Header.Get("X-API-Key")
	req := pipeline.Request{
		APIKey:     apiKey,
		TemplateID: body.TemplateID,
		DesignURL:  body.DesignURL,
		Placement:  compositor.Placement{Scale: body.Placement.Scale, OffsetX: body.Placement.OffsetX, OffsetY: body.Placement.OffsetY},
		IP:         r.RemoteAddr,
		UserAgent:  r.Header.Get("User-Agent"),
	}

	result, err := s.pipeline.RenderOnce(r.Context(), req)
	if err != nil {
		s.handlePipelineError(w, err)
		return
	}

	encoded, err := pixelimg.Encode(result.Image, pixelimg.Format(format))
	if err != nil {
		s.reporter.ReportErrorWithContext(logging.ErrorCategorySystem, logging.ErrorSeverityHigh, "mockupd.server", "failed to encode result image", err, nil)
		writeError(w, http.StatusInternalServerError, "ENCODE_FAILED", "failed to encode rendered image")
		return
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.RateLimit.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.RateLimit.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.Itoa(result.RateLimit.ResetSeconds))

	writeJSON(w, http.StatusOK, mockupResponse{
		Success:   true,
		MockupURL: "data:image/" + format + ";base64," + base64.StdEncoding.EncodeToString(encoded),
		Metadata: mockupMetadata{
			GenerationTimeMs: result.LatencyMs,
			Dimensions:       dimensions{Width: result.Image.Width, Height: result.Image.Height},
			TemplateID:       req.TemplateID,
			Format:           format,
		},
	})
}

func (s *server) handlePipelineError(w http.ResponseWriter, err error) {
	var se *pipeline.StageError
	if !errors.As(err, &se) {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	if se.Status == http.StatusTooManyRequests && se.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(se.RetryAfterSeconds))
	}
	msg := se.Err.Error()
	var logCtx map[string]interface{}
	if se.Stage == "auth" {
		// The specific credential failure goes to the log only.
		logCtx = map[string]interface{}{"auth_error": msg}
		msg = "invalid API key"
		if se.Code == "MISSING_KEY" {
			msg = "missing API key"
		}
	}
	s.reporter.ReportErrorWithContext(logging.ErrorCategory(se.Stage), logging.ErrorSeverityMedium, "mockupd.server", "render request failed", se.Err, logCtx)
	writeError(w, se.Status, se.Code, msg)
}

// handleUsage looks up the current month's accounting for the calling key.
// It authenticates the key directly rather than going through RenderOnce,
// since a usage lookup must not consume rate-limit budget or trigger a
// composite.
func (s *server) handleUsage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Request-ID", uuid.New().String())

	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		writeError(w, http.StatusUnauthorized, "MISSING_KEY", "missing API key")
		return
	}

	principal, err := s.pipeline.Authenticate(r.Context(), apiKey)
	if err != nil {
		s.logger.WarnWithContext("usage lookup authentication failed", map[string]interface{}{"auth_error": err.Error()})
		writeError(w, http.StatusUnauthorized, "INVALID_KEY", "invalid API key")
		return
	}

	summary, err := s.usage.CurrentMonth(r.Context(), principal.ID)
	if err != nil {
		s.reporter.ReportErrorWithContext(logging.ErrorCategoryStore, logging.ErrorSeverityMedium, "mockupd.server", "failed to load usage summary", err, nil)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load usage")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError emits the documented error envelope: { success, error: {
// code, message } }. code is a taxonomy string (e.g. UNKNOWN_TEMPLATE,
// INVALID_REQUEST), resolved once at the pipeline.StageError boundary.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   map[string]string{"code": code, "message": msg},
	})
}
