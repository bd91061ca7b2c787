// Package pipeline wires authentication, rate limiting, compositing, and
// usage accounting into the single request flow the HTTP handler drives:
// extract headers, authenticate, check the rate limit, dispatch to the
// compositor, then record usage — bailing out early on the first failure.
package pipeline

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/printforge/mockupcore/internal/compositor"
	"github.com/printforge/mockupcore/internal/creds"
	"github.com/printforge/mockupcore/internal/fetch"
	"github.com/printforge/mockupcore/internal/logging"
	"github.com/printforge/mockupcore/internal/ratelimit"
	"github.com/printforge/mockupcore/internal/usage"
	"github.com/printforge/mockupcore/pkg/pixelimg"
	"github.com/printforge/mockupcore/pkg/templates"
)

// EndpointRender is the endpoint name recorded in usage_logs for render
// requests.
const (
	EndpointRender = "render"
)

// Request is the fully decoded input to RenderOnce.
type Request struct {
	APIKey      string
	TemplateID  string
	DesignURL   string
	Placement   compositor.Placement
	IP          string
	UserAgent   string
}

// Result carries the composited image plus the fields the HTTP layer needs
// to set response headers and status.
type Result struct {
	Image      *pixelimg.Image
	Principal  *creds.Principal
	RateLimit  ratelimit.Decision
	LatencyMs  int
}

// ErrRateLimited is the sentinel passed to stageErr when the limiter denies
// a request outright, as opposed to failing to reach its backing store.
var ErrRateLimited = errors.New("rate limit exceeded")

// ErrUnknownTemplate is returned by the template stage when the catalog has
// no active template with the requested id.
var ErrUnknownTemplate = errors.New("unknown template id")

// StageError tags which pipeline stage produced an error, carrying the
// response-layer status code and JSON error code resolved once, here,
// rather than leaving the HTTP handler to re-inspect concrete error types
// from four different packages.
type StageError struct {
	Stage             string // "auth", "rate_limit", "template", "fetch", "compositor"
	Status            int
	Code              string
	RetryAfterSeconds int // only set for stage "rate_limit" when Status == 429
	Err               error
}

func (e *StageError) Error() string { return e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) *StageError {
	status, code := classifyError(stage, err)
	return &StageError{Stage: stage, Status: status, Code: code, Err: err}
}

// classifyError is the single place a subsystem's tagged error kind is
// mapped to an HTTP status and a response `code` string. Every other layer
// of the service treats a *StageError as opaque.
func classifyError(stage string, err error) (status int, code string) {
	switch stage {
	case "auth":
		var ae *creds.AuthError
		if errors.As(err, &ae) && ae.Kind == creds.ErrMissing {
			return http.StatusUnauthorized, "MISSING_KEY"
		}
		return http.StatusUnauthorized, "INVALID_KEY"

	case "rate_limit":
		if errors.Is(err, ErrRateLimited) {
			return http.StatusTooManyRequests, "RATE_LIMITED"
		}
		return http.StatusServiceUnavailable, "RATE_LIMIT_UNAVAILABLE"

	case "template":
		return http.StatusNotFound, "UNKNOWN_TEMPLATE"

	case "fetch":
		var fe *fetch.FetchError
		if errors.As(err, &fe) {
			switch fe.Kind {
			case fetch.ErrTooLarge:
				return http.StatusRequestEntityTooLarge, string(fe.Kind)
			case fetch.ErrUnsupportedType:
				return http.StatusUnprocessableEntity, string(fe.Kind)
			default: // invalid URL, timeout, bad upstream status, decode failure
				return http.StatusBadRequest, string(fe.Kind)
			}
		}
		return http.StatusBadRequest, "FETCH_FAILED"

	case "compositor":
		if errors.Is(err, compositor.ErrQueueFull) {
			return http.StatusServiceUnavailable, "BACKLOG_FULL"
		}
		var ce *compositor.CompositorError
		if errors.As(err, &ce) {
			switch ce.Kind {
			case compositor.ErrInvalidPlacement:
				return http.StatusBadRequest, string(ce.Kind)
			case compositor.ErrDesignTooLarge:
				return http.StatusRequestEntityTooLarge, string(ce.Kind)
			case compositor.ErrTemplateUnavailable:
				return http.StatusServiceUnavailable, string(ce.Kind)
			}
		}
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// Pipeline holds the shared, process-lifetime dependencies each request
// flows through.
type Pipeline struct {
	creds      *creds.Store
	limiter    ratelimit.Limiter
	fetcher    *fetch.Fetcher
	templates  *templates.Store
	compositor *compositor.Pool
	usage      *usage.Recorder
	logger     *logging.Logger
}

func New(credStore *creds.Store, limiter ratelimit.Limiter, fetcher *fetch.Fetcher, templateStore *templates.Store, compositorPool *compositor.Pool, usageRecorder *usage.Recorder) *Pipeline {
	return &Pipeline{
		creds:      credStore,
		limiter:    limiter,
		fetcher:    fetcher,
		templates:  templateStore,
		compositor: compositorPool,
		usage:      usageRecorder,
		logger:     logging.NewLogger("pipeline.Pipeline"),
	}
}

// RenderOnce runs the full render request through every stage, recording
// usage before returning (success or failure) for every request that
// passes authentication, so billing stays accurate even when the request
// is rejected partway through. Requests that fail authentication are not
// recorded, since there is no principal to attribute them to.
func (p *Pipeline) RenderOnce(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	principal, err := p.creds.Authenticate(ctx, req.APIKey)
	if err != nil {
		se := stageErr("auth", err)
		p.recordFailure(ctx, "", req, start, se.Status)
		return nil, se
	}

	decision, err := p.limiter.CheckAndConsume(ctx, principal.ID, principal.RateLimitPerMinute)
	if err != nil {
		se := stageErr("rate_limit", err)
		p.recordFailure(ctx, principal.ID, req, start, se.Status)
		return nil, se
	}
	if !decision.Allowed {
		se := stageErr("rate_limit", ErrRateLimited)
		se.RetryAfterSeconds = decision.RetryAfterSeconds
		p.recordFailure(ctx, principal.ID, req, start, se.Status)
		return nil, se
	}

	tmpl, ok := p.templates.Get(req.TemplateID)
	if !ok {
		se := stageErr("template", ErrUnknownTemplate)
		p.recordFailure(ctx, principal.ID, req, start, se.Status)
		return nil, se
	}

	design, err := p.fetcher.Fetch(ctx, req.DesignURL)
	if err != nil {
		se := stageErr("fetch", err)
		p.recordFailure(ctx, principal.ID, req, start, se.Status)
		return nil, se
	}

	img, err := p.compositor.Submit(ctx, compositorJob(tmpl, design, req.Placement))
	if err != nil {
		se := stageErr("compositor", err)
		p.recordFailure(ctx, principal.ID, req, start, se.Status)
		return nil, se
	}

	latencyMs := int(time.Since(start).Milliseconds())
	p.usage.Record(ctx, usage.LogEntry{
		PrincipalID: principal.ID,
		Endpoint:    EndpointRender,
		TemplateID:  req.TemplateID,
		StatusCode:  200,
		LatencyMs:   latencyMs,
		IP:          req.IP,
		UserAgent:   req.UserAgent,
	})

	return &Result{Image: img, Principal: principal, RateLimit: decision, LatencyMs: latencyMs}, nil
}

// Authenticate exposes the credential store directly for endpoints (like
// usage lookups) that need a resolved Principal without running the rest
// of the render pipeline.
func (p *Pipeline) Authenticate(ctx context.Context, apiKey string) (*creds.Principal, error) {
	return p.creds.Authenticate(ctx, apiKey)
}

func compositorJob(tmpl *templates.Template, design *pixelimg.Image, placement compositor.Placement) compositor.Job {
	return compositor.Job{Template: tmpl, Design: design, Placement: placement}
}

func (p *Pipeline) recordFailure(ctx context.Context, principalID string, req Request, start time.Time, statusCode int) {
	if principalID == "" {
		return
	}
	p.usage.Record(ctx, usage.LogEntry{
		PrincipalID: principalID,
		Endpoint:    EndpointRender,
		TemplateID:  req.TemplateID,
		StatusCode:  statusCode,
		LatencyMs:   int(time.Since(start).Milliseconds()),
		IP:          req.IP,
		UserAgent:   req.UserAgent,
	})
}
