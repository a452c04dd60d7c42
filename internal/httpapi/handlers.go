package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"benchguard.io/internal/activity"
	"benchguard.io/internal/advisory"
	"benchguard.io/internal/anomaly"
	"benchguard.io/internal/audit"
	"benchguard.io/internal/auth"
	"benchguard.io/internal/obs"
	"benchguard.io/internal/ops"
)

// ReadyProbe checks readiness (a database ping when one is configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Services are the domain components the API adapts. Ops, Monitor and
// Advisory are optional.
type Services struct {
	Directory *auth.Directory
	Matrix    *auth.MatrixManager
	Guard     *auth.Guard
	Ledger    *audit.Ledger
	Activity  *activity.Log
	Ops       *ops.InMemory
	Scanner   *anomaly.Scanner
	Monitor   *anomaly.Monitor
	Advisory  *advisory.Client
}

// API is the HTTP layer.
type API struct {
	router     chi.Router
	svc        Services
	readyProbe ReadyProbe
	version    string

	rateBurst  int
	ratePerSec float64
	origins    []string
	tracing    bool
	upgrader   websocket.Upgrader
}

// Option configures the API.
type Option func(*API)

func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		if perSecond > 0 && burst > 0 {
			a.ratePerSec, a.rateBurst = perSecond, burst
		}
	}
}

// WithAllowedOrigins sets CORS origins; "*" allows any.
func WithAllowedOrigins(origins []string) Option {
	return func(a *API) { a.origins = origins }
}

// WithTracing wraps the router in otelhttp spans.
func WithTracing(enabled bool) Option {
	return func(a *API) { a.tracing = enabled }
}

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func New(rp ReadyProbe, version string, svc Services, opts ...Option) (*API, error) {
	switch {
	case svc.Directory == nil, svc.Matrix == nil, svc.Guard == nil:
		return nil, errors.New("httpapi: directory, matrix and guard are required")
	case svc.Ledger == nil, svc.Activity == nil, svc.Scanner == nil:
		return nil, errors.New("httpapi: ledger, activity log and scanner are required")
	}
	a := &API{
		svc:        svc,
		readyProbe: rp,
		version:    version,
		rateBurst:  40,
		ratePerSec: 20,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     a.checkOrigin,
	}
	a.router = a.routes()
	return a, nil
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())
	r.Post("/v1/auth/token", a.handleAuthToken)

	r.Group(func(r chi.Router) {
		r.Use(a.withAuth)

		r.Get("/v1/me", a.handleMe)
		r.Route("/v1/actors", func(r chi.Router) {
			r.Get("/", a.handleListActors)
			r.Post("/", a.handleCreateActor)
			r.Route("/{actorID}", func(r chi.Router) {
				r.Get("/", a.handleGetActor)
				r.Patch("/status", a.handleActorStatus)
				r.Post("/force-logout", a.handleForceLogout)
				r.Get("/permissions", a.handleGetPermissions)
				r.Put("/permissions/{module}", a.handleSetPermission)
				r.Get("/permissions/events", a.handlePermissionEvents)
				r.Get("/permissions/ws", a.handlePermissionSocket)
			})
		})
		r.Get("/v1/flags", a.handleListFlags)
		r.Put("/v1/flags/{key}", a.handleSetFlag)

		r.Get("/v1/audit", a.handleListAudit)
		r.Get("/v1/audit/verify", a.handleVerifyAudit)
		r.Get("/v1/activity", a.handleListActivity)
		r.Post("/v1/activity", a.handleRecordActivity)

		r.Route("/v1/operations", func(r chi.Router) {
			r.Post("/transactions", a.handleRecordTransaction)
			r.Post("/repairs", a.handleRecordRepair)
			r.Post("/inventory", a.handleRecordInventory)
		})

		r.Get("/v1/anomalies", a.handleScan)
		r.Get("/v1/anomalies/summary", a.handleSummary)
		r.Get("/v1/anomalies/events", a.handleAnomalyEvents)
		r.Post("/v1/advisory/report", a.handleAdvisoryReport)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Handler returns the router wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = obs.Instrument(h)
	if a.tracing {
		h = otelhttp.NewHandler(h, "benchguard.http")
	}
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(a.origins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return h
}

func (a *API) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range a.origins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return len(a.origins) == 0 && isLocalOrigin(origin)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "benchguard",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":         "benchguard",
		"time":         time.Now().UTC().Format(time.RFC3339),
		"version":      a.version,
		"audit_chain":  a.svc.Ledger.Chained(),
		"advisory":     a.svc.Advisory != nil && a.svc.Advisory.Enabled(),
		"thresholds":   a.svc.Scanner.Detector().Thresholds(),
		"modules":      auth.Modules(),
		"roles":        auth.Roles(),
		"ops_recorder": a.svc.Ops != nil,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// decodeJSON reads exactly one JSON object and validates it. Decode errors
// map to 400 and validation errors to 422.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := err.Error()
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		writeError(w, r, http.StatusBadRequest, msg)
		return false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "unexpected data after JSON body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fe.Field()+" failed "+rule)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return val, nil
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New("timestamps must be RFC3339")
	}
	return t, nil
}
