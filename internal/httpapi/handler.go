// Package httpapi exposes the issuer and manifest gate over HTTP.
package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/ipa_gateway/internal/edge"
	"github.com/R3E-Network/ipa_gateway/internal/httputil"
	"github.com/R3E-Network/ipa_gateway/internal/issuer"
	"github.com/R3E-Network/ipa_gateway/internal/logging"
	"github.com/R3E-Network/ipa_gateway/internal/manifest"
	"github.com/R3E-Network/ipa_gateway/internal/metrics"
	"github.com/R3E-Network/ipa_gateway/internal/middleware"
)

// Route paths.
const (
	TokenPath   = "/api/generate-token"
	PlistPath   = issuer.ManifestPath
	HealthPath  = "/health"
	MetricsPath = "/metrics"
)

// Dependencies are the components served by the handler. Edge, RateLimiter
// and Ready are optional.
type Dependencies struct {
	Service        string
	Issuer         *issuer.Issuer
	Gate           *manifest.Gate
	Edge           *edge.Filter
	RateLimiter    *middleware.RateLimiter
	Metrics        *metrics.Metrics
	Logger         *logging.Logger
	AllowedOrigins []string
	// StaticDir, when set, is served for every unmatched path.
	StaticDir string
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error
}

type handler struct {
	deps Dependencies
}

// NewHandler returns the full middleware chain: tracing, CORS, edge filter
// and the router, which records metrics per matched route.
func NewHandler(deps Dependencies) (http.Handler, error) {
	if deps.Issuer == nil || deps.Gate == nil {
		return nil, fmt.Errorf("issuer and gate are required")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Logger == nil {
		deps.Logger = logging.New("ipa-gateway", "info", "json")
	}
	if deps.Service == "" {
		deps.Service = deps.Logger.Service()
	}

	h := &handler{deps: deps}

	router := mux.NewRouter()
	recordMetrics := middleware.MetricsMiddleware(deps.Service, deps.Metrics)
	router.Use(recordMetrics)
	// mux skips Use middleware when nothing matches.
	router.NotFoundHandler = recordMetrics(http.HandlerFunc(http.NotFound))
	router.MethodNotAllowedHandler = recordMetrics(http.HandlerFunc(methodNotAllowed))

	var generate http.Handler = http.HandlerFunc(h.generateToken)
	if deps.RateLimiter != nil {
		generate = deps.RateLimiter.Handler(generate)
	}
	router.Handle(TokenPath, generate).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc(PlistPath, h.plist).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc(HealthPath, h.health).Methods(http.MethodGet)
	router.Handle(MetricsPath, deps.Metrics.Handler()).Methods(http.MethodGet)

	if deps.StaticDir != "" {
		router.PathPrefix("/").Handler(http.FileServer(http.Dir(deps.StaticDir)))
	}

	var root http.Handler = router
	if deps.Edge != nil {
		root = deps.Edge.Handler(root)
	}
	root = middleware.NewCORSMiddleware(deps.AllowedOrigins).Handler(root)
	root = middleware.NewTracingMiddleware(deps.Logger).Handler(root)
	return root, nil
}

func (h *handler) generateToken(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	query := r.URL.Query()
	result, err := h.deps.Issuer.Issue(r.Context(), issuer.Request{
		ID:      query.Get("id"),
		IPAName: query.Get("ipa_name"),
	})
	if err != nil {
		httputil.WriteJSONError(w, err)
		return
	}
	h.deps.Metrics.RecordTokenIssued()

	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"installUrl": result.InstallURL})
}

func (h *handler) plist(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	result, err := h.deps.Gate.Serve(r.Context(), manifest.Request{
		ID:    query.Get("id"),
		Token: query.Get("token"),
	})
	if err != nil {
		httputil.WriteTextError(w, err)
		return
	}
	defer result.Body.Close()

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(result.Body.Size, 10))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, result.Body); err != nil {
		h.deps.Logger.WithContext(r.Context()).WithError(err).Warn("Manifest stream interrupted")
	}
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ready != nil {
		if err := h.deps.Ready(r.Context()); err != nil {
			h.deps.Logger.WithContext(r.Context()).WithError(err).Warn("Readiness check failed")
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
