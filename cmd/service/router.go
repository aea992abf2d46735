package main

import (
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	httphandler "github.com/kjstillabower/black-ice-route-service/internal/http"
	"github.com/kjstillabower/black-ice-route-service/internal/observability"
	"github.com/kjstillabower/black-ice-route-service/internal/traffic"
)

type routerDeps struct {
	handler        *httphandler.Handler
	logger         *zap.Logger
	limiter        *rate.Limiter
	tracker        *traffic.Tracker
	inflight       *httphandler.InFlightTracker
	requestTimeout time.Duration
	corsOrigins    []string
}

// newRouter builds the public handler chain. Rate limiting and the request
// deadline apply only to routes that reach the weather provider.
func newRouter(d routerDeps) http.Handler {
	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(d.logger))
	router.Use(httphandler.MetricsMiddleware(d.inflight))
	router.HandleFunc("/health", d.handler.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(httphandler.RateLimitMiddleware(d.limiter, d.tracker))
	api.Use(httphandler.TimeoutMiddleware(d.requestTimeout))
	api.HandleFunc("/risk", d.handler.GetRisk).Methods(http.MethodGet)
	api.HandleFunc("/routes/analyze", d.handler.AnalyzeRoute).Methods(http.MethodPost)

	var h http.Handler = router
	if len(d.corsOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(d.corsOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type", "X-Correlation-ID"}),
			handlers.ExposedHeaders([]string{"X-Correlation-ID"}),
		)(h)
	}
	return gzhttp.GzipHandler(h)
}
