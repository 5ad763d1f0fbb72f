package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/clubledger/clubledger/internal/billing"
	"github.com/clubledger/clubledger/internal/methods"
	"github.com/clubledger/clubledger/internal/observability"
	"github.com/clubledger/clubledger/internal/reporting"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	BillingHandler   *billing.Handler
	MethodsHandler   *methods.Handler
	ReportingHandler *reporting.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(PrincipalMiddleware(params.Logger))

		r.Route("/billing", params.BillingHandler.MountRoutes)
		r.Route("/payment-methods", params.MethodsHandler.MountRoutes)
		r.Route("/reporting", params.ReportingHandler.MountRoutes)
	})

	return r
}
