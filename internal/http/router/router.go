package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/ndt-connect/marketplace-api/internal/auth"
	"github.com/ndt-connect/marketplace-api/internal/config"
	"github.com/ndt-connect/marketplace-api/internal/domain"
	"github.com/ndt-connect/marketplace-api/internal/http/handler"
	"github.com/ndt-connect/marketplace-api/internal/http/middleware"
	"go.uber.org/zap"
)

// Handlers groups every HTTP handler the router mounts
type Handlers struct {
	Health       *handler.HealthHandler
	Catalog      *handler.CatalogHandler
	Jobs         *handler.JobRequestHandler
	Quotations   *handler.QuotationHandler
	Notification *handler.NotificationHandler
}

type Router struct {
	cfg            *config.Config
	logger         *zap.Logger
	authMiddleware *auth.Middleware
	rateLimiter    *middleware.RateLimiter
	handlers       Handlers
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	authMiddleware *auth.Middleware,
	rateLimiter *middleware.RateLimiter,
	handlers Handlers,
) *Router {
	return &Router{
		cfg:            cfg,
		logger:         logger,
		authMiddleware: authMiddleware,
		rateLimiter:    rateLimiter,
		handlers:       handlers,
	}
}

func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(rt.logger))
	r.Use(middleware.Logging(rt.logger))
	r.Use(middleware.SecurityHeaders(&rt.cfg.Security))
	r.Use(middleware.CORS(&rt.cfg.CORS, rt.cfg.App.Environment, rt.logger))
	r.Use(rt.rateLimiter.LimitByIP)

	// Liveness and readiness probes
	r.Get("/health", rt.handlers.Health.Live)
	r.Get("/health/ready", rt.handlers.Health.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.Timeout(rt.cfg.Server.RequestTimeoutDuration()))
		r.Use(rt.authMiddleware.Authenticate)
		r.Use(rt.rateLimiter.Limit)

		catalog := rt.handlers.Catalog
		r.Post("/estimates", catalog.Estimate)
		r.Route("/offerings", func(r chi.Router) {
			r.Use(rt.authMiddleware.RequireRole(domain.RoleProvider, domain.RoleInspector, domain.RoleAdmin))
			r.Post("/", catalog.CreateOffering)
			r.Put("/{id}", catalog.UpdateOffering)
		})
		r.Get("/providers/{providerId}/offerings", catalog.ListOfferings)
		r.Route("/surcharge-factors", func(r chi.Router) {
			r.Get("/", catalog.ListSurchargeFactors)
			r.With(rt.authMiddleware.RequireRole(domain.RoleAdmin)).Post("/", catalog.CreateSurchargeFactor)
		})

		jobs := rt.handlers.Jobs
		quotations := rt.handlers.Quotations
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", jobs.List)
			r.Post("/", jobs.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", jobs.GetByID)
				r.Put("/status", jobs.AdvanceStatus)
				r.Get("/history", jobs.GetStatusHistory)
				r.Post("/notes", jobs.AddNote)
				r.Post("/attachments", jobs.AddAttachment)
				r.Post("/estimate", jobs.RecomputeEstimate)
				r.Get("/estimate.pdf", jobs.EstimatePDF)
				r.Get("/quotations", quotations.ListForJob)
				r.Post("/quotations", quotations.Submit)
			})
		})

		r.Route("/quotations", func(r chi.Router) {
			r.Get("/mine", quotations.ListMine)
			r.Route("/{quotationId}", func(r chi.Router) {
				r.Post("/respond", quotations.Respond)
				r.Post("/negotiate", quotations.Negotiate)
				r.Post("/requote", quotations.Requote)
				r.Get("/draft", quotations.GetDraft)
				r.Put("/draft", quotations.SaveDraft)
				r.Delete("/draft", quotations.DeleteDraft)
			})
		})

		notifications := rt.handlers.Notification
		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", notifications.List)
			r.Get("/count", notifications.GetUnreadCount)
			r.Put("/read-all", notifications.MarkAllAsRead)
			r.Put("/{id}/read", notifications.MarkAsRead)
		})
	})

	return r
}
