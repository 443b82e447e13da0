package api

import (
	"net/http"
	"time"

	"propleads/internal/api/handler"
	"propleads/internal/app/service"
	"propleads/internal/app/worker"
	"propleads/internal/common/security"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
)

func NewRouter(
	authService *service.AuthService,
	jobService *service.BatchJobService,
	checkService *service.DuplicateCheckService,
	campaignService *service.CampaignService,
	queue *worker.JobQueueWorker,
) http.Handler {
	r := chi.NewRouter()

	// Base Middlewares
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	// Verifies the "Authorization: Bearer T" token and puts claims in context.
	r.Use(jwtauth.Verifier(security.TokenAuth))

	// Public health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// API v1 Routes
	r.Route("/api/v1", func(v1 chi.Router) {
		// Auth routes (public)
		authHandler := handler.NewAuthHandler(authService)
		v1.Group(func(publicAuth chi.Router) {
			authHandler.RegisterRoutes(publicAuth)
		})

		// Batch job routes (authenticated)
		jobHandler := handler.NewBatchJobHandler(jobService, queue)
		v1.Route("/jobs", jobHandler.RegisterRoutes)

		// Duplicate check routes (authenticated)
		checkHandler := handler.NewDuplicateCheckHandler(checkService)
		v1.Route("/duplicate-checks", checkHandler.RegisterRoutes)

		// Campaign and suppression routes (authenticated; do-not-mail is admin)
		campaignHandler := handler.NewCampaignHandler(campaignService)
		v1.Route("/campaigns", campaignHandler.RegisterRoutes)
		v1.Route("/do-not-mail", campaignHandler.RegisterDoNotMailRoutes)
	})

	return r
}
