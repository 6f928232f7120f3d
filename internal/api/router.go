package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medsim/regsim/internal/beds"
	"github.com/medsim/regsim/internal/mitosis"
	"github.com/medsim/regsim/internal/registration"
	"github.com/medsim/regsim/internal/settings"
)

// RouterConfig carries everything the HTTP surface needs. PgPool and Redis
// may be nil when running on the in-memory driver; the readiness probe then
// skips them.
type RouterConfig struct {
	Resolver     *settings.Resolver
	Beds         *beds.Service
	Registration *registration.Validator
	Mitosis      *mitosis.Engine

	PgPool *pgxpool.Pool
	Redis  *goredis.Client

	Env     string
	Version string
	Logger  zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health/live", livenessHandler(cfg))
	r.Get("/health/ready", readinessHandler(cfg))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/departments/{depId}", func(r chi.Router) {
			r.Get("/settings", departmentSettingsHandler(cfg.Resolver))
			r.Get("/settings/{key}", resolveSettingHandler(cfg.Resolver))
			r.Put("/settings/{key}", setDepartmentSettingHandler(cfg.Resolver))
			r.Get("/hierarchy", facilityHierarchyHandler(cfg.Resolver))
		})

		r.Put("/facilities/{eafId}/settings/{key}", setFacilitySettingHandler(cfg.Resolver))

		r.Route("/beds/{bedId}", func(r chi.Router) {
			r.Get("/validate", validateBedAssignmentHandler(cfg.Beds))
			r.Post("/assign", assignBedHandler(cfg.Beds))
			r.Post("/release", releaseBedHandler(cfg.Beds))
		})

		r.Route("/patients/{eptId}", func(r chi.Router) {
			r.Get("/available-beds", availableBedsHandler(cfg.Beds))
			r.Get("/registration", validateRegistrationHandler(cfg.Registration))
		})

		r.Get("/rooms/{romId}/beds", roomBedStatusHandler(cfg.Beds))

		r.Route("/mitosis", func(r chi.Router) {
			r.Post("/run", runMitosisHandler(cfg.Mitosis))
			r.Get("/should-run", shouldRunMitosisHandler(cfg.Mitosis))
			r.Get("/stats", mitosisStatsHandler(cfg.Mitosis))
			r.Post("/templates", initializeTemplatesHandler(cfg.Mitosis))
		})
	})

	return r
}
