package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/rhqueue/internal/api"
	apiMiddleware "github.com/phrazzld/rhqueue/internal/api/middleware"
	"github.com/phrazzld/rhqueue/internal/platform/telemetry"
)

// setupRouter creates and configures the application router with all routes and middleware.
// Everything except /health requires a bearer token when authentication is enabled.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	taskHandler := api.NewTaskHandler(app.scheduler)
	settingsHandler := api.NewSettingsHandler(app.settings, app.scheduler)
	accountHandler := api.NewAccountHandler(app.remote)
	healthHandler := api.NewHealthHandler(app.scheduler)

	r.Get("/health", healthHandler.Health)

	r.Group(func(r chi.Router) {
		if app.jwtService != nil {
			r.Use(apiMiddleware.NewAuthMiddleware(app.jwtService).Authenticate)
		}

		r.Method(http.MethodGet, "/ws", app.hub)

		r.Route("/api", func(r chi.Router) {
			r.Use(telemetry.HTTPMiddleware(app.config.Telemetry.ServiceName))

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", taskHandler.ListTasks)
				r.Post("/", taskHandler.CreateTask)
				r.Delete("/", taskHandler.ClearHistory)
				r.Post("/batch", taskHandler.CreateBatch)

				r.Get("/{id}", taskHandler.GetTask)
				r.Delete("/{id}", taskHandler.DeleteTask)
				r.Post("/{id}/cancel", taskHandler.CancelTask)
				r.Delete("/{id}/results/{index}", taskHandler.DeleteTaskResult)
			})

			r.Get("/settings", settingsHandler.GetSettings)
			r.Put("/settings", settingsHandler.UpdateSettings)
			r.Get("/account", accountHandler.GetAccount)
		})
	})

	return r
}
