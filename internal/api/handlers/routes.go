// routes.go — таблица маршрутов API.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ServerInterface — обработчики всех маршрутов API.
type ServerInterface interface {
	HealthLive(w http.ResponseWriter, r *http.Request)
	HealthReady(w http.ResponseWriter, r *http.Request)
	GetMetrics(w http.ResponseWriter, r *http.Request)

	CreateUpload(w http.ResponseWriter, r *http.Request)
	ProcessUpload(w http.ResponseWriter, r *http.Request)
	GetUpload(w http.ResponseWriter, r *http.Request)
	ListFiches(w http.ResponseWriter, r *http.Request)
	ListOutcomes(w http.ResponseWriter, r *http.Request)
	DeleteUpload(w http.ResponseWriter, r *http.Request)
}

// Префиксы путей, обслуживаемых без аутентификации.
const (
	HealthPrefix  = "/health/"
	MetricsPrefix = "/metrics"
)

// HandlerFromMux регистрирует маршруты API в router.
func HandlerFromMux(si ServerInterface, r chi.Router) {
	r.Get("/health/live", si.HealthLive)
	r.Get("/health/ready", si.HealthReady)
	r.Get("/metrics", si.GetMetrics)

	r.Route("/api/v1/uploads", func(r chi.Router) {
		r.Post("/", si.CreateUpload)
		r.Get("/{id}", si.GetUpload)
		r.Delete("/{id}", si.DeleteUpload)
		r.Post("/{id}/process", si.ProcessUpload)
		r.Get("/{id}/fiches", si.ListFiches)
		r.Get("/{id}/outcomes", si.ListOutcomes)
	})
}
