// handler.go — основной обработчик API Intake Module.
// Объединяет health и обработчики загрузок.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/ahmed-826/distribution-platform/internal/api/middleware"
	"github.com/ahmed-826/distribution-platform/internal/domain/model"
	"github.com/ahmed-826/distribution-platform/internal/service"
)

// UploadService — операции сервисного слоя, доступные через API.
type UploadService interface {
	IngestFile(ctx context.Context, data []byte, meta service.IngestMetadata) (*model.Upload, error)
	ProcessUpload(ctx context.Context, actor service.Actor, id uuid.UUID) (*model.RunReport, error)
	GetUpload(ctx context.Context, actor service.Actor, id uuid.UUID) (*model.Upload, error)
	ListFiches(ctx context.Context, actor service.Actor, id uuid.UUID) ([]*model.Fiche, error)
	ListOutcomes(ctx context.Context, actor service.Actor, id uuid.UUID) ([]*model.ProductOutcome, error)
	DeleteUpload(ctx context.Context, actor service.Actor, id uuid.UUID) error
}

// APIHandler — основной обработчик API Intake Module.
type APIHandler struct {
	health          *HealthHandler
	uploads         UploadService
	privilegedRoles []string
	maxArchiveSize  int64
	logger          *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	uploads UploadService,
	privilegedRoles []string,
	maxArchiveSize int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:          health,
		uploads:         uploads,
		privilegedRoles: privilegedRoles,
		maxArchiveSize:  maxArchiveSize,
		logger:          logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.Metrics(w, r)
}

// --- Вспомогательные функции ---

// actorFrom строит Actor из claims запроса.
// ok=false, если запрос не прошёл аутентификацию.
func (h *APIHandler) actorFrom(r *http.Request) (service.Actor, bool) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil || claims.Subject == "" {
		return service.Actor{}, false
	}
	return service.Actor{
		Subject:    claims.Subject,
		Privileged: claims.HasAnyRole(h.privilegedRoles...),
	}, true
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
