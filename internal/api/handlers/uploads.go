// uploads.go — обработчики /api/v1/uploads.
// Авторизация: RequireAnyRole (роли управления загрузками) — на уровне middleware,
// доступ к чужим загрузкам проверяет сервисный слой.
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/ahmed-826/distribution-platform/internal/api/errors"
	"github.com/ahmed-826/distribution-platform/internal/domain/model"
	"github.com/ahmed-826/distribution-platform/internal/service"
)

const (
	// multipartOverhead — запас на заголовки и текстовые поля формы
	multipartOverhead = 1 << 20
	// multipartMemory — часть формы, удерживаемая в памяти при разборе
	multipartMemory = 32 << 20
)

// --- DTO ---

type uploadResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Date        time.Time `json:"date"`
	Type        string    `json:"type"`
	FileName    string    `json:"file_name"`
	Hash        string    `json:"hash"`
	Size        int64     `json:"size"`
	Status      string    `json:"status"`
	UserID      string    `json:"user_id"`
	ProcessorID *string   `json:"processor_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ficheResponse struct {
	ID        uuid.UUID          `json:"id"`
	Ref       string             `json:"ref"`
	SourceID  uuid.UUID          `json:"source_id"`
	Date      time.Time          `json:"date"`
	Object    string             `json:"object"`
	Summary   string             `json:"summary"`
	Path      string             `json:"path"`
	Hash      string             `json:"hash"`
	Dump      string             `json:"dump"`
	Documents []documentResponse `json:"documents"`
	CreatedAt time.Time          `json:"created_at"`
}

type documentResponse struct {
	ID           uuid.UUID          `json:"id"`
	Type         string             `json:"type"`
	Content      string             `json:"content,omitempty"`
	Meta         *model.MessageMeta `json:"meta,omitempty"`
	DumpName     string             `json:"dump_name"`
	DumpPath     string             `json:"dump_path,omitempty"`
	Path         string             `json:"path"`
	OriginalPath *string            `json:"original_path,omitempty"`
	Hash         string             `json:"hash"`
	MessageID    *uuid.UUID         `json:"message_id,omitempty"`
}

type outcomeResponse struct {
	Archive   string     `json:"archive,omitempty"`
	Folder    string     `json:"folder"`
	Result    string     `json:"result"`
	Code      string     `json:"code,omitempty"`
	Message   string     `json:"message,omitempty"`
	FicheID   *uuid.UUID `json:"fiche_id,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

type reportResponse struct {
	UploadID    uuid.UUID         `json:"upload_id"`
	Status      string            `json:"status"`
	Folders     int               `json:"folders"`
	NotProducts int               `json:"not_products"`
	Committed   int               `json:"committed"`
	Skipped     int               `json:"skipped"`
	Failed      int               `json:"failed"`
	Outcomes    []outcomeResponse `json:"outcomes"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// --- Обработчики ---

// CreateUpload — POST /api/v1/uploads (multipart/form-data).
// Поля: file (обязательно), name, type.
func (h *APIHandler) CreateUpload(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(r)
	if !ok {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxArchiveSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.ArchiveTooLarge(w, "Архив превышает допустимый размер")
			return
		}
		apierrors.ValidationError(w, "Некорректная multipart-форма")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле file обязательно")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("Ошибка чтения загружаемого файла", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Не удалось прочитать файл")
		return
	}

	upload, err := h.uploads.IngestFile(r.Context(), data, service.IngestMetadata{
		Name:     r.FormValue("name"),
		Type:     model.UploadType(r.FormValue("type")),
		FileName: header.Filename,
		UserID:   actor.Subject,
	})
	if err != nil {
		h.writeServiceError(w, err, "Ошибка приёма архива", uuid.Nil)
		return
	}

	writeJSON(w, http.StatusCreated, toUploadResponse(upload))
}

// ProcessUpload — POST /api/v1/uploads/{id}/process.
// Отвечает 200 с отчётом и при статусе failed: сам запуск состоялся.
func (h *APIHandler) ProcessUpload(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.uploadRequest(w, r)
	if !ok {
		return
	}

	report, err := h.uploads.ProcessUpload(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка обработки загрузки", id)
		return
	}

	writeJSON(w, http.StatusOK, toReportResponse(report))
}

// GetUpload — GET /api/v1/uploads/{id}.
func (h *APIHandler) GetUpload(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.uploadRequest(w, r)
	if !ok {
		return
	}

	upload, err := h.uploads.GetUpload(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения загрузки", id)
		return
	}

	writeJSON(w, http.StatusOK, toUploadResponse(upload))
}

// ListFiches — GET /api/v1/uploads/{id}/fiches.
func (h *APIHandler) ListFiches(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.uploadRequest(w, r)
	if !ok {
		return
	}

	fiches, err := h.uploads.ListFiches(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения карточек", id)
		return
	}

	items := make([]ficheResponse, 0, len(fiches))
	for _, f := range fiches {
		items = append(items, toFicheResponse(f))
	}
	writeJSON(w, http.StatusOK, listResponse[ficheResponse]{Items: items, Total: len(items)})
}

// ListOutcomes — GET /api/v1/uploads/{id}/outcomes.
func (h *APIHandler) ListOutcomes(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.uploadRequest(w, r)
	if !ok {
		return
	}

	outcomes, err := h.uploads.ListOutcomes(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения журнала обработки", id)
		return
	}

	items := make([]outcomeResponse, 0, len(outcomes))
	for _, o := range outcomes {
		items = append(items, toOutcomeResponse(o))
	}
	writeJSON(w, http.StatusOK, listResponse[outcomeResponse]{Items: items, Total: len(items)})
}

// DeleteUpload — DELETE /api/v1/uploads/{id}.
func (h *APIHandler) DeleteUpload(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.uploadRequest(w, r)
	if !ok {
		return
	}

	if err := h.uploads.DeleteUpload(r.Context(), actor, id); err != nil {
		h.writeServiceError(w, err, "Ошибка удаления загрузки", id)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Вспомогательные функции ---

// uploadRequest извлекает Actor и id загрузки из запроса.
// При ошибке ответ уже записан.
func (h *APIHandler) uploadRequest(w http.ResponseWriter, r *http.Request) (service.Actor, uuid.UUID, bool) {
	actor, ok := h.actorFrom(r)
	if !ok {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return service.Actor{}, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.ValidationError(w, "Некорректный идентификатор загрузки")
		return service.Actor{}, uuid.Nil, false
	}
	return actor, id, true
}

// writeServiceError преобразует ошибку сервисного слоя в ответ API.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error, logMsg string, id uuid.UUID) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrTooLarge):
		apierrors.ArchiveTooLarge(w, "Архив превышает допустимый размер")
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Загрузка не найдена")
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, "Нет доступа к загрузке")
	case errors.Is(err, service.ErrDuplicateUpload):
		apierrors.DuplicateUpload(w, "Архив с таким содержимым уже загружен")
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	default:
		attrs := []any{slog.String("error", err.Error())}
		if id != uuid.Nil {
			attrs = append(attrs, slog.String("upload_id", id.String()))
		}
		h.logger.Error(logMsg, attrs...)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

func toUploadResponse(u *model.Upload) uploadResponse {
	return uploadResponse{
		ID:          u.ID,
		Name:        u.Name,
		Date:        u.Date,
		Type:        string(u.Type),
		FileName:    u.FileName,
		Hash:        u.Hash,
		Size:        u.Size,
		Status:      string(u.Status),
		UserID:      u.UserID,
		ProcessorID: u.ProcessorID,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func toFicheResponse(f *model.Fiche) ficheResponse {
	docs := make([]documentResponse, 0, len(f.Documents))
	for _, d := range f.Documents {
		docs = append(docs, documentResponse{
			ID:           d.ID,
			Type:         string(d.Type),
			Content:      d.Content,
			Meta:         d.Meta,
			DumpName:     d.DumpName,
			DumpPath:     d.DumpPath,
			Path:         d.Path,
			OriginalPath: d.OriginalPath,
			Hash:         d.Hash,
			MessageID:    d.MessageID,
		})
	}
	return ficheResponse{
		ID:        f.ID,
		Ref:       f.Ref,
		SourceID:  f.SourceID,
		Date:      f.Date,
		Object:    f.Object,
		Summary:   f.Summary,
		Path:      f.Path,
		Hash:      f.Hash,
		Dump:      f.Dump,
		Documents: docs,
		CreatedAt: f.CreatedAt,
	}
}

func toOutcomeResponse(o *model.ProductOutcome) outcomeResponse {
	resp := outcomeResponse{
		Archive: o.Archive,
		Folder:  o.Folder,
		Result:  string(o.Result),
		Code:    o.Code,
		Message: o.Message,
		FicheID: o.FicheID,
	}
	if !o.CreatedAt.IsZero() {
		createdAt := o.CreatedAt
		resp.CreatedAt = &createdAt
	}
	return resp
}

func toReportResponse(r *model.RunReport) reportResponse {
	outcomes := make([]outcomeResponse, 0, len(r.Outcomes))
	for i := range r.Outcomes {
		outcomes = append(outcomes, toOutcomeResponse(&r.Outcomes[i]))
	}
	return reportResponse{
		UploadID:    r.UploadID,
		Status:      string(r.Status),
		Folders:     r.Folders,
		NotProducts: r.NotProducts,
		Committed:   r.Committed,
		Skipped:     r.Skipped,
		Failed:      r.Failed,
		Outcomes:    outcomes,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
}
