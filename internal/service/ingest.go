package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ahmed-826/distribution-platform/internal/api/middleware"
	"github.com/ahmed-826/distribution-platform/internal/archive"
	"github.com/ahmed-826/distribution-platform/internal/domain/lifecycle"
	"github.com/ahmed-826/distribution-platform/internal/domain/model"
	"github.com/ahmed-826/distribution-platform/internal/events"
	"github.com/ahmed-826/distribution-platform/internal/repository"
	"github.com/ahmed-826/distribution-platform/internal/storage/filestore"
	"github.com/ahmed-826/distribution-platform/internal/storage/wal"
)

// uploadsDir — каталог архивов загрузок в хранилище.
const uploadsDir = "uploads"

// publishTimeout ограничивает ожидание брокера событий.
const publishTimeout = 5 * time.Second

// Actor — пользователь, выполняющий операцию над загрузкой.
type Actor struct {
	// Subject — sub из JWT
	Subject string
	// Privileged — доступ к загрузкам всех пользователей
	Privileged bool
}

// IngestMetadata — сведения о принимаемом архиве.
type IngestMetadata struct {
	// Name — отображаемое имя (по умолчанию — имя файла)
	Name     string
	Type     model.UploadType
	FileName string
	// UserID — владелец загрузки
	UserID string
}

// IngestService — приём, обработка и удаление загрузок.
type IngestService struct {
	uploads        repository.UploadRepository
	fiches         repository.FicheRepository
	documents      repository.DocumentRepository
	outcomes       repository.OutcomeRepository
	store          *filestore.FileStore
	journal        *wal.WAL
	pipeline       *Pipeline
	publisher      events.Publisher
	publishTimeout time.Duration
	maxArchiveSize int64
	logger         *slog.Logger
}

// NewIngestService создаёт сервис загрузок.
func NewIngestService(
	uploads repository.UploadRepository,
	fiches repository.FicheRepository,
	documents repository.DocumentRepository,
	outcomes repository.OutcomeRepository,
	store *filestore.FileStore,
	journal *wal.WAL,
	pipeline *Pipeline,
	publisher events.Publisher,
	maxArchiveSize int64,
	logger *slog.Logger,
) *IngestService {
	return &IngestService{
		uploads:        uploads,
		fiches:         fiches,
		documents:      documents,
		outcomes:       outcomes,
		store:          store,
		journal:        journal,
		pipeline:       pipeline,
		publisher:      publisher,
		publishTimeout: publishTimeout,
		maxArchiveSize: maxArchiveSize,
		logger:         logger.With(slog.String("component", "ingest_service")),
	}
}

// IngestFile сохраняет архив и создаёт загрузку в статусе pending.
//
// Поток:
//  1. Проверка метаданных, размера и формата ZIP
//  2. SHA-256 и поиск дубликата
//  3. WAL Start → запись архива → INSERT загрузки → WAL Commit
//
// ErrDuplicateUpload — архив с таким хэшем уже загружен.
func (s *IngestService) IngestFile(ctx context.Context, data []byte, meta IngestMetadata) (*model.Upload, error) {
	if err := s.validateIngest(data, &meta); err != nil {
		middleware.UploadsIngestedTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	hash := filestore.Checksum(data)
	existing, err := s.uploads.GetByHash(ctx, hash)
	if err == nil {
		middleware.UploadsIngestedTotal.WithLabelValues("duplicate").Inc()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateUpload, existing.ID)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("ошибка поиска загрузки по хэшу: %w", err)
	}

	archivePath := path.Join(uploadsDir, time.Now().UTC().Format("20060102"), hash+".zip")

	entry, err := s.journal.Start(wal.OpArchiveStore, hash, []string{archivePath})
	if err != nil {
		return nil, fmt.Errorf("ошибка записи журнала: %w", err)
	}

	written := false
	rollback := func() {
		if written {
			if delErr := s.store.DeleteFile(archivePath); delErr != nil {
				s.logger.Error("Ошибка удаления архива при откате",
					slog.String("path", archivePath),
					slog.String("error", delErr.Error()),
				)
			}
		}
		if rbErr := s.journal.Rollback(entry.TransactionID); rbErr != nil {
			s.logger.Error("Ошибка отката WAL",
				slog.String("tx_id", entry.TransactionID),
				slog.String("error", rbErr.Error()),
			)
		}
	}

	if _, err := s.store.WriteFile(archivePath, data); err != nil {
		rollback()
		if errors.Is(err, filestore.ErrExists) {
			return nil, fmt.Errorf("%w: архив %s уже лежит в хранилище", ErrConflict, archivePath)
		}
		return nil, fmt.Errorf("ошибка сохранения архива: %w", err)
	}
	written = true
	if err := s.journal.MarkWritten(entry.TransactionID, archivePath); err != nil {
		rollback()
		return nil, fmt.Errorf("ошибка записи журнала: %w", err)
	}

	u := &model.Upload{
		Name:     meta.Name,
		Type:     meta.Type,
		FileName: meta.FileName,
		Path:     archivePath,
		Hash:     hash,
		Size:     int64(len(data)),
		Status:   model.UploadPending,
		UserID:   meta.UserID,
	}
	if err := s.uploads.Create(ctx, u); err != nil {
		rollback()
		if errors.Is(err, repository.ErrDuplicateHash) {
			middleware.UploadsIngestedTotal.WithLabelValues("duplicate").Inc()
			return nil, fmt.Errorf("%w: %w", ErrDuplicateUpload, err)
		}
		if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrPathTaken) {
			return nil, fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return nil, fmt.Errorf("ошибка создания загрузки: %w", err)
	}

	if err := s.journal.Commit(entry.TransactionID); err != nil {
		s.logger.Error("Ошибка фиксации WAL",
			slog.String("tx_id", entry.TransactionID),
			slog.String("error", err.Error()),
		)
	}

	middleware.UploadsIngestedTotal.WithLabelValues("created").Inc()
	middleware.StoredBytesTotal.Add(float64(u.Size))
	s.logger.Info("Архив принят",
		slog.String("upload_id", u.ID.String()),
		slog.String("file_name", u.FileName),
		slog.String("hash", u.Hash),
		slog.Int64("size", u.Size),
	)
	s.publish(ctx, events.NewEvent(events.UploadIngested, u.ID, map[string]any{
		"name":    u.Name,
		"type":    string(u.Type),
		"hash":    u.Hash,
		"size":    u.Size,
		"user_id": u.UserID,
	}))
	return u, nil
}

func (s *IngestService) validateIngest(data []byte, meta *IngestMetadata) error {
	meta.FileName = strings.TrimSpace(meta.FileName)
	meta.Name = strings.TrimSpace(meta.Name)

	if meta.FileName == "" {
		return fmt.Errorf("%w: не указано имя файла", ErrValidation)
	}
	if meta.Name == "" {
		meta.Name = meta.FileName
	}
	if meta.Type == "" {
		meta.Type = model.UploadTypeFile
	}
	if !meta.Type.IsValid() {
		return fmt.Errorf("%w: недопустимый тип загрузки %q", ErrValidation, meta.Type)
	}
	if strings.TrimSpace(meta.UserID) == "" {
		return fmt.Errorf("%w: не указан владелец загрузки", ErrValidation)
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: пустой архив", ErrValidation)
	}
	if s.maxArchiveSize > 0 && int64(len(data)) > s.maxArchiveSize {
		return fmt.Errorf("%w: %d байт при максимуме %d", ErrTooLarge, len(data), s.maxArchiveSize)
	}
	if err := archive.Probe(data); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

// ProcessUpload обходит архив загрузки и фиксирует найденные продукты.
//
// Загрузка атомарно захватывается переходом в processing; параллельный
// запуск для той же загрузки получает ErrConflict. Фатальная ошибка
// обхода не возвращается как error: она отражается в отчёте и статусе failed.
func (s *IngestService) ProcessUpload(ctx context.Context, actor Actor, id uuid.UUID) (*model.RunReport, error) {
	u, err := s.getOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	processor := actor.Subject
	u, err = s.uploads.TransitionStatus(ctx, id,
		lifecycle.SourcesOf(model.UploadProcessing), model.UploadProcessing, &processor)
	if err != nil {
		return nil, mapRepoError(err)
	}
	s.publish(ctx, events.NewEvent(events.UploadProcessing, u.ID, map[string]any{
		"processor_id": processor,
	}))

	report := &model.RunReport{UploadID: u.ID, StartedAt: time.Now().UTC()}
	runErr := s.run(ctx, u, report)

	report.FinishedAt = time.Now().UTC()
	report.Status = model.UploadCompleted
	if runErr != nil {
		report.Status = model.UploadFailed
		report.Error = runErr.Error()
	}

	// Итоговый статус записывается даже при отменённом запросе
	finalCtx := context.WithoutCancel(ctx)
	if _, err := s.uploads.TransitionStatus(finalCtx, id,
		[]model.UploadStatus{model.UploadProcessing}, report.Status, nil); err != nil {
		return nil, fmt.Errorf("ошибка записи итогового статуса: %w", err)
	}

	middleware.RunsTotal.WithLabelValues(string(report.Status)).Inc()
	middleware.RunDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())

	attrs := []slog.Attr{
		slog.String("upload_id", u.ID.String()),
		slog.String("status", string(report.Status)),
		slog.Int("folders", report.Folders),
		slog.Int("committed", report.Committed),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
	}
	eventType := events.UploadCompleted
	if runErr != nil {
		eventType = events.UploadFailed
		attrs = append(attrs, slog.String("error", report.Error))
		s.logger.LogAttrs(ctx, slog.LevelError, "Обработка загрузки прервана", attrs...)
	} else {
		s.logger.LogAttrs(ctx, slog.LevelInfo, "Обработка загрузки завершена", attrs...)
	}

	data := map[string]any{
		"committed":    report.Committed,
		"skipped":      report.Skipped,
		"failed":       report.Failed,
		"not_products": report.NotProducts,
	}
	if report.Error != "" {
		data["error"] = report.Error
	}
	s.publish(ctx, events.NewEvent(eventType, u.ID, data))
	return report, nil
}

// RecoverStale переводит в failed загрузки, оставшиеся в processing после
// аварийной остановки. Вызывается при старте до приёма запросов.
// Возвращает число восстановленных загрузок.
func (s *IngestService) RecoverStale(ctx context.Context) (int, error) {
	stale, err := s.uploads.ListByStatus(ctx, model.UploadProcessing)
	if err != nil {
		return 0, fmt.Errorf("ошибка поиска зависших загрузок: %w", err)
	}

	recovered := 0
	for _, u := range stale {
		if err := lifecycle.Check(u.Status, model.UploadFailed); err != nil {
			return recovered, err
		}
		if _, err := s.uploads.TransitionStatus(ctx, u.ID,
			[]model.UploadStatus{model.UploadProcessing}, model.UploadFailed, nil); err != nil {
			if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return recovered, fmt.Errorf("ошибка восстановления загрузки %s: %w", u.ID, err)
		}
		recovered++

		middleware.RunsTotal.WithLabelValues(string(model.UploadFailed)).Inc()
		s.logger.Warn("Обработка загрузки прервана остановкой сервиса",
			slog.String("upload_id", u.ID.String()),
			slog.Time("updated_at", u.UpdatedAt),
		)
		s.publish(ctx, events.NewEvent(events.UploadFailed, u.ID, map[string]any{
			"error": errInterruptedRun,
		}))
	}
	return recovered, nil
}

// errInterruptedRun — причина failed для обработки, прерванной остановкой.
const errInterruptedRun = "обработка прервана остановкой сервиса"

// run читает сохранённый архив, сверяет хэш и запускает конвейер.
func (s *IngestService) run(ctx context.Context, u *model.Upload, report *model.RunReport) error {
	data, err := s.store.ReadFile(u.Path)
	if err != nil {
		return fmt.Errorf("%w: архив загрузки недоступен: %w", ErrFatal, err)
	}
	if sum := filestore.Checksum(data); sum != u.Hash {
		return fmt.Errorf("%w: хэш архива %s не совпадает с сохранённым %s", ErrFatal, sum, u.Hash)
	}
	return s.pipeline.Run(ctx, u.ID, data, report)
}

// GetUpload возвращает загрузку.
func (s *IngestService) GetUpload(ctx context.Context, actor Actor, id uuid.UUID) (*model.Upload, error) {
	return s.getOwned(ctx, actor, id)
}

// ListFiches возвращает карточки, созданные из загрузки, вместе с их документами.
func (s *IngestService) ListFiches(ctx context.Context, actor Actor, id uuid.UUID) ([]*model.Fiche, error) {
	if _, err := s.getOwned(ctx, actor, id); err != nil {
		return nil, err
	}
	fiches, err := s.fiches.ListByUpload(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения карточек: %w", err)
	}
	for _, f := range fiches {
		docs, err := s.documents.ListByFiche(ctx, f.ID)
		if err != nil {
			return nil, fmt.Errorf("ошибка получения документов карточки %s: %w", f.ID, err)
		}
		f.Documents = docs
	}
	return fiches, nil
}

// ListOutcomes возвращает журнал результатов по продуктам загрузки.
func (s *IngestService) ListOutcomes(ctx context.Context, actor Actor, id uuid.UUID) ([]*model.ProductOutcome, error) {
	if _, err := s.getOwned(ctx, actor, id); err != nil {
		return nil, err
	}
	outcomes, err := s.outcomes.ListByUpload(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения журнала результатов: %w", err)
	}
	return outcomes, nil
}

// DeleteUpload удаляет загрузку со всеми карточками, документами и файлами.
// Загрузку в обработке удалить нельзя (ErrConflict). Файлы удаляются после
// удаления записей; ошибка удаления файла только логируется.
func (s *IngestService) DeleteUpload(ctx context.Context, actor Actor, id uuid.UUID) error {
	u, err := s.getOwned(ctx, actor, id)
	if err != nil {
		return err
	}
	if u.Status == model.UploadProcessing {
		return fmt.Errorf("%w: загрузка обрабатывается", ErrConflict)
	}

	paths, err := s.fiches.StoredPathsByUpload(ctx, id)
	if err != nil {
		return fmt.Errorf("ошибка получения путей файлов: %w", err)
	}

	if err := s.uploads.Delete(ctx, id); err != nil {
		return mapRepoError(err)
	}

	removed := 0
	for _, p := range append(paths, u.Path) {
		if err := s.store.DeleteFile(p); err != nil {
			s.logger.Warn("Ошибка удаления файла загрузки",
				slog.String("upload_id", id.String()),
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}

	s.logger.Info("Загрузка удалена",
		slog.String("upload_id", id.String()),
		slog.Int("files", removed),
	)
	s.publish(ctx, events.NewEvent(events.UploadDeleted, id, map[string]any{"files": removed}))
	return nil
}

// getOwned возвращает загрузку, проверяя права actor на неё.
func (s *IngestService) getOwned(ctx context.Context, actor Actor, id uuid.UUID) (*model.Upload, error) {
	u, err := s.uploads.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if !actor.Privileged && u.UserID != actor.Subject {
		return nil, fmt.Errorf("%w: загрузка %s", ErrForbidden, id)
	}
	return u, nil
}

// publish отправляет событие независимо от отмены ctx, но не дольше
// publishTimeout. Ошибка публикации только логируется.
func (s *IngestService) publish(ctx context.Context, e *events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("Ошибка публикации события",
			slog.String("event", string(e.Type)),
			slog.String("upload_id", e.UploadID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func mapRepoError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	default:
		return err
	}
}
