package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ahmed-826/distribution-platform/internal/domain/model"
)

// UploadRepository — операции над таблицей uploads.
type UploadRepository interface {
	// Create создаёт загрузку; ID, Date, CreatedAt и UpdatedAt заполняет БД.
	Create(ctx context.Context, u *model.Upload) error
	// GetByID возвращает загрузку по UUID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Upload, error)
	// GetByHash возвращает загрузку по хэшу архива.
	GetByHash(ctx context.Context, hash string) (*model.Upload, error)
	// ListByStatus возвращает загрузки в статусе status, старые первыми.
	ListByStatus(ctx context.Context, status model.UploadStatus) ([]*model.Upload, error)
	// TransitionStatus атомарно переводит загрузку в статус to, если её
	// текущий статус входит в from. ErrConflict — статус не подходит.
	TransitionStatus(ctx context.Context, id uuid.UUID, from []model.UploadStatus, to model.UploadStatus, processorID *string) (*model.Upload, error)
	// Delete удаляет загрузку; карточки, документы и журнал удаляются каскадно.
	// Загрузку в статусе processing удалить нельзя (ErrConflict).
	Delete(ctx context.Context, id uuid.UUID) error
}

type uploadRepo struct {
	db DBTX
}

// NewUploadRepository создаёт репозиторий загрузок.
func NewUploadRepository(db DBTX) UploadRepository {
	return &uploadRepo{db: db}
}

const uploadColumns = `id, name, date, type, file_name, path, hash, size, status,
	user_id, processor_id, created_at, updated_at`

func scanUpload(row pgx.Row) (*model.Upload, error) {
	u := &model.Upload{}
	var typ, status string
	err := row.Scan(
		&u.ID, &u.Name, &u.Date, &typ, &u.FileName, &u.Path, &u.Hash, &u.Size, &status,
		&u.UserID, &u.ProcessorID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Type = model.UploadType(typ)
	u.Status = model.UploadStatus(status)
	return u, nil
}

func (r *uploadRepo) Create(ctx context.Context, u *model.Upload) error {
	query := `
		INSERT INTO uploads (name, type, file_name, path, hash, size, status, user_id, processor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, date, created_at, updated_at`

	if u.Status == "" {
		u.Status = model.UploadPending
	}
	err := r.db.QueryRow(ctx, query,
		u.Name, string(u.Type), u.FileName, u.Path, u.Hash, u.Size, string(u.Status),
		u.UserID, u.ProcessorID,
	).Scan(&u.ID, &u.Date, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("ошибка создания загрузки: %w", err)
	}
	return nil
}

func (r *uploadRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Upload, error) {
	u, err := scanUpload(r.db.QueryRow(ctx,
		`SELECT `+uploadColumns+` FROM uploads WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения загрузки: %w", err)
	}
	return u, nil
}

func (r *uploadRepo) GetByHash(ctx context.Context, hash string) (*model.Upload, error) {
	u, err := scanUpload(r.db.QueryRow(ctx,
		`SELECT `+uploadColumns+` FROM uploads WHERE hash = $1`, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска загрузки по хэшу: %w", err)
	}
	return u, nil
}

func (r *uploadRepo) ListByStatus(ctx context.Context, status model.UploadStatus) ([]*model.Upload, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+uploadColumns+` FROM uploads WHERE status = $1 ORDER BY updated_at, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения загрузок по статусу: %w", err)
	}
	defer rows.Close()

	var result []*model.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования загрузки: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (r *uploadRepo) TransitionStatus(
	ctx context.Context,
	id uuid.UUID,
	from []model.UploadStatus,
	to model.UploadStatus,
	processorID *string,
) (*model.Upload, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	query := `
		UPDATE uploads
		SET status = $3,
			processor_id = COALESCE($4, processor_id),
			updated_at = now()
		WHERE id = $1 AND status = ANY($2)
		RETURNING ` + uploadColumns

	u, err := scanUpload(r.db.QueryRow(ctx, query, id, allowed, string(to), processorID))
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ошибка смены статуса загрузки: %w", err)
	}

	// Строка не обновлена: либо загрузки нет, либо статус не подходит
	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: загрузка в статусе %s, переход в %s недопустим",
		ErrConflict, current.Status, to)
}

func (r *uploadRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM uploads WHERE id = $1 AND status <> $2`, id, string(model.UploadProcessing))
	if err != nil {
		return fmt.Errorf("ошибка удаления загрузки: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: загрузка обрабатывается", ErrConflict)
}
