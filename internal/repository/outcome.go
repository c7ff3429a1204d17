package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ahmed-826/distribution-platform/internal/domain/model"
)

// OutcomeRepository — журнал исходов обработки продуктов.
type OutcomeRepository interface {
	// Record добавляет запись; ID и CreatedAt заполняет БД.
	Record(ctx context.Context, o *model.ProductOutcome) error
	// ListByUpload возвращает журнал загрузки в порядке записи.
	ListByUpload(ctx context.Context, uploadID uuid.UUID) ([]*model.ProductOutcome, error)
}

type outcomeRepo struct {
	db DBTX
}

// NewOutcomeRepository создаёт репозиторий журнала исходов.
func NewOutcomeRepository(db DBTX) OutcomeRepository {
	return &outcomeRepo{db: db}
}

func (r *outcomeRepo) Record(ctx context.Context, o *model.ProductOutcome) error {
	query := `
		INSERT INTO product_outcomes (upload_id, archive, folder, result, code, message, fiche_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		o.UploadID, o.Archive, o.Folder, string(o.Result), o.Code, o.Message, o.FicheID,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи исхода продукта: %w", err)
	}
	return nil
}

func (r *outcomeRepo) ListByUpload(ctx context.Context, uploadID uuid.UUID) ([]*model.ProductOutcome, error) {
	query := `
		SELECT id, upload_id, archive, folder, result, code, message, fiche_id, created_at
		FROM product_outcomes
		WHERE upload_id = $1
		ORDER BY id`

	rows, err := r.db.Query(ctx, query, uploadID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения журнала исходов: %w", err)
	}
	defer rows.Close()

	var result []*model.ProductOutcome
	for rows.Next() {
		o := &model.ProductOutcome{}
		var res string
		if err := rows.Scan(
			&o.ID, &o.UploadID, &o.Archive, &o.Folder, &res, &o.Code, &o.Message, &o.FicheID, &o.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования исхода: %w", err)
		}
		o.Result = model.OutcomeResult(res)
		result = append(result, o)
	}
	return result, rows.Err()
}
