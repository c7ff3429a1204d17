package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ahmed-826/distribution-platform/internal/domain/model"
)

// FicheRepository — операции над таблицей fiches.
type FicheRepository interface {
	// Create создаёт карточку; ID и CreatedAt заполняет БД.
	// ErrDuplicateHash — карточка с таким хэшем есть, ErrPathTaken — путь занят.
	Create(ctx context.Context, f *model.Fiche) error
	// ExistsByHash проверяет, есть ли карточка с таким хэшем основного документа.
	ExistsByHash(ctx context.Context, hash string) (bool, error)
	// ListByUpload возвращает карточки загрузки в порядке создания.
	ListByUpload(ctx context.Context, uploadID uuid.UUID) ([]*model.Fiche, error)
	// StoredPathsByUpload возвращает пути всех файлов карточек загрузки:
	// основные документы, документы и оригиналы.
	StoredPathsByUpload(ctx context.Context, uploadID uuid.UUID) ([]string, error)
	// PathClaimed проверяет, ссылается ли на путь хоть одна запись каталога:
	// карточка, документ, оригинал или архив загрузки.
	PathClaimed(ctx context.Context, path string) (bool, error)
}

type ficheRepo struct {
	db DBTX
}

// NewFicheRepository создаёт репозиторий карточек.
func NewFicheRepository(db DBTX) FicheRepository {
	return &ficheRepo{db: db}
}

func (r *ficheRepo) Create(ctx context.Context, f *model.Fiche) error {
	query := `
		INSERT INTO fiches (ref, source_id, date, object, summary, path, hash, dump, upload_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		f.Ref, f.SourceID, f.Date, f.Object, f.Summary, f.Path, f.Hash, f.Dump, f.UploadID,
	).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("ошибка создания карточки: %w", err)
	}
	return nil
}

func (r *ficheRepo) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM fiches WHERE hash = $1)`, hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки хэша карточки: %w", err)
	}
	return exists, nil
}

func (r *ficheRepo) ListByUpload(ctx context.Context, uploadID uuid.UUID) ([]*model.Fiche, error) {
	query := `
		SELECT id, ref, source_id, date, object, summary, path, hash, dump, upload_id, created_at
		FROM fiches
		WHERE upload_id = $1
		ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, uploadID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения карточек: %w", err)
	}
	defer rows.Close()

	var result []*model.Fiche
	for rows.Next() {
		f := &model.Fiche{}
		if err := rows.Scan(
			&f.ID, &f.Ref, &f.SourceID, &f.Date, &f.Object, &f.Summary,
			&f.Path, &f.Hash, &f.Dump, &f.UploadID, &f.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования карточки: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (r *ficheRepo) StoredPathsByUpload(ctx context.Context, uploadID uuid.UUID) ([]string, error) {
	query := `
		SELECT f.path FROM fiches f WHERE f.upload_id = $1
		UNION
		SELECT d.path FROM documents d JOIN fiches f ON f.id = d.fiche_id WHERE f.upload_id = $1
		UNION
		SELECT d.original_path FROM documents d JOIN fiches f ON f.id = d.fiche_id
		WHERE f.upload_id = $1 AND d.original_path IS NOT NULL
		ORDER BY 1`

	rows, err := r.db.Query(ctx, query, uploadID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения путей файлов загрузки: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("ошибка сканирования пути: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *ficheRepo) PathClaimed(ctx context.Context, path string) (bool, error) {
	query := `
		SELECT EXISTS (SELECT 1 FROM fiches WHERE path = $1)
			OR EXISTS (SELECT 1 FROM documents WHERE path = $1 OR original_path = $1)
			OR EXISTS (SELECT 1 FROM uploads WHERE path = $1)`

	var claimed bool
	if err := r.db.QueryRow(ctx, query, path).Scan(&claimed); err != nil {
		return false, fmt.Errorf("ошибка проверки пути %s: %w", path, err)
	}
	return claimed, nil
}
