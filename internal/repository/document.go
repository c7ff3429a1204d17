package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ahmed-826/distribution-platform/internal/domain/model"
)

// DocumentRepository — операции над таблицей documents.
type DocumentRepository interface {
	// Create создаёт документ; ID и CreatedAt заполняет БД.
	// ErrPathTaken — путь или путь оригинала занят.
	Create(ctx context.Context, d *model.Document) error
	// ListByFiche возвращает документы карточки в порядке создания.
	ListByFiche(ctx context.Context, ficheID uuid.UUID) ([]*model.Document, error)
}

type documentRepo struct {
	db DBTX
}

// NewDocumentRepository создаёт репозиторий документов.
func NewDocumentRepository(db DBTX) DocumentRepository {
	return &documentRepo{db: db}
}

func (r *documentRepo) Create(ctx context.Context, d *model.Document) error {
	var meta []byte
	if d.Meta != nil {
		var err error
		if meta, err = json.Marshal(d.Meta); err != nil {
			return fmt.Errorf("ошибка сериализации метаданных: %w", err)
		}
	}

	query := `
		INSERT INTO documents (fiche_id, type, content, meta, dump_name, dump_path,
			path, original_path, hash, message_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		d.FicheID, string(d.Type), d.Content, meta, d.DumpName, d.DumpPath,
		d.Path, d.OriginalPath, d.Hash, d.MessageID,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("ошибка создания документа: %w", err)
	}
	return nil
}

func (r *documentRepo) ListByFiche(ctx context.Context, ficheID uuid.UUID) ([]*model.Document, error) {
	query := `
		SELECT id, fiche_id, type, content, meta, dump_name, dump_path,
			path, original_path, hash, message_id, created_at
		FROM documents
		WHERE fiche_id = $1
		ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, ficheID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения документов: %w", err)
	}
	defer rows.Close()

	var result []*model.Document
	for rows.Next() {
		d := &model.Document{}
		var typ string
		var meta []byte
		if err := rows.Scan(
			&d.ID, &d.FicheID, &typ, &d.Content, &meta, &d.DumpName, &d.DumpPath,
			&d.Path, &d.OriginalPath, &d.Hash, &d.MessageID, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования документа: %w", err)
		}
		d.Type = model.DocumentType(typ)
		if meta != nil {
			d.Meta = &model.MessageMeta{}
			if err := json.Unmarshal(meta, d.Meta); err != nil {
				return nil, fmt.Errorf("ошибка разбора метаданных документа %s: %w", d.ID, err)
			}
		}
		result = append(result, d)
	}
	return result, rows.Err()
}
