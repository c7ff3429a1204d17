package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ahmed-826/distribution-platform/internal/domain/model"
)

// SourceRepository — справочник систем-источников.
type SourceRepository interface {
	// GetByName возвращает источник по имени.
	GetByName(ctx context.Context, name string) (*model.Source, error)
	// Create регистрирует источник. ErrConflict — имя занято.
	Create(ctx context.Context, name string) (*model.Source, error)
}

type sourceRepo struct {
	db DBTX
}

// NewSourceRepository создаёт репозиторий источников.
func NewSourceRepository(db DBTX) SourceRepository {
	return &sourceRepo{db: db}
}

func (r *sourceRepo) GetByName(ctx context.Context, name string) (*model.Source, error) {
	s := &model.Source{}
	err := r.db.QueryRow(ctx, `SELECT id, name FROM sources WHERE name = $1`, name).Scan(&s.ID, &s.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения источника: %w", err)
	}
	return s, nil
}

func (r *sourceRepo) Create(ctx context.Context, name string) (*model.Source, error) {
	s := &model.Source{Name: name}
	err := r.db.QueryRow(ctx, `INSERT INTO sources (name) VALUES ($1) RETURNING id`, name).Scan(&s.ID)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("ошибка создания источника: %w", err)
	}
	return s, nil
}
