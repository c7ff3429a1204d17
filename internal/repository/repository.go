// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт состояния или уникальности.
	ErrConflict = errors.New("конфликт — запись уже существует или изменена")
	// ErrDuplicateHash — запись с таким хэшем содержимого уже есть.
	ErrDuplicateHash = errors.New("запись с таким хэшем уже существует")
	// ErrPathTaken — путь хранения уже занят другой записью.
	ErrPathTaken = errors.New("путь хранения уже занят")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn транзакция откатывается, при успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// uniqueViolation возвращает имя нарушенного ограничения уникальности.
func uniqueViolation(err error) (constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// mapUniqueViolation переводит нарушение уникальности в ошибку слоя:
// ограничения *_hash_unique → ErrDuplicateHash, *path_unique → ErrPathTaken,
// прочие → ErrConflict. Возвращает nil, если err не нарушение уникальности.
func mapUniqueViolation(err error) error {
	constraint, ok := uniqueViolation(err)
	if !ok {
		return nil
	}
	switch {
	case strings.HasSuffix(constraint, "hash_unique"):
		return fmt.Errorf("%w (%s)", ErrDuplicateHash, constraint)
	case strings.HasSuffix(constraint, "path_unique"):
		return fmt.Errorf("%w (%s)", ErrPathTaken, constraint)
	default:
		return fmt.Errorf("%w (%s)", ErrConflict, constraint)
	}
}
