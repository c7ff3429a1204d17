package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ahmed-826/distribution-platform/internal/api/middleware"
	"github.com/ahmed-826/distribution-platform/internal/builder"
	"github.com/ahmed-826/distribution-platform/internal/domain/model"
	"github.com/ahmed-826/distribution-platform/internal/repository"
	"github.com/ahmed-826/distribution-platform/internal/storage/filestore"
	"github.com/ahmed-826/distribution-platform/internal/storage/wal"
)

// Committer фиксирует план продукта: карточку, документы и их файлы.
// Записи БД и файлы либо появляются вместе, либо не появляются вовсе.
type Committer struct {
	tx      *repository.TxRunner
	fiches  repository.FicheRepository
	uploads repository.UploadRepository
	store   *filestore.FileStore
	journal *wal.WAL
	logger  *slog.Logger
}

// NewCommitter создаёт Committer. fiches и uploads работают вне транзакции
// и используются при восстановлении по журналу.
func NewCommitter(
	tx *repository.TxRunner,
	fiches repository.FicheRepository,
	uploads repository.UploadRepository,
	store *filestore.FileStore,
	journal *wal.WAL,
	logger *slog.Logger,
) *Committer {
	return &Committer{
		tx:      tx,
		fiches:  fiches,
		uploads: uploads,
		store:   store,
		journal: journal,
		logger:  logger.With(slog.String("component", "committer")),
	}
}

// Commit сохраняет план в одной транзакции.
//
// Поток:
//  1. WAL Start со списком путей плана
//  2. INSERT карточки, затем документов (письмо раньше вложения)
//  3. запись файлов без перезаписи, до фиксации транзакции;
//     каждый созданный файл отмечается в журнале (MarkWritten)
//  4. COMMIT
//  5. WAL Commit
//
// При ошибке записанные файлы удаляются, запись журнала откатывается.
// ErrDuplicateContent — карточка с таким хэшем уже есть,
// ErrPathCollision — путь занят файлом или другой записью.
func (c *Committer) Commit(ctx context.Context, plan *builder.Plan) (*model.Fiche, error) {
	entry, err := c.journal.Start(wal.OpProductCommit, plan.Fiche.Hash, plan.Paths())
	if err != nil {
		return nil, fmt.Errorf("ошибка записи журнала: %w", err)
	}

	var written []string
	rollback := func() {
		for _, p := range written {
			if delErr := c.store.DeleteFile(p); delErr != nil {
				c.logger.Error("Ошибка удаления файла при откате",
					slog.String("path", p),
					slog.String("error", delErr.Error()),
				)
			}
		}
		if rbErr := c.journal.Rollback(entry.TransactionID); rbErr != nil {
			c.logger.Error("Ошибка отката WAL",
				slog.String("tx_id", entry.TransactionID),
				slog.String("error", rbErr.Error()),
			)
		}
	}

	fiche := plan.Fiche
	err = c.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		fiches := repository.NewFicheRepository(tx)
		docs := repository.NewDocumentRepository(tx)

		if err := fiches.Create(ctx, &fiche); err != nil {
			return err
		}

		ids := make([]uuid.UUID, len(plan.Documents))
		for i, pd := range plan.Documents {
			doc := pd.Document
			doc.FicheID = fiche.ID
			if pd.MessageRef != builder.NoMessage {
				msgID := ids[pd.MessageRef]
				doc.MessageID = &msgID
			}
			if err := docs.Create(ctx, &doc); err != nil {
				return err
			}
			ids[i] = doc.ID
		}

		for _, f := range plan.Files {
			if _, err := c.store.WriteFile(f.Path, f.Data); err != nil {
				return err
			}
			written = append(written, f.Path)
			if err := c.journal.MarkWritten(entry.TransactionID, f.Path); err != nil {
				return fmt.Errorf("ошибка записи журнала: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		rollback()
		return nil, classifyCommitError(err)
	}

	if cErr := c.journal.Commit(entry.TransactionID); cErr != nil {
		// Данные уже зафиксированы; при восстановлении запись будет подтверждена по хэшу
		c.logger.Error("Ошибка фиксации WAL",
			slog.String("tx_id", entry.TransactionID),
			slog.String("error", cErr.Error()),
		)
	}

	middleware.StoredBytesTotal.Add(float64(plan.Size()))
	return &fiche, nil
}

func classifyCommitError(err error) error {
	switch {
	case errors.Is(err, repository.ErrDuplicateHash):
		return fmt.Errorf("%w: %w", ErrDuplicateContent, err)
	case errors.Is(err, repository.ErrPathTaken),
		errors.Is(err, filestore.ErrExists),
		errors.Is(err, filestore.ErrUnsafePath):
		return fmt.Errorf("%w: %w", ErrPathCollision, err)
	default:
		return fmt.Errorf("ошибка фиксации продукта: %w", err)
	}
}

// Recover сверяет незавершённые записи журнала с БД.
// Удаляются только файлы, созданные самой операцией (Entry.Written),
// и только если на путь не ссылается ни одна запись каталога.
// Журнал подтверждается, если запись БД по ключу есть, иначе откатывается.
// Возвращает число обработанных записей.
func (c *Committer) Recover(ctx context.Context) (int, error) {
	pending, err := c.journal.RecoverPending()
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения журнала: %w", err)
	}

	for _, entry := range pending {
		removed, err := c.removeOrphans(ctx, entry)
		if err != nil {
			return 0, err
		}

		exists, err := c.recordExists(ctx, entry)
		if err != nil {
			return 0, err
		}

		if exists {
			if err := c.journal.Commit(entry.TransactionID); err != nil {
				return 0, err
			}
			c.logger.Info("Запись журнала подтверждена",
				slog.String("tx_id", entry.TransactionID),
				slog.String("operation", string(entry.Operation)),
				slog.Int("removed", removed),
			)
			continue
		}

		if err := c.journal.Rollback(entry.TransactionID); err != nil {
			return 0, err
		}
		c.logger.Warn("Незавершённая операция откачена",
			slog.String("tx_id", entry.TransactionID),
			slog.String("operation", string(entry.Operation)),
			slog.Int("removed", removed),
		)
	}

	if _, err := c.journal.CleanCompleted(); err != nil {
		c.logger.Warn("Ошибка очистки журнала", slog.String("error", err.Error()))
	}
	return len(pending), nil
}

// removeOrphans удаляет файлы записи, на которые не ссылается каталог.
func (c *Committer) removeOrphans(ctx context.Context, entry *wal.Entry) (int, error) {
	removed := 0
	for _, p := range entry.Written {
		claimed, err := c.fiches.PathClaimed(ctx, p)
		if err != nil {
			return 0, err
		}
		if claimed {
			continue
		}
		if err := c.store.DeleteFile(p); err != nil {
			return 0, err
		}
		removed++
	}
	return removed, nil
}

func (c *Committer) recordExists(ctx context.Context, entry *wal.Entry) (bool, error) {
	switch entry.Operation {
	case wal.OpProductCommit:
		exists, err := c.fiches.ExistsByHash(ctx, entry.Key)
		if err != nil {
			return false, fmt.Errorf("ошибка проверки карточки %s: %w", entry.Key, err)
		}
		return exists, nil
	case wal.OpArchiveStore:
		_, err := c.uploads.GetByHash(ctx, entry.Key)
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("ошибка проверки загрузки %s: %w", entry.Key, err)
		}
		return true, nil
	default:
		return false, fmt.Errorf("неизвестная операция журнала: %s", entry.Operation)
	}
}
