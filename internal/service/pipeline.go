package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ahmed-826/distribution-platform/internal/api/middleware"
	"github.com/ahmed-826/distribution-platform/internal/archive"
	"github.com/ahmed-826/distribution-platform/internal/builder"
	"github.com/ahmed-826/distribution-platform/internal/domain/model"
	"github.com/ahmed-826/distribution-platform/internal/manifest"
)

// Коды причин, которые назначает сам обход (помимо кодов проверки манифеста).
const (
	CodeInvalidNestedArchive = "INVALID_NESTED_ARCHIVE"
	CodeEntryTooLarge        = "ENTRY_TOO_LARGE"
	CodeUnreadableEntry      = "UNREADABLE_ENTRY"
	CodeLookupFailed         = "LOOKUP_FAILED"
	CodePathCollision        = "PATH_COLLISION"
	CodeCommitFailed         = "COMMIT_FAILED"

	// CodeDuplicatePlanPath — два файла одного продукта претендуют на один путь
	CodeDuplicatePlanPath = "DUPLICATE_PLAN_PATH"
)

// ProductCommitter фиксирует план продукта.
type ProductCommitter interface {
	Commit(ctx context.Context, plan *builder.Plan) (*model.Fiche, error)
}

// OutcomeRecorder сохраняет запись журнала результатов по продукту.
type OutcomeRecorder interface {
	Record(ctx context.Context, o *model.ProductOutcome) error
}

// Pipeline обходит архив загрузки и проводит каждую папку через
// извлечение, проверку, построение записей и фиксацию. Продукты
// обрабатываются последовательно; ошибка одного продукта не влияет
// на остальные.
type Pipeline struct {
	validator *manifest.Validator
	committer ProductCommitter
	outcomes  OutcomeRecorder
	opts      archive.Options
	logger    *slog.Logger
}

// NewPipeline создаёт конвейер обработки.
func NewPipeline(
	validator *manifest.Validator,
	committer ProductCommitter,
	outcomes OutcomeRecorder,
	opts archive.Options,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		validator: validator,
		committer: committer,
		outcomes:  outcomes,
		opts:      opts,
		logger:    logger.With(slog.String("component", "pipeline")),
	}
}

// Run обходит архив data и заполняет report.
// Возвращает ошибку с ErrFatal, если обработку нужно прервать целиком:
// архив верхнего уровня не читается, коллизия путей хранения, отмена
// контекста. Уже зафиксированные продукты при этом сохраняются.
func (p *Pipeline) Run(ctx context.Context, uploadID uuid.UUID, data []byte, report *model.RunReport) error {
	walker, err := archive.NewWalker(data, p.opts, p.logger)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}

	for {
		folder, err := walker.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		var nested *archive.NestedArchiveError
		if errors.As(err, &nested) {
			p.record(ctx, report, model.ProductOutcome{
				UploadID: uploadID,
				Archive:  nested.Archive,
				Result:   model.OutcomeFailed,
				Code:     CodeInvalidNestedArchive,
				Message:  nested.Error(),
			})
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: обход прерван: %w", ErrFatal, err)
		}

		report.Folders++
		if err := p.processFolder(ctx, uploadID, folder, report); err != nil {
			return err
		}
	}
}

// processFolder обрабатывает одну папку. Ошибка возвращается только фатальная.
func (p *Pipeline) processFolder(ctx context.Context, uploadID uuid.UUID, folder *archive.Folder, report *model.RunReport) error {
	outcome := model.ProductOutcome{
		UploadID: uploadID,
		Archive:  folder.Archive,
		Folder:   folder.Path,
	}
	p.logger.Debug("Обработка папки", slog.String("folder", folder.Label()))

	product, err := archive.Extract(folder, p.opts.MaxEntrySize)
	if errors.Is(err, archive.ErrNotProduct) {
		report.NotProducts++
		return nil
	}
	if err != nil {
		outcome.Result = model.OutcomeFailed
		outcome.Code = CodeUnreadableEntry
		if errors.Is(err, archive.ErrEntryTooLarge) {
			outcome.Code = CodeEntryTooLarge
		}
		outcome.Message = err.Error()
		p.record(ctx, report, outcome)
		return nil
	}

	validated, err := p.validator.Validate(ctx, product)
	if err != nil {
		var rej *manifest.Rejection
		if errors.As(err, &rej) {
			outcome.Result = model.OutcomeSkipped
			outcome.Code = string(rej.Code)
			outcome.Message = rej.Error()
		} else {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("%w: обход прерван: %w", ErrFatal, ctxErr)
			}
			outcome.Result = model.OutcomeFailed
			outcome.Code = CodeLookupFailed
			outcome.Message = err.Error()
		}
		p.record(ctx, report, outcome)
		return nil
	}

	// Совпадение путей внутри плана — ошибка манифеста, а не хранилища
	plan, err := builder.Build(validated, uploadID)
	if err != nil {
		outcome.Result = model.OutcomeSkipped
		outcome.Code = CodeDuplicatePlanPath
		outcome.Message = err.Error()
		p.record(ctx, report, outcome)
		return nil
	}

	fiche, err := p.committer.Commit(ctx, plan)
	switch {
	case err == nil:
		outcome.Result = model.OutcomeCommitted
		outcome.FicheID = &fiche.ID
		p.record(ctx, report, outcome)
		return nil
	case errors.Is(err, ErrDuplicateContent):
		// Гонка с параллельной фиксацией того же документа
		outcome.Result = model.OutcomeSkipped
		outcome.Code = string(manifest.ReasonDuplicateContent)
		outcome.Message = err.Error()
		p.record(ctx, report, outcome)
		return nil
	case errors.Is(err, ErrPathCollision):
		outcome.Result = model.OutcomeFailed
		outcome.Code = CodePathCollision
		outcome.Message = err.Error()
		p.record(ctx, report, outcome)
		return fmt.Errorf("%w: %w", ErrFatal, err)
	default:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: обход прерван: %w", ErrFatal, ctxErr)
		}
		outcome.Result = model.OutcomeFailed
		outcome.Code = CodeCommitFailed
		outcome.Message = err.Error()
		p.record(ctx, report, outcome)
		return nil
	}
}

// record учитывает результат в отчёте, метриках и журнале результатов.
// Ошибка записи журнала не прерывает обработку.
func (p *Pipeline) record(ctx context.Context, report *model.RunReport, o model.ProductOutcome) {
	report.Add(o)
	middleware.ProductsTotal.WithLabelValues(string(o.Result)).Inc()

	attrs := []slog.Attr{
		slog.String("upload_id", o.UploadID.String()),
		slog.String("archive", o.Archive),
		slog.String("folder", o.Folder),
		slog.String("result", string(o.Result)),
	}
	if o.Result == model.OutcomeCommitted {
		attrs = append(attrs, slog.String("fiche_id", o.FicheID.String()))
		p.logger.LogAttrs(ctx, slog.LevelInfo, "Продукт зафиксирован", attrs...)
	} else {
		attrs = append(attrs, slog.String("code", o.Code), slog.String("reason", o.Message))
		p.logger.LogAttrs(ctx, slog.LevelWarn, "Продукт не зафиксирован", attrs...)
	}

	if err := p.outcomes.Record(context.WithoutCancel(ctx), &o); err != nil {
		p.logger.Error("Ошибка записи журнала результатов",
			slog.String("upload_id", o.UploadID.String()),
			slog.String("folder", o.Folder),
			slog.String("error", err.Error()),
		)
	}
}
