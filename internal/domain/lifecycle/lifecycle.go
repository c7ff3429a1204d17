// Пакет lifecycle — конечный автомат статусов загрузки.
//
// Жизненный цикл:
//   - pending → processing → completed | failed
//   - completed | failed → processing — повторная обработка того же архива
//
// Текущий статус хранится в БД; пакет только описывает матрицу переходов,
// а атомарность перехода обеспечивает условный UPDATE в репозитории.
package lifecycle

import (
	"fmt"

	"github.com/ahmed-826/distribution-platform/internal/domain/model"
)

// validTransitions — матрица допустимых переходов.
// Ключ — текущий статус, значение — набор допустимых целевых статусов.
var validTransitions = map[model.UploadStatus]map[model.UploadStatus]bool{
	model.UploadPending:    {model.UploadProcessing: true},
	model.UploadProcessing: {model.UploadCompleted: true, model.UploadFailed: true},
	model.UploadCompleted:  {model.UploadProcessing: true},
	model.UploadFailed:     {model.UploadProcessing: true},
}

// TransitionError — ошибка недопустимого перехода.
type TransitionError struct {
	From model.UploadStatus
	To   model.UploadStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("недопустимый переход статуса загрузки: %s → %s", e.From, e.To)
}

func canTransition(from, to model.UploadStatus) bool {
	return validTransitions[from][to]
}

// Check возвращает *TransitionError, если переход недопустим.
func Check(from, to model.UploadStatus) error {
	if !canTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// SourcesOf возвращает статусы, из которых допустим переход в target.
// Порядок детерминирован (pending, processing, completed, failed).
func SourcesOf(target model.UploadStatus) []model.UploadStatus {
	order := []model.UploadStatus{
		model.UploadPending, model.UploadProcessing, model.UploadCompleted, model.UploadFailed,
	}
	var result []model.UploadStatus
	for _, s := range order {
		if canTransition(s, target) {
			result = append(result, s)
		}
	}
	return result
}

