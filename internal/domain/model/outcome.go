package model

import (
	"time"

	"github.com/google/uuid"
)

// OutcomeResult — итог обработки одной папки-продукта.
type OutcomeResult string

const (
	OutcomeCommitted OutcomeResult = "committed"
	OutcomeSkipped   OutcomeResult = "skipped"
	OutcomeFailed    OutcomeResult = "failed"
)

// ProductOutcome — запись журнала результатов по продукту.
// Хранится в таблице product_outcomes, одна строка на папку на попытку.
type ProductOutcome struct {
	ID       int64
	UploadID uuid.UUID
	// Archive — метка архива (пусто для верхнего уровня, иначе цепочка вложенных архивов)
	Archive string
	// Folder — путь папки внутри архива
	Folder string
	Result OutcomeResult
	// Code — код причины (пусто для committed)
	Code    string
	Message string
	// FicheID — созданная карточка (только для committed)
	FicheID   *uuid.UUID
	CreatedAt time.Time
}

// RunReport — итог одного запуска обработки загрузки.
type RunReport struct {
	UploadID    uuid.UUID
	Status      UploadStatus
	Folders     int
	NotProducts int
	Committed   int
	Skipped     int
	Failed      int
	Outcomes    []ProductOutcome
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Add учитывает результат продукта в отчёте.
func (r *RunReport) Add(o ProductOutcome) {
	switch o.Result {
	case OutcomeCommitted:
		r.Committed++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
	r.Outcomes = append(r.Outcomes, o)
}
