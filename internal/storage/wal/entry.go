// Пакет wal — файловый журнал файловых побочных эффектов.
//
// Перед записью файлов продукта (или архива загрузки) в журнал заносится
// список путей, которые будут созданы. Если процесс упадёт между записью
// файлов и фиксацией в БД, при старте по журналу можно найти и удалить
// файлы-сироты. Каждая запись — отдельный файл {tx_id}.wal.json.
package wal

import (
	"time"
)

// OperationType — вид операции, побочные эффекты которой журналируются.
type OperationType string

const (
	// OpProductCommit — фиксация карточки с документами и их файлами
	OpProductCommit OperationType = "product_commit"
	// OpArchiveStore — сохранение архива новой загрузки
	OpArchiveStore OperationType = "archive_store"
)

// TransactionStatus — статус записи журнала.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusCommitted  TransactionStatus = "committed"
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Entry — запись журнала.
type Entry struct {
	TransactionID string            `json:"transaction_id"`
	Operation     OperationType     `json:"operation"`
	Status        TransactionStatus `json:"status"`

	// Key — SHA-256, по которому при восстановлении проверяется наличие
	// записи в БД (хэш карточки или хэш архива загрузки)
	Key string `json:"key"`

	// Paths — относительные пути файлов, которые создаёт операция
	Paths []string `json:"paths"`

	// Written — пути из Paths, файлы которых уже созданы этой операцией.
	// При восстановлении удаляются только они.
	Written []string `json:"written,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func walFileName(txID string) string {
	return txID + ".wal.json"
}
