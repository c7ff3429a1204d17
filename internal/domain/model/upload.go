package model

import (
	"time"

	"github.com/google/uuid"
)

// UploadType — способ поступления архива.
type UploadType string

const (
	UploadTypeFile UploadType = "file"
	UploadTypeAPI  UploadType = "api"
	UploadTypeForm UploadType = "form"
)

// IsValid проверяет, что тип загрузки входит в допустимый набор.
func (t UploadType) IsValid() bool {
	switch t {
	case UploadTypeFile, UploadTypeAPI, UploadTypeForm:
		return true
	}
	return false
}

// UploadStatus — статус жизненного цикла загрузки.
type UploadStatus string

const (
	// UploadPending — архив сохранён, обработка не запускалась
	UploadPending UploadStatus = "pending"
	// UploadProcessing — идёт обход архива
	UploadProcessing UploadStatus = "processing"
	// UploadCompleted — обход архива завершён (даже если все продукты отклонены)
	UploadCompleted UploadStatus = "completed"
	// UploadFailed — обход прерван фатальной ошибкой
	UploadFailed UploadStatus = "failed"
)

// Upload — загруженный пользователем ZIP-архив.
// Хранится в таблице uploads.
type Upload struct {
	// ID — UUID загрузки
	ID uuid.UUID
	// Name — отображаемое имя
	Name string
	// Date — дата поступления
	Date time.Time
	// Type — способ поступления (file, api, form)
	Type UploadType
	// FileName — исходное имя файла архива
	FileName string
	// Path — путь архива относительно корня хранилища
	Path string
	// Hash — SHA-256 содержимого архива (уникален)
	Hash string
	// Size — размер архива в байтах
	Size int64
	// Status — статус жизненного цикла
	Status UploadStatus
	// UserID — владелец загрузки (sub из JWT)
	UserID string
	// ProcessorID — кто запустил последнюю обработку (опционально)
	ProcessorID *string
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}
