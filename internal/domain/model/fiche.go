package model

import (
	"time"

	"github.com/google/uuid"
)

// Fiche — карточка дела, построенная из одного продукта архива.
// Хранится в таблице fiches.
type Fiche struct {
	// ID — UUID карточки (генерируется БД)
	ID uuid.UUID
	// Ref — человекочитаемый код карточки
	Ref string
	// SourceID — ссылка на систему-источник
	SourceID uuid.UUID
	// Date — дата генерации манифеста
	Date time.Time
	// Object — тема
	Object string
	// Summary — краткое содержание
	Summary string
	// Path — путь основного документа относительно корня хранилища
	Path string
	// Hash — SHA-256 основного документа (уникален)
	Hash string
	// Dump — идентификатор манифеста (поле index)
	Dump string
	// UploadID — загрузка, из которой получена карточка
	UploadID uuid.UUID
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// Documents — документы карточки; заполняется при выдаче списка карточек
	Documents []*Document
}

// Source — система-источник. Используется только как справочник имя → id.
type Source struct {
	ID   uuid.UUID
	Name string
}
