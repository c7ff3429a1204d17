package model

import (
	"time"

	"github.com/google/uuid"
)

// DocumentType — тег варианта документа.
type DocumentType string

const (
	// DocumentMessage — сообщение (письмо) с метаданными отправителя и получателей
	DocumentMessage DocumentType = "Message"
	// DocumentAttachment — вложение, ссылающееся на сообщение
	DocumentAttachment DocumentType = "Attachment"
	// DocumentFile — исходный файл без связи с сообщением
	DocumentFile DocumentType = "File"
)

// MessageMeta — метаданные сообщения.
type MessageMeta struct {
	From   string   `json:"from"`
	To     []string `json:"to"`
	Date   string   `json:"date"`
	Object string   `json:"object"`
}

// Document — файл, принадлежащий карточке.
// Хранится в таблице documents.
type Document struct {
	// ID — UUID документа (генерируется БД)
	ID uuid.UUID
	// FicheID — карточка-владелец
	FicheID uuid.UUID
	// Type — Message, Attachment или File
	Type DocumentType
	// Content — текстовое содержимое из манифеста
	Content string
	// Meta — метаданные (только для Message)
	Meta *MessageMeta
	// DumpName — имя файла в выгрузке
	DumpName string
	// DumpPath — путь файла в выгрузке
	DumpPath string
	// Path — путь файла относительно корня хранилища
	Path string
	// OriginalPath — путь оригинала, если он отличается от нормализованной копии
	OriginalPath *string
	// Hash — SHA-256 сохранённых байтов
	Hash string
	// MessageID — родительское сообщение (только для Attachment)
	MessageID *uuid.UUID
	// CreatedAt — время создания записи
	CreatedAt time.Time
}
