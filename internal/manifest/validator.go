package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ahmed-826/distribution-platform/internal/archive"
	"github.com/ahmed-826/distribution-platform/internal/domain/model"
	"github.com/ahmed-826/distribution-platform/internal/storage/filestore"
)

// ErrSourceNotFound возвращается Lookup, если система-источник неизвестна.
var ErrSourceNotFound = errors.New("система-источник не найдена")

// Lookup — справочные запросы, нужные проверке.
type Lookup interface {
	// SourceIDByName возвращает id источника или ErrSourceNotFound
	SourceIDByName(ctx context.Context, name string) (uuid.UUID, error)
	// FicheHashExists проверяет, есть ли карточка с таким хэшем
	FicheHashExists(ctx context.Context, hash string) (bool, error)
}

// Item — исходный документ, сопоставленный со своим описанием в манифесте.
type Item struct {
	// Ordinal — порядковый номер (позиция в files, с 1)
	Ordinal int
	Kind    model.DocumentType
	File    File
	Slot    *archive.Slot
}

// Validated — продукт, прошедший проверку.
type Validated struct {
	Manifest    *Manifest
	Date        time.Time
	SourceID    uuid.UUID
	Product     *archive.Product
	PrimaryHash string
	Items       []Item
}

// Validator проверяет манифест продукта против его файлов.
type Validator struct {
	lookup Lookup
}

// NewValidator создаёт проверку манифеста.
func NewValidator(lookup Lookup) *Validator {
	return &Validator{lookup: lookup}
}

// Validate проверяет продукт. Первое нарушение возвращается как *Rejection.
// Прочие ошибки — сбои справочных запросов.
//
// Порядок: разбор JSON → обязательные поля → дата → количество файлов →
// каждый файл → источник → дубликат по хэшу основного документа.
func (v *Validator) Validate(ctx context.Context, p *archive.Product) (*Validated, error) {
	var m Manifest
	if err := json.Unmarshal(p.Manifest, &m); err != nil {
		return nil, reject(ReasonInvalidManifest, "", "манифест не является корректным JSON: %v", err)
	}

	required := []struct {
		field string
		value string
	}{
		{"index", m.Index},
		{"source.name", m.Source.Name},
		{"summary", m.Summary},
		{"object", m.Object},
		{"date_generate", m.DateGenerate},
	}
	for _, r := range required {
		if blank(r.value) {
			return nil, reject(ReasonMissingField, r.field, "обязательное поле не заполнено")
		}
	}

	date, err := ParseDate(m.DateGenerate)
	if err != nil {
		return nil, reject(ReasonInvalidDate, "date_generate", "не удалось разобрать дату %q", m.DateGenerate)
	}

	if m.Files == nil {
		return nil, reject(ReasonMissingField, "files", "обязательное поле не заполнено")
	}

	ordinals := p.Ordinals()
	if len(m.Files) != len(ordinals) {
		return nil, reject(ReasonFileCountMismatch, "files",
			"в манифесте %d файлов, в папке %d исходных документов", len(m.Files), len(ordinals))
	}

	items := make([]Item, 0, len(m.Files))
	for i, f := range m.Files {
		n := i + 1
		item, rej := checkFile(n, f, p.Slots[n])
		if rej != nil {
			return nil, rej
		}
		items = append(items, item)
	}

	sourceID, err := v.lookup.SourceIDByName(ctx, m.Source.Name)
	if err != nil {
		if errors.Is(err, ErrSourceNotFound) {
			return nil, reject(ReasonUnknownSource, "source.name", "источник %q не зарегистрирован", m.Source.Name)
		}
		return nil, fmt.Errorf("ошибка поиска источника %q: %w", m.Source.Name, err)
	}

	hash := filestore.Checksum(p.Primary.Data)
	exists, err := v.lookup.FicheHashExists(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки дубликата: %w", err)
	}
	if exists {
		return nil, reject(ReasonDuplicateContent, "", "документ %s уже загружен (sha256 %s)", p.Primary.Name, hash)
	}

	return &Validated{
		Manifest:    &m,
		Date:        date,
		SourceID:    sourceID,
		Product:     p,
		PrimaryHash: hash,
		Items:       items,
	}, nil
}

// checkFile проверяет описание файла с номером n.
func checkFile(n int, f File, slot *archive.Slot) (Item, *Rejection) {
	field := func(name string) string {
		return fmt.Sprintf("files[%d].%s", n, name)
	}

	if slot == nil || slot.Source == nil {
		return Item{}, reject(ReasonMissingSourceFile, fmt.Sprintf("files[%d]", n),
			"нет исходного документа с номером %d", n)
	}

	switch {
	case blank(f.Type):
		return Item{}, reject(ReasonMissingField, field("type"), "обязательное поле не заполнено")
	case blank(f.Name.Filename):
		return Item{}, reject(ReasonMissingField, field("name.filename"), "обязательное поле не заполнено")
	case blank(f.Original.Filename):
		return Item{}, reject(ReasonMissingField, field("original.filename"), "обязательное поле не заполнено")
	}

	item := Item{Ordinal: n, File: f, Slot: slot, Kind: model.DocumentFile}

	switch f.Type {
	case TypeMessage:
		if f.Meta == nil {
			return Item{}, reject(ReasonInvalidMessageMeta, field("meta"), "у письма нет метаданных")
		}
		if name, ok := checkMeta(*f.Meta); !ok {
			return Item{}, reject(ReasonInvalidMessageMeta, field("meta."+name), "поле метаданных письма не заполнено")
		}
		item.Kind = model.DocumentMessage

	case TypeAttachment:
		if f.Parent == nil {
			return Item{}, reject(ReasonMissingParent, field("parent"), "у вложения нет письма-родителя")
		}
		if name, ok := checkMeta(f.Parent.Meta()); !ok {
			return Item{}, reject(ReasonMissingParent, field("parent."+name), "поле письма-родителя не заполнено")
		}
		if blank(f.Parent.Filename) {
			return Item{}, reject(ReasonMissingParent, field("parent.filename"), "не указано имя файла письма-родителя")
		}
		if slot.Message == nil {
			return Item{}, reject(ReasonMissingParentMessage, field("parent"),
				"в Source/ нет файла .eml с номером %d", n)
		}
		item.Kind = model.DocumentAttachment
	}

	return item, nil
}

// checkMeta возвращает имя первого незаполненного поля.
func checkMeta(m Meta) (string, bool) {
	if blank(m.From) {
		return "from", false
	}
	recipients := 0
	for _, to := range m.To {
		if !blank(to) {
			recipients++
		}
	}
	if recipients == 0 {
		return "to", false
	}
	if blank(m.Date) {
		return "date", false
	}
	if blank(m.Object) {
		return "object", false
	}
	return "", true
}

// dateLayouts — форматы date_generate, встречающиеся в выгрузках.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
}

// ParseDate разбирает дату генерации манифеста.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("неизвестный формат даты: %q", s)
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
