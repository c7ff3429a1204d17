// Пакет builder строит записи карточки и документов из проверенного
// продукта и вычисляет пути хранения. Пакет не обращается ни к БД,
// ни к файловой системе.
package builder

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/ahmed-826/distribution-platform/internal/archive"
	"github.com/ahmed-826/distribution-platform/internal/domain/model"
	"github.com/ahmed-826/distribution-platform/internal/manifest"
	"github.com/ahmed-826/distribution-platform/internal/storage/filestore"
)

// ErrPathCollision — два файла претендуют на один путь хранения.
var ErrPathCollision = errors.New("коллизия путей хранения")

const (
	// rootDir — корневой каталог карточек в хранилище
	rootDir = "fiches"
	// originalsDir — подкаталог оригиналов
	originalsDir = "originals"
	// subjectLimit — длина темы в имени каталога (в символах)
	subjectLimit = 20
	// dayLayout — формат даты в путях и коде карточки
	dayLayout = "20060102"
	// refHashLen — сколько символов хэша входит в код карточки
	refHashLen = 8
)

// NoMessage — у документа нет письма-родителя.
const NoMessage = -1

// PlannedDocument — документ, ожидающий сохранения.
type PlannedDocument struct {
	Document model.Document
	// MessageRef — индекс письма-родителя в Plan.Documents или NoMessage
	MessageRef int
}

// PlannedFile — файл, который нужно записать в хранилище.
type PlannedFile struct {
	Path string
	Data []byte
}

// Plan — всё, что фиксируется для одного продукта.
// Документы упорядочены: письмо всегда предшествует вложению.
type Plan struct {
	Fiche     model.Fiche
	Documents []PlannedDocument
	Files     []PlannedFile
}

// Paths возвращает пути всех файлов плана.
func (p *Plan) Paths() []string {
	paths := make([]string, len(p.Files))
	for i, f := range p.Files {
		paths[i] = f.Path
	}
	return paths
}

// Size возвращает суммарный размер файлов плана.
func (p *Plan) Size() int64 {
	var n int64
	for _, f := range p.Files {
		n += int64(len(f.Data))
	}
	return n
}

// Build строит план сохранения продукта.
//
// Основной документ: fiches/<источник>/<yyyyMMdd>/<yyyyMMdd> - <тема[:20]>/<имя>.
// Исходные документы: <каталог>/<n> - <имя>. Оригинал сохраняется в
// <каталог>/originals/<n> - <имя оригинала>, только если его хэш отличается.
// Письмо-родитель вложения сохраняется в originals/ как отдельный документ Message.
func Build(v *manifest.Validated, uploadID uuid.UUID) (*Plan, error) {
	m := v.Manifest
	day := v.Date.Format(dayLayout)
	dir := path.Join(rootDir, Segment(m.Source.Name), day, day+" - "+Segment(truncate(m.Object, subjectLimit)))

	b := &planBuilder{seen: make(map[string]struct{})}

	primaryPath := path.Join(dir, Segment(v.Product.Primary.Name))
	if err := b.addFile(primaryPath, v.Product.Primary.Data); err != nil {
		return nil, err
	}

	b.plan.Fiche = model.Fiche{
		Ref:      Ref(v.Date, v.PrimaryHash),
		SourceID: v.SourceID,
		Date:     v.Date,
		Object:   m.Object,
		Summary:  m.Summary,
		Path:     primaryPath,
		Hash:     v.PrimaryHash,
		Dump:     m.Index,
		UploadID: uploadID,
	}

	for _, item := range v.Items {
		if err := b.addItem(dir, item); err != nil {
			return nil, err
		}
	}

	return &b.plan, nil
}

type planBuilder struct {
	plan Plan
	seen map[string]struct{}
}

func (b *planBuilder) addFile(p string, data []byte) error {
	if _, ok := b.seen[p]; ok {
		return fmt.Errorf("%w: %s", ErrPathCollision, p)
	}
	b.seen[p] = struct{}{}
	b.plan.Files = append(b.plan.Files, PlannedFile{Path: p, Data: data})
	return nil
}

func (b *planBuilder) addDocument(doc model.Document, messageRef int) int {
	b.plan.Documents = append(b.plan.Documents, PlannedDocument{Document: doc, MessageRef: messageRef})
	return len(b.plan.Documents) - 1
}

func (b *planBuilder) addItem(dir string, item manifest.Item) error {
	f := item.File
	slot := item.Slot
	prefix := fmt.Sprintf("%d - ", item.Ordinal)

	messageRef := NoMessage
	if item.Kind == model.DocumentAttachment {
		parent := f.Parent
		msgPath := path.Join(dir, originalsDir, prefix+Segment(parent.Filename))
		if err := b.addFile(msgPath, slot.Message.Data); err != nil {
			return err
		}
		meta := parent.Meta()
		messageRef = b.addDocument(model.Document{
			Type:     model.DocumentMessage,
			Content:  parent.Content,
			Meta:     toModelMeta(meta),
			DumpName: parent.Filename,
			DumpPath: f.Path,
			Path:     msgPath,
			Hash:     filestore.Checksum(slot.Message.Data),
		}, NoMessage)
	}

	docPath := path.Join(dir, prefix+Segment(f.Name.Filename))
	if err := b.addFile(docPath, slot.Source.Data); err != nil {
		return err
	}
	hash := filestore.Checksum(slot.Source.Data)

	doc := model.Document{
		Type:     item.Kind,
		Content:  f.Content,
		DumpName: f.Name.Filename,
		DumpPath: f.Path,
		Path:     docPath,
		Hash:     hash,
	}
	if item.Kind == model.DocumentMessage && f.Meta != nil {
		doc.Meta = toModelMeta(*f.Meta)
	}

	if original := originalOf(item); original != nil && filestore.Checksum(original.Data) != hash {
		origPath := path.Join(dir, originalsDir, prefix+Segment(f.Original.Filename))
		if err := b.addFile(origPath, original.Data); err != nil {
			return err
		}
		doc.OriginalPath = &origPath
	}

	b.addDocument(doc, messageRef)
	return nil
}

// originalOf возвращает оригинал исходного документа. Для письма
// оригиналом служит .eml из Source/, если иного оригинала нет.
func originalOf(item manifest.Item) *archive.File {
	if item.Slot.Original != nil {
		return item.Slot.Original
	}
	if item.Kind == model.DocumentMessage {
		return item.Slot.Message
	}
	return nil
}

func toModelMeta(m manifest.Meta) *model.MessageMeta {
	to := make([]string, 0, len(m.To))
	for _, r := range m.To {
		if r = strings.TrimSpace(r); r != "" {
			to = append(to, r)
		}
	}
	return &model.MessageMeta{From: m.From, To: to, Date: m.Date, Object: m.Object}
}

// Ref возвращает код карточки: FI-<yyyyMMdd>-<первые 8 символов хэша>.
func Ref(date time.Time, hash string) string {
	h := hash
	if len(h) > refHashLen {
		h = h[:refHashLen]
	}
	return "FI-" + date.Format(dayLayout) + "-" + strings.ToUpper(h)
}

// Segment превращает произвольную строку в безопасный элемент пути:
// разделители и управляющие символы заменяются на "_", пробелы и точки
// по краям отбрасываются, "." и ".." не допускаются.
func Segment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case unicode.IsControl(r):
			return '_'
		case strings.ContainsRune(`:*?"<>|`, r):
			return '_'
		}
		return r
	}, s)
	s = strings.Trim(s, " .")
	if s == "" {
		return "_"
	}
	return s
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) > limit {
		r = r[:limit]
	}
	return string(r)
}
