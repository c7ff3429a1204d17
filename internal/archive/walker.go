package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
)

const (
	// DefaultMaxDepth — глубина вложенности архивов по умолчанию
	DefaultMaxDepth = 8
	// DefaultMaxEntrySize — лимит распакованного элемента по умолчанию (256 MiB)
	DefaultMaxEntrySize int64 = 256 << 20

	// sourceDir — имя подпапки с оригиналами
	sourceDir = "Source"
	// labelSep — разделитель в метке вложенного архива
	labelSep = "!/"
)

// Options — ограничения обхода.
type Options struct {
	// MaxDepth — максимальная глубина вложенности ZIP (верхний уровень = 0)
	MaxDepth int
	// MaxEntrySize — лимит распакованного размера одного элемента
	MaxEntrySize int64
}

func (o Options) withDefaults() Options {
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.MaxEntrySize <= 0 {
		o.MaxEntrySize = DefaultMaxEntrySize
	}
	return o
}

// Folder — группа файлов одной папки архива.
type Folder struct {
	// Archive — метка архива: пусто для верхнего уровня,
	// для вложенного — цепочка путей через "!/"
	Archive string
	// Path — путь папки внутри архива ("." — корень)
	Path string
	// Principal — файлы непосредственно в папке
	Principal []Entry
	// Originals — файлы в подпапке Source
	Originals []Entry
}

// Label возвращает путь папки с учётом вложенного архива.
func (f *Folder) Label() string {
	if f.Archive == "" {
		return f.Path
	}
	return f.Archive + labelSep + f.Path
}

// NestedArchiveError — вложенный архив не удалось открыть.
// Ошибка не фатальна: обход продолжается со следующего элемента.
type NestedArchiveError struct {
	Archive string
	Err     error
}

func (e *NestedArchiveError) Error() string {
	return fmt.Sprintf("вложенный архив %s: %v", e.Archive, e.Err)
}

func (e *NestedArchiveError) Unwrap() error {
	return e.Err
}

// pendingArchive — элемент очереди вложенных архивов.
type pendingArchive struct {
	label string
	depth int
	entry Entry
}

// Walker — ленивый обход архива и всех вложенных в него архивов.
// Не потокобезопасен и не перезапускается: для повтора создаётся новый Walker.
//
// Порядок детерминирован: папки одного архива выдаются в лексикографическом
// порядке, вложенные архивы обходятся после папок текущего в порядке обнаружения.
type Walker struct {
	opts    Options
	logger  *slog.Logger
	folders []*Folder
	queue   []pendingArchive
}

// NewWalker открывает архив верхнего уровня.
// Ошибка открытия фатальна для обработки загрузки.
func NewWalker(data []byte, opts Options, logger *slog.Logger) (*Walker, error) {
	zr, err := openZip(data)
	if err != nil {
		return nil, err
	}

	w := &Walker{
		opts:   opts.withDefaults(),
		logger: logger.With(slog.String("component", "archive_walker")),
	}
	w.enqueue(zr, "", 0)
	return w, nil
}

// Next возвращает следующую папку или io.EOF, когда обход завершён.
// Контекст проверяется на границе каждой папки. Если очередной вложенный
// архив не открывается, возвращается *NestedArchiveError, и следующий
// вызов Next продолжает обход.
func (w *Walker) Next(ctx context.Context) (*Folder, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if len(w.folders) > 0 {
			f := w.folders[0]
			w.folders = w.folders[1:]
			return f, nil
		}

		if len(w.queue) == 0 {
			return nil, io.EOF
		}

		item := w.queue[0]
		w.queue = w.queue[1:]
		if err := w.open(item); err != nil {
			return nil, &NestedArchiveError{Archive: item.label, Err: err}
		}
	}
}

// open распаковывает вложенный архив и добавляет его папки.
func (w *Walker) open(item pendingArchive) error {
	if item.depth > w.opts.MaxDepth {
		return fmt.Errorf("%w: %d", ErrNestingTooDeep, item.depth)
	}

	data, err := item.entry.ReadAll(w.opts.MaxEntrySize)
	if err != nil {
		return err
	}

	zr, err := openZip(data)
	if err != nil {
		return err
	}

	w.logger.Debug("Открыт вложенный архив",
		slog.String("archive", item.label),
		slog.Int("depth", item.depth),
		slog.Int("entries", len(zr.File)),
	)
	w.enqueue(zr, item.label, item.depth)
	return nil
}

// enqueue группирует файлы архива по папкам. Файл a/b/x попадает
// в principal папки a/b; если a/b называется Source, он же попадает
// в originals папки a. ZIP-файлы из principal ставятся в очередь.
func (w *Walker) enqueue(zr *zip.Reader, label string, depth int) {
	groups := make(map[string]*Folder)
	group := func(dir string) *Folder {
		f, ok := groups[dir]
		if !ok {
			f = &Folder{Archive: label, Path: dir}
			groups[dir] = f
		}
		return f
	}

	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		name := normalizeName(zf.Name)
		if name == "" {
			continue
		}

		e := Entry{Name: name, file: zf}
		dir := path.Dir(name)
		group(dir).Principal = append(group(dir).Principal, e)
		if path.Base(dir) == sourceDir {
			parent := path.Dir(dir)
			group(parent).Originals = append(group(parent).Originals, e)
		}
	}

	dirs := make([]string, 0, len(groups))
	for dir := range groups {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		f := groups[dir]
		if len(f.Principal) == 0 {
			continue
		}
		sortEntries(f.Principal)
		sortEntries(f.Originals)

		for _, e := range f.Principal {
			if isZip(e.Name) {
				w.queue = append(w.queue, pendingArchive{
					label: nestedLabel(label, e.Name),
					depth: depth + 1,
					entry: e,
				})
			}
		}
		w.folders = append(w.folders, f)
	}
}

// Probe проверяет, что data — читаемый ZIP-архив.
func Probe(data []byte) error {
	_, err := openZip(data)
	return err
}

// openZip открывает архив из памяти. Небезопасные имена элементов
// (абсолютные, с "..") не мешают обходу: они никогда не используются
// как пути хранения.
func openZip(data []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil && !(errors.Is(err, zip.ErrInsecurePath) && zr != nil) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	return zr, nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
}

func nestedLabel(parent, name string) string {
	if parent == "" {
		return name
	}
	return strings.Join([]string{parent, name}, labelSep)
}
