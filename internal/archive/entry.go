// Пакет archive — обход ZIP-архивов и извлечение папок-продуктов.
//
// Walker группирует файлы архива по папкам и выдаёт их по одной,
// вложенные ZIP ставятся в явную очередь и обходятся как независимые
// архивы той же загрузки. Extract проверяет форму папки и загружает
// её файлы в память.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
)

var (
	// ErrInvalidArchive — байты не являются корректным ZIP.
	ErrInvalidArchive = errors.New("некорректный ZIP-архив")
	// ErrEntryTooLarge — распакованный размер элемента превышает лимит.
	ErrEntryTooLarge = errors.New("элемент архива превышает допустимый размер")
	// ErrNestingTooDeep — превышена глубина вложенности архивов.
	ErrNestingTooDeep = errors.New("превышена глубина вложенности архивов")
)

// Entry — файл внутри ZIP-архива.
type Entry struct {
	// Name — нормализованный путь внутри архива (разделитель "/")
	Name string
	file *zip.File
}

// Base возвращает имя файла без директорий.
func (e Entry) Base() string {
	return path.Base(e.Name)
}

// ReadAll распаковывает элемент целиком. limit <= 0 — без ограничения.
// Заявленный в заголовке размер не доверяется: чтение всё равно
// обрывается на limit+1 байте.
func (e Entry) ReadAll(limit int64) ([]byte, error) {
	if limit > 0 && e.file.UncompressedSize64 > uint64(limit) {
		return nil, fmt.Errorf("%w: %s", ErrEntryTooLarge, e.Name)
	}

	rc, err := e.file.Open()
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия %s: %w", e.Name, err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if limit > 0 {
		r = io.LimitReader(rc, limit+1)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("ошибка распаковки %s: %w", e.Name, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s", ErrEntryTooLarge, e.Name)
	}
	return data, nil
}

// Ordinal извлекает порядковый номер из ведущих цифр имени файла:
// "1 - report.pdf" → 1, "02_mail.eml" → 2. Номер начинается с 1.
func Ordinal(name string) (int, bool) {
	base := path.Base(name)
	i := 0
	for i < len(base) && base[i] >= '0' && base[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(base[:i])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// normalizeName приводит имя элемента ZIP к слэш-разделённому
// относительному виду. Пустая строка — элемент пропускается.
func normalizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimLeft(name, "/")
	for strings.HasPrefix(name, "./") {
		name = name[2:]
	}
	if name == "" || strings.HasSuffix(name, "/") {
		return ""
	}
	return path.Clean(name)
}

func hasExt(name string, exts ...string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

func isZip(name string) bool {
	return hasExt(name, ".zip")
}
