package archive

import (
	"errors"
	"sort"
	"strings"
)

// ErrNotProduct — папка не является продуктом (промежуточная папка).
// Это нормальный исход, а не ошибка обработки.
var ErrNotProduct = errors.New("папка не является продуктом")

const manifestSuffix = "data.json"

// File — загруженный в память файл продукта.
type File struct {
	// Name — имя файла без директорий
	Name string
	Data []byte
}

// Slot — файлы продукта с одним порядковым номером.
type Slot struct {
	// Source — исходный документ (нормализованная копия)
	Source *File
	// Original — оригинал из Source/ (не .eml)
	Original *File
	// Message — письмо-родитель из Source/ (.eml)
	Message *File
}

// Product — папка, прошедшая проверку формы, с загруженными файлами.
type Product struct {
	Archive  string
	Folder   string
	Manifest []byte
	Primary  File
	// Slots — файлы по порядковому номеру (с 1)
	Slots map[int]*Slot
}

// Ordinals возвращает порядковые номера исходных документов по возрастанию.
func (p *Product) Ordinals() []int {
	result := make([]int, 0, len(p.Slots))
	for n, s := range p.Slots {
		if s.Source != nil {
			result = append(result, n)
		}
	}
	sort.Ints(result)
	return result
}

// Extract определяет роли файлов папки и загружает их.
//
// Продукт обязан содержать манифест (*data.json), основной документ (.docx),
// хотя бы один исходный документ (.pdf, .eml, .xlsx) и хотя бы один
// оригинал в Source/. Иначе возвращается ErrNotProduct.
//
// Номер берётся из ведущих цифр имени. Оригиналы .eml становятся письмом-
// родителем, остальные — оригиналом документа с тем же номером. Номер,
// у которого есть оригинал, но нет нормализованной копии, использует
// оригинал как исходный документ. При повторе номера побеждает первый
// файл в лексикографическом порядке.
func Extract(f *Folder, maxEntrySize int64) (*Product, error) {
	var manifest, primary *Entry
	sources := make(map[int]Entry)

	for i := range f.Principal {
		e := f.Principal[i]
		lower := strings.ToLower(e.Base())
		switch {
		case strings.HasSuffix(lower, manifestSuffix):
			if manifest == nil {
				manifest = &e
			}
		case hasExt(lower, ".docx"):
			if primary == nil {
				primary = &e
			}
		case isSourceDocument(lower):
			if n, ok := Ordinal(lower); ok {
				if _, dup := sources[n]; !dup {
					sources[n] = e
				}
			}
		}
	}

	originals := make(map[int]Entry)
	messages := make(map[int]Entry)
	for _, e := range f.Originals {
		if isZip(e.Name) {
			continue
		}
		n, ok := Ordinal(e.Name)
		if !ok {
			continue
		}
		target := originals
		if hasExt(e.Name, ".eml") {
			target = messages
		}
		if _, dup := target[n]; !dup {
			target[n] = e
		}
	}

	for n, e := range originals {
		if _, ok := sources[n]; !ok && isSourceDocument(e.Name) {
			sources[n] = e
		}
	}
	for n, e := range messages {
		if _, ok := sources[n]; !ok {
			sources[n] = e
		}
	}

	if manifest == nil || primary == nil || len(sources) == 0 || len(originals)+len(messages) == 0 {
		return nil, ErrNotProduct
	}

	l := loader{limit: maxEntrySize, cache: make(map[string][]byte)}

	p := &Product{
		Archive: f.Archive,
		Folder:  f.Path,
		Slots:   make(map[int]*Slot),
	}

	var err error
	if p.Manifest, err = l.load(*manifest); err != nil {
		return nil, err
	}
	primaryData, err := l.load(*primary)
	if err != nil {
		return nil, err
	}
	p.Primary = File{Name: primary.Base(), Data: primaryData}

	slot := func(n int) *Slot {
		s, ok := p.Slots[n]
		if !ok {
			s = &Slot{}
			p.Slots[n] = s
		}
		return s
	}

	for _, n := range sortedKeys(sources) {
		file, err := l.file(sources[n])
		if err != nil {
			return nil, err
		}
		slot(n).Source = file
	}
	for _, n := range sortedKeys(originals) {
		file, err := l.file(originals[n])
		if err != nil {
			return nil, err
		}
		slot(n).Original = file
	}
	for _, n := range sortedKeys(messages) {
		file, err := l.file(messages[n])
		if err != nil {
			return nil, err
		}
		slot(n).Message = file
	}

	return p, nil
}

func isSourceDocument(name string) bool {
	return hasExt(name, ".pdf", ".eml", ".xlsx")
}

// loader распаковывает элементы, не читая один и тот же элемент дважды.
type loader struct {
	limit int64
	cache map[string][]byte
}

func (l *loader) load(e Entry) ([]byte, error) {
	if data, ok := l.cache[e.Name]; ok {
		return data, nil
	}
	data, err := e.ReadAll(l.limit)
	if err != nil {
		return nil, err
	}
	l.cache[e.Name] = data
	return data, nil
}

func (l *loader) file(e Entry) (*File, error) {
	data, err := l.load(e)
	if err != nil {
		return nil, err
	}
	return &File{Name: e.Base(), Data: data}, nil
}

func sortedKeys(m map[int]Entry) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
