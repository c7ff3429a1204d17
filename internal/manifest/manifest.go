// Пакет manifest — формат манифеста продукта (data.json) и его проверка
// против загруженных файлов папки.
package manifest

// Manifest — содержимое data.json.
type Manifest struct {
	Index        string `json:"index"`
	Summary      string `json:"summary"`
	Object       string `json:"object"`
	DateGenerate string `json:"date_generate"`
	Source       Source `json:"source"`
	Files        []File `json:"files"`
}

// Source — ссылка на систему-источник.
type Source struct {
	Name string `json:"name"`
}

// FileName — блок с именем файла.
type FileName struct {
	Filename string `json:"filename"`
}

// File — описание одного исходного документа.
// Порядковый номер файла — его позиция в массиве files, начиная с 1.
type File struct {
	Type     string   `json:"type"`
	Name     FileName `json:"name"`
	Original FileName `json:"original"`
	Content  string   `json:"content"`
	Meta     *Meta    `json:"meta"`
	Path     string   `json:"path"`
	Parent   *Parent  `json:"parent"`
}

// Meta — метаданные письма.
type Meta struct {
	From   string   `json:"from"`
	To     []string `json:"to"`
	Date   string   `json:"date"`
	Object string   `json:"object"`
}

// Parent — письмо-родитель вложения: метаданные плюс имя файла и текст.
type Parent struct {
	From     string   `json:"from"`
	To       []string `json:"to"`
	Date     string   `json:"date"`
	Object   string   `json:"object"`
	Filename string   `json:"filename"`
	Content  string   `json:"content"`
}

// Meta возвращает метаданные письма-родителя.
func (p *Parent) Meta() Meta {
	return Meta{From: p.From, To: p.To, Date: p.Date, Object: p.Object}
}

const (
	// TypeMessage — файл-письмо
	TypeMessage = "Message"
	// TypeAttachment — вложение письма
	TypeAttachment = "Attachment"
)
