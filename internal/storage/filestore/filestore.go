// Пакет filestore — операции с файлами под корнем хранилища.
// Все пути, которыми оперирует пакет, относительные (слэш-разделённые)
// и не могут выходить за пределы корня. Запись атомарная и никогда
// не перезаписывает существующий файл.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
)

var (
	// ErrExists — по вычисленному пути уже лежит файл.
	ErrExists = errors.New("файл уже существует")
	// ErrNotFound — файл не найден.
	ErrNotFound = errors.New("файл не найден")
	// ErrUnsafePath — путь выходит за пределы корня хранилища.
	ErrUnsafePath = errors.New("недопустимый путь")
)

// FileStore — управление файлами под корневой директорией хранилища.
type FileStore struct {
	// root — корень хранилища (IM_STORAGE_ROOT)
	root string
}

// WriteResult — результат записи файла.
type WriteResult struct {
	// Path — относительный путь файла
	Path string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 содержимого
	Checksum string
}

// New создаёт FileStore. Создаёт корневую директорию, если её нет.
func New(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать корень хранилища %s: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

// Checksum вычисляет SHA-256 в hex. Единая хэш-функция для дедупликации
// загрузок, карточек и сравнения документа с оригиналом.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// WriteFile записывает data по относительному пути relPath.
// Промежуточные директории создаются рекурсивно.
//
// Паттерн: temp файл → запись → fsync → link на целевое имя → удаление temp.
// link, в отличие от rename, не заменяет существующий файл: если путь занят,
// возвращается ErrExists, содержимое на диске не меняется.
func (fs *FileStore) WriteFile(relPath string, data []byte) (*WriteResult, error) {
	fullPath, err := fs.FullPath(relPath)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("ошибка создания директории %s: %w", dir, err)
	}

	if _, err := os.Lstat(fullPath); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrExists, relPath)
	}

	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()
	defer os.Remove(tmpPath)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, fmt.Errorf("ошибка записи данных %s: %w", relPath, err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("ошибка fsync %s: %w", relPath, err)
	}

	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("ошибка закрытия файла %s: %w", relPath, err)
	}

	if err := os.Link(tmpPath, fullPath); err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrExists, relPath)
		}
		return nil, fmt.Errorf("ошибка публикации файла %s: %w", relPath, err)
	}

	return &WriteResult{
		Path:     relPath,
		Size:     int64(len(data)),
		Checksum: Checksum(data),
	}, nil
}

// ReadFile читает файл целиком.
func (fs *FileStore) ReadFile(relPath string) ([]byte, error) {
	fullPath, err := fs.FullPath(relPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, relPath)
		}
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", relPath, err)
	}
	return data, nil
}

// FileExists проверяет существование файла.
func (fs *FileStore) FileExists(relPath string) bool {
	fullPath, err := fs.FullPath(relPath)
	if err != nil {
		return false
	}
	_, err = os.Lstat(fullPath)
	return err == nil
}

// DeleteFile удаляет файл и затем пустые родительские директории вплоть до корня.
// Возвращает nil, если файл уже не существует.
func (fs *FileStore) DeleteFile(relPath string) error {
	fullPath, err := fs.FullPath(relPath)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", relPath, err)
	}

	fs.pruneEmptyDirs(path.Dir(relPath))
	return nil
}

// pruneEmptyDirs удаляет пустые директории от dir вверх до корня.
// os.Remove не удаляет непустую директорию — на этом подъём останавливается.
func (fs *FileStore) pruneEmptyDirs(dir string) {
	for dir != "." && dir != "/" && dir != "" {
		if err := os.Remove(filepath.Join(fs.root, filepath.FromSlash(dir))); err != nil {
			return
		}
		dir = path.Dir(dir)
	}
}

// FullPath возвращает абсолютный путь для относительного relPath.
// Пути, выходящие за корень (абсолютные, с ".."), отклоняются.
func (fs *FileStore) FullPath(relPath string) (string, error) {
	local := filepath.FromSlash(relPath)
	if relPath == "" || !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, relPath)
	}
	return filepath.Join(fs.root, local), nil
}

// Root возвращает корень хранилища.
func (fs *FileStore) Root() string {
	return fs.root
}
