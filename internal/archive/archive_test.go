package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
)

// testLogger возвращает логгер для тестов (вывод подавляется).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// zipEntry — элемент тестового архива. Имя с "/" на конце — директория.
type zipEntry struct {
	name string
	data []byte
}

// buildZip собирает ZIP-архив в памяти.
func buildZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			t.Fatalf("ошибка создания элемента %s: %v", e.name, err)
		}
		if len(e.data) > 0 {
			if _, err := w.Write(e.data); err != nil {
				t.Fatalf("ошибка записи элемента %s: %v", e.name, err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("ошибка закрытия архива: %v", err)
	}
	return buf.Bytes()
}

// walkAll собирает все папки обхода; ошибки вложенных архивов возвращаются отдельно.
func walkAll(t *testing.T, w *Walker) ([]*Folder, []*NestedArchiveError) {
	t.Helper()

	var folders []*Folder
	var nested []*NestedArchiveError
	for {
		f, err := w.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return folders, nested
		}
		var ne *NestedArchiveError
		if errors.As(err, &ne) {
			nested = append(nested, ne)
			continue
		}
		if err != nil {
			t.Fatalf("неожиданная ошибка обхода: %v", err)
		}
		folders = append(folders, f)
	}
}

func labels(folders []*Folder) []string {
	result := make([]string, len(folders))
	for i, f := range folders {
		result[i] = f.Label()
	}
	return result
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
