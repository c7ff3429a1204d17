package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ahmed-826/distribution-platform/internal/domain/model"
	"github.com/ahmed-826/distribution-platform/internal/manifest"
)

// countingSources считает обращения к справочнику и может возвращать ошибку.
type countingSources struct {
	memSources
	calls int
	err   error
}

func (s *countingSources) GetByName(ctx context.Context, name string) (*model.Source, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.memSources.GetByName(ctx, name)
}

func TestSourceCache(t *testing.T) {
	c := NewSourceCache(2, time.Minute)
	id := uuid.New()

	if _, ok := c.Get("DGSN"); ok {
		t.Fatal("пустой кэш вернул значение")
	}
	c.Set("DGSN", id)
	got, ok := c.Get("DGSN")
	if !ok || got != id {
		t.Fatalf("Get() = %s, %v", got, ok)
	}

	c.Set("B", uuid.New())
	c.Set("C", uuid.New())
	if _, ok := c.Get("C"); !ok {
		t.Error("последняя запись должна оставаться в кэше")
	}
	if _, ok := c.Get("DGSN"); ok {
		t.Error("самая старая запись должна вытесняться")
	}
}

func TestSourceCache_Expiry(t *testing.T) {
	c := NewSourceCache(4, 20*time.Millisecond)
	c.Set("DGSN", uuid.New())
	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get("DGSN"); ok {
		t.Error("запись должна истекать по TTL")
	}
}

func TestCatalogLookup(t *testing.T) {
	catalog := newMemCatalog()
	sources := &countingSources{memSources: memSources{catalog}}
	lookup := NewCatalogLookup(sources, memFiches{catalog}, NewSourceCache(8, time.Minute))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := lookup.SourceIDByName(ctx, "DGSN")
		if err != nil || id != catalog.sources["DGSN"] {
			t.Fatalf("SourceIDByName() = %s, %v", id, err)
		}
	}
	if sources.calls != 1 {
		t.Errorf("обращений к справочнику = %d, ожидалось 1", sources.calls)
	}

	// Отсутствующий источник не кэшируется
	for i := 0; i < 2; i++ {
		if _, err := lookup.SourceIDByName(ctx, "unknown"); !errors.Is(err, manifest.ErrSourceNotFound) {
			t.Fatalf("ожидалась ErrSourceNotFound, получено %v", err)
		}
	}
	if sources.calls != 3 {
		t.Errorf("обращений к справочнику = %d, ожидалось 3", sources.calls)
	}

	sources.err = errLookup
	if _, err := lookup.SourceIDByName(ctx, "other"); !errors.Is(err, errLookup) {
		t.Errorf("ожидалась ошибка справочника, получено %v", err)
	}

	exists, err := lookup.FicheHashExists(ctx, "absent")
	if err != nil || exists {
		t.Errorf("FicheHashExists() = %v, %v", exists, err)
	}
}

func TestEnsureSources(t *testing.T) {
	catalog := newMemCatalog()
	repo := memSources{catalog}

	if err := EnsureSources(context.Background(), repo, []string{"DGSN", "DGSI"}, testLogger()); err != nil {
		t.Fatalf("EnsureSources(): %v", err)
	}
	if len(catalog.sources) != 2 {
		t.Errorf("источников = %d, ожидалось 2", len(catalog.sources))
	}
	existing := catalog.sources["DGSN"]
	if err := EnsureSources(context.Background(), repo, []string{"DGSN"}, testLogger()); err != nil {
		t.Fatalf("повторный EnsureSources(): %v", err)
	}
	if catalog.sources["DGSN"] != existing {
		t.Error("существующий источник не должен пересоздаваться")
	}
}
