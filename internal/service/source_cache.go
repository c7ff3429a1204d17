package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahmed-826/distribution-platform/internal/manifest"
	"github.com/ahmed-826/distribution-platform/internal/repository"
)

// Prometheus-метрики кэша источников.
var (
	sourceCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_source_cache_hits_total",
		Help: "Количество попаданий в кэш источников.",
	})
	sourceCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_source_cache_misses_total",
		Help: "Количество промахов кэша источников.",
	})
)

// SourceCache — LRU-кэш имя источника → id с TTL.
// Кэшируются только найденные источники.
type SourceCache struct {
	cache *expirable.LRU[string, uuid.UUID]
}

// NewSourceCache создаёт кэш на maxSize записей со временем жизни ttl.
func NewSourceCache(maxSize int, ttl time.Duration) *SourceCache {
	return &SourceCache{cache: expirable.NewLRU[string, uuid.UUID](maxSize, nil, ttl)}
}

// Get возвращает id источника и обновляет метрики hit/miss.
func (c *SourceCache) Get(name string) (uuid.UUID, bool) {
	id, ok := c.cache.Get(name)
	if ok {
		sourceCacheHitsTotal.Inc()
		return id, true
	}
	sourceCacheMissesTotal.Inc()
	return uuid.Nil, false
}

// Set добавляет источник в кэш.
func (c *SourceCache) Set(name string, id uuid.UUID) {
	c.cache.Add(name, id)
}


// catalogLookup — справочные запросы проверки манифеста поверх БД.
type catalogLookup struct {
	sources repository.SourceRepository
	fiches  repository.FicheRepository
	cache   *SourceCache
}

// NewCatalogLookup создаёт manifest.Lookup с кэшем источников.
func NewCatalogLookup(sources repository.SourceRepository, fiches repository.FicheRepository, cache *SourceCache) manifest.Lookup {
	return &catalogLookup{sources: sources, fiches: fiches, cache: cache}
}

func (l *catalogLookup) SourceIDByName(ctx context.Context, name string) (uuid.UUID, error) {
	if id, ok := l.cache.Get(name); ok {
		return id, nil
	}

	src, err := l.sources.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, manifest.ErrSourceNotFound
		}
		return uuid.Nil, err
	}
	l.cache.Set(name, src.ID)
	return src.ID, nil
}

func (l *catalogLookup) FicheHashExists(ctx context.Context, hash string) (bool, error) {
	return l.fiches.ExistsByHash(ctx, hash)
}

// EnsureSources регистрирует источники, которых ещё нет в справочнике.
func EnsureSources(ctx context.Context, repo repository.SourceRepository, names []string, logger *slog.Logger) error {
	for _, name := range names {
		_, err := repo.GetByName(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("ошибка проверки источника %q: %w", name, err)
		}
		if _, err := repo.Create(ctx, name); err != nil && !errors.Is(err, repository.ErrConflict) {
			return fmt.Errorf("ошибка регистрации источника %q: %w", name, err)
		}
		logger.Info("Источник зарегистрирован", slog.String("source", name))
	}
	return nil
}
