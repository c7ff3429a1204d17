// Точка входа Intake Module — модуль приёма ZIP-выгрузок.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// восстанавливает незавершённые файловые операции по журналу, собирает
// конвейер обработки и сервис загрузок, запускает topologymetrics
// и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/ahmed-826/distribution-platform/internal/api/handlers"
	"github.com/ahmed-826/distribution-platform/internal/api/middleware"
	"github.com/ahmed-826/distribution-platform/internal/archive"
	"github.com/ahmed-826/distribution-platform/internal/config"
	"github.com/ahmed-826/distribution-platform/internal/database"
	"github.com/ahmed-826/distribution-platform/internal/events"
	"github.com/ahmed-826/distribution-platform/internal/manifest"
	"github.com/ahmed-826/distribution-platform/internal/repository"
	"github.com/ahmed-826/distribution-platform/internal/server"
	"github.com/ahmed-826/distribution-platform/internal/service"
	"github.com/ahmed-826/distribution-platform/internal/storage/filestore"
	"github.com/ahmed-826/distribution-platform/internal/storage/wal"
)

const serviceID = "intake-module"

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Intake Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage_root", cfg.StorageRoot),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Файловое хранилище и журнал файловых операций
	store, err := filestore.New(cfg.StorageRoot)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}
	journal, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		logger.Error("Ошибка инициализации WAL", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Repositories
	uploadRepo := repository.NewUploadRepository(pool)
	ficheRepo := repository.NewFicheRepository(pool)
	documentRepo := repository.NewDocumentRepository(pool)
	sourceRepo := repository.NewSourceRepository(pool)
	outcomeRepo := repository.NewOutcomeRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	// 7. Восстановление после сбоя: сверка незавершённых записей WAL с каталогом
	committer := service.NewCommitter(txRunner, ficheRepo, uploadRepo, store, journal, logger)
	recovered, err := committer.Recover(ctx)
	if err != nil {
		logger.Error("Ошибка восстановления по WAL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if recovered > 0 {
		logger.Info("Незавершённые операции WAL обработаны", slog.Int("count", recovered))
	}

	// 8. Справочник источников
	if err := service.EnsureSources(ctx, sourceRepo, cfg.SeedSources, logger); err != nil {
		logger.Error("Ошибка регистрации источников", slog.String("error", err.Error()))
		os.Exit(1)
	}
	sourceCache := service.NewSourceCache(cfg.SourceCacheSize, cfg.SourceCacheTTL)

	// 9. Конвейер обработки архива
	validator := manifest.NewValidator(service.NewCatalogLookup(sourceRepo, ficheRepo, sourceCache))
	pipeline := service.NewPipeline(validator, committer, outcomeRepo, archive.Options{
		MaxDepth:     cfg.MaxNestingDepth,
		MaxEntrySize: cfg.MaxEntrySize,
	}, logger)

	// 10. Публикация событий (Kafka или no-op)
	publisher := events.New(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("Ошибка закрытия публикатора событий", slog.String("error", err.Error()))
		}
	}()

	// 11. Сервис загрузок; обработки, прерванные остановкой, закрываются как failed
	ingestSvc := service.NewIngestService(
		uploadRepo, ficheRepo, documentRepo, outcomeRepo,
		store, journal, pipeline, publisher,
		cfg.MaxArchiveSize,
		logger,
	)
	stale, err := ingestSvc.RecoverStale(ctx)
	if err != nil {
		logger.Error("Ошибка восстановления прерванных обработок", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if stale > 0 {
		logger.Warn("Прерванные обработки переведены в failed", slog.Int("count", stale))
	}

	// 12. topologymetrics — мониторинг зависимостей (PostgreSQL + JWKS)
	var deps handlers.DependencyHealth
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthParams{
		ServiceID:     serviceID,
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PGConnURL:     cfg.DatabaseURL(),
		JWKSURL:       cfg.JWTJWKSURL,
		TLSSkipVerify: cfg.TLSSkipVerify,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	} else {
		deps = dephealthSvc
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 13. API handlers
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), deps)
	apiHandler := handlers.NewAPIHandler(healthHandler, ingestSvc, cfg.RolePrivilegedRoles, cfg.MaxArchiveSize, logger)

	// 14. Аутентификация: JWT по JWKS или статический субъект разработки
	var authMW func(http.Handler) http.Handler
	if cfg.AuthEnabled() {
		jwtAuth, err := middleware.NewJWTAuth(
			cfg.JWTJWKSURL,
			cfg.CACertPath,
			cfg.TLSSkipVerify,
			cfg.JWTIssuer,
			cfg.JWKSClientTimeout,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		authMW = jwtAuth.Middleware()
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		authMW = middleware.DevAuth(cfg.DevSubject, cfg.RoleManagerRoles)
		logger.Warn("IM_JWT_JWKS_URL не задан, аутентификация отключена",
			slog.String("subject", cfg.DevSubject),
		)
	}

	// 15. HTTP-сервер: метрики и логирование для всех запросов,
	// аутентификация и роли — кроме health и metrics
	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
		server.WithExclusions(authMW, handlers.HealthPrefix, handlers.MetricsPrefix),
		server.WithExclusions(middleware.RequireAnyRole(cfg.RoleManagerRoles...), handlers.HealthPrefix, handlers.MetricsPrefix),
	)

	// 16. Запуск сервера (блокирующий вызов с graceful shutdown)
	runErr := srv.Run()

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	if runErr != nil {
		logger.Error("Сервер завершился с ошибкой", slog.String("error", runErr.Error()))
		os.Exit(1) //nolint:gocritic // ресурсы освобождает ОС
	}

	logger.Info("Intake Module остановлен")
}
