// Пакет config — загрузка и валидация конфигурации модуля приёма
// архивов из переменных окружения (и необязательного .env-файла).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации модуля.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Хранилище ---

	// Корень хранилища: все поля path записей отсчитываются от него
	StorageRoot string
	// Каталог журнала файловых операций
	WALDir string
	// Максимальный размер загружаемого архива
	MaxArchiveSize int64
	// Максимальный распакованный размер одного элемента ZIP
	MaxEntrySize int64
	// Максимальная глубина вложенных архивов
	MaxNestingDepth int

	// --- Кэш источников ---

	SourceCacheSize int
	SourceCacheTTL  time.Duration
	// Источники, регистрируемые при старте, если их ещё нет в справочнике
	SeedSources []string

	// --- Kafka ---

	// Брокеры Kafka; пустой список отключает публикацию событий
	KafkaBrokers []string
	KafkaTopic   string

	// --- JWT ---

	// URL JWKS endpoint; пустое значение отключает JWT-аутентификацию
	JWTJWKSURL string
	// Ожидаемый issuer (пусто — не проверяется)
	JWTIssuer           string
	JWTLeeway           time.Duration
	JWKSRefreshInterval time.Duration
	JWKSClientTimeout   time.Duration
	TLSSkipVerify       bool
	CACertPath          string

	// --- Роли ---

	// Роли, которым разрешено управлять загрузками
	RoleManagerRoles []string
	// Роли, которым доступны загрузки всех пользователей
	RolePrivilegedRoles []string
	// Субъект, от имени которого выполняются запросы без аутентификации
	DevSubject string

	// --- Topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
// Перед чтением переменных загружается .env-файл (IM_ENV_FILE), если он есть;
// уже заданные переменные окружения не перезаписываются.
func Load() (*Config, error) {
	if err := loadEnvFile(getEnvDefault("IM_ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}
	var err error

	// --- Сервер ---

	// IM_PORT — порт HTTP-сервера (по умолчанию 8010)
	cfg.Port, err = getEnvInt("IM_PORT", 8010)
	if err != nil {
		return nil, fmt.Errorf("IM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("IM_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("IM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("IM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("IM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("IM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("IM_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("IM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("IM_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("IM_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("IM_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("IM_DB_PASSWORD"); err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("IM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("IM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Хранилище ---

	// IM_STORAGE_ROOT — обязательный
	root, err := getEnvRequired("IM_STORAGE_ROOT")
	if err != nil {
		return nil, err
	}
	cfg.StorageRoot = filepath.Clean(root)

	// IM_WAL_DIR — по умолчанию <root>/.wal
	cfg.WALDir = getEnvDefault("IM_WAL_DIR", filepath.Join(cfg.StorageRoot, ".wal"))

	cfg.MaxArchiveSize, err = getEnvInt64("IM_MAX_ARCHIVE_SIZE", 1<<30)
	if err != nil {
		return nil, fmt.Errorf("IM_MAX_ARCHIVE_SIZE: %w", err)
	}
	if cfg.MaxArchiveSize <= 0 {
		return nil, fmt.Errorf("IM_MAX_ARCHIVE_SIZE: значение должно быть положительным")
	}

	cfg.MaxEntrySize, err = getEnvInt64("IM_MAX_ENTRY_SIZE", 256<<20)
	if err != nil {
		return nil, fmt.Errorf("IM_MAX_ENTRY_SIZE: %w", err)
	}
	if cfg.MaxEntrySize <= 0 {
		return nil, fmt.Errorf("IM_MAX_ENTRY_SIZE: значение должно быть положительным")
	}

	cfg.MaxNestingDepth, err = getEnvInt("IM_MAX_NESTING_DEPTH", 8)
	if err != nil {
		return nil, fmt.Errorf("IM_MAX_NESTING_DEPTH: %w", err)
	}
	if cfg.MaxNestingDepth < 1 || cfg.MaxNestingDepth > 64 {
		return nil, fmt.Errorf("IM_MAX_NESTING_DEPTH: значение %d вне допустимого диапазона 1-64", cfg.MaxNestingDepth)
	}

	// --- Кэш источников ---

	cfg.SourceCacheSize, err = getEnvInt("IM_SOURCE_CACHE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("IM_SOURCE_CACHE_SIZE: %w", err)
	}
	if cfg.SourceCacheSize < 1 {
		return nil, fmt.Errorf("IM_SOURCE_CACHE_SIZE: значение должно быть положительным")
	}
	cfg.SourceCacheTTL, err = getEnvDuration("IM_SOURCE_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("IM_SOURCE_CACHE_TTL: %w", err)
	}
	cfg.SeedSources = parseCSV(getEnvDefault("IM_SOURCES", ""))

	// --- Kafka ---

	cfg.KafkaBrokers = parseCSV(getEnvDefault("IM_KAFKA_BROKERS", ""))
	cfg.KafkaTopic = getEnvDefault("IM_KAFKA_TOPIC", "intake.uploads")

	// --- JWT ---

	cfg.JWTJWKSURL = strings.TrimSpace(getEnvDefault("IM_JWT_JWKS_URL", ""))
	cfg.JWTIssuer = getEnvDefault("IM_JWT_ISSUER", "")

	cfg.JWTLeeway, err = getEnvDuration("IM_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_JWT_LEEWAY: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("IM_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("IM_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWKSClientTimeout, err = getEnvDuration("IM_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.TLSSkipVerify, err = getEnvBool("IM_TLS_SKIP_VERIFY", false)
	if err != nil {
		return nil, fmt.Errorf("IM_TLS_SKIP_VERIFY: %w", err)
	}
	cfg.CACertPath = getEnvDefault("IM_CA_CERT_PATH", "")

	// --- Роли ---

	cfg.RoleManagerRoles = parseCSV(getEnvDefault("IM_ROLE_MANAGER_ROLES", "admin,superAdmin"))
	cfg.RolePrivilegedRoles = parseCSV(getEnvDefault("IM_ROLE_PRIVILEGED_ROLES", "superAdmin"))
	if len(cfg.RoleManagerRoles) == 0 {
		return nil, fmt.Errorf("IM_ROLE_MANAGER_ROLES: нужна хотя бы одна роль")
	}
	cfg.DevSubject = getEnvDefault("IM_DEV_SUBJECT", "dev")

	// --- Topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("IM_DEPHEALTH_GROUP", "intake")
	cfg.DephealthCheckInterval, err = getEnvDuration("IM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("IM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// AuthEnabled сообщает, включена ли JWT-аутентификация.
func (c *Config) AuthEnabled() bool {
	return c.JWTJWKSURL != ""
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL для topologymetrics (без пароля).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// loadEnvFile загружает .env-файл. Отсутствие файла не ошибка.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("IM_ENV_FILE: ошибка чтения %s: %w", path, err)
	}
	return nil
}

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
