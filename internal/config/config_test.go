package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// minimalEnvs возвращает минимальный набор обязательных переменных.
func minimalEnvs(t *testing.T) map[string]string {
	return map[string]string{
		"IM_DB_HOST":      "localhost",
		"IM_DB_NAME":      "intake",
		"IM_DB_USER":      "intake",
		"IM_DB_PASSWORD":  "secret",
		"IM_STORAGE_ROOT": t.TempDir(),
		// .env из рабочего каталога не должен влиять на тесты
		"IM_ENV_FILE": filepath.Join(t.TempDir(), "absent.env"),
	}
}

func TestLoad_MinimalConfig(t *testing.T) {
	envs := minimalEnvs(t)
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 8010 {
		t.Errorf("Port = %d, ожидается 8010", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидается Info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, ожидается json", cfg.LogFormat)
	}
	if cfg.DBPort != 5432 || cfg.DBSSLMode != "disable" {
		t.Errorf("DBPort/DBSSLMode = %d/%q", cfg.DBPort, cfg.DBSSLMode)
	}
	if cfg.WALDir != filepath.Join(envs["IM_STORAGE_ROOT"], ".wal") {
		t.Errorf("WALDir = %q, ожидается <root>/.wal", cfg.WALDir)
	}
	if cfg.MaxArchiveSize != 1<<30 {
		t.Errorf("MaxArchiveSize = %d, ожидается 1 GiB", cfg.MaxArchiveSize)
	}
	if cfg.MaxEntrySize != 256<<20 {
		t.Errorf("MaxEntrySize = %d, ожидается 256 MiB", cfg.MaxEntrySize)
	}
	if cfg.MaxNestingDepth != 8 {
		t.Errorf("MaxNestingDepth = %d, ожидается 8", cfg.MaxNestingDepth)
	}
	if cfg.SourceCacheSize != 256 || cfg.SourceCacheTTL != 5*time.Minute {
		t.Errorf("SourceCache = %d/%v", cfg.SourceCacheSize, cfg.SourceCacheTTL)
	}
	if len(cfg.KafkaBrokers) != 0 || cfg.KafkaTopic != "intake.uploads" {
		t.Errorf("Kafka = %v/%q", cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	if cfg.AuthEnabled() {
		t.Error("без IM_JWT_JWKS_URL аутентификация должна быть отключена")
	}
	if cfg.DevSubject != "dev" {
		t.Errorf("DevSubject = %q, ожидается dev", cfg.DevSubject)
	}
	if len(cfg.RoleManagerRoles) != 2 || cfg.RoleManagerRoles[1] != "superAdmin" {
		t.Errorf("RoleManagerRoles = %v", cfg.RoleManagerRoles)
	}
	if len(cfg.RolePrivilegedRoles) != 1 || cfg.RolePrivilegedRoles[0] != "superAdmin" {
		t.Errorf("RolePrivilegedRoles = %v", cfg.RolePrivilegedRoles)
	}
	if cfg.DephealthGroup != "intake" || cfg.DephealthCheckInterval != 15*time.Second {
		t.Errorf("Dephealth = %q/%v", cfg.DephealthGroup, cfg.DephealthCheckInterval)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, ожидается 5s", cfg.ShutdownTimeout)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setEnvs(t, minimalEnvs(t))
	setEnvs(t, map[string]string{
		"IM_PORT":               "9000",
		"IM_LOG_LEVEL":          "debug",
		"IM_LOG_FORMAT":         "text",
		"IM_MAX_ENTRY_SIZE":     "1048576",
		"IM_KAFKA_BROKERS":      "kafka-1:9092, kafka-2:9092",
		"IM_JWT_JWKS_URL":       "https://idp.example.org/certs",
		"IM_TLS_SKIP_VERIFY":    "true",
		"IM_ROLE_MANAGER_ROLES": "uploader",
		"IM_SOURCES":            "DGSN, DGSI",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	if cfg.Port != 9000 || cfg.LogLevel != slog.LevelDebug || cfg.LogFormat != "text" {
		t.Errorf("сервер: %d %v %q", cfg.Port, cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.MaxEntrySize != 1<<20 {
		t.Errorf("MaxEntrySize = %d", cfg.MaxEntrySize)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if !cfg.AuthEnabled() || !cfg.TLSSkipVerify {
		t.Error("ожидалась включённая аутентификация и TLSSkipVerify")
	}
	if len(cfg.RoleManagerRoles) != 1 || cfg.RoleManagerRoles[0] != "uploader" {
		t.Errorf("RoleManagerRoles = %v", cfg.RoleManagerRoles)
	}
	if len(cfg.SeedSources) != 2 || cfg.SeedSources[1] != "DGSI" {
		t.Errorf("SeedSources = %v", cfg.SeedSources)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"нет хоста БД", "IM_DB_HOST", ""},
		{"нет корня хранилища", "IM_STORAGE_ROOT", ""},
		{"порт не число", "IM_PORT", "abc"},
		{"порт вне диапазона", "IM_PORT", "70000"},
		{"неизвестный уровень", "IM_LOG_LEVEL", "trace"},
		{"неизвестный формат", "IM_LOG_FORMAT", "xml"},
		{"неизвестный sslmode", "IM_DB_SSL_MODE", "prefer"},
		{"нулевой лимит архива", "IM_MAX_ARCHIVE_SIZE", "0"},
		{"глубина вне диапазона", "IM_MAX_NESTING_DEPTH", "0"},
		{"некорректная длительность", "IM_SOURCE_CACHE_TTL", "5 минут"},
		{"некорректный bool", "IM_TLS_SKIP_VERIFY", "да"},
		{"пустой список ролей", "IM_ROLE_MANAGER_ROLES", " , "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnvs(t, minimalEnvs(t))
			t.Setenv(tt.key, tt.val)

			if _, err := Load(); err == nil {
				t.Errorf("ожидалась ошибка для %s=%q", tt.key, tt.val)
			}
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	envs := minimalEnvs(t)
	delete(envs, "IM_DB_PASSWORD")
	setEnvs(t, envs)
	// godotenv не трогает уже существующие переменные, даже пустые
	t.Setenv("IM_DB_PASSWORD", "")
	os.Unsetenv("IM_DB_PASSWORD") //nolint:errcheck

	envFile := filepath.Join(t.TempDir(), "test.env")
	content := "IM_DB_PASSWORD=from-file\nIM_DB_HOST=ignored\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatalf("ошибка записи .env: %v", err)
	}
	t.Setenv("IM_ENV_FILE", envFile)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	if cfg.DBPassword != "from-file" {
		t.Errorf("DBPassword = %q, ожидается значение из файла", cfg.DBPassword)
	}
	if cfg.DBHost != "localhost" {
		t.Errorf("DBHost = %q: переменная окружения должна побеждать файл", cfg.DBHost)
	}
}

func TestParseCSV(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"a, b ,c", 3},
		{" , ,", 0},
	}
	for _, tt := range tests {
		if got := parseCSV(tt.in); len(got) != tt.want {
			t.Errorf("parseCSV(%q) = %v, ожидалось %d элементов", tt.in, got, tt.want)
		}
	}
}
