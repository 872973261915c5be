// Пакет config — загрузка и валидация конфигурации сервиса пользователей
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bigkaa/userstore/internal/storage/recordstore"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Путь к файлу данных (JSON-массив пользователей)
	DataFile string
	// Путь к директории загруженных изображений
	UploadDir string
	// Имя поля multipart-формы с изображением, оно же префикс имени файла
	UploadField string
	// Максимальный размер тела запроса с загрузкой в байтах
	MaxUploadSize int64
	// Политика назначения id новых записей (size, max)
	IDPolicy recordstore.IDPolicy
	// Использовать flock для сериализации записи между процессами
	FileLock bool
	// Размер LRU-кэша ETag изображений
	ETagCacheSize int
	// TTL записи LRU-кэша ETag
	ETagCacheTTL time.Duration
	// Интервал очистки неиспользуемых изображений (0 — выключено)
	OrphanGCInterval time.Duration
	// Минимальный возраст изображения перед удалением очисткой
	OrphanGCMinAge time.Duration
	// Путь к TLS сертификату (опционально)
	TLSCert string
	// Путь к TLS приватному ключу (опционально)
	TLSKey string
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// значения и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// US_PORT — порт HTTP-сервера (по умолчанию 3001)
	port, err := getEnvInt("US_PORT", 3001)
	if err != nil {
		return nil, fmt.Errorf("US_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("US_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	// US_DATA_FILE — файл данных (по умолчанию users.json)
	cfg.DataFile = getEnvDefault("US_DATA_FILE", "users.json")

	// US_UPLOAD_DIR — директория загрузок (по умолчанию uploads)
	cfg.UploadDir = getEnvDefault("US_UPLOAD_DIR", "uploads")

	// US_UPLOAD_FIELD — имя поля формы с изображением (по умолчанию userImage)
	cfg.UploadField = getEnvDefault("US_UPLOAD_FIELD", "userImage")
	if strings.ContainsAny(cfg.UploadField, `/\.`) {
		return nil, fmt.Errorf("US_UPLOAD_FIELD: недопустимое значение %q", cfg.UploadField)
	}

	// US_MAX_UPLOAD_SIZE — максимальный размер загрузки (по умолчанию 10 MB)
	maxUpload, err := getEnvInt64("US_MAX_UPLOAD_SIZE", 10<<20)
	if err != nil {
		return nil, fmt.Errorf("US_MAX_UPLOAD_SIZE: %w", err)
	}
	if maxUpload <= 0 {
		return nil, fmt.Errorf("US_MAX_UPLOAD_SIZE: значение должно быть положительным")
	}
	cfg.MaxUploadSize = maxUpload

	// US_ID_POLICY — политика назначения id (по умолчанию size)
	cfg.IDPolicy, err = recordstore.ParseIDPolicy(getEnvDefault("US_ID_POLICY", string(recordstore.IDPolicySize)))
	if err != nil {
		return nil, fmt.Errorf("US_ID_POLICY: %w", err)
	}

	// US_FILE_LOCK — flock между процессами (по умолчанию true)
	cfg.FileLock, err = getEnvBool("US_FILE_LOCK", true)
	if err != nil {
		return nil, fmt.Errorf("US_FILE_LOCK: %w", err)
	}

	// US_ETAG_CACHE_SIZE — размер кэша ETag (по умолчанию 1024)
	cfg.ETagCacheSize, err = getEnvInt("US_ETAG_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("US_ETAG_CACHE_SIZE: %w", err)
	}
	if cfg.ETagCacheSize <= 0 {
		return nil, fmt.Errorf("US_ETAG_CACHE_SIZE: значение должно быть положительным")
	}

	// US_ETAG_CACHE_TTL — TTL кэша ETag (по умолчанию 10m)
	cfg.ETagCacheTTL, err = getEnvDuration("US_ETAG_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("US_ETAG_CACHE_TTL: %w", err)
	}

	// US_ORPHAN_GC_INTERVAL — интервал очистки изображений (по умолчанию 0, выключено)
	cfg.OrphanGCInterval, err = getEnvDuration("US_ORPHAN_GC_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("US_ORPHAN_GC_INTERVAL: %w", err)
	}
	if cfg.OrphanGCInterval < 0 {
		return nil, fmt.Errorf("US_ORPHAN_GC_INTERVAL: значение не может быть отрицательным")
	}

	// US_ORPHAN_GC_MIN_AGE — минимальный возраст изображения (по умолчанию 1h).
	// Защищает только что загруженные файлы, ссылка на которые ещё не записана.
	cfg.OrphanGCMinAge, err = getEnvDuration("US_ORPHAN_GC_MIN_AGE", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("US_ORPHAN_GC_MIN_AGE: %w", err)
	}

	// US_TLS_CERT / US_TLS_KEY — задаются парой
	cfg.TLSCert = getEnvDefault("US_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("US_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("US_TLS_CERT и US_TLS_KEY должны задаваться вместе")
	}

	// US_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("US_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("US_LOG_LEVEL: %w", err)
	}

	// US_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("US_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("US_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// US_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("US_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("US_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
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

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
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

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
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

// getEnvBool возвращает bool значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (используйте true/false)", val)
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
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 10m, 1h)", val)
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
