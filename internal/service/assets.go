// assets.go — сервис выдачи загруженных изображений.
package service

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apierrors "github.com/bigkaa/userstore/internal/api/errors"
	"github.com/bigkaa/userstore/internal/storage/assetstore"
)

// Prometheus метрики кэша ETag
var (
	etagCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "us_etag_cache_hits_total",
		Help: "Количество попаданий в кэш ETag изображений",
	})

	etagCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "us_etag_cache_misses_total",
		Help: "Количество промахов кэша ETag изображений",
	})
)

// AssetReader — чтение загруженных изображений.
type AssetReader interface {
	Open(name string) (*os.File, error)
}

// AssetError — ошибка выдачи изображения с HTTP-кодом.
type AssetError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AssetService — сервис выдачи изображений.
// Файлы изображений неизменяемы, поэтому SHA-256 для ETag
// кэшируется по имени файла.
type AssetService struct {
	assets AssetReader
	etags  *expirable.LRU[string, string]
	logger *slog.Logger
}

// NewAssetService создаёт сервис выдачи изображений.
// cacheSize и cacheTTL — параметры LRU-кэша ETag.
func NewAssetService(assets AssetReader, cacheSize int, cacheTTL time.Duration, logger *slog.Logger) *AssetService {
	return &AssetService{
		assets: assets,
		etags:  expirable.NewLRU[string, string](cacheSize, nil, cacheTTL),
		logger: logger.With(slog.String("component", "asset_service")),
	}
}

// Serve отдаёт изображение клиенту через http.ServeContent.
// Поддерживает Range requests и ETag (If-None-Match).
func (s *AssetService) Serve(w http.ResponseWriter, r *http.Request, name string) *AssetError {
	file, err := s.assets.Open(name)
	if err != nil {
		if errors.Is(err, assetstore.ErrInvalidName) || errors.Is(err, assetstore.ErrNotFound) {
			return &AssetError{
				StatusCode: http.StatusNotFound,
				Code:       apierrors.CodeNotFound,
				Message:    fmt.Sprintf("Файл %s не найден", name),
			}
		}
		s.logger.Error("Ошибка открытия изображения",
			slog.String("filename", name),
			slog.String("error", err.Error()),
		)
		return &AssetError{
			StatusCode: http.StatusInternalServerError,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка чтения файла",
		}
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		s.logger.Error("Ошибка получения stat изображения",
			slog.String("filename", name),
			slog.String("error", err.Error()),
		)
		return &AssetError{
			StatusCode: http.StatusInternalServerError,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка чтения файла",
		}
	}

	etag, err := s.etag(name, file)
	if err != nil {
		s.logger.Error("Ошибка вычисления checksum изображения",
			slog.String("filename", name),
			slog.String("error", err.Error()),
		)
		return &AssetError{
			StatusCode: http.StatusInternalServerError,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка чтения файла",
		}
	}

	w.Header().Set("ETag", fmt.Sprintf("\"%s\"", etag))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")

	// http.ServeContent обрабатывает Range, If-None-Match, If-Modified-Since
	http.ServeContent(w, r, name, stat.ModTime(), file)
	return nil
}

// etag возвращает SHA-256 файла из кэша или вычисляет его.
// После вычисления позиция чтения возвращается в начало файла.
func (s *AssetService) etag(name string, file io.ReadSeeker) (string, error) {
	if sum, ok := s.etags.Get(name); ok {
		etagCacheHits.Inc()
		return sum, nil
	}
	etagCacheMisses.Inc()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	s.etags.Add(name, sum)
	return sum, nil
}

// Forget удаляет имя из кэша ETag (используется очисткой при удалении файла).
func (s *AssetService) Forget(name string) {
	s.etags.Remove(name)
}
