// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"net/http"
	"os"
	"time"

	"github.com/bigkaa/userstore/internal/config"
	"github.com/bigkaa/userstore/internal/storage/recordstore"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// UploadChecker — проверка доступности директории загрузок на запись.
type UploadChecker interface {
	CheckWritable() error
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// dataFile — путь к файлу данных (проверка чтения и разбора)
	dataFile string
	// uploads — хранилище изображений (проверка записи)
	uploads UploadChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(dataFile string, uploads UploadChecker) *HealthHandler {
	return &HealthHandler{
		version:  config.Version,
		dataFile: dataFile,
		uploads:  uploads,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "userstore",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: файл данных читается и разбирается, директория загрузок доступна на запись.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	dataCheck := h.checkDataFile()
	uploadCheck := h.checkUploadDir()
	if dataCheck["status"] != "ok" || uploadCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "userstore",
		"checks": map[string]any{
			"data_file":  dataCheck,
			"upload_dir": uploadCheck,
		},
	})
}

// checkDataFile проверяет, что файл данных читается и содержит JSON-массив.
func (h *HealthHandler) checkDataFile() map[string]any {
	data, err := os.ReadFile(h.dataFile)
	if err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Файл данных недоступен: " + err.Error(),
		}
	}

	users, err := recordstore.Decode(data)
	if err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Файл данных повреждён: " + err.Error(),
		}
	}

	return map[string]any{
		"status": "ok",
		"count":  len(users),
	}
}

// checkUploadDir проверяет доступность директории загрузок на запись.
func (h *HealthHandler) checkUploadDir() map[string]any {
	if err := h.uploads.CheckWritable(); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Директория загрузок недоступна для записи: " + err.Error(),
		}
	}

	return map[string]any{
		"status": "ok",
	}
}
