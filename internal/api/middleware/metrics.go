// metrics.go — Prometheus метрики сервиса пользователей.
// HTTP метрики: us_http_requests_total, us_http_request_duration_seconds.
// Бизнес-метрики экспортируются для обновления из сервисного слоя.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "us_http_requests_total",
			Help: "Общее количество HTTP-запросов к сервису пользователей",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "us_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Бизнес-метрики (обновляются из сервисного слоя)
var (
	// UsersTotal — текущее количество записей в коллекции (gauge).
	UsersTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "us_users_total",
			Help: "Текущее количество записей пользователей",
		},
	)

	// OperationsTotal — общее количество операций с записями.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "us_operations_total",
			Help: "Общее количество операций с записями пользователей",
		},
		[]string{"operation", "result"},
	)

	// AssetBytesTotal — объём загруженных изображений.
	AssetBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "us_assets_bytes_total",
			Help: "Общий объём загруженных изображений в байтах",
		},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Путь в лейблах — шаблон маршрута chi (/api/v1/users/{id}),
// чтобы id и имена файлов не раздували кардинальность.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			path := routePattern(r)
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// routePattern возвращает шаблон маршрута chi или "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "unmatched"
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return "unmatched"
}
