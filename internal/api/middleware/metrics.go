// metrics.go — Prometheus-метрики модуля приёма архивов.
// HTTP-метрики собирает MetricsMiddleware, бизнес-метрики
// обновляются из сервисного слоя.
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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_http_requests_total",
			Help: "Общее количество HTTP-запросов к модулю приёма",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "im_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Бизнес-метрики (обновляются из сервисного слоя)
var (
	// UploadsIngestedTotal — приём архивов по результату (created, duplicate, rejected).
	UploadsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_uploads_ingested_total",
			Help: "Количество принятых архивов по результату",
		},
		[]string{"result"},
	)

	// RunsTotal — завершённые запуски обработки по итоговому статусу.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_processing_runs_total",
			Help: "Количество запусков обработки загрузок по итоговому статусу",
		},
		[]string{"status"},
	)

	// RunDuration — длительность обработки одной загрузки.
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "im_processing_run_duration_seconds",
			Help:    "Длительность обработки одной загрузки в секундах",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// ProductsTotal — продукты по исходу (committed, skipped, failed).
	ProductsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_products_total",
			Help: "Количество обработанных продуктов по исходу",
		},
		[]string{"result"},
	)

	// StoredBytesTotal — байты, записанные в хранилище.
	StoredBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "im_stored_bytes_total",
			Help: "Объём файлов, записанных в хранилище, в байтах",
		},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Путь в лейбле — шаблон маршрута chi (/api/v1/uploads/{id}), чтобы
// UUID в пути не раздували кардинальность.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			path := routePattern(r)
			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// routePattern возвращает шаблон маршрута или "unmatched".
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
