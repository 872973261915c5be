// orphan_gc.go — фоновая очистка изображений, на которые не ссылается ни одна запись.
//
// Изображение удаляется, если:
//  1. ни одна запись коллекции не ссылается на него в userImage
//  2. файл старше MinAge (защита загрузок, ссылка на которые ещё не записана)
//
// Запускается как горутина с периодическим тикером (US_ORPHAN_GC_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/userstore/internal/domain/model"
	"github.com/bigkaa/userstore/internal/storage/assetstore"
)

// Prometheus метрики очистки
var (
	// orphanGCRunsTotal — количество запусков очистки.
	orphanGCRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "us_orphan_gc_runs_total",
		Help: "Общее количество запусков очистки неиспользуемых изображений",
	})

	// orphanGCDeletedTotal — количество удалённых изображений.
	orphanGCDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "us_orphan_gc_files_deleted_total",
		Help: "Общее количество изображений, удалённых очисткой",
	})

	// orphanGCDurationSeconds — длительность выполнения очистки.
	orphanGCDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "us_orphan_gc_duration_seconds",
		Help:    "Длительность очистки неиспользуемых изображений в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// OrphanAssets — перечисление и удаление изображений.
type OrphanAssets interface {
	List() ([]assetstore.AssetInfo, error)
	Delete(name string) error
}

// RecordLister — чтение всей коллекции.
type RecordLister interface {
	GetAll(ctx context.Context) ([]model.User, error)
}

// OrphanGCResult — результат одного запуска очистки.
type OrphanGCResult struct {
	// Scanned — количество просмотренных файлов
	Scanned int
	// DeletedCount — количество удалённых файлов
	DeletedCount int
	// Errors — количество ошибок удаления
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// OrphanSweeper — сервис очистки неиспользуемых изображений.
type OrphanSweeper struct {
	assets   OrphanAssets
	records  RecordLister
	interval time.Duration
	minAge   time.Duration
	onDelete func(name string)
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOrphanSweeper создаёт сервис очистки.
// onDelete (может быть nil) вызывается для каждого удалённого файла.
func NewOrphanSweeper(
	assets OrphanAssets,
	records RecordLister,
	interval time.Duration,
	minAge time.Duration,
	onDelete func(name string),
	logger *slog.Logger,
) *OrphanSweeper {
	return &OrphanSweeper{
		assets:   assets,
		records:  records,
		interval: interval,
		minAge:   minAge,
		onDelete: onDelete,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "orphan_gc")),
	}
}

// Start запускает фоновую горутину очистки.
// Вызывается один раз при старте приложения.
func (gc *OrphanSweeper) Start(ctx context.Context) {
	gcCtx, cancel := context.WithCancel(ctx)
	gc.cancel = cancel
	gc.done = make(chan struct{})

	go gc.run(gcCtx)

	gc.logger.Info("Очистка изображений запущена",
		slog.String("interval", gc.interval.String()),
		slog.String("min_age", gc.minAge.String()),
	)
}

// Stop останавливает фоновую очистку и дожидается завершения текущего запуска.
func (gc *OrphanSweeper) Stop() {
	if gc.cancel == nil {
		return
	}
	gc.cancel()
	<-gc.done
	gc.logger.Info("Очистка изображений остановлена")
}

// run — основной цикл фоновой горутины.
func (gc *OrphanSweeper) run(ctx context.Context) {
	defer close(gc.done)

	ticker := time.NewTicker(gc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := gc.RunOnce(ctx); err != nil && ctx.Err() == nil {
				gc.logger.Error("Очистка изображений прервана", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce выполняет один цикл очистки.
// Если коллекцию не удалось прочитать, ничего не удаляется.
func (gc *OrphanSweeper) RunOnce(ctx context.Context) (*OrphanGCResult, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	start := gc.now()
	result := &OrphanGCResult{}

	// Файлы перечисляются до чтения коллекции: изображение, загруженное
	// после чтения, либо отсутствует в списке, либо моложе minAge.
	files, err := gc.assets.List()
	if err != nil {
		return nil, err
	}

	users, err := gc.records.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	referenced := make(map[string]struct{}, len(users))
	for _, u := range users {
		if u.UserImage != nil {
			referenced[*u.UserImage] = struct{}{}
		}
	}

	for _, f := range files {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result.Scanned++

		if _, ok := referenced[f.Name]; ok {
			continue
		}
		if start.Sub(f.ModTime) < gc.minAge {
			continue
		}

		if err := gc.assets.Delete(f.Name); err != nil {
			gc.logger.Error("Ошибка удаления изображения",
				slog.String("filename", f.Name),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		if gc.onDelete != nil {
			gc.onDelete(f.Name)
		}

		gc.logger.Debug("Изображение удалено", slog.String("filename", f.Name))
		result.DeletedCount++
	}

	result.Duration = gc.now().Sub(start)

	orphanGCRunsTotal.Inc()
	orphanGCDeletedTotal.Add(float64(result.DeletedCount))
	orphanGCDurationSeconds.Observe(result.Duration.Seconds())

	gc.logger.Info("Очистка изображений завершена",
		slog.Int("scanned", result.Scanned),
		slog.Int("deleted", result.DeletedCount),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result, nil
}
