// Точка входа сервиса пользователей — хранение записей в JSON-файле
// и загруженных изображений в директории.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bigkaa/userstore/internal/api/handlers"
	"github.com/bigkaa/userstore/internal/api/middleware"
	"github.com/bigkaa/userstore/internal/config"
	"github.com/bigkaa/userstore/internal/server"
	"github.com/bigkaa/userstore/internal/service"
	"github.com/bigkaa/userstore/internal/storage/assetstore"
	"github.com/bigkaa/userstore/internal/storage/recordstore"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Сервис пользователей запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("data_file", cfg.DataFile),
		slog.String("upload_dir", cfg.UploadDir),
		slog.String("id_policy", string(cfg.IDPolicy)),
		slog.Bool("file_lock", cfg.FileLock),
	)

	ctx := context.Background()

	// --- Инициализация компонентов ---

	// 1. Хранилище записей
	records := recordstore.New(cfg.DataFile, recordstore.Options{
		IDPolicy: cfg.IDPolicy,
		FileLock: cfg.FileLock,
	}, logger)

	report, err := records.Init(ctx)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища записей", slog.String("error", err.Error()))
		os.Exit(1)
	}
	middleware.UsersTotal.Set(float64(report.Count))
	logger.Info("Хранилище записей готово",
		slog.Bool("created", report.Created),
		slog.Int("count", report.Count),
	)

	// 2. Хранилище изображений
	assets, err := assetstore.New(cfg.UploadDir, cfg.UploadField)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища изображений", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Хранилище изображений готово",
		slog.String("dir", assets.Dir()),
		slog.String("field", assets.FieldTag()),
	)

	// 3. Сервисы
	userSvc := service.NewUserService(records, assets, logger)
	assetSvc := service.NewAssetService(assets, cfg.ETagCacheSize, cfg.ETagCacheTTL, logger)

	// 4. Фоновая очистка изображений (выключена при интервале 0)
	var sweeper *service.OrphanSweeper
	if cfg.OrphanGCInterval > 0 {
		sweeper = service.NewOrphanSweeper(assets, records, cfg.OrphanGCInterval, cfg.OrphanGCMinAge, assetSvc.Forget, logger)
		sweeper.Start(ctx)
	}

	// 5. Handlers
	h := server.Handlers{
		Users:  handlers.NewUsersHandler(userSvc, assets.FieldTag(), cfg.MaxUploadSize),
		Assets: handlers.NewAssetsHandler(assetSvc),
		Health: handlers.NewHealthHandler(cfg.DataFile, assets),
	}

	// 6. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, h)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	if sweeper != nil {
		sweeper.Stop()
	}

	logger.Info("Сервис пользователей остановлен")
}
