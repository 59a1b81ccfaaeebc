package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"pose-tracker-go/internal/client"
	"pose-tracker-go/internal/config"
	"pose-tracker-go/internal/database"
	"pose-tracker-go/internal/handler"
	"pose-tracker-go/internal/pipeline"
	"pose-tracker-go/internal/progress"
	"pose-tracker-go/internal/repository"
	"pose-tracker-go/internal/service"
	"pose-tracker-go/internal/video"
)

// shutdownTimeout сколько ждать завершения запросов и обработок при остановке
const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.LoadConfig()

	// Инициализируем логгер
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.Info("Запуск Pose Tracker API Server")

	params, err := config.LoadParameters(cfg.ParamsFile)
	if err != nil {
		logger.Fatalf("Ошибка загрузки параметров: %v", err)
	}

	// Хранилище
	repo, db, storageHealth, err := openStorage(cfg, logger)
	if err != nil {
		logger.Fatalf("Ошибка инициализации хранилища: %v", err)
	}

	// Детектор и конвейер
	factory, err := client.NewFactory(cfg.Detector, logger)
	if err != nil {
		logger.Fatalf("Ошибка настройки детектора: %v", err)
	}

	p := pipeline.New(pipeline.Config{
		OpenReader:        video.OpenCapture,
		OpenWriter:        video.OpenWriter,
		Annotator:         video.NewAnnotator(),
		Codecs:            cfg.Pipeline.Codecs,
		ProgressInterval:  cfg.Pipeline.ProgressInterval,
		MaxDetectorErrors: cfg.Pipeline.MaxDetectorErrors,
	}, logger)

	processor, err := pipeline.NewProcessor(p, factory, params, logger)
	if err != nil {
		logger.Fatalf("Ошибка создания детектора: %v", err)
	}

	// Инициализируем сервисы
	videoService := service.NewVideoService(repo, processor, progress.NewRegistry(), service.Options{
		UploadDir:     cfg.Storage.UploadDir,
		ProcessedDir:  cfg.Storage.ProcessedDir,
		StorageHealth: storageHealth,
	}, logger)

	// Инициализируем обработчики
	videoHandler := handler.NewVideoHandler(videoService, cfg.MaxUploadBytes(), logger)
	parametersHandler := handler.NewParametersHandler(videoService, logger)

	// Настраиваем Gin router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(handler.CORS())

	videoHandler.RegisterRoutes(router)
	parametersHandler.RegisterRoutes(router)

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Pose Tracker API Server",
			"version": "1.0.0",
			"status":  "running",
		})
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Infof("Сервер запущен на %s", srv.Addr)
		logger.Infof("API доступно по адресу: http://localhost:%d/api/v1", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Ошибка запуска сервера: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Остановка сервера...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Ошибка остановки HTTP сервера: %v", err)
	}
	if err := videoService.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Обработки не завершились вовремя: %v", err)
	}
	if err := processor.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Детектор не закрыт: %v", err)
	}
	if db != nil {
		if err := database.Close(db); err != nil {
			logger.Warnf("Ошибка закрытия базы данных: %v", err)
		}
	}
	logger.Info("Сервер остановлен")
}

// openStorage подключает PostgreSQL или хранилище в памяти по STORAGE_BACKEND
func openStorage(cfg *config.Config, logger *logrus.Logger) (repository.VideoRepository, *gorm.DB, func() error, error) {
	switch cfg.Storage.Backend {
	case "memory":
		logger.Warn("Используется хранилище в памяти, данные не переживут перезапуск")
		return repository.NewMemoryRepository(), nil, nil, nil
	case "postgres":
	default:
		return nil, nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	logger.Info("Подключение к базе данных...")
	db, err := database.Connect(cfg.Database, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	logger.Info("Выполнение миграций базы данных...")
	if err := database.Migrate(db, logger); err != nil {
		return nil, nil, nil, err
	}

	if err := database.HealthCheck(db); err != nil {
		return nil, nil, nil, fmt.Errorf("database unavailable: %w", err)
	}
	logger.Info("База данных успешно подключена и готова к работе")

	health := func() error { return database.HealthCheck(db) }
	return repository.NewVideoRepository(db), db, health, nil
}
