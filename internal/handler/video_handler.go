package handler

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"pose-tracker-go/internal/service"
)

// VideoHandler обрабатывает HTTP запросы для работы с видео
type VideoHandler struct {
	videoService   *service.VideoService
	maxUploadBytes int64
	logger         *logrus.Logger
}

// NewVideoHandler создает новый экземпляр VideoHandler
func NewVideoHandler(videoService *service.VideoService, maxUploadBytes int64, logger *logrus.Logger) *VideoHandler {
	return &VideoHandler{
		videoService:   videoService,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// RegisterRoutes регистрирует маршруты API
func (h *VideoHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/videos", h.UploadVideo)
		api.GET("/videos", h.ListVideos)
		api.GET("/videos/:id", h.GetVideo)
		api.DELETE("/videos/:id", h.DeleteVideo)
		api.GET("/videos/:id/progress", h.GetProgress)
		api.POST("/videos/:id/reprocess", h.ReprocessVideo)
		api.POST("/videos/:id/cancel", h.CancelVideo)
		api.GET("/videos/:id/analysis", h.GetAnalysis)
		api.GET("/videos/:id/original", h.GetOriginal)
		api.GET("/videos/:id/processed", h.GetProcessed)
	}
}

// UploadVideo принимает видео и запускает обработку
func (h *VideoHandler) UploadVideo(c *gin.Context) {
	h.logger.Info("Получен запрос на загрузку видео")

	if h.maxUploadBytes > 0 {
		if c.Request.ContentLength > h.maxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	header, err := c.FormFile("video")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		h.logger.Errorf("Ошибка получения видео файла: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "video file is required"})
		return
	}

	file, err := header.Open()
	if err != nil {
		h.logger.Errorf("Ошибка чтения видео файла: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read video file"})
		return
	}
	defer file.Close()

	resp, err := h.videoService.Upload(header.Filename, file)
	if err != nil {
		if errors.Is(err, service.ErrUnsupportedFormat) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file type, allowed: mp4, avi, mov, mkv"})
			return
		}
		h.logger.Errorf("Ошибка загрузки видео: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store video"})
		return
	}

	h.logger.Infof("Видео %s принято в обработку", resp.VideoID)
	c.JSON(http.StatusAccepted, resp)
}

// ListVideos возвращает список видео с пагинацией
func (h *VideoHandler) ListVideos(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}

	size, err := strconv.Atoi(c.DefaultQuery("size", "20"))
	if err != nil || size < 1 || size > 100 {
		size = 20
	}

	resp, err := h.videoService.List(page, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list videos"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetVideo возвращает видео по ID
func (h *VideoHandler) GetVideo(c *gin.Context) {
	video, err := h.videoService.GetVideo(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, video)
}

// GetProgress возвращает прогресс обработки
func (h *VideoHandler) GetProgress(c *gin.Context) {
	p, err := h.videoService.GetProgress(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// ReprocessVideo запускает повторную обработку с текущими параметрами
func (h *VideoHandler) ReprocessVideo(c *gin.Context) {
	resp, err := h.videoService.Reprocess(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

// CancelVideo прерывает обработку
func (h *VideoHandler) CancelVideo(c *gin.Context) {
	if err := h.videoService.Cancel(c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "processing canceled"})
}

// DeleteVideo удаляет видео по ID
func (h *VideoHandler) DeleteVideo(c *gin.Context) {
	id := c.Param("id")
	h.logger.Infof("Получен запрос на удаление видео %s", id)

	if err := h.videoService.Delete(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "video deleted"})
}

// GetAnalysis возвращает сводку по позам
func (h *VideoHandler) GetAnalysis(c *gin.Context) {
	analysis, err := h.videoService.Analyze(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

// GetOriginal отдает исходное видео
func (h *VideoHandler) GetOriginal(c *gin.Context) {
	path, err := h.videoService.OriginalPath(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.serveVideo(c, path)
}

// GetProcessed отдает размеченное видео
func (h *VideoHandler) GetProcessed(c *gin.Context) {
	path, err := h.videoService.ProcessedPath(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.serveVideo(c, path)
}

func (h *VideoHandler) serveVideo(c *gin.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "video file not found"})
		return
	}
	c.Header("Content-Type", "video/mp4")
	c.File(path)
}

// respondError переводит ошибки сервиса в HTTP статусы
func (h *VideoHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrVideoNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
	case errors.Is(err, service.ErrNoActiveJob):
		c.JSON(http.StatusNotFound, gin.H{"error": "no active processing for this video"})
	case errors.Is(err, service.ErrVideoBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "video is already being processed"})
	case errors.Is(err, service.ErrVideoNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": "video processing not completed"})
	default:
		h.logger.Errorf("Ошибка обработки запроса: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
