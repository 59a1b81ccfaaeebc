package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"pose-tracker-go/internal/pose"
	"pose-tracker-go/internal/service"
	"pose-tracker-go/pkg/models"
)

// ParametersHandler параметры детектора и проверка состояния
type ParametersHandler struct {
	videoService *service.VideoService
	logger       *logrus.Logger
}

// NewParametersHandler создает новый экземпляр ParametersHandler
func NewParametersHandler(videoService *service.VideoService, logger *logrus.Logger) *ParametersHandler {
	return &ParametersHandler{
		videoService: videoService,
		logger:       logger,
	}
}

// RegisterRoutes регистрирует маршруты API
func (h *ParametersHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/parameters", h.GetParameters)
		api.POST("/parameters", h.UpdateParameters)
		api.GET("/health", h.CheckHealth)
	}
}

// GetParameters возвращает текущие параметры
func (h *ParametersHandler) GetParameters(c *gin.Context) {
	c.JSON(http.StatusOK, h.videoService.Parameters())
}

// UpdateParameters применяет частичное обновление. Неизвестные ключи отклоняются.
func (h *ParametersHandler) UpdateParameters(c *gin.Context) {
	var patch models.ParameterPatch
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		h.logger.Warnf("Некорректный запрос параметров: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid parameters: " + err.Error()})
		return
	}

	params, err := h.videoService.UpdateParameters(c.Request.Context(), patch)
	if err != nil {
		if errors.Is(err, pose.ErrInvalidParameters) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Errorf("Ошибка обновления параметров: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to apply parameters: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "params": params})
}

// CheckHealth проверяет состояние сервиса
func (h *ParametersHandler) CheckHealth(c *gin.Context) {
	health := h.videoService.CheckHealth(c.Request.Context())
	if !health.Healthy() {
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}
	c.JSON(http.StatusOK, health)
}
