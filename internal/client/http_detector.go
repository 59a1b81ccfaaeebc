package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pose-tracker-go/internal/pipeline"
	"pose-tracker-go/pkg/models"
)

// closeTimeout сколько ждать закрытия сессии на стороне детектора
const closeTimeout = 5 * time.Second

// HTTPDetector клиент детектора позы по HTTP
type HTTPDetector struct {
	baseURL    string
	sessionID  string
	opts       models.DetectorOptions
	quality    int
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewHTTPDetector создает клиент с новой сессией
func NewHTTPDetector(cfg Config, opts models.DetectorOptions, logger *logrus.Logger) *HTTPDetector {
	return &HTTPDetector{
		baseURL:   cfg.BaseURL,
		sessionID: uuid.NewString(),
		opts:      opts,
		quality:   jpegQuality(cfg.JPEGQuality),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// SessionID идентификатор сессии трекинга
func (c *HTTPDetector) SessionID() string { return c.sessionID }

// Detect отправляет кадр детектору; nil без ошибки означает, что поза не найдена
func (c *HTTPDetector) Detect(ctx context.Context, frame pipeline.Frame) ([]models.Landmark, error) {
	image, err := frame.JPEG(c.quality)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("frame", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("create frame field: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("write frame: %w", err)
	}

	fields := []struct{ key, value string }{
		{"session_id", c.sessionID},
		{"min_detection_confidence", strconv.FormatFloat(c.opts.MinDetectionConfidence, 'f', -1, 64)},
		{"min_tracking_confidence", strconv.FormatFloat(c.opts.MinTrackingConfidence, 'f', -1, 64)},
		{"model_complexity", strconv.Itoa(c.opts.ModelComplexity)},
	}
	for _, f := range fields {
		if err := writer.WriteField(f.key, f.value); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.key, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	url := fmt.Sprintf("%s/detect", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp models.DetectorResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	if resp.Status == "error" {
		return nil, fmt.Errorf("%w: %s", ErrDetector, resp.Message)
	}
	if len(resp.Landmarks) == 0 {
		return nil, nil
	}
	return resp.Landmarks, nil
}

// CheckHealth проверяет состояние детектора
func (c *HTTPDetector) CheckHealth(ctx context.Context) (*models.HealthResponse, error) {
	c.logger.Debug("Проверка состояния детектора")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/health", c.baseURL), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	var health models.HealthResponse
	if err := c.do(req, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Close закрывает сессию на стороне детектора; ошибки только логируются
func (c *HTTPDetector) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/sessions/%s", c.baseURL, c.sessionID), nil)
	if err != nil {
		return nil
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warnf("Не удалось закрыть сессию детектора %s: %v", c.sessionID, err)
		return nil
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

func (c *HTTPDetector) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d, body: %s", ErrDetector, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: parse response: %v", ErrDetector, err)
	}
	return nil
}
