package client

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"pose-tracker-go/internal/pipeline"
	"pose-tracker-go/pkg/models"
)

const (
	// DetectorService имя gRPC-сервиса детектора
	DetectorService = "posetrack.detector.v1.PoseDetector"
	// DetectMethod полное имя унарного метода
	DetectMethod = "/" + DetectorService + "/Detect"
)

// GRPCDetector клиент детектора позы по gRPC. Сообщения передаются как google.protobuf.Struct.
type GRPCDetector struct {
	conn      *grpc.ClientConn
	sessionID string
	opts      models.DetectorOptions
	quality   int
	cfg       Config
	logger    *logrus.Logger
}

// NewGRPCDetector подключается к cfg.GRPCAddr. Дополнительные dialOpts
// применяются после стандартных.
func NewGRPCDetector(cfg Config, opts models.DetectorOptions, logger *logrus.Logger, dialOpts ...grpc.DialOption) (*GRPCDetector, error) {
	dialOpts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, dialOpts...)
	conn, err := grpc.NewClient(cfg.GRPCAddr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial detector %s: %w", cfg.GRPCAddr, err)
	}

	return &GRPCDetector{
		conn:      conn,
		sessionID: uuid.NewString(),
		opts:      opts,
		quality:   jpegQuality(cfg.JPEGQuality),
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// SessionID идентификатор сессии трекинга
func (c *GRPCDetector) SessionID() string { return c.sessionID }

// Detect отправляет кадр детектору; nil без ошибки означает, что поза не найдена
func (c *GRPCDetector) Detect(ctx context.Context, frame pipeline.Frame) ([]models.Landmark, error) {
	image, err := frame.JPEG(c.quality)
	if err != nil {
		return nil, err
	}

	req, err := structpb.NewStruct(map[string]any{
		"session_id":               c.sessionID,
		"image":                    base64.StdEncoding.EncodeToString(image),
		"width":                    frame.Width(),
		"height":                   frame.Height(),
		"min_detection_confidence": c.opts.MinDetectionConfidence,
		"min_tracking_confidence":  c.opts.MinTrackingConfidence,
		"model_complexity":         c.opts.ModelComplexity,
	})
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, DetectMethod, req, resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetector, err)
	}
	return landmarksFromStruct(resp)
}

// CheckHealth опрашивает стандартный сервис здоровья gRPC
func (c *GRPCDetector) CheckHealth(ctx context.Context) (*models.HealthResponse, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: DetectorService})
	if err != nil {
		return nil, fmt.Errorf("%w: health: %v", ErrDetector, err)
	}

	serving := resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	status := "unhealthy"
	if serving {
		status = "healthy"
	}
	return &models.HealthResponse{Status: status, ModelLoaded: serving}, nil
}

func (c *GRPCDetector) Close() error {
	return c.conn.Close()
}

// landmarksFromStruct разбирает {"status", "message", "landmarks": [{x,y,z,visibility}] | null}
func landmarksFromStruct(resp *structpb.Struct) ([]models.Landmark, error) {
	fields := resp.AsMap()
	if status, _ := fields["status"].(string); status == "error" {
		message, _ := fields["message"].(string)
		return nil, fmt.Errorf("%w: %s", ErrDetector, message)
	}

	raw, ok := fields["landmarks"].([]any)
	if !ok || len(raw) == 0 {
		return nil, nil
	}

	landmarks := make([]models.Landmark, 0, len(raw))
	for i, item := range raw {
		point, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: landmark %d is %T", ErrDetector, i, item)
		}
		landmarks = append(landmarks, models.Landmark{
			X:          number(point["x"]),
			Y:          number(point["y"]),
			Z:          number(point["z"]),
			Visibility: number(point["visibility"]),
		})
	}
	return landmarks, nil
}

func number(v any) float64 {
	f, _ := v.(float64)
	return f
}
