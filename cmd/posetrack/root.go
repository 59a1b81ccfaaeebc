package main

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"pose-tracker-go/internal/client"
	"pose-tracker-go/internal/config"
)

// commandContext общие для команд настройки
type commandContext struct {
	cfg      *config.Config
	logLevel string
	detector client.Config
}

func newCommandContext() *commandContext {
	cfg := config.LoadConfig()
	return &commandContext{
		cfg:      cfg,
		logLevel: cfg.Logging.Level,
		detector: cfg.Detector,
	}
}

// logger текстовый логгер в stderr
func (c *commandContext) logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(c.logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func newRootCommand() *cobra.Command {
	ctx := newCommandContext()

	rootCmd := &cobra.Command{
		Use:           "posetrack",
		Short:         "Pose tracking for video files",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&ctx.logLevel, "log-level", ctx.logLevel, "Log level (debug, info, warn, error)")
	flags.StringVar(&ctx.detector.Transport, "transport", ctx.detector.Transport, "Detector transport (http or grpc)")
	flags.StringVar(&ctx.detector.BaseURL, "detector-url", ctx.detector.BaseURL, "Base URL of the HTTP detector")
	flags.StringVar(&ctx.detector.GRPCAddr, "detector-addr", ctx.detector.GRPCAddr, "Address of the gRPC detector")
	flags.DurationVar(&ctx.detector.Timeout, "detector-timeout", ctx.detector.Timeout, "Per-frame detector timeout")
	flags.IntVar(&ctx.detector.JPEGQuality, "jpeg-quality", ctx.detector.JPEGQuality, "JPEG quality of frames sent to the detector")

	rootCmd.AddCommand(newProcessCommand(ctx))
	rootCmd.AddCommand(newParamsCommand(ctx))
	rootCmd.AddCommand(newHealthCommand(ctx))

	return rootCmd
}

// healthTimeout сколько ждать ответа детектора в команде health
const healthTimeout = 10 * time.Second
