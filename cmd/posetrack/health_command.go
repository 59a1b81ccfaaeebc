package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pose-tracker-go/internal/client"
	"pose-tracker-go/internal/pipeline"
	"pose-tracker-go/pkg/models"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the configured pose detector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			factory, err := client.NewFactory(ctx.detector, ctx.logger())
			if err != nil {
				return err
			}
			source, err := factory(models.DefaultParameters().DetectorOptions())
			if err != nil {
				return err
			}
			defer source.Close()

			checker, ok := source.(pipeline.HealthChecker)
			if !ok {
				return pipeline.ErrNoHealthCheck
			}

			reqCtx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
			defer cancel()
			health, err := checker.CheckHealth(reqCtx)
			if err != nil {
				return fmt.Errorf("detector unavailable: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "status: %s\nmodel_loaded: %t\n", health.Status, health.ModelLoaded)
			if health.Version != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "version: %s\n", health.Version)
			}
			if health.Status != "healthy" {
				return fmt.Errorf("detector reports %s", health.Status)
			}
			return nil
		},
	}
}
