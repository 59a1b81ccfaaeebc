package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newParamsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "params",
		Short: "Print the effective parameters as YAML",
		Args:  cobra.NoArgs,
	}
	pf := bindParameterFlags(cmd, ctx.cfg.ParamsFile)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		params, err := pf.resolve(cmd)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode parameters: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	}
	return cmd
}
