package main

import (
	"encoding/json"
	"fmt"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"

	"pose-tracker-go/internal/client"
	"pose-tracker-go/internal/pipeline"
	"pose-tracker-go/internal/pose"
	"pose-tracker-go/internal/video"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var (
		codecs   []string
		interval int
		analysis bool
		noBar    bool
	)

	cmd := &cobra.Command{
		Use:   "process <input> <output>",
		Short: "Detect poses in a video and write an annotated copy",
		Args:  cobra.ExactArgs(2),
	}
	pf := bindParameterFlags(cmd, ctx.cfg.ParamsFile)

	flags := cmd.Flags()
	flags.StringSliceVar(&codecs, "codecs", ctx.cfg.Pipeline.Codecs, "Output codecs in order of preference")
	flags.IntVar(&interval, "progress-interval", ctx.cfg.Pipeline.ProgressInterval, "Frames between progress updates")
	flags.BoolVar(&analysis, "analysis", false, "Print a JSON pose summary after processing")
	flags.BoolVar(&noBar, "no-progress", false, "Disable the progress bar")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		input, output := args[0], args[1]
		logger := ctx.logger()

		params, err := pf.resolve(cmd)
		if err != nil {
			return err
		}

		factory, err := client.NewFactory(ctx.detector, logger)
		if err != nil {
			return err
		}

		p := pipeline.New(pipeline.Config{
			OpenReader:        video.OpenCapture,
			OpenWriter:        video.OpenWriter,
			Annotator:         video.NewAnnotator(),
			Codecs:            codecs,
			ProgressInterval:  interval,
			MaxDetectorErrors: ctx.cfg.Pipeline.MaxDetectorErrors,
		}, logger)

		proc, err := pipeline.NewProcessor(p, factory, params, logger)
		if err != nil {
			return err
		}
		defer proc.Close()

		var bar *pb.ProgressBar
		onProgress := func(pipeline.Event) {}
		if !noBar {
			info, err := video.ProbeInfo(input)
			if err != nil {
				return fmt.Errorf("%w: %v", pipeline.ErrInputUnreadable, err)
			}
			bar = pb.New(info.FrameCount)
			bar.SetWriter(cmd.ErrOrStderr())
			bar.Start()
			onProgress = func(e pipeline.Event) {
				if e.FramesProcessed > info.FrameCount {
					bar.SetTotal(int64(e.FramesProcessed))
				}
				bar.SetCurrent(int64(e.FramesProcessed))
			}
		}

		result, err := proc.ProcessVideo(cmd.Context(), input, output, onProgress)
		if bar != nil {
			if result != nil {
				bar.SetTotal(int64(result.Stats.FramesProcessed))
				bar.SetCurrent(int64(result.Stats.FramesProcessed))
			}
			bar.Finish()
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Output: %s (codec %s)\n", output, result.Codec)
		fmt.Fprintf(out, "Poses detected: %d/%d (%.1f%%)\n",
			result.Stats.PosesDetected, result.Stats.FramesProcessed, result.Stats.DetectionRate()*100)

		if analysis {
			summary := pose.SummarizeVideo(result.Stats, result.Detections)
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return fmt.Errorf("encode analysis: %w", err)
			}
		}
		return nil
	}
	return cmd
}
