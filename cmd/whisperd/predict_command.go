package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"whisperd/internal/config"
	"whisperd/internal/daemonrun"
	"whisperd/internal/predict"
)

func newPredictCommand(ctx *commandContext) *cobra.Command {
	var (
		audioPath string
		mode      string
		segments  string
		lang      string
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Load models and run one prediction",
		Long: `Run setup and a single prediction in-process and print the result JSON.

--segments takes a JSON array of {text, start, end} records, or @PATH to read
it from a file. It is required when --mode is align.`,
		Example: `  whisperd predict --audio talk.wav --language de
  whisperd predict --audio talk.wav --mode align --segments @segments.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			rawSegments, err := readSegmentsFlag(segments)
			if err != nil {
				return err
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			rt, err := openRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(signalCtx)) //nolint:errcheck

			req := predict.Request{
				AudioPath: audioPath,
				Mode:      mode,
				Segments:  rawSegments,
				Language:  lang,
			}
			if err := rt.Handler.Validate(req); err != nil {
				return err
			}
			if err := rt.Models.Setup(signalCtx); err != nil {
				return fmt.Errorf("setup: %w", err)
			}
			output, err := rt.Handler.Predict(signalCtx, req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&audioPath, "audio", "a", "", "Audio file to process")
	cmd.Flags().StringVarP(&mode, "mode", "m", string(predict.ModeTranscribe), "transcribe or align")
	cmd.Flags().StringVarP(&segments, "segments", "s", "", "Segments JSON or @file (align mode)")
	cmd.Flags().StringVarP(&lang, "language", "l", config.DefaultLanguage(), "Language code or name")
	_ = cmd.MarkFlagRequired("audio")
	return cmd
}

// readSegmentsFlag resolves the @file form of --segments.
func readSegmentsFlag(value string) (string, error) {
	path, ok := strings.CutPrefix(strings.TrimSpace(value), "@")
	if !ok {
		return value, nil
	}
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return "", fmt.Errorf("resolve segments path: %w", err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return "", fmt.Errorf("read segments: %w", err)
	}
	return string(data), nil
}

func openRuntime(ctx *commandContext, cfg *config.Config) (*daemonrun.Runtime, error) {
	logger, err := ctx.logger(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return daemonrun.OpenWith(cfg, openEngine(cfg, logger), logger), nil
}
