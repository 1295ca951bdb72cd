package main

import (
	"context"
	"fmt"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"whisperd/internal/config"
	"whisperd/internal/language"
)

func newDownloadModelsCommand(ctx *commandContext) *cobra.Command {
	var languages []string

	cmd := &cobra.Command{
		Use:   "download-models",
		Short: "Fetch the transcription model and alignment models into the cache",
		Long: `Run setup once with eager alignment so every configured language model is
downloaded into paths.cache_dir. --languages narrows the set; English is
always included.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			downloadCfg, err := downloadConfig(cfg, languages)
			if err != nil {
				return err
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			rt, err := openRuntime(ctx, downloadCfg)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(signalCtx)) //nolint:errcheck

			if err := rt.Models.Setup(signalCtx); err != nil {
				return fmt.Errorf("download models: %w", err)
			}
			snap := rt.Models.Snapshot()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Transcription model %s ready on %s\n", snap.Model, snap.Device)
			fmt.Fprintf(out, "Alignment models ready for %d languages: %v\n", len(snap.AlignLanguages), snap.AlignLanguages)
			fmt.Fprintf(out, "Cache: %s\n", snap.CacheDir)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&languages, "languages", nil, "Comma-separated language codes to preload (default: alignment.languages)")
	return cmd
}

// downloadConfig copies cfg with eager alignment and, when requested, a
// narrowed language list.
func downloadConfig(cfg *config.Config, languages []string) (*config.Config, error) {
	clone := *cfg
	clone.Alignment.Strategy = config.StrategyEager
	if len(languages) > 0 {
		selected := language.NormalizeList(languages)
		if !slices.Contains(selected, config.DefaultLanguage()) {
			selected = append([]string{config.DefaultLanguage()}, selected...)
		}
		clone.Alignment.Languages = selected
	}
	if err := clone.Validate(); err != nil {
		return nil, fmt.Errorf("download models: %w", err)
	}
	return &clone, nil
}
