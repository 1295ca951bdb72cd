package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"whisperd/internal/language"
	"whisperd/internal/modelcache"
)

func newModelsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models recorded in the cache manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cache, err := modelcache.Open(cfg.Paths.CacheDir)
			if err != nil {
				return err
			}
			defer cache.Close()

			entries, err := cache.Entries(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(out, "No models recorded in %s; run `whisperd download-models` to populate the cache\n", cache.Dir())
				return nil
			}
			fmt.Fprintln(out, renderTable(modelColumns, modelRows(entries), shouldColorize(out)))
			fmt.Fprintf(out, "Manifest: %s\n", cache.ManifestPath())
			return nil
		},
	}
}

var modelColumns = []tableColumn{
	{Header: "Kind"},
	{Header: "Model"},
	{Header: "Language"},
	{Header: "Device"},
	{Header: "Loads", Align: alignRight},
	{Header: "Last Loaded"},
}

func modelRows(entries []modelcache.Entry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		lang := "-"
		if e.Language != "" {
			lang = fmt.Sprintf("%s (%s)", e.Language, language.DisplayName(e.Language))
		}
		rows = append(rows, []string{
			string(e.Kind),
			e.Name,
			lang,
			e.Device,
			strconv.Itoa(e.LoadCount),
			e.LastLoadedAt.Local().Format(time.DateTime),
		})
	}
	return rows
}
