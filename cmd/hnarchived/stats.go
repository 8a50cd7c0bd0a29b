package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/hnfoundry/hnarchive/internal/storage"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print archive statistics and usage counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		topics, err := a.store.TopicCounts(ctx)
		if err != nil {
			return err
		}
		usage, err := a.store.UsageStats(ctx)
		if err != nil {
			return err
		}

		out := map[string]any{
			"topics": topics,
			"usage":  usage,
		}
		for _, key := range []string{
			storage.StateMaxItemIDSeen,
			storage.StateItemsArchivedToday,
			storage.StateErrorsToday,
			storage.StateLastDiscoveryRun,
			storage.StateLastUpdatesCheck,
			storage.StateLastBackfillRun,
		} {
			if v, err := a.store.GetState(ctx, key); err == nil {
				out[key] = v
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}
