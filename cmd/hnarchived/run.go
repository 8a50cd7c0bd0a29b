package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:       "run {discovery|updates|backfill|ai-backfill}",
	Short:     "Run one pipeline to completion and print the result",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"discovery", "updates", "backfill", "ai-backfill"},
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.pipelines.Run(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("pipeline %s finished with %d errors", res.Pipeline, res.Errors)
		}
		return nil
	},
}
