package cmd

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/gac1u21/harcapture/internal/history"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the recorded activity history",
	Long:  `List every prediction and label upload result stored in the configured history backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetBool("raw")

		store, err := history.Open(cfg.History)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer store.Close()

		records, err := store.ReadAll(context.Background())
		if err != nil {
			return fmt.Errorf("failed to read history: %w", err)
		}

		if raw || len(records) == 0 {
			fmt.Println(history.Format(records))
			return nil
		}

		fmt.Printf("%d records in %s (%s)\n\n", len(records), cfg.History.Path, cfg.History.Backend)
		for _, r := range records {
			fmt.Printf("%-16s %s\n", humanize.Time(r.Timestamp), r.Result)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Bool("raw", false, "print records in the stored text format")
}
