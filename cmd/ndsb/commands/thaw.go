package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"ndsb/pkg/freezer"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var thawCmd = &cobra.Command{
	Use:   "thaw",
	Short: "Drain the frozen queue and print its records",
	Long:  `Drains the locked queue file: prints every record as a JSON line on stdout and deletes the file. The queue is consumed exactly once even with concurrent readers.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		queue := viper.GetString("freeze.file")

		records, err := freezer.Thaw(queue, viper.GetDuration("freeze.timeout"))
		if errors.Is(err, freezer.ErrNoData) {
			fmt.Println("Nothing to thaw (queue is empty).")
			return nil
		}
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		for _, rec := range records {
			var payload any
			if err := rec.DecodePayload(&payload); err != nil {
				return fmt.Errorf("failed to decode record: %w", err)
			}
			line := map[string]any{
				"kind":      rec.Kind,
				"frozen_at": rec.FrozenAt,
				"payload":   payload,
			}
			if err := enc.Encode(line); err != nil {
				return err
			}
		}

		fmt.Fprintf(os.Stderr, "🔥 Thawed %d records from %s\n", len(records), queue)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(thawCmd)
}
