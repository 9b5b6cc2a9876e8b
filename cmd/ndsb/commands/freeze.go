package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"ndsb/pkg/freezer"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var freezeCmd = &cobra.Command{
	Use:   "freeze <kind> [json]",
	Short: "Append a record to the frozen queue",
	Long:  `Appends one record to the locked queue file. The payload is a JSON document, given either as the second argument or piped via stdin. Safe to call concurrently from multiple processes.`,
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := args[0]

		// 1. 读取 payload (参数优先，否则读 stdin)
		var raw []byte
		if len(args) == 2 {
			raw = []byte(args[1])
		} else {
			var err error
			raw, err = io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read payload from stdin: %w", err)
			}
		}

		var payload any
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("payload is not valid JSON: %w", err)
		}

		// 2. 构造记录并追加
		rec, err := freezer.NewRecord(kind, payload)
		if err != nil {
			return err
		}

		queue := viper.GetString("freeze.file")
		if err := freezer.Append(queue, rec, viper.GetDuration("freeze.timeout")); err != nil {
			return err
		}

		fmt.Printf("❄️  Frozen 1 %s record into %s\n", kind, queue)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(freezeCmd)
}
