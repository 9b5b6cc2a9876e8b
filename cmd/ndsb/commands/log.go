package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"ndsb/pkg/meta"
	"ndsb/pkg/types"

	"github.com/spf13/cobra"
)

var logLimit int

var logCmd = &cobra.Command{
	Use:   "log [batch-id]",
	Short: "Show the batch ledger",
	Long:  `Without arguments, lists the most recent batches. With a batch id, prints the full ledger record for that batch.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// 模式 A: 单个批次的详情
		if len(args) > 0 {
			beam, err := NDSB.Ledger.GetBeam(ctx, types.BatchID(args[0]))
			if err != nil {
				return err
			}
			printBeamDetail(beam)
			return nil
		}

		// 模式 B: 最近的批次列表
		beams, err := NDSB.Ledger.ListRecent(ctx, logLimit)
		if err != nil {
			return err
		}
		if len(beams) == 0 {
			fmt.Println("No batches yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "BATCH\tSTATUS\tHOST\tREMOTE\tSIZE\tCREATED")
		for _, b := range beams {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				b.BatchID, b.Status, b.Host, b.RemoteID, b.ArchiveSize,
				b.CreatedAt.Format("2006-01-02 15:04"),
			)
		}
		return w.Flush()
	},
}

// printBeamDetail 格式化输出 (仿 git log 风格)
func printBeamDetail(b *meta.BeamModel) {
	const (
		colorYellow = "\033[33m"
		colorReset  = "\033[0m"
	)

	fmt.Printf("%sbatch %s%s\n", colorYellow, b.BatchID, colorReset)
	fmt.Printf("Status:  %s\n", b.Status)
	if b.Host != "" {
		fmt.Printf("Host:    %s\n", b.Host)
		fmt.Printf("Remote:  %s\n", b.RemoteID)
		fmt.Printf("By:      %s\n", b.TransmittedBy)
		if b.TransmittedAt > 0 {
			fmt.Printf("Sent:    %s\n", time.Unix(b.TransmittedAt, 0).Format(time.RFC1123))
		}
	}
	fmt.Printf("Archive: %d bytes, sha256 %s\n", b.ArchiveSize, b.ArchiveSHA256)
	if len(b.Meta) > 0 {
		fmt.Printf("Meta:    %s\n", string(b.Meta))
	}
}

func init() {
	logCmd.Flags().IntVar(&logLimit, "limit", 20, "max batches to list")
	rootCmd.AddCommand(logCmd)
}
