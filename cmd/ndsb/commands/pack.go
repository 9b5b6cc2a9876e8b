package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"ndsb/pkg/packager"
	"ndsb/pkg/payload"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	packMetaJSON   string
	packFromFreeze bool
	packPrivate    bool
	packGrant      []string
	packBeam       bool
)

var packCmd = &cobra.Command{
	Use:   "pack [dir...]",
	Short: "Package directories (and/or the frozen queue) into a batch archive",
	Long: `Builds a batch: one artifact per input, in argument order, plus a toplevel
metadata document, archived as <batch-id>.tar.gz. The archive is copied into the
depot and recorded in the ledger. With --beam the batch is transmitted right away.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// 1. 组装生产者 (顺序决定 Artifact 的编号)
		var producers []packager.Data
		for _, dir := range args {
			abs, err := filepath.Abs(dir)
			if err != nil {
				return err
			}
			if _, err := os.Stat(abs); err != nil {
				return fmt.Errorf("input directory %s: %w", dir, err)
			}
			producers = append(producers, payload.NewDir(abs))
		}
		if packFromFreeze {
			producers = append(producers, payload.NewFrozen(viper.GetString("freeze.file")))
		}
		if len(producers) == 0 {
			return fmt.Errorf("nothing to pack: give at least one directory or --from-freeze")
		}

		// 2. 顶层元数据
		var meta map[string]any
		if packMetaJSON != "" {
			if err := json.Unmarshal([]byte(packMetaJSON), &meta); err != nil {
				return fmt.Errorf("--meta is not valid JSON: %w", err)
			}
		}

		// 3. 打包
		fmt.Printf("📦 Packing %d producers...\n", len(producers))
		res, err := packager.Pack(producers, viper.GetString("pack.dest"), meta)
		if err != nil {
			return err
		}

		// 4. 访问策略
		if packPrivate {
			res.Channel.MakePrivate()
			if err := res.Channel.Grant(packGrant...); err != nil {
				return err
			}
		} else if len(packGrant) > 0 {
			return fmt.Errorf("--grant requires --private")
		}

		// 5. 归档入库 + 记账
		sha, size, err := res.Channel.ArchiveDigest()
		if err != nil {
			return err
		}

		f, err := os.Open(res.Archive)
		if err != nil {
			return err
		}
		if err := NDSB.Depot.Put(ctx, filepath.Base(res.Archive), f, size); err != nil {
			f.Close()
			return fmt.Errorf("failed to store archive in depot: %w", err)
		}
		f.Close()

		if err := NDSB.Ledger.RecordPacked(ctx, res.BatchID, sha, size, meta,
			res.Channel.Private(), res.Channel.AccessList()); err != nil {
			return err
		}

		fmt.Printf("✅ Packed batch %s (%d bytes, sha256 %s...)\n", res.BatchID, size, sha[:8])

		// 6. 可选：立刻发射
		if packBeam {
			return fire(ctx, res.BatchID, res.Channel)
		}
		fmt.Printf("Run 'ndsb beam %s' to transmit it.\n", res.BatchID)
		return nil
	},
}

func init() {
	packCmd.Flags().StringVar(&packMetaJSON, "meta", "", "toplevel metadata as a JSON object")
	packCmd.Flags().BoolVar(&packFromFreeze, "from-freeze", false, "drain the frozen queue into an extra artifact")
	packCmd.Flags().BoolVar(&packPrivate, "private", false, "restrict remote access to the batch")
	packCmd.Flags().StringSliceVar(&packGrant, "grant", nil, "identities allowed to access a private batch")
	packCmd.Flags().BoolVar(&packBeam, "beam", false, "transmit the batch immediately after packing")

	rootCmd.AddCommand(packCmd)
}
