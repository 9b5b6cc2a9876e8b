package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"ndsb/pkg/beam"
	"ndsb/pkg/depot"
	"ndsb/pkg/meta"
	"ndsb/pkg/types"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var beamDebug bool

var beamCmd = &cobra.Command{
	Use:   "beam <batch-id>",
	Short: "Transmit a packed batch to a receiving host",
	Long: `Pulls the batch archive from the depot and POSTs it to {host}/beam/receive/
with an OAuth bearer token. On success the receiver's id is recorded in the ledger.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id := types.BatchID(args[0])
		if !id.IsValid() {
			return fmt.Errorf("%q does not look like a batch id", args[0])
		}

		// 1. 账本里必须有这个批次
		rec, err := NDSB.Ledger.GetBeam(ctx, id)
		if err != nil {
			return err
		}

		// 2. 从 depot 取归档，落到临时文件 (Channel 需要一个可重复打开的路径)
		name := id.String() + ".tar.gz"
		rc, err := NDSB.Depot.Get(ctx, name)
		if errors.Is(err, depot.ErrNotFound) {
			return fmt.Errorf("archive %s is not in the depot", name)
		}
		if err != nil {
			return err
		}
		defer rc.Close()

		tmp := filepath.Join(os.TempDir(), name)
		f, err := os.Create(tmp)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, rc); err != nil {
			f.Close()
			return err
		}
		f.Close()

		// 重发场景：depot 里还有原件，本地副本发完即删。
		// 通道是新建的，打包时定下的访问策略必须从账本还原回来
		ch := beam.NewChannel(nil, tmp)
		if err := applyStoredPolicy(ch, rec); err != nil {
			return err
		}
		return fire(ctx, id, ch)
	},
}

// applyStoredPolicy 把账本里记录的访问策略还原到通道上。
// 不还原的话，重发出去的私有批次会悄悄变成 public。
func applyStoredPolicy(ch *beam.Channel, rec *meta.BeamModel) error {
	if !rec.Private {
		return nil
	}
	ch.MakePrivate()

	list, err := rec.Identities()
	if err != nil {
		return fmt.Errorf("ledger access list for %s is corrupt: %w", rec.BatchID, err)
	}
	return ch.Grant(list...)
}

// fire 走完认证 + 发射 + 记账的共享流程 (pack --beam 也用它)
func fire(ctx context.Context, id types.BatchID, ch *beam.Channel) error {
	host := viper.GetString("beam.host")
	if host == "" {
		return fmt.Errorf("beam.host is not set (flag --host or NDSB_BEAM_HOST)")
	}
	ch.Timeout = viper.GetDuration("beam.timeout")
	ch.Insecure = viper.GetBool("beam.insecure")
	ch.Debug = beamDebug

	// 1. 拿 token (显式给了就直接用，否则走 OAuth)
	token := viper.GetString("beam.token")
	if token == "" {
		var err error
		token, err = NDSB.Auth.Token(ctx, beam.Credential{
			Host:         host,
			ClientID:     viper.GetString("beam.client_id"),
			ClientSecret: viper.GetString("beam.client_secret"),
			Username:     viper.GetString("beam.username"),
			Password:     viper.GetString("beam.password"),
		})
		if err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
	}

	// 2. 发射
	fmt.Printf("🚀 Beaming batch %s to %s ...\n", id, host)
	receipt, err := ch.Fire(ctx, host, token)
	if err != nil {
		// 失败也记账，归档保留，可以重发
		if lerr := NDSB.Ledger.RecordFailed(ctx, id, host); lerr != nil {
			fmt.Fprintf(os.Stderr, "WARN: failed to update ledger: %v\n", lerr)
		}
		return err
	}

	// 3. 记账
	transmitter := os.Getenv(beam.TransmitterEnv)
	if transmitter == "" {
		transmitter = "Unknown"
	}
	if err := NDSB.Ledger.RecordTransmitted(ctx, id, host, receipt.RemoteID, transmitter); err != nil {
		return err
	}

	fmt.Printf("✅ Beamed: remote id %s\n", receipt.RemoteID)
	return nil
}

func init() {
	beamCmd.Flags().BoolVar(&beamDebug, "debug", false, "keep the local archive after transmission")

	// 认证参数挂在根命令上，beam 和 pack --beam 共用
	// (viper.BindPFlag 只认最后一次绑定，所以不能在两个子命令上各绑一份)
	pf := rootCmd.PersistentFlags()
	pf.String("host", "", "receiving host, e.g. https://beams.example.org")
	pf.String("token", "", "bearer token (skips the OAuth flow)")
	pf.String("client-id", "", "OAuth client id")
	pf.String("client-secret", "", "OAuth client secret")
	pf.String("username", "", "OAuth resource-owner username")
	pf.String("password", "", "OAuth resource-owner password")

	_ = viper.BindPFlag("beam.host", pf.Lookup("host"))
	_ = viper.BindPFlag("beam.token", pf.Lookup("token"))
	_ = viper.BindPFlag("beam.client_id", pf.Lookup("client-id"))
	_ = viper.BindPFlag("beam.client_secret", pf.Lookup("client-secret"))
	_ = viper.BindPFlag("beam.username", pf.Lookup("username"))
	_ = viper.BindPFlag("beam.password", pf.Lookup("password"))

	rootCmd.AddCommand(beamCmd)
}
