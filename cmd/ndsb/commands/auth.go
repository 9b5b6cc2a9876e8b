package commands

import (
	"fmt"

	"ndsb/pkg/beam"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Fetch an OAuth token from the receiving host",
	Long:  `Exchanges the configured credentials for a bearer token at {host}/o/token/ and prints it. Useful for debugging or for scripting with --token.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		host := viper.GetString("beam.host")
		if host == "" {
			return fmt.Errorf("beam.host is not set (flag --host or NDSB_BEAM_HOST)")
		}

		token, err := NDSB.Auth.Token(cmd.Context(), beam.Credential{
			Host:         host,
			ClientID:     viper.GetString("beam.client_id"),
			ClientSecret: viper.GetString("beam.client_secret"),
			Username:     viper.GetString("beam.username"),
			Password:     viper.GetString("beam.password"),
		})
		if err != nil {
			return err
		}

		// 只打印 token 本身，方便 $(ndsb auth ...) 嵌进脚本
		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
}
