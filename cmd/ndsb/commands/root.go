package commands

import (
	"fmt"
	"os"

	"ndsb/pkg/app"
	"ndsb/pkg/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	// 全局应用实例，供子命令使用
	NDSB *app.App
)

var rootCmd = &cobra.Command{
	Use:   "ndsb",
	Short: "ndsb: freeze, pack and beam data artifacts",
	// 【关键】PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// freeze/thaw 只需要冻结文件本身，不需要 depot/账本/认证
		// (离线机器上也要能冻结数据)
		switch cmd.Name() {
		case "freeze", "thaw":
			return nil
		}

		// 统一初始化 App
		var err error
		NDSB, err = app.NewApp(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to initialize ndsb: %w", err)
		}
		return nil
	},
}

// Execute 是入口
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// 在初始化时，加载配置
	cobra.OnInitialize(initConfig)

	// 1. 定义全局参数 --config
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ndsb/config.yaml)")

	// 2. 定义 depot.path 参数，并绑定到 Viper
	// 这样用户既可以在 yaml 里写，也可以用 --depot-path 覆盖
	rootCmd.PersistentFlags().String("depot-path", "", "Directory to store batch archives")
	err := viper.BindPFlag("depot.path", rootCmd.PersistentFlags().Lookup("depot-path"))
	if err != nil {
		fmt.Println("Failed to bind flag:", err)
		os.Exit(1)
	}
}

// initConfig 读取配置文件和环境变量
func initConfig() {
	if err := config.Load(cfgFile); err != nil {
		fmt.Println("Config error:", err)
		os.Exit(1)
	}
}
