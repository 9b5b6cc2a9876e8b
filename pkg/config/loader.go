package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	// 1. 设置默认值 (Defaults)
	setDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		// 如果用户指定了文件，直接使用
		viper.SetConfigFile(cfgFile)
	} else {
		// 否则按优先级搜索
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		// 搜索顺序：
		// 1. 当前目录
		viper.AddConfigPath(".")
		// 2. 当前目录下的 .ndsb
		viper.AddConfigPath(".ndsb")
		// 3. 用户主目录下的 .ndsb
		viper.AddConfigPath(filepath.Join(home, ".ndsb"))

		viper.SetConfigType("yaml")
		viper.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量 (NDSB_BEAM_HOST 等)
	// 键里的 "." 要换成 "_"，不然 beam.host 永远对不上 NDSB_BEAM_HOST
	viper.SetEnvPrefix("NDSB")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		// 如果只是没找到配置文件，但可能有环境变量，不一定算错
		// 但如果是配置文件格式错，那就是错
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("⚠️  No config file found, using defaults/env vars")
		} else {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	} else {
		fmt.Println("🔧 Using config file:", viper.ConfigFileUsed())
	}

	return nil
}

func setDefaults() {
	home, _ := os.UserHomeDir()
	ndsbDir := filepath.Join(home, ".ndsb")

	// 冻结队列默认值
	viper.SetDefault("freeze.file", "artifacts.freeze")
	viper.SetDefault("freeze.timeout", "10s")

	// 打包默认值
	wd, _ := os.Getwd()
	viper.SetDefault("pack.dest", filepath.Join(wd, ".ndsb", "outbox"))

	// 归档仓库默认值
	viper.SetDefault("depot.type", "disk")
	viper.SetDefault("depot.path", filepath.Join(ndsbDir, "archives"))
	viper.SetDefault("depot.region", "us-east-1")

	// beam 默认值
	viper.SetDefault("beam.timeout", "60s")
	viper.SetDefault("beam.insecure", false)

	// 账本数据库默认值
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.path", filepath.Join(ndsbDir, "ledger.db"))
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")

	// token 缓存默认关 (redis url 留空即禁用)
	viper.SetDefault("auth.cache_url", "")
	viper.SetDefault("auth.cache_ttl", "10m")
}
