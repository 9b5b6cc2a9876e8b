package app

import (
	"context"
	"fmt"

	"ndsb/pkg/beam"
	"ndsb/pkg/beam/tokencache"
	"ndsb/pkg/depot"
	"ndsb/pkg/depot/disk"
	"ndsb/pkg/depot/s3"
	"ndsb/pkg/meta"

	"github.com/spf13/viper"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有“单例”服务
type App struct {
	Depot  depot.Store
	Ledger *meta.Repository
	Auth   beam.Authenticator
}

// NewApp 是工厂函数，负责组装这一台机器
// 它遵循 Viper 的配置，但不知道具体的 CLI 命令
func NewApp(ctx context.Context) (*App, error) {
	// 1. 初始化归档仓库 (Dependency Injection)
	store, err := newDepot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to init depot: %w", err)
	}

	// 2. 初始化账本数据库
	db, err := meta.NewDB(ctx, meta.Config{
		Driver:   viper.GetString("database.driver"),
		Path:     viper.GetString("database.path"),
		Host:     viper.GetString("database.host"),
		Port:     viper.GetInt("database.port"),
		User:     viper.GetString("database.user"),
		Password: viper.GetString("database.password"),
		DBName:   viper.GetString("database.dbname"),
		SSLMode:  viper.GetString("database.sslmode"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init ledger: %w", err)
	}

	// 3. 初始化认证器 (可选的 Redis token 缓存装饰器)
	auth, err := newAuthenticator()
	if err != nil {
		return nil, fmt.Errorf("failed to init authenticator: %w", err)
	}

	return &App{
		Depot:  store,
		Ledger: meta.NewRepository(db),
		Auth:   auth,
	}, nil
}

func newDepot(ctx context.Context) (depot.Store, error) {
	switch viper.GetString("depot.type") {
	case "", "disk":
		return disk.NewAdapter(viper.GetString("depot.path"))
	case "s3":
		if viper.GetString("depot.bucket") == "" {
			return nil, fmt.Errorf("depot.bucket is required for s3 depot")
		}
		return s3.NewAdapter(ctx, s3.Config{
			Endpoint:        viper.GetString("depot.endpoint"),
			Region:          viper.GetString("depot.region"),
			Bucket:          viper.GetString("depot.bucket"),
			Prefix:          viper.GetString("depot.prefix"),
			AccessKeyID:     viper.GetString("depot.access_key_id"),
			SecretAccessKey: viper.GetString("depot.secret_access_key"),
		})
	default:
		return nil, fmt.Errorf("unsupported depot type: %q", viper.GetString("depot.type"))
	}
}

func newAuthenticator() (beam.Authenticator, error) {
	base := &beam.OAuthAuthenticator{
		Timeout:  viper.GetDuration("beam.timeout"),
		Insecure: viper.GetBool("beam.insecure"),
	}

	cacheURL := viper.GetString("auth.cache_url")
	if cacheURL == "" {
		return base, nil
	}

	return tokencache.NewCachedAuthenticator(base, tokencache.Config{
		RedisURL: cacheURL,
		TTL:      viper.GetDuration("auth.cache_ttl"),
	})
}
