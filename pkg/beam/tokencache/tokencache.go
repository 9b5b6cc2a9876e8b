// Package tokencache 为 beam.Authenticator 添加 Redis 缓存层
package tokencache

import (
	"context"
	"fmt"
	"time"

	"ndsb/pkg/beam"

	"github.com/redis/go-redis/v9"
)

// CachedAuthenticator 是一个装饰器，避免每次 beam 都重新走 OAuth 流程
type CachedAuthenticator struct {
	backend beam.Authenticator // 被装饰的底层认证器 (如 OAuthAuthenticator)
	client  *redis.Client      // Redis 客户端
	ttl     time.Duration      // 缓存过期时间 (要明显短于 token 有效期)
}

type Config struct {
	RedisURL string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 过期时间
}

func NewCachedAuthenticator(backend beam.Authenticator, cfg Config) (*CachedAuthenticator, error) {
	// 解析 URL
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Fail-fast 连接检查
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &CachedAuthenticator{
		backend: backend,
		client:  client,
		ttl:     cfg.TTL,
	}, nil
}

// cacheKey 生成 Redis Key，添加前缀防止冲突
// CacheKey 里没有 secret，可以安全地用作 Redis Key
func (c *CachedAuthenticator) cacheKey(cred beam.Credential) string {
	return "ndsb:token:" + cred.CacheKey()
}

// Token 优先查 Redis，未命中才走 OAuth
func (c *CachedAuthenticator) Token(ctx context.Context, cred beam.Credential) (string, error) {
	key := c.cacheKey(cred)

	// 1. 查 Redis
	token, err := c.client.Get(ctx, key).Result()
	if err == nil && token != "" {
		// Cache Hit! 省掉一次 OAuth 往返
		return token, nil
	}
	if err != nil && err != redis.Nil {
		// 架构决策：缓存故障降级 (Cache Failure Fallback)
		// Redis 挂了不应该让 beam 失败，退化为每次都走 OAuth。
		fmt.Printf("WARN: Redis error: %v\n", err)
	}

	// 2. 缓存未命中，走底层 OAuth 流程
	token, err = c.backend.Token(ctx, cred)
	if err != nil {
		return "", err
	}

	// 3. 缓存回填
	// 这里的 Set 错误可以忽略，不影响主流程
	c.client.Set(ctx, key, token, c.ttl)

	return token, nil
}

// Invalidate 主动清掉缓存的 token (比如服务端返回 401 之后)
func (c *CachedAuthenticator) Invalidate(ctx context.Context, cred beam.Credential) error {
	return c.client.Del(ctx, c.cacheKey(cred)).Err()
}
