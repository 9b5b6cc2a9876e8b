package tokencache

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"ndsb/pkg/beam"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 1. SpyAuthenticator (间谍认证器)
// 用于统计底层 OAuth 被调用的次数，验证请求是否穿透了缓存
// -----------------------------------------------------------------------------
type SpyAuthenticator struct {
	tokenCount int32
}

func (s *SpyAuthenticator) Token(ctx context.Context, cred beam.Credential) (string, error) {
	n := atomic.AddInt32(&s.tokenCount, 1) // 记录调用次数
	return fmt.Sprintf("tok-%s-%d", cred.ClientID, n), nil
}

// -----------------------------------------------------------------------------
// 2. 集成测试
// -----------------------------------------------------------------------------

func TestCachedAuthenticator_Integration(t *testing.T) {
	// A. 环境检查: 确保 Redis 在运行
	redisAddr := "localhost:6379"
	conn, err := net.DialTimeout("tcp", redisAddr, 1*time.Second)
	if err != nil {
		t.Skipf("Skipping Redis integration test: %v", err)
	}
	conn.Close()

	// B. 初始化
	ctx := context.Background()
	spy := &SpyAuthenticator{}
	cfg := Config{
		RedisURL: fmt.Sprintf("redis://%s/0", redisAddr),
		TTL:      1 * time.Hour,
	}
	cached, err := NewCachedAuthenticator(spy, cfg)
	require.NoError(t, err)

	// 清理 Redis (防止上次测试残留)
	cached.client.FlushDB(ctx)

	cred := beam.Credential{
		Host:         "https://beams.example.org",
		ClientID:     "cli",
		ClientSecret: "shh",
		Username:     "alice",
	}

	// --- Step 1: Cache Miss，穿透到 OAuth ---
	t.Log("Step 1: First token fetch (Cache Miss)")
	tok1, err := cached.Token(ctx, cred)
	require.NoError(t, err)
	assert.Equal(t, "tok-cli-1", tok1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&spy.tokenCount), "Backend Token() should be called on miss")

	// --- Step 2: Cache Hit ---
	t.Log("Step 2: Second token fetch (Cache Hit)")
	tok2, err := cached.Token(ctx, cred)
	require.NoError(t, err)
	assert.Equal(t, tok1, tok2)

	// 核心断言：Spy 的调用次数应该 *依然是 1*
	// 这证明了请求被 Redis 拦截，根本没到 OAuth 服务
	assert.Equal(t, int32(1), atomic.LoadInt32(&spy.tokenCount), "Backend Token() should NOT be called on hit")

	// --- Step 3: Invalidate 后重新穿透 ---
	t.Log("Step 3: Invalidate and refetch")
	require.NoError(t, cached.Invalidate(ctx, cred))

	tok3, err := cached.Token(ctx, cred)
	require.NoError(t, err)
	assert.Equal(t, "tok-cli-2", tok3)
	assert.Equal(t, int32(2), atomic.LoadInt32(&spy.tokenCount))

	// --- Step 4: 不同凭据不共享缓存 ---
	other := cred
	other.Username = "bob"
	tokOther, err := cached.Token(ctx, other)
	require.NoError(t, err)
	assert.NotEqual(t, tok3, tokOther)

	t.Log("✅ SUCCESS: Token traffic intercepted by Redis!")
}
