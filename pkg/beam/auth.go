package beam

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrAuthMalformed: token 响应解析不出来 (原始响应体附在错误里)
var ErrAuthMalformed = errors.New("token response malformed")

// TokenEndpoint 是 OAuth 风格的发 token 端点
const TokenEndpoint = "/o/token/"

// Credential 是一次认证所需的全部材料。
// Username 非空时走 password grant，否则走 client_credentials。
type Credential struct {
	Host         string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// CacheKey 生成该凭据的缓存键 (token 缓存层用)
// 不含 secret / password：缓存键出现在 Redis 里，不能泄露机密
func (c Credential) CacheKey() string {
	return strings.Join([]string{c.Host, c.ClientID, c.Username}, "|")
}

// Authenticator 负责把凭据换成 Bearer token。
// 标准实现是 OAuthAuthenticator；tokencache 包提供带 Redis 缓存的装饰器。
type Authenticator interface {
	Token(ctx context.Context, cred Credential) (string, error)
}

// OAuthAuthenticator 通过 <host>/o/token/ 的表单请求获取 token
type OAuthAuthenticator struct {
	Timeout  time.Duration // 0 表示 DefaultTimeout
	Insecure bool
}

func (o *OAuthAuthenticator) Token(ctx context.Context, cred Credential) (string, error) {
	// 1. 组装 grant 表单
	form := url.Values{}
	form.Set("client_id", cred.ClientID)
	form.Set("client_secret", cred.ClientSecret)
	if cred.Username != "" {
		form.Set("grant_type", "password")
		form.Set("username", cred.Username)
		form.Set("password", cred.Password)
	} else {
		form.Set("grant_type", "client_credentials")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		cred.Host+TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	// 2. 请求 token
	timeout := o.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	client := &http.Client{Timeout: timeout}
	if o.Insecure {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		var certErr *tls.CertificateVerificationError
		if errors.As(err, &certErr) {
			return "", fmt.Errorf("%w: %v", ErrInterception, err)
		}
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}

	// 3. 解析 access_token (解析不出来就把原始响应亮出来)
	var parsed struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v: %s", ErrAuthMalformed, err, body)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("%w: missing 'access_token' field: %s", ErrAuthMalformed, body)
	}

	return parsed.AccessToken, nil
}

// Authenticate 是一把梭的便捷入口 (语义同 OAuthAuthenticator.Token)
func Authenticate(ctx context.Context, host, clientID, clientSecret, username, password string) (string, error) {
	auth := &OAuthAuthenticator{}
	return auth.Token(ctx, Credential{
		Host:         host,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Username:     username,
		Password:     password,
	})
}
