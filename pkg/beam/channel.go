package beam

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"time"

	"ndsb/pkg/artifact"
	"ndsb/pkg/types"
)

var (
	// ErrRejected: 远端返回了非 2xx 状态码 (原始响应体附在错误里)
	ErrRejected = errors.New("transmission rejected")

	// ErrMalformed: 远端返回 2xx 但响应体不是合法 JSON (或缺 id 字段)
	ErrMalformed = errors.New("transmission response malformed")

	// ErrInterception: TLS 证书校验失败。
	// 与普通网络错误区分开 —— 这可能是中间人，必须显式 opt-out 才能继续。
	ErrInterception = errors.New("possible interception: TLS verification failed")
)

const (
	// ReceiveEndpoint 是归档接收端点 (host 后面拼这个)
	ReceiveEndpoint = "/beam/receive/"

	// TransmitterEnv 在传送时读取，写进 meta 的 transmitted_by
	TransmitterEnv = "NDSB_TRANSMITTER"

	// DefaultTimeout 是整个上传往返的默认超时 (可通过 Channel.Timeout 覆盖)
	DefaultTimeout = 60 * time.Second
)

// Carrier 是打包产物的最小视图：beam 只需要拿到 Artifact 来回填落点。
// packager.Data 天然满足这个接口 (accept interfaces, return structs)。
type Carrier interface {
	Artifact() *artifact.Artifact
}

// Receipt 是一次成功传送的回执
type Receipt struct {
	RemoteID string // 远端分配的批次 id
	Raw      []byte // 原始响应体 (排查问题用)
}

// Channel 绑定一份归档和它的生产者列表，负责认证上传。
// 自带一份访问策略 (语义与 Artifact 的完全一致)，描述谁能在远端取回归档。
type Channel struct {
	artifact.Policy

	carriers    []Carrier
	ArchivePath string

	// Debug 为 true 时传送成功后保留本地归档，方便事后检查
	Debug bool

	// Timeout 覆盖整个 HTTP 往返 (0 表示用 DefaultTimeout)
	Timeout time.Duration

	// Insecure 显式放弃 TLS 校验 (只应该在内网自签环境用)
	Insecure bool
}

// NewChannel 创建一条绑定 carriers 和归档文件的传送通道
func NewChannel(carriers []Carrier, archivePath string) *Channel {
	return &Channel{
		carriers:    carriers,
		ArchivePath: archivePath,
	}
}

// fireMeta 是 multipart 里 "meta" 字段的 JSON 形状
type fireMeta struct {
	TransmittedAt int64    `json:"transmitted_at"`
	TransmittedBy string   `json:"transmitted_by"`
	PublicAccess  bool     `json:"public_access"`
	AccessList    []string `json:"access_list,omitempty"`
}

// Fire 把归档上传到 <host>/beam/receive/ (Bearer 认证)。
//
// 成功路径：解析远端返回的 id -> 删除本地归档 (除非 Debug) ->
// 按打包顺序把 RemoteLocator 回填到每个 carrier 的 Artifact 上。
// 删除永远发生在远端确认之后 —— 任何失败都会原样保留本地归档。
func (c *Channel) Fire(ctx context.Context, host, token string) (*Receipt, error) {
	f, err := os.Open(c.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", c.ArchivePath, err)
	}
	defer f.Close()

	// 1. 组装 meta 块
	transmitter := os.Getenv(TransmitterEnv)
	if transmitter == "" {
		transmitter = "Unknown"
	}
	meta := fireMeta{
		TransmittedAt: time.Now().Unix(),
		TransmittedBy: transmitter,
		PublicAccess:  !c.Private(),
	}
	if c.Private() {
		meta.AccessList = c.AccessList()
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode beam meta: %w", err)
	}

	// 2. 流式构造 multipart 请求体
	// 归档可能很大，绝不整个读进内存；io.Pipe 让上传边读边发
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeMultipart(mw, metaJSON, f, filepath.Base(c.ArchivePath)))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host+ReceiveEndpoint, pr)
	if err != nil {
		return nil, fmt.Errorf("failed to build beam request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	// 3. 发射
	resp, err := c.httpClient().Do(req)
	if err != nil {
		// TLS 校验失败是独立的错误类别：这可能是中间人
		var certErr *tls.CertificateVerificationError
		if errors.As(err, &certErr) {
			return nil, fmt.Errorf("%w: %v", ErrInterception, err)
		}
		return nil, fmt.Errorf("beam transport failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read beam response: %w", err)
	}

	// 4. 检查状态码 (原始响应体必须带出来，否则没法排查)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, body)
	}

	// 5. 解析远端分配的 id
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v: %s", ErrMalformed, err, body)
	}
	rawID, ok := parsed["id"]
	if !ok {
		return nil, fmt.Errorf("%w: missing 'id' field: %s", ErrMalformed, body)
	}
	remoteID := fmt.Sprint(rawID)

	// 6. 远端已确认，现在才能删本地归档
	if !c.Debug {
		if err := os.Remove(c.ArchivePath); err != nil {
			return nil, fmt.Errorf("transmitted but failed to remove local archive: %w", err)
		}
	}

	// 7. 按打包顺序回填远端落点
	// index 是生产者和远端数据之间唯一的 join key
	for i, carrier := range c.carriers {
		if art := carrier.Artifact(); art != nil {
			art.Remote = &types.RemoteLocator{
				Host:     host,
				Endpoint: ReceiveEndpoint,
				RemoteID: remoteID,
				Index:    i,
			}
		}
	}

	return &Receipt{RemoteID: remoteID, Raw: body}, nil
}

// ArchiveDigest 计算本地归档的 SHA-256 和大小 (传送台账用)
func (c *Channel) ArchiveDigest() (string, int64, error) {
	f, err := os.Open(c.ArchivePath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash archive: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

func (c *Channel) httpClient() *http.Client {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	client := &http.Client{Timeout: timeout}
	if c.Insecure {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return client
}

// writeMultipart 依次写入 meta JSON 字段和归档二进制字段
func writeMultipart(mw *multipart.Writer, metaJSON []byte, archive io.Reader, filename string) error {
	// meta 字段带上 application/json，远端好识别
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="meta"`)
	header.Set("Content-Type", "application/json")
	metaPart, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := metaPart.Write(metaJSON); err != nil {
		return err
	}

	archivePart, err := mw.CreateFormFile("archive", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(archivePart, archive); err != nil {
		return err
	}

	return mw.Close()
}
