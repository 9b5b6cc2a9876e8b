package beam

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"ndsb/pkg/artifact"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCarrier 是最小的 Carrier 实现
type testCarrier struct {
	art *artifact.Artifact
}

func (c *testCarrier) Artifact() *artifact.Artifact { return c.art }

// newFixture 准备一份假归档和 n 个 carrier
func newFixture(t *testing.T, n int) (*Channel, string) {
	t.Helper()
	dir := t.TempDir()

	archivePath := filepath.Join(dir, "batch.tar.gz")
	require.NoError(t, os.WriteFile(archivePath, []byte("fake-tarball-bytes"), 0644))

	carriers := make([]Carrier, n)
	for i := 0; i < n; i++ {
		art, err := artifact.New(filepath.Join(dir, "artifacts", strconv.Itoa(i)))
		require.NoError(t, err)
		carriers[i] = &testCarrier{art: art}
	}

	return NewChannel(carriers, archivePath), archivePath
}

func TestFire_Success(t *testing.T) {
	ch, archivePath := newFixture(t, 3)

	// 记录服务端看到的请求内容
	var gotAuth string
	var gotMeta fireMeta
	var gotArchive []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, ReceiveEndpoint, r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("meta")), &gotMeta))

		f, _, err := r.FormFile("archive")
		require.NoError(t, err)
		gotArchive, err = io.ReadAll(f)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 42}`))
	}))
	defer srv.Close()

	t.Setenv(TransmitterEnv, "test-rig")

	ch.MakePrivate()
	require.NoError(t, ch.Grant("alice"))

	receipt, err := ch.Fire(context.Background(), srv.URL, "sekrit-token")
	require.NoError(t, err)
	assert.Equal(t, "42", receipt.RemoteID)

	// 服务端视角
	assert.Equal(t, "Bearer sekrit-token", gotAuth)
	assert.Equal(t, "test-rig", gotMeta.TransmittedBy)
	assert.False(t, gotMeta.PublicAccess)
	assert.Equal(t, []string{"alice"}, gotMeta.AccessList)
	assert.NotZero(t, gotMeta.TransmittedAt)
	assert.Equal(t, "fake-tarball-bytes", string(gotArchive))

	// 成功后本地归档必须被删除 (Debug=false)
	_, statErr := os.Stat(archivePath)
	assert.True(t, os.IsNotExist(statErr), "archive should be removed after confirmed transmission")

	// 每个 carrier 的 Artifact 都要按序拿到远端落点
	for i, c := range ch.carriers {
		remote := c.Artifact().Remote
		require.NotNil(t, remote, "carrier %d missing remote locator", i)
		assert.Equal(t, "42", remote.RemoteID)
		assert.Equal(t, i, remote.Index)
		assert.Equal(t, srv.URL, remote.Host)
		assert.Equal(t, ReceiveEndpoint, remote.Endpoint)
	}
}

func TestFire_DebugKeepsArchive(t *testing.T) {
	ch, archivePath := newFixture(t, 1)
	ch.Debug = true

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "abc"}`))
	}))
	defer srv.Close()

	_, err := ch.Fire(context.Background(), srv.URL, "tok")
	require.NoError(t, err)

	_, statErr := os.Stat(archivePath)
	assert.NoError(t, statErr, "debug mode should keep the local archive")
}

func TestFire_Rejected(t *testing.T) {
	ch, archivePath := newFixture(t, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := ch.Fire(context.Background(), srv.URL, "tok")
	require.ErrorIs(t, err, ErrRejected)
	// 原始响应体必须出现在错误里，方便排查
	assert.Contains(t, err.Error(), "quota exceeded")

	// 失败时本地归档原样保留
	_, statErr := os.Stat(archivePath)
	assert.NoError(t, statErr, "archive must survive a rejected transmission")

	// 落点不能被回填
	assert.Nil(t, ch.carriers[0].Artifact().Remote)
}

func TestFire_MalformedBody(t *testing.T) {
	ch, archivePath := newFixture(t, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>definitely not json</html>"))
	}))
	defer srv.Close()

	_, err := ch.Fire(context.Background(), srv.URL, "tok")
	require.ErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), "not json")

	_, statErr := os.Stat(archivePath)
	assert.NoError(t, statErr)
}

func TestFire_MissingIDField(t *testing.T) {
	ch, _ := newFixture(t, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ok"}`))
	}))
	defer srv.Close()

	_, err := ch.Fire(context.Background(), srv.URL, "tok")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestFire_TLSVerificationFailure(t *testing.T) {
	ch, archivePath := newFixture(t, 1)

	// httptest 的 TLS 证书是自签的，客户端默认校验必然失败
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": 1}`))
	}))
	defer srv.Close()

	_, err := ch.Fire(context.Background(), srv.URL, "tok")
	require.ErrorIs(t, err, ErrInterception)

	_, statErr := os.Stat(archivePath)
	assert.NoError(t, statErr)

	// 显式 opt-out 之后才允许继续
	ch.Insecure = true
	_, err = ch.Fire(context.Background(), srv.URL, "tok")
	require.NoError(t, err)
}

func TestDefaultTransmitterName(t *testing.T) {
	ch, _ := newFixture(t, 0)

	var gotMeta fireMeta
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("meta")), &gotMeta))
		w.Write([]byte(`{"id": 1}`))
	}))
	defer srv.Close()

	t.Setenv(TransmitterEnv, "")

	_, err := ch.Fire(context.Background(), srv.URL, "tok")
	require.NoError(t, err)
	assert.Equal(t, "Unknown", gotMeta.TransmittedBy)
}
