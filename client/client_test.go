package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MswTester/sendrop/config"
	"github.com/MswTester/sendrop/core"
	"github.com/MswTester/sendrop/logger"
	"github.com/MswTester/sendrop/server"
	"github.com/MswTester/sendrop/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) string {
	t.Helper()

	cfg := config.DefaultHub()
	cfg.Assets = t.TempDir()
	cfg.MDNS = false

	hub := core.NewHub(core.Options{Logger: logger.Nop(), PendingTimeout: time.Minute, Retention: time.Minute})
	ts := httptest.NewServer(server.New(cfg, hub, logger.Nop()).Handler())
	t.Cleanup(func() {
		ts.Close()
		hub.Close()
	})

	return "ws" + strings.TrimPrefix(ts.URL, "http") + config.WSPath
}

func connect(t *testing.T, url string) *Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, url, "test", logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return c
}

func waitForDevice(t *testing.T, c *Client, id string) {
	t.Helper()

	require.Eventually(t, func() bool {
		_, ok := c.Devices()[id]
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func nextRequest(t *testing.T, c *Client) Request {
	t.Helper()

	select {
	case req := <-c.Requests():
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no request arrived")
		return Request{}
	}
}

func TestDialReceivesIdentity(t *testing.T) {
	url := startHub(t)

	a := connect(t, url)
	assert.NotEmpty(t, a.Self.ID)
	assert.Contains(t, a.Self.UserAgent, "Unknown Browser - Desktop")

	b := connect(t, url)
	waitForDevice(t, a, b.Self.ID)
	waitForDevice(t, b, a.Self.ID)

	assert.Equal(t, 1, a.CountDevices())
	assert.Equal(t, []string{b.Self.ID}, a.DeviceIDs())
}

func TestDialKnowsPeersOnReturn(t *testing.T) {
	url := startHub(t)

	b := connect(t, url)

	for range 10 {
		a := connect(t, url)

		_, ok := a.Devices()[b.Self.ID]
		require.True(t, ok, "device list must be populated when Dial returns")

		require.NoError(t, a.Close())
		<-a.Done()
	}
}

func TestSendTextAccepted(t *testing.T) {
	url := startHub(t)
	a, b := connect(t, url), connect(t, url)
	waitForDevice(t, a, b.Self.ID)

	errch := make(chan error, 1)
	go func() {
		errch <- a.SendText(t.Context(), Offer{TargetID: b.Self.ID, Text: "see you at 6", Timeout: 2 * time.Second})
	}()

	req := nextRequest(t, b)
	assert.Equal(t, types.KindText, req.Kind)
	assert.Equal(t, a.Self.ID, req.SenderID)

	text, err := b.AcceptText(t.Context(), req, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "see you at 6", text)

	require.NoError(t, <-errch)
}

func TestSendTextRejected(t *testing.T) {
	url := startHub(t)
	a, b := connect(t, url), connect(t, url)
	waitForDevice(t, a, b.Self.ID)

	errch := make(chan error, 1)
	go func() {
		errch <- a.SendText(t.Context(), Offer{TargetID: b.Self.ID, Text: "hi", Timeout: 2 * time.Second})
	}()

	require.NoError(t, b.Reject(nextRequest(t, b)))
	assert.ErrorIs(t, <-errch, ErrRejected)
}

func TestSendToUnknownDevice(t *testing.T) {
	url := startHub(t)
	a := connect(t, url)

	err := a.SendText(t.Context(), Offer{TargetID: "nobody", Text: "hi", Timeout: 2 * time.Second})

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "unknown_target", remote.Code)
}

func TestSendFileInChunks(t *testing.T) {
	url := startHub(t)
	a, b := connect(t, url), connect(t, url)
	waitForDevice(t, a, b.Self.ID)

	content := make([]byte, 10_000)
	_, err := rand.Read(content)
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(src, content, 0o644))

	var sent atomic.Int64
	errch := make(chan error, 1)
	go func() {
		errch <- a.SendFile(t.Context(), Offer{
			TargetID:  b.Self.ID,
			Path:      src,
			ChunkSize: 4096,
			Timeout:   2 * time.Second,
			OnChunk:   func(n int) { sent.Add(int64(n)) },
		})
	}()

	req := nextRequest(t, b)
	assert.Equal(t, "photo.jpg", req.FileName)
	assert.Equal(t, 3, req.TotalChunks)
	assert.Equal(t, int64(len(content)), req.FileSize)

	dir := t.TempDir()
	var received atomic.Int64
	path, err := b.AcceptFile(t.Context(), req, dir, func(n int) { received.Add(int64(n)) })
	require.NoError(t, err)
	require.NoError(t, <-errch)

	assert.Equal(t, filepath.Join(dir, "photo.jpg"), path)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))
	assert.Equal(t, int64(len(content)), sent.Load())
	assert.Equal(t, int64(len(content)), received.Load())

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.part"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestSenderLeavingRemovesPartialFile(t *testing.T) {
	url := startHub(t)
	a, b := connect(t, url), connect(t, url)
	waitForDevice(t, a, b.Self.ID)

	src := filepath.Join(t.TempDir(), "big.bin")
	require.NoError(t, os.WriteFile(src, make([]byte, 64), 0o644))

	go func() {
		_ = a.SendFile(t.Context(), Offer{
			TargetID:   b.Self.ID,
			Path:       src,
			ChunkSize:  16,
			Timeout:    2 * time.Second,
			OnAccepted: func() { a.Close() },
		})
	}()

	dir := t.TempDir()
	_, err := b.AcceptFile(t.Context(), nextRequest(t, b), dir, nil)
	assert.ErrorIs(t, err, ErrAborted)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestChunks(t *testing.T) {
	assert.Equal(t, 1, Chunks(0, 1024))
	assert.Equal(t, 1, Chunks(1024, 1024))
	assert.Equal(t, 2, Chunks(1025, 1024))
	assert.Equal(t, 3, Chunks(10_000, 4096))
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, filepath.Join(dir, "a.txt"), uniquePath(dir, "a.txt"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), nil, 0o644))
	got := uniquePath(dir, "a.txt")
	assert.NotEqual(t, filepath.Join(dir, "a.txt"), got)
	assert.True(t, strings.HasPrefix(filepath.Base(got), "a_"))
	assert.Equal(t, ".txt", filepath.Ext(got))
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "passwd", safeName("../../etc/passwd"))
	assert.Equal(t, "evil.exe", safeName(`C:\Windows\evil.exe`))
	assert.Equal(t, "download", safeName(".."))
	assert.Equal(t, "download", safeName(""))
}
