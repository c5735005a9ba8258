package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/xk6-compositor/compositor"
	"github.com/grafana/xk6-compositor/config"
	"github.com/grafana/xk6-compositor/log"
	"github.com/grafana/xk6-compositor/storage"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommands(t *testing.T) {
	t.Parallel()

	var names []string
	for _, c := range newRootCmd().Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "attach", "config", "version"}, names)
}

func TestVersionCmd(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "xk6-compositor "+compositor.Version+"\n", out)
}

func TestConfigCmd(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "compositor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pacing:\n  refresh_rate: 144\n"), 0o600))

	out, err := execute(t, "config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "refresh_rate: 144")
	assert.Contains(t, out, "path: /devtools/compositor")
}

func TestCmdErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown_command", args: []string{"paint"}},
		{name: "missing_config", args: []string{"config", "--config", "/does/not/exist.yaml"}},
		{name: "attach_without_url", args: []string{"attach"}},
		{name: "version_with_args", args: []string{"version", "now"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestAttachUnreachableBrowser(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Log.Level = "error"

	cmd := newAttachCmd()
	cmd.SetErr(io.Discard)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := attach(ctx, cfg, "ws://127.0.0.1:1/devtools/browser", cmd)
	assert.Error(t, err)
}

func TestServeWritesReport(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Log.Level = "error"
	cfg.Server.Report = filepath.Join(t.TempDir(), "reports", "session.yaml")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, ln, io.Discard) }()

	url := fmt.Sprintf("ws://%s%s", ln.Addr(), cfg.Server.Path)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close() //nolint:errcheck

	require.NoError(t, ws.WriteMessage(websocket.TextMessage,
		[]byte(`{"id":1,"method":"Compositor.attachPipeline","params":{"pipelineId":"P","webViewId":"w"}}`)))
	var reply struct {
		ID    int64 `json:"id"`
		Error *struct {
			Code int64 `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, ws.ReadJSON(&reply))
	assert.Equal(t, int64(1), reply.ID)
	assert.Nil(t, reply.Error)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return")
	}

	data, err := os.ReadFile(cfg.Server.Report)
	require.NoError(t, err)
	r, err := storage.ReadReport(data)
	require.NoError(t, err)
	assert.NotEmpty(t, r.SessionID)
	assert.False(t, r.FinishedAt.Before(r.StartedAt))
	assert.Zero(t, r.Counters.UnknownPipeline)
}

func TestLoadShaders(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quad.vert"), []byte("void main() {}"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quad.frag"), []byte("void main() {}"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.wgsl"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("shaders"), 0o600))

	p := loadShaders(dir, log.NewNullLogger())
	assert.Equal(t, uint32(3), p.Total)
	assert.Equal(t, uint32(2), p.Compiled)
	assert.Equal(t, uint32(1), p.Failed)
	assert.True(t, p.Complete)

	p = loadShaders("", log.NewNullLogger())
	assert.True(t, p.Complete)
	assert.Zero(t, p.Total)
}
