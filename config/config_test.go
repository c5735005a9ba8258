package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/xk6-compositor/gpu"
	"github.com/grafana/xk6-compositor/pacing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "compositor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	o, err := Load("")
	require.NoError(t, err)
	assert.False(t, o.Pacing.RefreshRate.Valid)
	assert.Equal(t, gpu.MediaAuto, o.Media.Backend)
	assert.Equal(t, gpu.ShaderPrecacheAsync, o.Shaders.Strategy)

	opts, err := o.CompositorOptions()
	require.NoError(t, err)
	assert.Equal(t, pacing.DefaultConfig(), opts.Pacing)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
compositor:
  max_pending_frames: 3
  headless: true
pacing:
  refresh_rate: 144
  vsync: mailbox
scroll:
  max_hold: 8ms
memory:
  warning_threshold: 60
  check_interval: 1s
media:
  backend: dummy
shaders:
  strategy: full
webgl:
  version: 1
server:
  addr: 0.0.0.0:9444
  report: report.yaml
`)
	o, err := Load(path)
	require.NoError(t, err)

	assert.True(t, o.Pacing.RefreshRate.Valid)
	assert.Equal(t, 144.0, o.Pacing.RefreshRate.Float64)
	assert.Equal(t, gpu.MediaDummy, o.Media.Backend)
	assert.Equal(t, gpu.ShaderPrecacheFull, o.Shaders.Strategy)
	assert.Equal(t, gpu.WebGL1, o.WebGL.Version)
	assert.Equal(t, "0.0.0.0:9444", o.Server.Addr)
	assert.Equal(t, "/devtools/compositor", o.Server.Path)
	assert.Equal(t, "report.yaml", o.Server.Report)

	opts, err := o.CompositorOptions()
	require.NoError(t, err)
	assert.Equal(t, 144.0, opts.Pacing.RefreshRate)
	assert.Equal(t, pacing.VsyncMailbox, opts.Pacing.Vsync)
	assert.Equal(t, 3, opts.MaxPendingFrames)
	assert.True(t, opts.Headless)
	assert.Equal(t, 8*time.Millisecond, opts.Scroll.MaxHold)
	assert.Equal(t, 60.0, opts.Memory.WarningThreshold)
	assert.Equal(t, time.Second, opts.Memory.CheckInterval)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("XK6_COMPOSITOR_PACING_REFRESH_RATE", "120")
	t.Setenv("XK6_COMPOSITOR_LOG_LEVEL", "debug")
	t.Setenv("XK6_COMPOSITOR_SCROLL_MAX_EVENTS", "4")

	o, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 120.0, o.Pacing.RefreshRate.Float64)
	assert.Equal(t, "debug", o.Log.Level)
	assert.Equal(t, uint32(4), o.Scroll.MaxEvents)
}

func TestLoadInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{name: "refresh_rate", content: "pacing:\n  refresh_rate: 1000\n"},
		{name: "vsync", content: "pacing:\n  vsync: sometimes\n"},
		{name: "thresholds", content: "memory:\n  warning_threshold: 95\n  critical_threshold: 90\n"},
		{name: "pinch_zoom", content: "compositor:\n  min_pinch_zoom: 4\n  max_pinch_zoom: 2\n"},
		{name: "media", content: "media:\n  backend: vlc\n"},
		{name: "webgl_version", content: "webgl:\n  version: 3\n"},
		{name: "server_path", content: "server:\n  path: devtools\n"},
		{name: "tracing_endpoint", content: "tracing:\n  enabled: true\n  endpoint: \"\"\n"},
		{name: "log_level", content: "log:\n  level: loud\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalid)
}

func TestYAML(t *testing.T) {
	t.Parallel()

	out, err := Default().YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "max_pending_frames: 2")
	assert.Contains(t, string(out), "check_interval: 5s")
	assert.Contains(t, string(out), "backend: auto")

	path := writeConfig(t, string(out))
	o, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Server, o.Server)
}
