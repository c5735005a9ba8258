package gpu

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/xk6-compositor/log"
)

func TestParseShaderPrecacheStrategy(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in   string
		want ShaderPrecacheStrategy
		err  bool
	}{
		{in: "none", want: ShaderPrecacheNone},
		{in: "OFF", want: ShaderPrecacheNone},
		{in: "ASYNC", want: ShaderPrecacheAsync},
		{in: "background", want: ShaderPrecacheAsync},
		{in: "", want: ShaderPrecacheAsync},
		{in: "full", want: ShaderPrecacheFull},
		{in: "synchronous", want: ShaderPrecacheFull},
		{in: "invalid", err: true},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()

			got, err := ParseShaderPrecacheStrategy(tc.in)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestShaderPresets(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ShaderPrecacheNone, FastStartupShaderPrecache().Strategy)
	assert.Equal(t, ShaderPrecacheFull, SmoothRuntimeShaderPrecache().Strategy)
	assert.Equal(t, ShaderPrecacheAsync, BalancedShaderPrecache().Strategy)
	assert.Equal(t, ShaderPrecacheAsync, ShaderPrecacheStrategy(0), "async is the zero value")

	c := ShaderPrecacheConfig{StrategyName: "sync"}
	require.NoError(t, c.Resolve())
	assert.Equal(t, ShaderPrecacheFull, c.Strategy)
	assert.Contains(t, c.Strategy.Description(), "smoothest runtime")
}

func TestCompilationProgress(t *testing.T) {
	t.Parallel()

	p := NewCompilationProgress(10, log.NewNullLogger())
	assert.Equal(t, float32(0), p.Percentage())
	for i := 0; i < 8; i++ {
		p.OnCompiled()
	}
	assert.Equal(t, float32(80), p.Percentage())
	assert.False(t, p.Complete)

	p.OnFailed()
	p.OnCompiled()
	assert.True(t, p.Complete)
	assert.True(t, p.HasFailures())

	empty := NewCompilationProgress(0, log.NewNullLogger())
	assert.True(t, empty.Complete)
	assert.Equal(t, float32(100), empty.Percentage())
}

type fakeDriver map[WebGLVersion]string

func (d fakeDriver) CreateContext(v WebGLVersion) (string, error) {
	r, ok := d[v]
	if !ok {
		return "", errors.New("context creation failed")
	}
	return r, nil
}

func TestInitWebGL(t *testing.T) {
	t.Parallel()

	logger := log.NewNullLogger()
	testCases := []struct {
		name      string
		cfg       WebGLConfig
		driver    WebGLDriver
		blocklist []BlocklistEntry
		status    WebGLStatus
		version   WebGLVersion
	}{
		{
			name:   "disabled",
			cfg:    WebGLConfig{Enabled: false, Version: WebGL2},
			driver: fakeDriver{WebGL2: "llvmpipe"},
			status: WebGLDisabled,
		},
		{
			name:   "no_driver",
			cfg:    DefaultWebGLConfig(),
			status: WebGLDisabled,
		},
		{
			name:    "webgl2",
			cfg:     DefaultWebGLConfig(),
			driver:  fakeDriver{WebGL2: "Mesa Intel", WebGL1: "Mesa Intel"},
			status:  WebGLSuccess,
			version: WebGL2,
		},
		{
			name:    "fallback_to_webgl1",
			cfg:     DefaultWebGLConfig(),
			driver:  fakeDriver{WebGL1: "Mesa Intel"},
			status:  WebGLSuccess,
			version: WebGL1,
		},
		{
			name:   "nothing_works",
			cfg:    DefaultWebGLConfig(),
			driver: fakeDriver{},
			status: WebGLFailed,
		},
		{
			name:      "blocklisted",
			cfg:       DefaultWebGLConfig(),
			driver:    fakeDriver{WebGL2: "ACME Rage 128"},
			blocklist: []BlocklistEntry{{VendorPattern: "^ACME", DevicePattern: "Rage", Reason: "driver crashes"}},
			status:    WebGLFailed,
		},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			res := InitWebGL(tc.cfg, tc.driver, tc.blocklist, logger)
			assert.Equal(t, tc.status, res.Status, res.Reason)
			if tc.status == WebGLSuccess {
				assert.Equal(t, tc.version, res.Version)
			}
		})
	}
}

func TestMediaInit(t *testing.T) {
	t.Parallel()

	logger := log.NewNullLogger()
	ok := func() error { return nil }
	missing := func() error { return errors.New("libgstreamer not found") }

	res, err := MediaConfig{Backend: MediaAuto}.Init(missing, logger)
	require.NoError(t, err)
	assert.Equal(t, MediaDummy, res.Backend)
	assert.False(t, res.Playback())
	assert.Contains(t, res.Message, "libgstreamer not found")

	res, err = MediaConfig{Backend: MediaAuto}.Init(ok, logger)
	require.NoError(t, err)
	assert.Equal(t, MediaGStreamer, res.Backend)
	assert.True(t, res.Playback())

	_, err = MediaConfig{Backend: MediaGStreamer}.Init(nil, logger)
	assert.ErrorIs(t, err, ErrBackendUnavailable)

	res, err = MediaConfig{Backend: MediaDummy}.Init(ok, logger)
	require.NoError(t, err)
	assert.Equal(t, MediaDummy, res.Backend)

	b, err := ParseMediaBackend("GStreamer")
	require.NoError(t, err)
	assert.Equal(t, MediaGStreamer, b)
	_, err = ParseMediaBackend("vlc")
	assert.Error(t, err)
}
