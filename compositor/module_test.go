package compositor

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/xk6-compositor/k6ext/k6test"
)

func newModuleVU(t *testing.T) *k6test.VU {
	t.Helper()

	vu := k6test.NewVU(t)
	vu.MoveToVUContext()
	mi := New().NewModuleInstance(vu)
	require.NoError(t, vu.Runtime().Set("compositor", mi.Exports().Default))

	return vu
}

func TestModuleCompositorFirstPaint(t *testing.T) {
	t.Parallel()

	vu := newModuleVU(t)
	_, err := vu.RunJS(`
		var c = compositor.newCompositor({ refreshRate: 240, tags: { scenario: "paint" } });
		c.registerWebView("w1", "p1");
		c.attachPipeline("p1", { webViewId: "w1", url: "https://grafana.com" });
		c.displayList("p1", {
			epoch: 1,
			firstReflow: true,
			contentful: true,
			hitTestItems: [{ x: 0, y: 0, width: 100, height: 100, node: 7, cursor: "pointer" }]
		});
	`)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, err := vu.RunJS(`c.tick(); c.paintMetrics("p1").firstContentfulPaint.phase === "sent"`)
		return err == nil && v.ToBoolean()
	}, 5*time.Second, 10*time.Millisecond)

	v, err := vu.RunJS(`c.paintMetrics("p1").firstPaint.phase`)
	require.NoError(t, err)
	assert.Equal(t, "sent", v.String())

	v, err = vu.RunJS(`c.paintEvents().length`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.ToInteger())

	v, err = vu.RunJS(`c.stableImage()`)
	require.NoError(t, err)
	assert.True(t, v.ToBoolean())

	byName := make(map[string]int)
	for _, s := range vu.CollectSamples() {
		byName[s.Metric.Name]++
		if s.Metric.Name == "compositor_first_paint" {
			scenario, _ := s.Tags.Get("scenario")
			assert.Equal(t, "paint", scenario)
			assert.GreaterOrEqual(t, s.Value, 0.0)
		}
	}
	assert.Equal(t, 1, byName["compositor_first_paint"])
	assert.Equal(t, 1, byName["compositor_first_contentful_paint"])
	assert.GreaterOrEqual(t, byName["compositor_frames"], 1)
}

func TestModuleCompositorHitTest(t *testing.T) {
	t.Parallel()

	vu := newModuleVU(t)
	_, err := vu.RunJS(`
		var c = compositor.newCompositor();
		c.registerWebView("w1", "p1");
		c.attachPipeline("p1", { webViewId: "w1" });
		c.displayList("p1", {
			epoch: 1,
			hitTestItems: [{ x: 0, y: 0, width: 100, height: 100, node: 7, cursor: "pointer" }]
		});
	`)
	require.NoError(t, err)

	v, err := vu.RunJS(`c.hitTest(10, 10).node`)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.ToInteger())

	v, err = vu.RunJS(`c.hitTest(10, 10, "p1").cursor`)
	require.NoError(t, err)
	assert.Equal(t, "pointer", v.String())

	v, err = vu.RunJS(`c.hitTest(500, 500) === null`)
	require.NoError(t, err)
	assert.True(t, v.ToBoolean())
}

func TestModuleCompositorLifecycle(t *testing.T) {
	t.Parallel()

	vu := newModuleVU(t)
	_, err := vu.RunJS(`
		var c = compositor.newCompositor({ vsync: "mailbox" });
		c.registerWebView("w1", "p1");
		c.attachPipeline("p1", { webViewId: "w1" });
		c.attachPipeline("p2", { parentId: "p1", webViewId: "w1" });
		c.resourceAdded("p2", "image", 42);
		c.scroll(0, -5, 10, 10);
		c.scroll(0, -5, 10, 10);
	`)
	require.NoError(t, err)

	v, err := vu.RunJS(`c.stats().pipelines`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.ToInteger())

	v, err = vu.RunJS(`c.stats().scrollEvents`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.ToInteger())

	_, err = vu.RunJS(`c.attachPipeline("", {})`)
	assert.Error(t, err)

	_, err = vu.RunJS(`c.send("Compositor.unknown", {})`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown method")

	v, err = vu.RunJS(`c.retirePipeline("p2"); c.stats().releasedKeys`)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.ToInteger())

	v, err = vu.RunJS(`c.shutdown(); c.stats().shutdownState`)
	require.NoError(t, err)
	assert.Equal(t, "finished", v.String())

	v, err = vu.RunJS(`c.stats().pipelines`)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.ToInteger())
}

// frameTreeBrowser answers Page.enable and Page.getFrameTree with a main
// frame and the given number of children, then reports as many frames
// attaching late.
func frameTreeBrowser(children int) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close() //nolint:errcheck

		for {
			var req struct {
				ID     int64  `json:"id"`
				Method string `json:"method"`
			}
			if err := ws.ReadJSON(&req); err != nil {
				return
			}
			var out []string
			switch req.Method {
			case "Page.getFrameTree":
				var kids []string
				for i := 0; i < children; i++ {
					kids = append(kids, fmt.Sprintf(
						`{"frame":{"id":"child%d","parentId":"main","loaderId":"L","url":"about:blank","securityOrigin":"://","mimeType":"text/html"}}`, i))
				}
				out = append(out, fmt.Sprintf(`{"id":%d,"result":{"frameTree":{`+
					`"frame":{"id":"main","loaderId":"L","url":"https://example.com/","securityOrigin":"https://example.com","mimeType":"text/html"},`+
					`"childFrames":[%s]}}}`, req.ID, strings.Join(kids, ",")))
				for i := 0; i < children; i++ {
					out = append(out, fmt.Sprintf(`{"method":"Page.frameAttached","params":{"frameId":"late%d","parentFrameId":"main"}}`, i))
				}
			default:
				out = append(out, fmt.Sprintf(`{"id":%d,"result":{}}`, req.ID))
			}
			for _, o := range out {
				if err := ws.WriteMessage(websocket.TextMessage, []byte(o)); err != nil {
					return
				}
			}
		}
	}))
}

func TestModuleConnectWithSmallInbox(t *testing.T) {
	t.Parallel()

	const children = 4

	browser := frameTreeBrowser(children)
	defer browser.Close()
	url := "ws" + strings.TrimPrefix(browser.URL, "http")

	vu := newModuleVU(t)
	_, err := vu.RunJS(`var c = compositor.newCompositor({ inboxSize: 1 });`)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := vu.RunJS(fmt.Sprintf(`c.connect(%q)`, url))
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("connect did not return")
	}

	want := int64(1 + 2*children)
	require.Eventually(t, func() bool {
		v, err := vu.RunJS(`c.tick(); c.stats().pipelines`)
		return err == nil && v.ToInteger() == want
	}, 5*time.Second, 10*time.Millisecond)

	v, err := vu.RunJS(`c.stats().webViews`)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.ToInteger())

	v, err = vu.RunJS(`c.stats().sessions`)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.ToInteger())
}

func TestModuleNewCompositorInvalidOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, opts, wantErr string
	}{
		{name: "vsync", opts: `{ vsync: "sometimes" }`, wantErr: "unknown vsync mode"},
		{name: "pinch_zoom", opts: `{ minPinchZoom: 4, maxPinchZoom: 2 }`, wantErr: "pinch zoom"},
		{name: "scroll_max_events", opts: `{ scrollMaxEvents: 0 }`, wantErr: "scrollMaxEvents"},
		{name: "log_level", opts: `{ logLevel: "loud" }`, wantErr: "logLevel"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			vu := newModuleVU(t)
			_, err := vu.RunJS(`compositor.newCompositor(` + tt.opts + `)`)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestModuleVersion(t *testing.T) {
	t.Parallel()

	vu := newModuleVU(t)
	v, err := vu.RunJS(`compositor.version`)
	require.NoError(t, err)
	assert.Equal(t, Version, v.String())
}
