package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/xk6-compositor/common"
	"github.com/grafana/xk6-compositor/log"
)

type recordingTarget struct {
	msgs chan common.Msg
}

func newRecordingTarget() *recordingTarget {
	return &recordingTarget{msgs: make(chan common.Msg, 16)}
}

func (r *recordingTarget) Post(ctx context.Context, m common.Msg) error {
	select {
	case r.msgs <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *recordingTarget) next(t *testing.T) common.Msg {
	t.Helper()
	select {
	case m := <-r.msgs:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no message posted")
		return nil
	}
}

type wireMessage struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int64  `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func readWire(t *testing.T, ws *websocket.Conn) wireMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg wireMessage
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func TestServerSession(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	target := newRecordingTarget()
	events := common.NewEventConstellation(ctx)
	srv := NewServer(ctx, target, events, log.NewNullLogger())
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer ws.Close() //nolint:errcheck

	require.NoError(t, ws.WriteMessage(websocket.TextMessage,
		[]byte(`{"id":1,"method":"Compositor.attachPipeline","params":{"pipelineId":"P","webViewId":"w"}}`)))
	reply := readWire(t, ws)
	assert.Equal(t, int64(1), reply.ID)
	assert.Nil(t, reply.Error)
	assert.JSONEq(t, `{}`, string(reply.Result))
	assert.Equal(t, common.MsgAttachPipeline{
		Pipeline: "P",
		Handle:   &common.PipelineHandle{ID: "P", WebView: "w"},
	}, target.next(t))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"id":2,"method":"Compositor.paint"}`)))
	reply = readWire(t, ws)
	assert.Equal(t, int64(2), reply.ID)
	require.NotNil(t, reply.Error)
	assert.Equal(t, int64(codeMethodNotFound), reply.Error.Code)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage,
		[]byte(`{"id":3,"method":"Compositor.zoom","params":{"factor":-1}}`)))
	reply = readWire(t, ws)
	require.NotNil(t, reply.Error)
	assert.Equal(t, int64(codeInvalidParams), reply.Error.Code)

	// Events carry no id and get no reply.
	require.NoError(t, ws.WriteMessage(websocket.TextMessage,
		[]byte(`{"method":"Page.frameDetached","params":{"frameId":"P"}}`)))
	assert.Equal(t, common.MsgRetirePipeline{Pipeline: "P"}, target.next(t))

	events.PaintMetric(common.PaintMetricEvent{
		Pipeline:    "P",
		WebView:     "w",
		Kind:        common.FirstContentfulPaint,
		Epoch:       3,
		FirstReflow: true,
		Time:        time.UnixMilli(1500),
	})
	ev := readWire(t, ws)
	assert.Equal(t, string(EventPaintMetric), ev.Method)
	assert.JSONEq(t,
		`{"pipelineId":"P","webViewId":"w","name":"first-contentful-paint","epoch":3,"firstReflow":true,"timestamp":1500}`,
		string(ev.Params))

	assert.Equal(t, 1, srv.Sessions())
	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool { return srv.Sessions() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestServerSessionSkipsMalformedFrames(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	target := newRecordingTarget()
	srv := NewServer(ctx, target, nil, log.NewNullLogger())
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer ws.Close() //nolint:errcheck

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"method":"Compositor.shutdown"}`)))
	assert.Equal(t, common.MsgShutdown{}, target.next(t))

	srv.Close()
	assert.Eventually(t, func() bool { return srv.Sessions() == 0 }, 5*time.Second, 10*time.Millisecond)
}

// fakeBrowser answers the Page commands Attach sends and reports one more
// frame afterwards.
func fakeBrowser() *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close() //nolint:errcheck

		for {
			var req wireMessage
			if err := ws.ReadJSON(&req); err != nil {
				return
			}
			var out []string
			switch req.Method {
			case "Page.enable":
				out = append(out, fmt.Sprintf(`{"id":%d,"result":{}}`, req.ID))
			case "Page.getFrameTree":
				out = append(out,
					fmt.Sprintf(`{"id":%d,"result":{"frameTree":{`+
						`"frame":{"id":"main","loaderId":"L1","url":"https://example.com/","securityOrigin":"https://example.com","mimeType":"text/html"},`+
						`"childFrames":[{"frame":{"id":"child","parentId":"main","loaderId":"L2","url":"about:blank","securityOrigin":"://","mimeType":"text/html"}}]`+
						`}}}`, req.ID),
					`{"method":"Page.frameAttached","params":{"frameId":"late","parentFrameId":"main"}}`,
				)
			default:
				out = append(out, fmt.Sprintf(`{"id":%d,"error":{"code":-32601,"message":"not found"}}`, req.ID))
			}
			for _, o := range out {
				if err := ws.WriteMessage(websocket.TextMessage, []byte(o)); err != nil {
					return
				}
			}
		}
	}))
}

func TestAttach(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	browser := fakeBrowser()
	defer browser.Close()

	target := newRecordingTarget()
	sess, err := Attach(ctx, wsURL(browser), target, nil, log.NewNullLogger())
	require.NoError(t, err)
	defer sess.Close()

	mainID := common.PipelineID("main")
	want := []common.Msg{
		common.MsgRegisterWebView{WebView: "main", Pipeline: "main"},
		common.MsgAttachPipeline{
			Pipeline: "main",
			Handle:   &common.PipelineHandle{ID: "main", WebView: "main", URL: "https://example.com/"},
		},
		common.MsgAttachPipeline{
			Pipeline: "child",
			Parent:   &mainID,
			Handle:   &common.PipelineHandle{ID: "child", WebView: "main", URL: "about:blank"},
		},
		common.MsgAttachPipeline{Pipeline: "late", Parent: &mainID},
	}
	var got []common.Msg
	for range want {
		got = append(got, target.next(t))
	}
	assert.ElementsMatch(t, want, got)

	err = sess.Execute(ctx, "Browser.getVersion", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestAttachFails(t *testing.T) {
	t.Parallel()

	_, err := Attach(context.Background(), "ws://127.0.0.1:1/devtools", newRecordingTarget(), nil, log.NewNullLogger())
	assert.Error(t, err)
}
