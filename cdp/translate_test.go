package cdp

import (
	"testing"

	"github.com/chromedp/cdproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/xk6-compositor/common"
	"github.com/grafana/xk6-compositor/resource"
	"github.com/grafana/xk6-compositor/scroll"
)

func TestTranslate(t *testing.T) {
	t.Parallel()

	parent := common.PipelineID("F1")
	testCases := []struct {
		name   string
		method cdproto.MethodType
		params string
		want   common.Msg
	}{
		{
			name:   "frame attached",
			method: cdproto.EventPageFrameAttached,
			params: `{"frameId":"F2","parentFrameId":"F1"}`,
			want:   common.MsgAttachPipeline{Pipeline: "F2", Parent: &parent},
		},
		{
			name:   "main frame attached",
			method: cdproto.EventPageFrameAttached,
			params: `{"frameId":"F1"}`,
			want:   common.MsgAttachPipeline{Pipeline: "F1"},
		},
		{
			name:   "frame detached",
			method: cdproto.EventPageFrameDetached,
			params: `{"frameId":"F2"}`,
			want:   common.MsgRetirePipeline{Pipeline: "F2"},
		},
		{
			name:   "mouse wheel",
			method: cdproto.CommandInputDispatchMouseEvent,
			params: `{"type":"mouseWheel","x":10,"y":20,"deltaX":3,"deltaY":100}`,
			want:   common.MsgScroll{Delta: scroll.Vector{X: -3, Y: -100}, Cursor: scroll.Point{X: 10, Y: 20}},
		},
		{
			name:   "mouse move is ignored",
			method: cdproto.CommandInputDispatchMouseEvent,
			params: `{"type":"mouseMoved","x":10,"y":20}`,
		},
		{
			name:   "device metrics",
			method: cdproto.CommandEmulationSetDeviceMetricsOverride,
			params: `{"width":800,"height":600,"deviceScaleFactor":2,"mobile":false}`,
			want:   common.MsgResize{Viewport: common.Size{Width: 1600, Height: 1200}},
		},
		{
			name:   "register webview",
			method: MethodRegisterWebView,
			params: `{"webViewId":"w","pipelineId":"P"}`,
			want:   common.MsgRegisterWebView{WebView: "w", Pipeline: "P"},
		},
		{
			name:   "set frame tree",
			method: MethodSetFrameTree,
			params: `{"webViewId":"w","pipelineId":"Q"}`,
			want:   common.MsgSetFrameTree{WebView: "w", Pipeline: "Q"},
		},
		{
			name:   "remove webview",
			method: MethodRemoveWebView,
			params: `{"webViewId":"w"}`,
			want:   common.MsgRemoveWebView{WebView: "w"},
		},
		{
			name:   "attach pipeline with handle",
			method: MethodAttachPipeline,
			params: `{"pipelineId":"P","webViewId":"w","url":"https://example.com"}`,
			want: common.MsgAttachPipeline{
				Pipeline: "P",
				Handle:   &common.PipelineHandle{ID: "P", WebView: "w", URL: "https://example.com"},
			},
		},
		{
			name:   "retire pipeline",
			method: MethodRetirePipeline,
			params: `{"pipelineId":"P"}`,
			want:   common.MsgRetirePipeline{Pipeline: "P"},
		},
		{
			name:   "resource added",
			method: MethodResourceAdded,
			params: `{"pipelineId":"P","kind":"font-instance","key":7}`,
			want:   common.MsgResourceAdded{Pipeline: "P", Kind: resource.KindFontInstance, Key: 7},
		},
		{
			name:   "resource deleted",
			method: MethodResourceDeleted,
			params: `{"pipelineId":"P","kind":"image","key":1}`,
			want:   common.MsgResourceDeleted{Pipeline: "P", Kind: resource.KindImage, Key: 1},
		},
		{
			name:   "animation state",
			method: MethodAnimationState,
			params: `{"pipelineId":"P","state":"animation-callbacks-present"}`,
			want:   common.MsgAnimationState{Pipeline: "P", State: common.AnimationCallbacksPresent},
		},
		{
			name:   "throttle",
			method: MethodThrottle,
			params: `{"pipelineId":"P","throttled":true}`,
			want:   common.MsgThrottle{Pipeline: "P", Throttled: true},
		},
		{
			name:   "zoom",
			method: MethodZoom,
			params: `{"factor":1.5}`,
			want:   common.MsgZoom{Factor: 1.5},
		},
		{
			name:   "scroll state ack",
			method: MethodScrollStateAck,
			params: `{"pipelineId":"P","states":[{"externalId":4,"x":0,"y":-20}]}`,
			want: common.MsgScrollStateAck{Pipeline: "P", States: []common.ScrollState{
				{ExternalID: 4, Offset: scroll.Vector{Y: -20}},
			}},
		},
		{
			name:   "frame presented",
			method: MethodFramePresented,
			params: `{"epochs":{"P":3}}`,
			want:   common.MsgFramePresented{Epochs: map[common.PipelineID]common.Epoch{"P": 3}},
		},
		{
			name:   "refresh rate",
			method: MethodRefreshRate,
			params: `{"millihertz":120000}`,
			want:   common.MsgRefreshRate{Millihertz: 120000},
		},
		{
			name:   "shutdown",
			method: MethodShutdown,
			want:   common.MsgShutdown{},
		},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := Translate(&cdproto.Message{Method: tc.method, Params: []byte(tc.params)})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTranslateDisplayList(t *testing.T) {
	t.Parallel()

	params := `{
		"pipelineId": "P",
		"epoch": 3,
		"firstReflow": true,
		"contentful": true,
		"hitTestItems": [
			{"x": 0, "y": 0, "width": 800, "height": 600, "node": 1},
			{"x": 0, "y": 100, "width": 800, "height": 2000, "node": 2, "scrollNode": 0, "cursor": "pointer"}
		],
		"scrollNodes": [
			{"externalId": 9, "width": 0, "height": 1400, "inputScrollable": true},
			{"parent": 0}
		],
		"payload": "AQID"
	}`
	got, err := Translate(&cdproto.Message{Method: MethodDisplayList, Params: []byte(params)})
	require.NoError(t, err)

	m, ok := got.(common.MsgDisplayList)
	require.True(t, ok)
	assert.Equal(t, common.PipelineID("P"), m.Pipeline)
	assert.Equal(t, common.Epoch(3), m.Epoch)
	assert.True(t, m.FirstReflow)
	assert.True(t, m.Contentful)
	assert.Equal(t, []byte{1, 2, 3}, m.Payload)

	require.Len(t, m.HitTestItems, 2)
	assert.Equal(t, common.NoScrollNode, m.HitTestItems[0].ScrollNode)
	assert.Equal(t, common.ScrollNodeID(0), m.HitTestItems[1].ScrollNode)
	assert.Equal(t, "pointer", m.HitTestItems[1].Cursor)
	assert.Equal(t, common.Rect{
		Origin: common.DevicePoint{Y: 100},
		Size:   common.Size{Width: 800, Height: 2000},
	}, m.HitTestItems[1].Rect)

	require.Equal(t, 2, m.ScrollTree.Len())
	root, ok := m.ScrollTree.Node(0)
	require.True(t, ok)
	require.NotNil(t, root.Info)
	assert.Equal(t, common.ExternalScrollID(9), root.Info.ExternalID)
	assert.Equal(t, common.NoScrollNode, root.Parent)
	leaf, _ := m.ScrollTree.Node(1)
	assert.Nil(t, leaf.Info)
	assert.Equal(t, common.ScrollNodeID(0), leaf.Parent)
}

func TestTranslateErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		method  cdproto.MethodType
		params  string
		wantErr error
	}{
		{name: "unknown method", method: "Compositor.paint", wantErr: ErrUnknownMethod},
		{name: "other domain", method: "Network.enable", wantErr: ErrUnknownMethod},
		{name: "missing pipeline", method: MethodAttachPipeline, params: `{}`, wantErr: ErrInvalidParams},
		{name: "register without pipeline", method: MethodRegisterWebView, params: `{"webViewId":"w"}`, wantErr: ErrInvalidParams},
		{name: "bad kind", method: MethodResourceAdded, params: `{"pipelineId":"P","kind":"texture"}`, wantErr: ErrInvalidParams},
		{name: "bad animation state", method: MethodAnimationState, params: `{"pipelineId":"P","state":"dancing"}`, wantErr: ErrInvalidParams},
		{name: "zero zoom", method: MethodZoom, params: `{"factor":0}`, wantErr: ErrInvalidParams},
		{name: "zero refresh rate", method: MethodRefreshRate, params: `{}`, wantErr: ErrInvalidParams},
		{name: "negative item size", method: MethodDisplayList, params: `{"pipelineId":"P","hitTestItems":[{"width":-1}]}`, wantErr: ErrInvalidParams},
		{name: "self parented scroll node", method: MethodDisplayList, params: `{"pipelineId":"P","scrollNodes":[{"parent":0}]}`, wantErr: ErrInvalidParams},
		{name: "forward scroll parent", method: MethodDisplayList, params: `{"pipelineId":"P","scrollNodes":[{"parent":1},{"parent":0}]}`, wantErr: ErrInvalidParams},
		{name: "malformed json", method: MethodRetirePipeline, params: `{"pipelineId":`, wantErr: ErrInvalidParams},
		{name: "malformed frame event", method: cdproto.EventPageFrameDetached, params: `[]`, wantErr: ErrInvalidParams},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := Translate(&cdproto.Message{Method: tc.method, Params: []byte(tc.params)})
			assert.Nil(t, got)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestEventMessage(t *testing.T) {
	t.Parallel()

	msg, err := eventMessage(common.Event{
		Type: common.EventAnimationTick,
		Data: common.AnimationTickEvent{Pipeline: "P", Type: common.TickAnimationFrameCallbacks},
	})
	require.NoError(t, err)
	assert.Equal(t, EventAnimationTick, msg.Method)
	assert.JSONEq(t, `{"pipelineId":"P","cssAnimations":false,"animationCallbacks":true}`, string(msg.Params))

	msg, err = eventMessage(common.Event{
		Type: common.EventScrollStates,
		Data: common.ScrollStatesEvent{Pipeline: "P"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"pipelineId":"P","states":[]}`, string(msg.Params))

	_, err = eventMessage(common.Event{Type: "other", Data: 42})
	assert.Error(t, err)
}
