package cdp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/go-playground/validator/v10"
	"github.com/mailru/easyjson"

	"github.com/grafana/xk6-compositor/common"
	"github.com/grafana/xk6-compositor/resource"
	"github.com/grafana/xk6-compositor/scroll"
)

var (
	// ErrUnknownMethod is returned for methods the compositor does not handle.
	ErrUnknownMethod = errors.New("unknown method")

	// ErrInvalidParams is returned when the params of a known method do not
	// decode or fail validation.
	ErrInvalidParams = errors.New("invalid params")
)

// Methods of the Compositor domain.
const (
	MethodRegisterWebView cdproto.MethodType = "Compositor.registerWebView"
	MethodSetFrameTree    cdproto.MethodType = "Compositor.setFrameTree"
	MethodRemoveWebView   cdproto.MethodType = "Compositor.removeWebView"
	MethodAttachPipeline  cdproto.MethodType = "Compositor.attachPipeline"
	MethodRetirePipeline  cdproto.MethodType = "Compositor.retirePipeline"
	MethodDisplayList     cdproto.MethodType = "Compositor.displayList"
	MethodResourceAdded   cdproto.MethodType = "Compositor.resourceAdded"
	MethodResourceDeleted cdproto.MethodType = "Compositor.resourceDeleted"
	MethodAnimationState  cdproto.MethodType = "Compositor.animationState"
	MethodThrottle        cdproto.MethodType = "Compositor.throttle"
	MethodZoom            cdproto.MethodType = "Compositor.zoom"
	MethodScrollStateAck  cdproto.MethodType = "Compositor.scrollStateAck"
	MethodFramePresented  cdproto.MethodType = "Compositor.framePresented"
	MethodRefreshRate     cdproto.MethodType = "Compositor.refreshRate"
	MethodShutdown        cdproto.MethodType = "Compositor.shutdown"
)

// Events of the Compositor domain sent back to the peer.
const (
	EventPaintMetric    cdproto.MethodType = "Compositor.paintMetric"
	EventAnimationTick  cdproto.MethodType = "Compositor.animationTick"
	EventScrollStates   cdproto.MethodType = "Compositor.scrollStates"
	EventMemoryPressure cdproto.MethodType = "Compositor.memoryPressure"
)

var validate = validator.New() //nolint:gochecknoglobals

type webViewParams struct {
	WebViewID  string `json:"webViewId" validate:"required"`
	PipelineID string `json:"pipelineId"`
}

type attachPipelineParams struct {
	PipelineID string `json:"pipelineId" validate:"required"`
	ParentID   string `json:"parentId,omitempty"`
	WebViewID  string `json:"webViewId,omitempty"`
	URL        string `json:"url,omitempty"`
}

type pipelineParams struct {
	PipelineID string `json:"pipelineId" validate:"required"`
}

type hitTestItemParams struct {
	X          float32 `json:"x"`
	Y          float32 `json:"y"`
	Width      float32 `json:"width" validate:"gte=0"`
	Height     float32 `json:"height" validate:"gte=0"`
	ScrollNode *int    `json:"scrollNode,omitempty"`
	Node       uint64  `json:"node"`
	Cursor     string  `json:"cursor,omitempty"`
}

type scrollNodeParams struct {
	Parent          *int    `json:"parent,omitempty"`
	ExternalID      *uint64 `json:"externalId,omitempty"`
	Width           float32 `json:"width" validate:"gte=0"`
	Height          float32 `json:"height" validate:"gte=0"`
	InputScrollable bool    `json:"inputScrollable"`
}

type displayListParams struct {
	PipelineID   string              `json:"pipelineId" validate:"required"`
	Epoch        uint32              `json:"epoch"`
	FirstReflow  bool                `json:"firstReflow"`
	Contentful   bool                `json:"contentful"`
	HitTestItems []hitTestItemParams `json:"hitTestItems,omitempty" validate:"dive"`
	ScrollNodes  []scrollNodeParams  `json:"scrollNodes,omitempty" validate:"dive"`
	Payload      []byte              `json:"payload,omitempty"`
}

type resourceParams struct {
	PipelineID string `json:"pipelineId" validate:"required"`
	Kind       string `json:"kind" validate:"required"`
	Key        uint64 `json:"key"`
}

type animationStateParams struct {
	PipelineID string `json:"pipelineId" validate:"required"`
	State      string `json:"state" validate:"required"`
}

type throttleParams struct {
	PipelineID string `json:"pipelineId" validate:"required"`
	Throttled  bool   `json:"throttled"`
}

type zoomParams struct {
	Factor float32 `json:"factor" validate:"gt=0"`
}

type scrollStateParams struct {
	ExternalID uint64  `json:"externalId"`
	X          float32 `json:"x"`
	Y          float32 `json:"y"`
}

type scrollStateAckParams struct {
	PipelineID string              `json:"pipelineId" validate:"required"`
	States     []scrollStateParams `json:"states"`
}

type framePresentedParams struct {
	Epochs map[string]uint32 `json:"epochs"`
}

type refreshRateParams struct {
	Millihertz uint32 `json:"millihertz" validate:"gt=0"`
}

// Translate turns an incoming CDP message into a compositor message.
// A nil Msg with a nil error means the message is understood but carries
// nothing for the compositor, like a mouse move.
func Translate(msg *cdproto.Message) (common.Msg, error) {
	switch msg.Method {
	case cdproto.EventPageFrameAttached:
		var ev page.EventFrameAttached
		if err := easyjson.Unmarshal(msg.Params, &ev); err != nil {
			return nil, paramsError(msg.Method, err)
		}
		m := common.MsgAttachPipeline{Pipeline: common.PipelineID(ev.FrameID)}
		if ev.ParentFrameID != "" {
			parent := common.PipelineID(ev.ParentFrameID)
			m.Parent = &parent
		}
		return m, nil
	case cdproto.EventPageFrameDetached:
		var ev page.EventFrameDetached
		if err := easyjson.Unmarshal(msg.Params, &ev); err != nil {
			return nil, paramsError(msg.Method, err)
		}
		return common.MsgRetirePipeline{Pipeline: common.PipelineID(ev.FrameID)}, nil
	case cdproto.CommandInputDispatchMouseEvent:
		var p input.DispatchMouseEventParams
		if err := easyjson.Unmarshal(msg.Params, &p); err != nil {
			return nil, paramsError(msg.Method, err)
		}
		if p.Type != input.MouseWheel {
			return nil, nil
		}
		// Wheel deltas point where the content moves to, offsets the
		// other way.
		return common.MsgScroll{
			Delta:  scroll.Vector{X: -float32(p.DeltaX), Y: -float32(p.DeltaY)},
			Cursor: scroll.Point{X: int32(p.X), Y: int32(p.Y)},
		}, nil
	case cdproto.CommandEmulationSetDeviceMetricsOverride:
		var p emulation.SetDeviceMetricsOverrideParams
		if err := easyjson.Unmarshal(msg.Params, &p); err != nil {
			return nil, paramsError(msg.Method, err)
		}
		scale := p.DeviceScaleFactor
		if scale <= 0 {
			scale = 1
		}
		return common.MsgResize{Viewport: common.Size{
			Width:  float32(float64(p.Width) * scale),
			Height: float32(float64(p.Height) * scale),
		}}, nil
	}

	return translateCompositor(msg)
}

//nolint:funlen,cyclop
func translateCompositor(msg *cdproto.Message) (common.Msg, error) {
	switch msg.Method {
	case MethodRegisterWebView, MethodSetFrameTree:
		var p webViewParams
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		if p.PipelineID == "" {
			return nil, paramsError(msg.Method, errors.New("pipelineId is required"))
		}
		if msg.Method == MethodSetFrameTree {
			return common.MsgSetFrameTree{WebView: common.WebViewID(p.WebViewID), Pipeline: common.PipelineID(p.PipelineID)}, nil
		}
		return common.MsgRegisterWebView{WebView: common.WebViewID(p.WebViewID), Pipeline: common.PipelineID(p.PipelineID)}, nil
	case MethodRemoveWebView:
		var p webViewParams
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return common.MsgRemoveWebView{WebView: common.WebViewID(p.WebViewID)}, nil
	case MethodAttachPipeline:
		var p attachPipelineParams
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		m := common.MsgAttachPipeline{Pipeline: common.PipelineID(p.PipelineID)}
		if p.ParentID != "" {
			parent := common.PipelineID(p.ParentID)
			m.Parent = &parent
		}
		if p.WebViewID != "" || p.URL != "" {
			m.Handle = &common.PipelineHandle{
				ID:      m.Pipeline,
				WebView: common.WebViewID(p.WebViewID),
				URL:     p.URL,
			}
		}
		return m, nil
	case MethodRetirePipeline:
		var p pipelineParams
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return common.MsgRetirePipeline{Pipeline: common.PipelineID(p.PipelineID)}, nil
	case MethodDisplayList:
		var p displayListParams
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		dl, err := p.displayList()
		if err != nil {
			return nil, paramsError(msg.Method, err)
		}
		return common.MsgDisplayList{DisplayList: dl}, nil
	case MethodResourceAdded, MethodResourceDeleted:
		var p resourceParams
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		kind, err := resource.ParseKind(p.Kind)
		if err != nil {
			return nil, paramsError(msg.Method, err)
		}
		if msg.Method == MethodResourceDeleted {
			return common.MsgResourceDeleted{Pipeline: common.PipelineID(p.PipelineID), Kind: kind, Key: p.Key}, nil
		}
		return common.MsgResourceAdded{Pipeline: common.PipelineID(p.PipelineID), Kind: kind, Key: p.Key}, nil
	case MethodAnimationState:
		var p animationStateParams
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		state, err := common.ParseAnimationState(p.State)
		if err != nil {
			return nil, paramsError(msg.Method, err)
		}
		return common.MsgAnimationState{Pipeline: common.PipelineID(p.PipelineID), State: state}, nil
	case MethodThrottle:
		var p throttleParams
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return common.MsgThrottle{Pipeline: common.PipelineID(p.PipelineID), Throttled: p.Throttled}, nil
	case MethodZoom:
		var p zoomParams
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return common.MsgZoom{Factor: p.Factor}, nil
	case MethodScrollStateAck:
		var p scrollStateAckParams
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		states := make([]common.ScrollState, 0, len(p.States))
		for _, s := range p.States {
			states = append(states, common.ScrollState{
				ExternalID: common.ExternalScrollID(s.ExternalID),
				Offset:     scroll.Vector{X: s.X, Y: s.Y},
			})
		}
		return common.MsgScrollStateAck{Pipeline: common.PipelineID(p.PipelineID), States: states}, nil
	case MethodFramePresented:
		var p framePresentedParams
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		epochs := make(map[common.PipelineID]common.Epoch, len(p.Epochs))
		for id, e := range p.Epochs {
			epochs[common.PipelineID(id)] = common.Epoch(e)
		}
		return common.MsgFramePresented{Epochs: epochs}, nil
	case MethodRefreshRate:
		var p refreshRateParams
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		return common.MsgRefreshRate{Millihertz: p.Millihertz}, nil
	case MethodShutdown:
		return common.MsgShutdown{}, nil
	}

	return nil, fmt.Errorf("%w %q", ErrUnknownMethod, msg.Method)
}

// displayList converts the params. Scroll nodes must list parents before
// their children.
func (p *displayListParams) displayList() (common.DisplayList, error) {
	dl := common.DisplayList{
		Pipeline:    common.PipelineID(p.PipelineID),
		Epoch:       common.Epoch(p.Epoch),
		FirstReflow: p.FirstReflow,
		Contentful:  p.Contentful,
		Payload:     p.Payload,
	}
	for _, it := range p.HitTestItems {
		sn := common.NoScrollNode
		if it.ScrollNode != nil {
			sn = common.ScrollNodeID(*it.ScrollNode)
		}
		dl.HitTestItems = append(dl.HitTestItems, common.HitTestItem{
			Rect: common.Rect{
				Origin: common.DevicePoint{X: it.X, Y: it.Y},
				Size:   common.Size{Width: it.Width, Height: it.Height},
			},
			ScrollNode: sn,
			Node:       it.Node,
			Cursor:     it.Cursor,
		})
	}
	if len(p.ScrollNodes) > 0 {
		tree := &common.ScrollTree{}
		for i, n := range p.ScrollNodes {
			parent := common.NoScrollNode
			if n.Parent != nil {
				if *n.Parent < 0 || *n.Parent >= i {
					return common.DisplayList{}, fmt.Errorf("scroll node %d: parent %d is not an earlier node", i, *n.Parent)
				}
				parent = common.ScrollNodeID(*n.Parent)
			}
			var info *common.ScrollableInfo
			if n.ExternalID != nil {
				info = &common.ScrollableInfo{
					ExternalID:      common.ExternalScrollID(*n.ExternalID),
					ScrollableSize:  common.Size{Width: n.Width, Height: n.Height},
					InputScrollable: n.InputScrollable,
				}
			}
			tree.AddNode(parent, info)
		}
		dl.ScrollTree = tree
	}
	return dl, nil
}

// decode unmarshals and validates the params of a Compositor domain
// method. Missing params decode as an empty object.
func decode(msg *cdproto.Message, v any) error {
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, v); err != nil {
			return paramsError(msg.Method, err)
		}
	}
	if err := validate.Struct(v); err != nil {
		return paramsError(msg.Method, err)
	}
	return nil
}

func paramsError(method cdproto.MethodType, err error) error {
	return fmt.Errorf("%w for %q: %v", ErrInvalidParams, method, err) //nolint:errorlint
}
