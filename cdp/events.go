package cdp

import (
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jwriter"

	"github.com/grafana/xk6-compositor/common"
)

// paintMetricParams is sent on every paint metric, so it gets a hand
// written easyjson encoder.
type paintMetricParams struct {
	PipelineID  string
	WebViewID   string
	Name        string
	Epoch       uint32
	FirstReflow bool
	// Timestamp is in milliseconds since the unix epoch.
	Timestamp float64
}

// MarshalEasyJSON implements easyjson.Marshaler.
func (p paintMetricParams) MarshalEasyJSON(out *jwriter.Writer) {
	out.RawString(`{"pipelineId":`)
	out.String(p.PipelineID)
	if p.WebViewID != "" {
		out.RawString(`,"webViewId":`)
		out.String(p.WebViewID)
	}
	out.RawString(`,"name":`)
	out.String(p.Name)
	out.RawString(`,"epoch":`)
	out.Uint32(p.Epoch)
	out.RawString(`,"firstReflow":`)
	out.Bool(p.FirstReflow)
	out.RawString(`,"timestamp":`)
	out.Float64(p.Timestamp)
	out.RawByte('}')
}

// MarshalJSON implements json.Marshaler.
func (p paintMetricParams) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	p.MarshalEasyJSON(&w)
	return w.Buffer.BuildBytes(), w.Error
}

type animationTickParams struct {
	PipelineID         string `json:"pipelineId"`
	CSSAnimations      bool   `json:"cssAnimations"`
	AnimationCallbacks bool   `json:"animationCallbacks"`
}

type scrollStatesParams struct {
	PipelineID string              `json:"pipelineId"`
	States     []scrollStateParams `json:"states"`
}

type memoryPressureParams struct {
	Level       string  `json:"level"`
	CacheFactor float64 `json:"cacheFactor"`
}

// eventMessage turns an emitted compositor event into a CDP event.
func eventMessage(ev common.Event) (*cdproto.Message, error) {
	var (
		method cdproto.MethodType
		params any
	)
	switch data := ev.Data.(type) {
	case common.PaintMetricEvent:
		method = EventPaintMetric
		params = paintMetricParams{
			PipelineID:  string(data.Pipeline),
			WebViewID:   string(data.WebView),
			Name:        data.Kind.String(),
			Epoch:       uint32(data.Epoch),
			FirstReflow: data.FirstReflow,
			Timestamp:   float64(data.Time.UnixNano()) / 1e6,
		}
	case common.AnimationTickEvent:
		method = EventAnimationTick
		params = animationTickParams{
			PipelineID:         string(data.Pipeline),
			CSSAnimations:      data.Type&common.TickCSSAnimations != 0,
			AnimationCallbacks: data.Type&common.TickAnimationFrameCallbacks != 0,
		}
	case common.ScrollStatesEvent:
		method = EventScrollStates
		p := scrollStatesParams{PipelineID: string(data.Pipeline), States: []scrollStateParams{}}
		for _, s := range data.States {
			p.States = append(p.States, scrollStateParams{ExternalID: uint64(s.ExternalID), X: s.Offset.X, Y: s.Offset.Y})
		}
		params = p
	case common.MemoryPressureEvent:
		method = EventMemoryPressure
		params = memoryPressureParams{Level: data.Level.String(), CacheFactor: data.CacheFactor}
	default:
		return nil, fmt.Errorf("no CDP event for %q (%T)", ev.Type, ev.Data)
	}

	buf, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", method, err)
	}
	return &cdproto.Message{Method: method, Params: buf}, nil
}

func marshalParams(v any) (easyjson.RawMessage, error) {
	if m, ok := v.(easyjson.Marshaler); ok {
		return easyjson.Marshal(m)
	}
	return json.Marshal(v)
}
