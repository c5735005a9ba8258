package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	cdpp "github.com/chromedp/cdproto/page"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	pkgerrors "github.com/pkg/errors"

	"github.com/grafana/xk6-compositor/cdp/domains"
	"github.com/grafana/xk6-compositor/common"
	"github.com/grafana/xk6-compositor/log"
)

// JSON-RPC error codes used in replies.
const (
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

// Target receives the translated messages of a session.
// *common.Compositor implements it.
type Target interface {
	Post(ctx context.Context, msg common.Msg) error
}

// SessionStats counts what a session received.
type SessionStats struct {
	Translated uint64
	Ignored    uint64
	Failed     uint64
}

// Session is one CDP peer feeding a compositor. Events and commands it
// receives are translated and posted to the target. Compositor events are
// written back to the peer.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *log.Logger
	conn   *connection
	target Target

	msgID     int64
	msgSubsMu sync.Mutex
	msgSubs   map[int64]chan *cdproto.Message

	sendCh chan *cdproto.Message
	done   chan struct{}

	errMu sync.Mutex
	err   error

	translated uint64
	ignored    uint64
	failed     uint64
}

var _ cdp.Executor = &Session{}

func newSession(
	ctx context.Context, conn *connection, t Target, events common.EventEmitter, logger *log.Logger,
) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		conn:    conn,
		target:  t,
		msgSubs: make(map[int64]chan *cdproto.Message),
		sendCh:  make(chan *cdproto.Message, 32),
		done:    make(chan struct{}),
	}
	if events != nil {
		ch := make(chan common.Event)
		events.OnAll(ctx, ch)
		go s.eventLoop(ch)
	}
	go s.recvLoop()
	go s.sendLoop()

	return s
}

// Attach connects to the CDP endpoint at wsURL and follows its frames as
// pipelines: frames that exist already are attached right away, later
// ones as the browser reports them. The main frame becomes the root of a
// webview with the same id.
func Attach(
	ctx context.Context, wsURL string, t Target, events common.EventEmitter, logger *log.Logger,
) (*Session, error) {
	conn, err := dial(ctx, wsURL, logger)
	if err != nil {
		return nil, err
	}
	s := newSession(ctx, conn, t, events, logger)
	logger.Infof("cdp", "established CDP connection to %q", wsURL)

	pg := domains.NewPage(s)
	if err := pg.Enable(ctx); err != nil {
		s.Close()
		return nil, err
	}
	tree, err := pg.FrameTree(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	if err := s.attachFrameTree(ctx, tree, nil, ""); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

func (s *Session) attachFrameTree(
	ctx context.Context, tree *cdpp.FrameTree, parent *common.PipelineID, webView common.WebViewID,
) error {
	if tree == nil || tree.Frame == nil {
		return nil
	}
	id := common.PipelineID(tree.Frame.ID)
	var msgs []common.Msg
	if parent == nil {
		webView = common.WebViewID(id)
		msgs = append(msgs, common.MsgRegisterWebView{WebView: webView, Pipeline: id})
	}
	msgs = append(msgs, common.MsgAttachPipeline{
		Pipeline: id,
		Parent:   parent,
		Handle:   &common.PipelineHandle{ID: id, WebView: webView, URL: tree.Frame.URL},
	})
	for _, m := range msgs {
		if err := s.target.Post(ctx, m); err != nil {
			return err
		}
	}
	for _, child := range tree.ChildFrames {
		if err := s.attachFrameTree(ctx, child, &id, webView); err != nil {
			return err
		}
	}
	return nil
}

// Execute implements cdp.Executor and performs a synchronous send and
// receive.
func (s *Session) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	s.logger.Debugf("Session:Execute", "wsURL:%q method:%q", s.conn.wsURL, method)
	id := atomic.AddInt64(&s.msgID, 1)

	recvCh := make(chan *cdproto.Message, 1)
	s.msgSubsMu.Lock()
	s.msgSubs[id] = recvCh
	s.msgSubsMu.Unlock()
	defer func() {
		s.msgSubsMu.Lock()
		delete(s.msgSubs, id)
		s.msgSubsMu.Unlock()
	}()

	var buf []byte
	if params != nil {
		var err error
		if buf, err = easyjson.Marshal(params); err != nil {
			return fmt.Errorf("encoding %s params: %w", method, err)
		}
	}
	msg := &cdproto.Message{
		ID:     id,
		Method: cdproto.MethodType(method),
		Params: buf,
	}
	if err := s.send(ctx, msg); err != nil {
		return err
	}

	select {
	case reply := <-recvCh:
		switch {
		case reply.Error != nil:
			return reply.Error
		case res != nil:
			return easyjson.Unmarshal(reply.Result, res)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executing %s: %w", method, ctx.Err())
	case <-s.done:
		return fmt.Errorf("executing %s: %w", method, s.closedErr())
	}
}

func (s *Session) send(ctx context.Context, msg *cdproto.Message) error {
	select {
	case s.sendCh <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return s.closedErr()
	}
}

func (s *Session) closedErr() error {
	if err := s.Err(); err != nil {
		return err
	}
	return errors.New("session closed")
}

func (s *Session) recvLoop() {
	defer s.cancel()

	for {
		msg, err := s.conn.readMessage()
		if err != nil {
			if isMalformed(err) {
				s.logger.Warnf("Session:recvLoop", "wsURL:%q %v", s.conn.wsURL, err)
				atomic.AddUint64(&s.failed, 1)
				continue
			}
			if s.ctx.Err() == nil && !websocket.IsCloseError(pkgerrors.Cause(err),
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Errorf("Session:recvLoop", "wsURL:%q ioErr:%v", s.conn.wsURL, err)
				s.setErr(err)
			}
			return
		}

		switch {
		case msg.Method != "":
			s.handle(msg)
		case msg.ID > 0:
			s.deliver(msg)
		default:
			s.logger.Errorf("cdp", "ignoring malformed incoming CDP message (missing id or method): %#v", msg)
		}
	}
}

// handle translates an event or command of the peer and posts it. Commands
// get a reply once the message is queued.
func (s *Session) handle(msg *cdproto.Message) {
	m, err := Translate(msg)
	switch {
	case err != nil:
		atomic.AddUint64(&s.failed, 1)
		s.logger.Debugf("Session:handle", "method:%q err:%v", msg.Method, err)
	case m == nil:
		atomic.AddUint64(&s.ignored, 1)
	default:
		if err = s.target.Post(s.ctx, m); err != nil {
			atomic.AddUint64(&s.failed, 1)
			s.logger.Warnf("Session:handle", "posting %s: %v", common.MsgName(m), err)
		} else {
			atomic.AddUint64(&s.translated, 1)
		}
	}

	if msg.ID == 0 {
		return
	}
	reply := &cdproto.Message{ID: msg.ID, SessionID: msg.SessionID}
	if err != nil {
		reply.Error = replyError(err)
	} else {
		reply.Result = easyjson.RawMessage("{}")
	}
	if err := s.send(s.ctx, reply); err != nil {
		s.logger.Debugf("Session:handle", "replying to %d: %v", msg.ID, err)
	}
}

func replyError(err error) *cdproto.Error {
	code := int64(codeServerError)
	switch {
	case errors.Is(err, ErrUnknownMethod):
		code = codeMethodNotFound
	case errors.Is(err, ErrInvalidParams):
		code = codeInvalidParams
	}
	return &cdproto.Error{Code: code, Message: err.Error()}
}

func (s *Session) deliver(msg *cdproto.Message) {
	s.msgSubsMu.Lock()
	ch, ok := s.msgSubs[msg.ID]
	delete(s.msgSubs, msg.ID)
	s.msgSubsMu.Unlock()
	if !ok {
		s.logger.Debugf("Session:deliver", "no one waits for reply %d", msg.ID)
		return
	}
	ch <- msg
}

func (s *Session) sendLoop() {
	defer close(s.done)
	defer func() {
		if err := s.conn.Close(); err != nil {
			s.logger.Debugf("Session:sendLoop", "wsURL:%q %v", s.conn.wsURL, err)
		}
	}()

	for {
		select {
		case msg := <-s.sendCh:
			if err := s.conn.writeMessage(msg); err != nil {
				s.logger.Errorf("Session:sendLoop", "wsURL:%q ioErr:%v", s.conn.wsURL, err)
				s.setErr(err)
				s.cancel()
				return
			}
		case <-s.ctx.Done():
			s.logger.Debugf("Session:sendLoop", "returning, ctx.Err: %q", s.ctx.Err())
			return
		}
	}
}

func (s *Session) eventLoop(ch chan common.Event) {
	for {
		select {
		case ev := <-ch:
			msg, err := eventMessage(ev)
			if err != nil {
				s.logger.Debugf("Session:eventLoop", "%v", err)
				continue
			}
			if err := s.send(s.ctx, msg); err != nil {
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Done is closed once the session ended and its connection is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close ends the session and waits for the connection to close.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

// Stats returns a snapshot of the counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		Translated: atomic.LoadUint64(&s.translated),
		Ignored:    atomic.LoadUint64(&s.ignored),
		Failed:     atomic.LoadUint64(&s.failed),
	}
}
