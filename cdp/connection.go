package cdp

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
	"github.com/oxtoacart/bpool"
	"github.com/pkg/errors"

	"github.com/grafana/xk6-compositor/log"
)

const (
	wsReadBufferSize  = 1 << 20
	wsWriteBufferSize = 1 << 20
)

// bufferPool holds the buffers outgoing messages are encoded into.
var bufferPool = bpool.NewBufferPool(64) //nolint:gochecknoglobals

func dial(ctx context.Context, wsURL string, logger *log.Logger) (*connection, error) {
	wd := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   wsReadBufferSize,
		WriteBufferSize:  wsWriteBufferSize,
		Proxy:            http.ProxyFromEnvironment,
	}
	ws, _, err := wd.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %q", wsURL)
	}
	return newConnection(ws, wsURL, logger), nil
}

// connection reads and writes CDP messages on a websocket. Reads happen
// on one goroutine only. Writes may come from several.
type connection struct {
	ws     *websocket.Conn
	wsURL  string
	logger *log.Logger

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

func newConnection(ws *websocket.Conn, wsURL string, logger *log.Logger) *connection {
	return &connection{ws: ws, wsURL: wsURL, logger: logger}
}

func (c *connection) readMessage() (*cdproto.Message, error) {
	_, buf, err := c.ws.ReadMessage()
	if err != nil {
		return nil, errors.Wrap(err, "reading CDP message")
	}

	var msg cdproto.Message
	lexer := jlexer.Lexer{Data: buf}
	msg.UnmarshalEasyJSON(&lexer)
	if err := lexer.Error(); err != nil {
		return nil, errors.Wrapf(&malformedError{err}, "decoding CDP message %q", truncate(buf, 128))
	}
	c.logger.Tracef("cdp:readMessage", "wsURL:%q <- %s", c.wsURL, truncate(buf, 256))

	return &msg, nil
}

func (c *connection) writeMessage(msg *cdproto.Message) error {
	var encoder jwriter.Writer
	msg.MarshalEasyJSON(&encoder)
	if err := encoder.Error; err != nil {
		return errors.Wrap(err, "encoding CDP message")
	}

	buf := bufferPool.Get()
	defer bufferPool.Put(buf)
	if _, err := encoder.DumpTo(buf); err != nil {
		return errors.Wrap(err, "encoding CDP message")
	}
	c.logger.Tracef("cdp:writeMessage", "wsURL:%q -> %s", c.wsURL, truncate(buf.Bytes(), 256))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, buf.Bytes()); err != nil {
		return errors.Wrap(err, "writing CDP message")
	}
	return nil
}

// Close sends a normal closure frame and closes the socket. Closing twice
// is a no-op.
func (c *connection) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	return errors.Wrap(c.ws.Close(), "closing websocket")
}

// malformedError marks a frame that arrived fine but did not decode. The
// connection stays usable after one.
type malformedError struct{ err error }

func (e *malformedError) Error() string { return e.err.Error() }
func (e *malformedError) Unwrap() error { return e.err }

func isMalformed(err error) bool {
	var me *malformedError
	return errors.As(err, &me)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
