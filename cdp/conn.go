package cdp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jwriter"
	"github.com/oxtoacart/bpool"

	"github.com/grafana/browserguard/log"
)

const (
	handshakeTimeout = 10 * time.Second
	closeWait        = time.Second
	inboxSize        = 16
)

var bufferPool = bpool.NewBufferPool(64) //nolint:gochecknoglobals

// Conn is a persistent websocket to one tab. It runs one command at a time:
// Send writes a command and waits for the reply carrying its id, skipping
// events and replies to earlier commands that timed out.
type Conn struct {
	addr   string
	ws     *websocket.Conn
	logger *log.Logger

	msgID  int64
	sendMu sync.Mutex

	// inbox receives replies from the reader goroutine. done is closed when
	// the reader exits, readErr holds the reason.
	inbox   chan inbound
	done    chan struct{}
	readErr error

	broken    atomic.Bool
	closeOnce sync.Once
}

func dial(ctx context.Context, addr string, logger *log.Logger) (*Conn, error) {
	wd := &websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	ws, resp, err := wd.DialContext(ctx, addr, http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %q: %w", ErrConnectionFault, addr, err)
	}

	c := &Conn{
		addr:   addr,
		ws:     ws,
		logger: logger,
		inbox:  make(chan inbound, inboxSize),
		done:   make(chan struct{}),
	}
	go c.readLoop()

	logger.Debugf("cdp:conn", "connected to %q", addr)

	return c, nil
}

// Addr returns the websocket URL the connection was dialed to.
func (c *Conn) Addr() string { return c.addr }

// Broken reports whether the connection faulted or was closed.
func (c *Conn) Broken() bool { return c.broken.Load() }

func (c *Conn) readLoop() {
	defer close(c.done)

	for {
		_, buf, err := c.ws.ReadMessage()
		if err != nil {
			c.readErr = err
			c.broken.Store(true)
			return
		}

		msg, err := decode(buf)
		if err != nil {
			c.logger.Warnf("cdp:conn", "%q: %v", c.addr, err)
			continue
		}
		if ev, ok := msg.(event); ok {
			c.logger.Tracef("cdp:conn", "%q: discarding event %s", c.addr, ev.method)
			continue
		}

		select {
		case c.inbox <- msg:
		default:
			c.logger.Warnf("cdp:conn", "%q: inbox full, dropping reply %d", c.addr, replyID(msg))
		}
	}
}

// Send writes the command method with params and waits for its reply until
// ctx is done. An expired deadline yields ErrTimeout and leaves the
// connection usable; a read or write failure yields ErrConnectionFault.
func (c *Conn) Send(ctx context.Context, method string, params easyjson.Marshaler) (easyjson.RawMessage, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.Broken() {
		return nil, fmt.Errorf("%w: %q is closed", ErrConnectionFault, c.addr)
	}

	id := atomic.AddInt64(&c.msgID, 1)
	if err := c.write(ctx, id, method, params); err != nil {
		return nil, err
	}

	for {
		select {
		case msg := <-c.inbox:
			if rid := replyID(msg); rid != id {
				c.logger.Debugf("cdp:conn", "%q: skipping reply %d while waiting for %d", c.addr, rid, id)
				continue
			}
			if f, ok := msg.(failure); ok {
				return nil, &CommandError{Method: method, Err: f.err}
			}
			return msg.(response).result, nil //nolint:forcetypeassert
		case <-c.done:
			return nil, fmt.Errorf("%w: reading from %q: %w", ErrConnectionFault, c.addr, c.readErr)
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s (id %d) on %q", ErrTimeout, method, id, c.addr)
			}
			return nil, ctx.Err()
		}
	}
}

func (c *Conn) write(ctx context.Context, id int64, method string, params easyjson.Marshaler) error {
	msg := &cdproto.Message{
		ID:     id,
		Method: cdproto.MethodType(method),
	}
	if params != nil {
		buf, err := easyjson.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshalling %s params: %w", method, err)
		}
		msg.Params = buf
	}

	var w jwriter.Writer
	msg.MarshalEasyJSON(&w)
	if w.Error != nil {
		return fmt.Errorf("encoding %s: %w", method, w.Error)
	}
	buf := bufferPool.Get()
	defer bufferPool.Put(buf)
	if _, err := w.DumpTo(buf); err != nil {
		return fmt.Errorf("encoding %s: %w", method, err)
	}

	deadline, _ := ctx.Deadline()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		c.broken.Store(true)
		return fmt.Errorf("%w: %q: %w", ErrConnectionFault, c.addr, err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, buf.Bytes()); err != nil {
		c.broken.Store(true)
		return fmt.Errorf("%w: writing to %q: %w", ErrConnectionFault, c.addr, err)
	}
	c.logger.Tracef("cdp:conn", "%q: -> %s (id %d)", c.addr, method, id)

	return nil
}

// Close sends a close frame, closes the websocket and waits for the reader
// to exit. It is safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.broken.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
		_ = c.ws.Close()
		<-c.done
		c.logger.Debugf("cdp:conn", "closed %q", c.addr)
	})
}
