package browserstate

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

var (
	// DefaultReadBufferSize is the default maximum read buffer size.
	DefaultReadBufferSize = 25 * 1024 * 1024

	// DefaultWriteBufferSize is the default maximum write buffer size.
	DefaultWriteBufferSize = 10 * 1024 * 1024

	// DefaultDialRetries bounds how many times DialContext redials before
	// giving up, per §4.B's "connect with retry (bounded exponential
	// backoff)".
	DefaultDialRetries uint = 5
)

// Transport is the minimal interface the rest of the package needs from a
// CDP connection: read and write one message at a time, and close cleanly.
type Transport interface {
	Read(*cdproto.Message) error
	Write(*cdproto.Message) error
	io.Closer
}

// Conn wraps a gorilla/websocket.Conn, reusing buffers across reads/writes
// to avoid an allocation per CDP frame.
type Conn struct {
	*websocket.Conn

	buf    bytes.Buffer
	lexer  jlexer.Lexer
	writer jwriter.Writer

	dbgf func(string, ...interface{})
}

// DialContext dials urlstr, retrying with bounded exponential backoff if
// the browser's debug endpoint isn't accepting connections yet.
func DialContext(ctx context.Context, urlstr string, opts ...DialOption) (*Conn, error) {
	d := &websocket.Dialer{
		ReadBufferSize:  DefaultReadBufferSize,
		WriteBufferSize: DefaultWriteBufferSize,
	}

	var wsConn *websocket.Conn
	err := retry.Do(
		func() error {
			conn, _, err := d.DialContext(ctx, urlstr, nil)
			if err != nil {
				return err
			}
			wsConn = conn
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(DefaultDialRetries),
		retry.MaxDelay(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	c := &Conn{Conn: wsConn}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Conn) bufReadAll(r io.Reader) ([]byte, error) {
	c.buf.Reset()
	_, err := c.buf.ReadFrom(r)
	return c.buf.Bytes(), err
}

// Read reads and decodes the next CDP message.
func (c *Conn) Read(msg *cdproto.Message) error {
	typ, r, err := c.NextReader()
	if err != nil {
		return err
	}
	if typ != websocket.TextMessage {
		return errInvalidWebsocketMessage
	}

	buf, err := c.bufReadAll(r)
	if err != nil {
		return err
	}
	if c.dbgf != nil {
		c.dbgf("<- %s", buf)
	}

	c.lexer = jlexer.Lexer{Data: buf}
	msg.UnmarshalEasyJSON(&c.lexer)
	if err := c.lexer.Error(); err != nil {
		return err
	}

	// bufReadAll's backing array is reused on the next read, and
	// msg.Result aliases into it, so it must be copied out now.
	msg.Result = append([]byte{}, msg.Result...)
	return nil
}

// Write encodes and sends a CDP message.
func (c *Conn) Write(msg *cdproto.Message) error {
	w, err := c.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	defer w.Close()

	c.writer = jwriter.Writer{}
	msg.MarshalEasyJSON(&c.writer)
	if err := c.writer.Error; err != nil {
		return err
	}

	if c.dbgf != nil {
		buf, _ := c.writer.BuildBytes()
		c.dbgf("-> %s", buf)
		if _, err := w.Write(buf); err != nil {
			return err
		}
	} else if _, err := c.writer.DumpTo(w); err != nil {
		return err
	}
	return w.Close()
}

// ForceIP forces the host component in urlstr to be an IP address, since
// Chrome 66+ requires the "Host:" header be an IP address or "localhost".
func ForceIP(urlstr string) string {
	if i := strings.Index(urlstr, "://"); i != -1 {
		scheme := urlstr[:i+3]
		host, port, path := urlstr[len(scheme)+3:], "", ""
		if i := strings.Index(host, "/"); i != -1 {
			host, path = host[:i], host[i:]
		}
		if i := strings.Index(host, ":"); i != -1 {
			host, port = host[:i], host[i:]
		}
		if addr, err := net.ResolveIPAddr("ip", host); err == nil {
			urlstr = scheme + addr.IP.String() + port + path
		}
	}
	return urlstr
}

// DialOption configures a Conn at dial time.
type DialOption func(*Conn)

// WithConnDebugf sets a protocol-frame logger, wired to slog.Debug by
// callers that want wire-level tracing.
func WithConnDebugf(f func(string, ...interface{})) DialOption {
	return func(c *Conn) { c.dbgf = f }
}
