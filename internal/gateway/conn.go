package gateway

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn carries whole frames to and from a gateway.
type Conn interface {
	// ReadMessage blocks until the next frame arrives.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one frame.
	WriteMessage([]byte) error
	Close() error
}

// Port is the minimal interface needed for a serial link. It enables unit
// testing without real serial hardware.
type Port interface {
	io.ReadWriter
	io.Closer
}

// lineConn frames messages as newline-terminated lines.
type lineConn struct {
	port    Port
	reader  *bufio.Reader
	writeMu sync.Mutex
}

// NewLineConn frames newline-delimited JSON over port.
func NewLineConn(port Port) Conn {
	return &lineConn{port: port, reader: bufio.NewReaderSize(port, 64*1024)}
}

func (c *lineConn) ReadMessage() ([]byte, error) {
	for {
		line, err := c.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			// a final unterminated line is still a frame
			return line, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (c *lineConn) WriteMessage(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !bytes.HasSuffix(frame, []byte("\n")) {
		frame = append(append([]byte(nil), frame...), '\n')
	}
	n, err := c.port.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return ErrWriteFailed
	}
	return nil
}

func (c *lineConn) Close() error {
	return c.port.Close()
}

// wsConn is a gateway connection over a WebSocket. gorilla/websocket allows
// one concurrent writer, so writes are serialised here.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// DialWebSocket connects to a gateway WebSocket endpoint.
func DialWebSocket(ctx context.Context, url string, header http.Header) (Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return NewWebSocketConn(ws), nil
}

// NewWebSocketConn wraps an established WebSocket.
func NewWebSocketConn(ws *websocket.Conn) Conn {
	return &wsConn{ws: ws}
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteMessage(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}

// pipeConn is one end of an in-memory connection.
type pipeConn struct {
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	once *sync.Once
}

// Pipe returns two connected in-memory ends. Closing either end closes both.
func Pipe() (Conn, Conn) {
	a := make(chan []byte, 64)
	b := make(chan []byte, 64)
	done := make(chan struct{})
	once := &sync.Once{}
	return &pipeConn{in: a, out: b, done: done, once: once},
		&pipeConn{in: b, out: a, done: done, once: once}
}

func (p *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.done:
		return nil, io.EOF
	}
}

func (p *pipeConn) WriteMessage(frame []byte) error {
	select {
	case <-p.done:
		return io.ErrClosedPipe
	default:
	}
	select {
	case p.out <- append([]byte(nil), frame...):
		return nil
	case <-p.done:
		return io.ErrClosedPipe
	}
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
