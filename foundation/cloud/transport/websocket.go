package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds a single write when the context carries no deadline.
const writeWait = 10 * time.Second

// Websocket adapts a gorilla websocket connection to the Conn interface.
// A read pump owns the connection's reader so Receive can honor context
// cancellation.
type Websocket struct {
	conn *websocket.Conn

	wmu sync.Mutex

	in       chan []byte
	readErr  error
	readDone chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

// NewWebsocket wraps an established websocket connection. A frame larger
// than readLimit bytes fails the connection; zero leaves it unbounded.
func NewWebsocket(conn *websocket.Conn, readLimit int64) *Websocket {
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}

	ws := Websocket{
		conn:     conn,
		in:       make(chan []byte),
		readDone: make(chan struct{}),
		closed:   make(chan struct{}),
	}

	go ws.readPump()

	return &ws
}

// Dial connects to the websocket endpoint at the specified url.
func Dial(ctx context.Context, url string, header http.Header, readLimit int64) (*Websocket, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}

	return NewWebsocket(conn, readLimit), nil
}

// Send writes the message as a single binary frame.
func (ws *Websocket) Send(ctx context.Context, msg []byte) error {
	select {
	case <-ws.closed:
		return ErrClosed
	default:
	}

	ws.wmu.Lock()
	defer ws.wmu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}
	ws.conn.SetWriteDeadline(deadline)

	if err := ws.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}

	return nil
}

// Receive waits for the next message.
func (ws *Websocket) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-ws.in:
		return msg, nil
	case <-ws.readDone:
		if ws.readErr == nil {
			return nil, ErrClosed
		}
		return nil, ws.readErr
	case <-ws.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close sends a close frame and closes the underlying connection.
func (ws *Websocket) Close() error {
	var err error

	ws.closeOnce.Do(func() {
		close(ws.closed)

		ws.wmu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		ws.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		ws.wmu.Unlock()

		err = ws.conn.Close()
	})

	return err
}

// readPump reads frames until the connection fails or is closed.
func (ws *Websocket) readPump() {
	defer close(ws.readDone)

	for {
		_, msg, err := ws.conn.ReadMessage()
		if err != nil {
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				ws.readErr = ErrClosed
			case errors.Is(err, net.ErrClosed):
				ws.readErr = ErrClosed
			default:
				ws.readErr = fmt.Errorf("websocket read: %w", err)
			}
			return
		}

		select {
		case ws.in <- msg:
		case <-ws.closed:
			return
		}
	}
}
