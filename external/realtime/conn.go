package realtime

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/voicememo/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 16 << 20
)

var errConnClosed = errors.New("connection closed")

// wsConn wraps a gorilla connection: one reader, any number of writers.
type wsConn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newWSConn(ws *websocket.Conn) *wsConn {
	c := &wsConn{ws: ws, done: make(chan struct{})}
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.keepAlive()
	return c
}

func (c *wsConn) keepAlive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// read returns the next frame. A clean close from the peer is io.EOF.
func (c *wsConn) read() (int, []byte, error) {
	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return 0, nil, io.EOF
		}
		return 0, nil, err
	}
	// Any inbound traffic counts as liveness.
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	return mt, data, nil
}

// readMessage skips malformed text frames. Binary frames are returned as is
// with a zero Message.
func (c *wsConn) readMessage() (protocol.Message, []byte, error) {
	for {
		mt, data, err := c.read()
		if err != nil {
			return protocol.Message{}, nil, err
		}
		switch mt {
		case websocket.BinaryMessage:
			if data == nil {
				data = []byte{}
			}
			return protocol.Message{}, data, nil
		case websocket.TextMessage:
			msg, err := protocol.ParseMessage(data)
			if err != nil {
				slog.Warn("dropping malformed event", "error", err)
				continue
			}
			return msg, nil, nil
		}
	}
}

func (c *wsConn) send(msg protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s event: %w", msg.Event, err)
	}
	return nil
}

func (c *wsConn) close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
