package realtime

import (
	"context"
	"fmt"
	"net/http"

	"github.com/foxseedlab/voicememo/internal/client"
	"github.com/foxseedlab/voicememo/internal/protocol"
	"github.com/gorilla/websocket"
)

// NewDialer returns a client dialer for the real-time channel at url
// (ws:// or wss://).
func NewDialer(url string, header http.Header) client.Dialer {
	return func(ctx context.Context) (client.Conn, error) {
		ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("dial %s: status %d: %w", url, resp.StatusCode, err)
			}
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		return &clientConn{wsConn: newWSConn(ws)}, nil
	}
}

type clientConn struct {
	*wsConn
}

// Receive skips binary frames; the server never sends any.
func (c *clientConn) Receive() (protocol.Message, error) {
	for {
		msg, data, err := c.readMessage()
		if err != nil {
			return protocol.Message{}, err
		}
		if data != nil {
			continue
		}
		return msg, nil
	}
}

func (c *clientConn) Send(msg protocol.Message) error { return c.send(msg) }

func (c *clientConn) Close() error { return c.close() }
