package conn

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// DefaultReadLimit allows large output frames; the library default is 32KiB.
const DefaultReadLimit = 4 << 20

type WebsocketDialer struct {
	HTTPClient *http.Client
	Header     http.Header
	ReadLimit  int64
}

func (d WebsocketDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, addr, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.Header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	c.SetReadLimit(limit)
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (w *wsConn) Close() error {
	return w.c.CloseNow()
}
