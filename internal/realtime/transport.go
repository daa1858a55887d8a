package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one open transport. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, target string) (Conn, error)
}

// wsDialer dials with gorilla/websocket.
type wsDialer struct {
	dialer *websocket.Dialer
	header http.Header
}

func newWSDialer(header http.Header) *wsDialer {
	return &wsDialer{
		dialer: &websocket.Dialer{
			Proxy:           http.ProxyFromEnvironment,
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		header: header,
	}
}

func (d *wsDialer) Dial(ctx context.Context, target string) (Conn, error) {
	conn, _, err := d.dialer.DialContext(ctx, target, d.header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// closeConn sends a normal close frame, then closes the socket.
func closeConn(conn Conn) error {
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return conn.Close()
}

// isCleanClose reports whether err is a close frame the peer sent deliberately.
func isCleanClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
