// Package ws bridges browser clients onto the same packet protocol and
// connection-handler path as raw TCP clients: one JSON envelope per
// WebSocket text message instead of per line.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/findit-game/findit-server/internal/protocol"
	"github.com/findit-game/findit-server/internal/server"
)

const writeTimeout = 3 * time.Second

func Handler(s *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		mc := &wsConn{conn: conn, ctx: r.Context(), remote: r.RemoteAddr}
		s.HandleConn(r.Context(), mc)
	}
}

type wsConn struct {
	conn   *websocket.Conn
	ctx    context.Context
	remote string

	wmu sync.Mutex
}

func (c *wsConn) ReadPacket() (protocol.Packet, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return nil, err
	}
	return protocol.Unmarshal(data)
}

func (c *wsConn) WritePacket(p protocol.Packet) error {
	data, err := protocol.Marshal(p)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (c *wsConn) RemoteAddr() string { return c.remote }
