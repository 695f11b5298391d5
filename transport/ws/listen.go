package ws

import (
	"context"
	"net/http"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Upgrade accepts an inbound WebSocket handshake and returns a Channel
// over the accepted connection. Unlike Dial's Channel, this one has
// nothing to redial once the connection drops — the peer is expected to
// come back with a fresh Upgrade, matching how Manager.AddPeer treats a
// ChannelClosed as "this peer is gone, not merely stalled".
func Upgrade(log logger.Logger, w http.ResponseWriter, r *http.Request) (*Channel, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	c := &Channel{log: log, conn: conn, done: make(chan struct{})}
	go c.pingLoop(context.Background())
	return c, nil
}
