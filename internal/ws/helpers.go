package ws

import (
	"time"

	"github.com/gorilla/websocket"
)

// Close codes sent when a handshake is rejected. Clients key off these values.
const (
	CloseUnauthorized    = 4401
	CloseForbiddenOrigin = 4403
	CloseRateLimited     = 4429

	// CloseFrameTooLarge is sent by the transport when a frame exceeds
	// hardReadLimit. Frames above MaxFrameBytes but under that cap only get an
	// error reply.
	CloseFrameTooLarge = websocket.CloseMessageTooBig
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// closeWith sends a close frame with code and drops the connection.
func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}
