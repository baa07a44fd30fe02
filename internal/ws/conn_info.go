package ws

import "time"

// ConnInfo describes one accepted websocket connection.
type ConnInfo struct {
	ConnID      string    `json:"conn_id"`
	UserID      int64     `json:"user_id"`
	DeviceID    string    `json:"device_id,omitempty"`
	IP          string    `json:"ip"`
	RequestID   string    `json:"request_id"`
	TraceID     string    `json:"trace_id,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}
