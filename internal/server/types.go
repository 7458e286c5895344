package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Kylo111/make-it-heavy/pkg/orchestrator"
)

// Message types sent to websocket clients.
const (
	MessageEvent    = "event"
	MessageShutdown = "server.shutdown"
)

// OrchestrateRequest is the body of POST /v1/orchestrate
type OrchestrateRequest struct {
	Query string `json:"query"`
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Error codes
const (
	CodeInvalidRequest   = "invalid_request"
	CodeUnauthorized     = "unauthorized"
	CodeRateLimited      = "rate_limited"
	CodeShuttingDown     = "shutting_down"
	CodeMethodNotAllowed = "method_not_allowed"
	CodeCancelled        = "cancelled"
	CodeInternal         = "internal_error"
)

// EventMessage is the envelope written to websocket clients. Seq is the
// server's own delivery counter; the wrapped event keeps the bus sequence.
type EventMessage struct {
	Type      string              `json:"type"`
	Seq       int64               `json:"seq"`
	Event     *orchestrator.Event `json:"event,omitempty"`
	Message   string              `json:"message,omitempty"`
	Timestamp int64               `json:"timestamp"`
}

// ClientInfo describes a connected client
type ClientInfo struct {
	ID          string    `json:"id"`
	RequestID   string    `json:"request_id,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	IPAddress   string    `json:"ip_address"`
}

// Client is a connected websocket subscriber. An empty RequestID receives
// events of every orchestration.
type Client struct {
	ID          string
	Conn        *websocket.Conn
	RequestID   string
	ConnectedAt time.Time
	IPAddress   string

	writeMu sync.Mutex
}

// WriteMessage serialises writes; gorilla connections allow one writer.
func (c *Client) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteMessage(messageType, data)
}

// Wants reports whether the client subscribed to requestID.
func (c *Client) Wants(requestID string) bool {
	return c.RequestID == "" || c.RequestID == requestID
}

func (c *Client) info() ClientInfo {
	return ClientInfo{
		ID:          c.ID,
		RequestID:   c.RequestID,
		ConnectedAt: c.ConnectedAt,
		IPAddress:   c.IPAddress,
	}
}

const writeWait = 5 * time.Second
