package server

import (
	"encoding/json"
	"strings"
)

// RoomID names a broadcast scope. It is taken verbatim from the connection URL.
type RoomID string

// ConnID is the unique handle of an admitted connection.
type ConnID string

// Envelope is the outbound unit delivered to room peers. The field names are
// part of the wire contract.
type Envelope struct {
	User string `json:"user"`
	Msg  string `json:"msg"`
}

func (e Envelope) encode() ([]byte, error) {
	return json.Marshal(e)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
