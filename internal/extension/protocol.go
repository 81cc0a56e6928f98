// Package extension manages remote browser-extension workers: the registry
// of live connections, heartbeat liveness, and the request/response bridge
// that turns one-way socket messages into blocking task calls.
package extension

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gendonholaholo/shopscrap/internal/scraper"
)

// Protocol constants shared with the extension client.
const (
	ProtocolVersion = "1.0"

	HeartbeatInterval = 30 * time.Second
	HeartbeatTimeout  = 90 * time.Second
	DefaultTaskWait   = 300 * time.Second
)

// MessageType labels a protocol message.
type MessageType string

// Messages sent by the extension.
const (
	MsgRegister   MessageType = "register"
	MsgHeartbeat  MessageType = "heartbeat"
	MsgTaskResult MessageType = "task_result"
	MsgTaskError  MessageType = "task_error"
	MsgProgress   MessageType = "progress"
)

// Messages sent to the extension.
const (
	MsgRegistered MessageType = "registered"
	MsgPong       MessageType = "pong"
	MsgTask       MessageType = "task"
	MsgCancelTask MessageType = "cancel_task"
)

// Envelope is the wire frame: every message is a type tag plus a payload
// whose shape depends on the tag.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Enclose wraps a typed payload in an Envelope for sending.
func Enclose(t MessageType, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Envelope{Type: t, Payload: data}, nil
}

// RegisterPayload announces a new extension worker.
type RegisterPayload struct {
	ExtensionID string `json:"extension_id"`
	UserAgent   string `json:"user_agent"`
	Version     string `json:"version"`
}

// HeartbeatPayload keeps a worker marked alive.
type HeartbeatPayload struct {
	ExtensionID string `json:"extension_id"`
}

// TaskResultPayload carries a worker's successful result.
type TaskResultPayload struct {
	TaskID  string         `json:"task_id"`
	RawData map[string]any `json:"raw_data"`
}

// TaskErrorPayload carries a worker's failure.
type TaskErrorPayload struct {
	TaskID  string `json:"task_id"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ProgressPayload reports partial progress on a task.
type ProgressPayload struct {
	TaskID  string `json:"task_id"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

// RegisteredPayload acknowledges a registration.
type RegisteredPayload struct {
	Status        string `json:"status"`
	ServerVersion string `json:"server_version"`
}

// TaskPayload dispatches one unit of scraping work to a worker.
type TaskPayload struct {
	TaskID   string           `json:"task_id"`
	TaskType scraper.TaskType `json:"task_type"`
	Params   map[string]any   `json:"params"`
}

// CancelTaskPayload tells a worker to abandon a task.
type CancelTaskPayload struct {
	TaskID string `json:"task_id"`
}

// PongPayload answers a heartbeat.
type PongPayload struct{}
