package nats

import (
	"encoding/json"
	"strings"
)

// Subject prefixes for NATS topics.
const (
	SubjectBackendPrefix = "shellkeeper.backend"
	SubjectControlStart  = "shellkeeper.control.start"
)

// ActionStart is the only control action.
const ActionStart = "start"

// SubjectBackendEvent returns the subject for an event name such as
// "backend-state-changed".
func SubjectBackendEvent(name string) string {
	name = strings.TrimPrefix(name, "backend-")
	return SubjectBackendPrefix + "." + strings.ReplaceAll(name, "-", "_")
}

// ControlMessage is a request sent to a running shellkeeper.
type ControlMessage struct {
	Action    string `json:"action"`
	Timestamp string `json:"timestamp,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Marshal serializes the message to JSON.
func (m ControlMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// ControlReply answers a ControlMessage.
type ControlReply struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// Marshal serializes the reply to JSON.
func (r ControlReply) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalControl deserializes a ControlMessage from JSON.
func UnmarshalControl(data []byte) (ControlMessage, error) {
	var m ControlMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

// UnmarshalReply deserializes a ControlReply from JSON.
func UnmarshalReply(data []byte) (ControlReply, error) {
	var r ControlReply
	err := json.Unmarshal(data, &r)
	return r, err
}
