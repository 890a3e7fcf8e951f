package hub

import (
	"encoding/json"
	"time"
)

// Event types sent to browser clients.
const (
	TypeHeartbeat    = "heartbeat"
	TypeServerStatus = "serverStatus"
	TypeFilesChanged = "filesChanged"
)

// TimeLayout is the envelope timestamp format.
const TimeLayout = "2006-01-02 15:04:05"

// Event is the envelope shared by every broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
	Time string `json:"time"`
}

// ServerStatus is the data of a serverStatus event.
type ServerStatus struct {
	Running     bool   `json:"running"`
	Port        int    `json:"port"`
	HTTPSPort   int    `json:"httpsPort"`
	EnableHTTPS bool   `json:"enableHttps"`
	RootPath    string `json:"rootPath"`
}

// FilesChanged is the data of a filesChanged event.
type FilesChanged struct {
	Reason string `json:"reason"`
}

// Reasons carried by filesChanged.
const (
	ReasonManual  = "manual"
	ReasonWatcher = "watcher"
)

// NewEvent stamps an envelope with now.
func NewEvent(eventType string, data any, now time.Time) Event {
	return Event{Type: eventType, Data: data, Time: now.Format(TimeLayout)}
}

// HeartbeatEvent builds a heartbeat envelope.
func HeartbeatEvent(now time.Time) Event {
	return NewEvent(TypeHeartbeat, nil, now)
}

// StatusEvent builds a serverStatus envelope.
func StatusEvent(status ServerStatus, now time.Time) Event {
	return NewEvent(TypeServerStatus, status, now)
}

// FilesChangedEvent builds a filesChanged envelope.
func FilesChangedEvent(reason string, now time.Time) Event {
	return NewEvent(TypeFilesChanged, FilesChanged{Reason: reason}, now)
}

// DecodeEvent parses an envelope, leaving Data as raw JSON.
func DecodeEvent(b []byte) (Event, json.RawMessage, error) {
	var raw struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
		Time string          `json:"time"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return Event{}, nil, err
	}
	return Event{Type: raw.Type, Time: raw.Time}, raw.Data, nil
}
