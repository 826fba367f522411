// Package eventbus implements spec §4.F: the single asynchronous fan-out
// channel per downloader that delivers structured lifecycle and progress
// events to local callbacks and, optionally, one remote WebSocket or TCP
// peer. Grounded on the teacher's tea.Msg event taxonomy
// (internal/engine/events), generalized to the spec's exact wire shape.
package eventbus

import "encoding/json"

// Type is the event's lifecycle tag (spec §6).
type Type string

const (
	TypeStart    Type = "start"
	TypeStartOne Type = "startOne"
	TypeUpdate   Type = "update"
	TypeEndOne   Type = "endOne"
	TypeEnd      Type = "end"
	TypeMsg      Type = "msg"
	TypeErr      Type = "err"
)

// Metadata is the fixed envelope carried by every event (spec §6).
type Metadata struct {
	Type     Type   `json:"Type"`
	Name     string `json:"Name"`
	ShowName string `json:"ShowName"`
	ID       string `json:"ID"`
}

// Event pairs metadata with its type-specific payload.
type Event struct {
	Metadata Metadata
	Data     any
}

// StartOneData is the payload for startOne/endOne events.
type StartOneData struct {
	URL      string `json:"URL"`
	SavePath string `json:"SavePath"`
	ShowName string `json:"ShowName"`
	Index    int    `json:"Index"` // 1-based
	Total    int    `json:"Total"`
}

// UpdateData is the payload for update events.
type UpdateData struct {
	Downloaded int64   `json:"Downloaded"`
	Total      int64   `json:"Total"` // -1 if unknown
	Speed      float64 `json:"Speed"` // bytes/sec
}

// MsgData is the payload for msg events.
type MsgData struct {
	Text string `json:"Text"`
}

// ErrData is the payload for err events.
type ErrData struct {
	Error     string `json:"Error"`
	Retryable bool   `json:"Retryable"`
}

// emptyData is the payload for start/end events.
type emptyData struct{}

// MarshalWire renders the event as the callback/remote wire pair
// (event_json, data_json), matching the native callback signature from
// spec §6.
func (e Event) MarshalWire() (eventJSON, dataJSON string, err error) {
	metaBytes, err := json.Marshal(e.Metadata)
	if err != nil {
		return "", "", err
	}
	data := e.Data
	if data == nil {
		data = emptyData{}
	}
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return "", "", err
	}
	return string(metaBytes), string(dataBytes), nil
}

// remoteEnvelope is the shape sent to WebSocket/TCP peers: {"event":…, "data":…}.
type remoteEnvelope struct {
	Event Metadata `json:"event"`
	Data  any      `json:"data"`
}

func (e Event) marshalEnvelope() ([]byte, error) {
	data := e.Data
	if data == nil {
		data = emptyData{}
	}
	return json.Marshal(remoteEnvelope{Event: e.Metadata, Data: data})
}
