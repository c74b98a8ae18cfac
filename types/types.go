package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Device is one live connection as seen by the hub.
type Device struct {
	ID        string `json:"id"`
	UserAgent string `json:"userAgent"`
	IP        string `json:"ip"`
}

// DeviceInfo is the per-device value of an updateDevices map.
type DeviceInfo struct {
	UserAgent string `json:"userAgent"`
	IP        string `json:"ip"`
}

func (d Device) Info() DeviceInfo {
	return DeviceInfo{UserAgent: d.UserAgent, IP: d.IP}
}

type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Path string `json:"path"`
}

// Hub to device events.
const (
	EventWelcome            = "welcome"
	EventUpdateDevices      = "updateDevices"
	EventRequestPending     = "requestPending"
	EventReceiveTextRequest = "receiveTextRequest"
	EventReceiveFileRequest = "receiveFileRequest"
	EventReceiveTextAccept  = "receiveTextAccept"
	EventReceiveFileAccept  = "receiveFileAccept"
	EventReceiveTextReject  = "receiveTextReject"
	EventReceiveFileReject  = "receiveFileReject"
	EventReceiveText        = "receiveText"
	EventReceiveFile        = "receiveFile"
	EventTransferComplete   = "transferComplete"
	EventTransferAborted    = "transferAborted"
	EventError              = "error"
)

// Device to hub events.
const (
	EventRequestText = "requestText"
	EventRequestFile = "requestFile"
	EventAcceptText  = "acceptText"
	EventAcceptFile  = "acceptFile"
	EventRejectText  = "rejectText"
	EventRejectFile  = "rejectFile"
	EventSendText    = "sendText"
	EventSendFile    = "sendFile"
)

const (
	KindText = "text"
	KindFile = "file"
)

var ErrEmptyEvent = errors.New("envelope has no event")

// Envelope is the single frame shape carried over the websocket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(event string, data any) (Envelope, error) {
	if event == "" {
		return Envelope{}, ErrEmptyEvent
	}

	if data == nil {
		return Envelope{Event: event}, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}

	return Envelope{Event: event, Data: raw}, nil
}

// MustEnvelope is NewEnvelope for payloads that are known to marshal.
func MustEnvelope(event string, data any) Envelope {
	env, err := NewEnvelope(event, data)
	if err != nil {
		panic(err)
	}
	return env
}

func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: missing payload", e.Event)
	}

	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: %w", e.Event, err)
	}

	return nil
}

func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}

	if env.Event == "" {
		return Envelope{}, ErrEmptyEvent
	}

	return env, nil
}

type Welcome struct {
	ID        string `json:"id"`
	UserAgent string `json:"userAgent"`
	IP        string `json:"ip"`
}

type UpdateDevices map[string]DeviceInfo

type RequestText struct {
	TargetID  string `json:"targetId"`
	RequestID string `json:"requestId,omitempty"`
}

type RequestFile struct {
	TargetID    string `json:"targetId"`
	FileName    string `json:"fileName"`
	TotalChunks int    `json:"totalChunks,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`
	RequestID   string `json:"requestId,omitempty"`
}

type RequestPending struct {
	SessionID string `json:"sessionId"`
	RequestID string `json:"requestId,omitempty"`
	TargetID  string `json:"targetId"`
	Kind      string `json:"kind"`
	FileName  string `json:"fileName,omitempty"`
}

type ReceiveTextRequest struct {
	Sender    string `json:"sender"`
	SenderID  string `json:"senderId"`
	SessionID string `json:"sessionId"`
}

type ReceiveFileRequest struct {
	Sender      string `json:"sender"`
	SenderID    string `json:"senderId"`
	SessionID   string `json:"sessionId"`
	FileName    string `json:"fileName"`
	TotalChunks int    `json:"totalChunks,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`
}

// Respond is the payload of accept*/reject*. TargetID names the original requester.
type Respond struct {
	TargetID  string `json:"targetId"`
	SessionID string `json:"sessionId,omitempty"`
}

// Resolution is the payload of receive*Accept/receive*Reject.
type Resolution struct {
	SessionID string `json:"sessionId"`
	FileName  string `json:"fileName,omitempty"`
}

type SendText struct {
	TargetID  string `json:"targetId"`
	SessionID string `json:"sessionId,omitempty"`
	Text      string `json:"text"`
}

type ReceiveText struct {
	SessionID string `json:"sessionId"`
	SenderID  string `json:"senderId"`
	Text      string `json:"text"`
}

type SendFile struct {
	TargetID    string `json:"targetId"`
	SessionID   string `json:"sessionId,omitempty"`
	FileName    string `json:"fileName"`
	FileContent []byte `json:"fileContent"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
}

type ReceiveFile struct {
	SessionID   string `json:"sessionId"`
	SenderID    string `json:"senderId"`
	FileName    string `json:"fileName"`
	FileContent []byte `json:"fileContent"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
}

type TransferComplete struct {
	SessionID string `json:"sessionId"`
}

type TransferAborted struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

// ErrorMessage is the negative acknowledgement sent to the device whose event failed.
type ErrorMessage struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Event     string `json:"event,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}
