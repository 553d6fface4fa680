package server

import (
	"encoding/json"
	"time"
)

// Message types, client to server.
const (
	MsgHello        = "HELLO"
	MsgEnableCamera = "ENABLE_CAMERA"
	MsgCameraReady  = "CAMERA_READY"
	MsgCameraError  = "CAMERA_ERROR"
	MsgFrame        = "FRAME"
	MsgPlay         = "PLAY"
	MsgPing         = "PING"
)

// Message types, server to client.
const (
	MsgWelcome       = "WELCOME"
	MsgStatus        = "STATUS"
	MsgPause         = "PAUSE"
	MsgRequestCamera = "REQUEST_CAMERA"
	MsgStopCamera    = "STOP_CAMERA"
	MsgPong          = "PONG"
	MsgError         = "ERROR"
)

// Message is the envelope of every websocket frame.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ClientID  string          `json:"client_id,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type HelloPayload struct {
	VideoID string `json:"video_id"`
}

type CameraErrorPayload struct {
	Message string `json:"message"`
}

type WelcomePayload struct {
	ClientID string `json:"client_id"`
	Version  string `json:"version"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func newMessage(typ, clientID string, payload interface{}) (Message, error) {
	msg := Message{Type: typ, ClientID: clientID, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		msg.Payload = data
	}
	return msg, nil
}
