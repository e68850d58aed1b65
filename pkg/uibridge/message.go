package uibridge

import (
	"encoding/json"
	"time"
)

// IntentType names an action requested by the rendering layer.
type IntentType string

const (
	IntentSend      IntentType = "send"
	IntentEdit      IntentType = "edit"
	IntentDelete    IntentType = "delete"
	IntentReact     IntentType = "react"
	IntentTyping    IntentType = "typing"
	IntentLeave     IntentType = "leave"
	IntentCreate    IntentType = "create"
	IntentJoin      IntentType = "join"
	IntentAddBot    IntentType = "add-bot"
	IntentRemoveBot IntentType = "remove-bot"
	IntentPolish    IntentType = "polish"
	IntentEditImage IntentType = "edit-image"
)

// Intent is a frame received from the rendering layer. ID is echoed back on
// the matching result or error frame.
type Intent struct {
	ID   string          `json:"id,omitempty"`
	Type IntentType      `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type SendData struct {
	Content string `json:"content"`
	Kind    string `json:"kind,omitempty"`
	ReplyTo string `json:"replyTo,omitempty"`
}

type EditData struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type MessageRef struct {
	MessageID string `json:"messageId"`
}

type ReactData struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type TypingData struct {
	IsTyping bool `json:"isTyping"`
}

type CreateData struct {
	Kind string `json:"kind,omitempty"`
}

type JoinData struct {
	Code string `json:"code"`
}

type BotData struct {
	Bot string `json:"bot"`
}

type PolishData struct {
	Draft string `json:"draft"`
}

type EditImageData struct {
	MessageID   string `json:"messageId"`
	Instruction string `json:"instruction"`
}

// FrameType names a frame pushed to the rendering layer.
type FrameType string

const (
	FrameSnapshot FrameType = "snapshot"
	FrameUpdate   FrameType = "update"
	FrameResult   FrameType = "result"
	FrameError    FrameType = "error"
)

// Frame is pushed to the rendering layer.
type Frame struct {
	Type      FrameType       `json:"type"`
	ID        string          `json:"id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ErrorData carries a failed intent's reason.
type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// NewFrame creates a frame with data marshaled as its payload.
func NewFrame(frameType FrameType, id string, data interface{}) (*Frame, error) {
	frame := &Frame{Type: frameType, ID: id, Timestamp: time.Now().UTC()}
	if data == nil {
		return frame, nil
	}
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	frame.Data = dataBytes
	return frame, nil
}
