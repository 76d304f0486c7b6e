package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vango-go/voiceboard/pkg/core/layout"
	"github.com/vango-go/voiceboard/pkg/core/sketch"
)

const (
	Version = "1.0.0"

	ConnectedMessage = "Connected to voiceboard"
)

// Decode error codes. CodeUnknownType frames are logged and skipped by the
// session; every other code is reported back to the client.
const (
	CodeBadRequest  = "bad_request"
	CodeUnknownType = "unknown_type"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: CodeBadRequest, Message: message, Param: param}
}

// ClientMessage is one decoded text frame. The set of implementations is
// closed; callers switch over the concrete types.
type ClientMessage interface {
	clientMessage()
}

type StartCapture struct{}

type StopCapture struct{}

// CanvasSync carries the client's extracted graph and the opaque editor
// document it was extracted from.
type CanvasSync struct {
	Graph    json.RawMessage `json:"graph"`
	Snapshot json.RawMessage `json:"snapshot,omitempty"`
}

type FeedbackType string

const (
	FeedbackUndo    FeedbackType = "undo"
	FeedbackEdit    FeedbackType = "edit"
	FeedbackCorrect FeedbackType = "correct"
	FeedbackApprove FeedbackType = "approve"
)

type Feedback struct {
	ActionID     string       `json:"action_id"`
	FeedbackType FeedbackType `json:"feedback_type"`
	UserComment  string       `json:"user_comment,omitempty"`
}

func (StartCapture) clientMessage() {}
func (StopCapture) clientMessage()  {}
func (CanvasSync) clientMessage()   {}
func (Feedback) clientMessage()     {}

func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "start_capture":
		return StartCapture{}, nil
	case "stop_capture":
		return StopCapture{}, nil
	case "canvas_sync":
		var msg CanvasSync
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid canvas_sync", "")
		}
		if isAbsent(msg.Graph) {
			return nil, badRequest("canvas_sync.graph is required", "graph")
		}
		if isAbsent(msg.Snapshot) {
			msg.Snapshot = nil
		}
		return msg, nil
	case "feedback":
		var msg Feedback
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid feedback", "")
		}
		msg.ActionID = strings.TrimSpace(msg.ActionID)
		if msg.ActionID == "" {
			return nil, badRequest("feedback.action_id is required", "action_id")
		}
		switch msg.FeedbackType {
		case FeedbackUndo, FeedbackEdit, FeedbackCorrect, FeedbackApprove:
		default:
			return nil, badRequest("feedback.feedback_type must be one of undo|edit|correct|approve", "feedback_type")
		}
		return msg, nil
	default:
		return nil, &DecodeError{Code: CodeUnknownType, Message: "unsupported message type", Param: typ}
	}
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

type ServerConnected struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Version   string `json:"version"`
}

type ServerCanvasSnapshot struct {
	Type     string          `json:"type"`
	Snapshot json.RawMessage `json:"snapshot"`
}

type ServerState struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

type ServerTranscript struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ServerActions struct {
	Type    string          `json:"type"`
	Actions []sketch.Action `json:"actions"`
}

type ServerRender struct {
	Type  string            `json:"type"`
	Graph layout.Positioned `json:"graph"`
}

type ServerError struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	RetryAfter *int   `json:"retry_after,omitempty"`
}

type ServerFeedbackAck struct {
	Type     string `json:"type"`
	ActionID string `json:"action_id"`
	Status   string `json:"status"`
}

func NewConnected(sessionID string) ServerConnected {
	return ServerConnected{Type: "connected", Message: ConnectedMessage, SessionID: sessionID, Version: Version}
}

func NewState(state string) ServerState {
	return ServerState{Type: "state", State: state}
}

func NewError(message, code string, retryAfter *int) ServerError {
	return ServerError{Type: "error", Message: message, Code: code, RetryAfter: retryAfter}
}
