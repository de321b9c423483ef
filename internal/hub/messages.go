package hub

import "encoding/json"

// Inbound message types. One JSON object per websocket message, dispatched
// on the type field; unknown types are logged and ignored.
const (
	msgPing              = "ping"
	msgJoinSession       = "join_session"
	msgLeaveSession      = "leave_session"
	msgUpdateLocation    = "update_location"
	msgPollResponse      = "poll_response"
	msgQAQuestion        = "qa_question"
	msgNetworkingRequest = "networking_request"
	msgNetworkingAccept  = "networking_accept"
	msgChatMessage       = "chat_message"
)

// Outbound frame types.
const (
	framePong             = "pong"
	frameError            = "error"
	frameEventData        = "event_data"
	frameSessionData      = "session_data"
	frameEventUpdate      = "event_update"
	frameSessionUpdate    = "session_update"
	frameAttendanceUpdate = "attendance_update"
	frameNotification     = "notification"
)

// inboundMessage is the superset of fields any client message may carry.
type inboundMessage struct {
	Type         string          `json:"type"`
	SessionID    string          `json:"session_id,omitempty"`
	Location     json.RawMessage `json:"location,omitempty"`
	PollID       string          `json:"poll_id,omitempty"`
	Response     json.RawMessage `json:"response,omitempty"`
	Question     string          `json:"question,omitempty"`
	TargetUserID string          `json:"target_user_id,omitempty"`
	Message      string          `json:"message,omitempty"`
	ChatType     string          `json:"chat_type,omitempty"`
	TargetID     string          `json:"target_id,omitempty"`
}

// frame is the outbound envelope: {"type": ..., "data": ...}.
type frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func encodeFrame(typ string, data any) []byte {
	b, err := json.Marshal(frame{Type: typ, Data: data})
	if err != nil {
		return nil
	}
	return b
}

func encodeError(message string) []byte {
	b, err := json.Marshal(errorFrame{Type: frameError, Message: message})
	if err != nil {
		return nil
	}
	return b
}
