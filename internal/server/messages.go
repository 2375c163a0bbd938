package server

import (
	"net/http"
	"time"

	"github.com/avolkov/chatka/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is an event received from a client. Exactly one of the
// pointer fields is set.
type ClientMessage struct {
	BaseMessage
	Online  *Online  `json:"online,omitempty"`
	Join    *Join    `json:"join,omitempty"`
	Leave   *Leave   `json:"leave,omitempty"`
	Publish *Publish `json:"publish,omitempty"`
	Read    *Read    `json:"read,omitempty"`
	client  *Client
}

// Online binds the connection to its authenticated username and marks
// the user present.
type Online struct {
	Username string `json:"username"`
}

type Join struct {
	ChatId string `json:"chat_id"`
}

type Leave struct {
	ChatId string `json:"chat_id"`
}

// Publish carries a new chat message. Text must be non-empty for text
// messages; File must be non-empty for every other kind.
type Publish struct {
	ChatId string            `json:"chat_id"`
	Type   types.MessageKind `json:"type"`
	Text   string            `json:"text,omitempty"`
	File   string            `json:"file,omitempty"`
}

type Read struct {
	ChatId string `json:"chat_id"`
}

type ServerMessage struct {
	BaseMessage
	Response     *Response      `json:"response,omitempty"`
	Message      *types.Message `json:"message,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
	SkipClient   *Client        `json:"-"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type Notification struct {
	Presence *PresenceNote `json:"presence,omitempty"`
	Read     *ReadNote     `json:"read,omitempty"`
}

type PresenceNote struct {
	Username string     `json:"username"`
	Online   bool       `json:"online"`
	ChatId   string     `json:"chat_id,omitempty"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type ReadNote struct {
	ChatId   string `json:"chat_id"`
	Username string `json:"username"`
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
			Data:         data,
		},
	}
}

func ErrChatNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "chat not found",
		},
	}
}

func ErrNotIdentified(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusUnauthorized,
			Error:        "connection not identified",
		},
	}
}

func ErrUsernameMismatch(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusForbidden,
			Error:        "username does not match session",
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
