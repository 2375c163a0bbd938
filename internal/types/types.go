package types

import (
	"time"
)

// MessageKind is the payload kind of a chat message. Exactly one kind
// applies per message.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindVoice MessageKind = "voice"
	KindFile  MessageKind = "file"
)

func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVoice, KindFile:
		return true
	}
	return false
}

type User struct {
	Username  string     `json:"username"`
	AvatarURL string     `json:"avatar_url,omitempty"`
	Online    bool       `json:"online"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

type Chat struct {
	Id        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Members   []string  `json:"members"`
	IsGroup   bool      `json:"is_group"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type Message struct {
	Id        string      `json:"id"`
	ChatId    string      `json:"chat_id"`
	User      string      `json:"user"`
	Type      MessageKind `json:"type"`
	Text      string      `json:"text,omitempty"`
	File      string      `json:"file,omitempty"`
	ReadBy    []string    `json:"read_by"`
	CreatedAt time.Time   `json:"created_at"`
}
