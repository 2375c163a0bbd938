package database

import (
	"database/sql"
	"time"
)

type User struct {
	Id           int
	Username     string
	PasswordHash string
	AvatarURL    string
	PushToken    sql.NullString
	Online       bool
	LastSeen     sql.NullTime
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Chat struct {
	Id         int
	ExternalId string
	Name       string
	Members    []string
	CreatedAt  time.Time
}

// IsGroup reports whether the chat is a group chat. A direct chat has
// exactly two members.
func (c Chat) IsGroup() bool {
	return len(c.Members) > 2
}

type Message struct {
	Id         string
	ChatId     int
	Sender     string
	Kind       string
	Body       string
	Attachment string
	ReadBy     []string
	CreatedAt  time.Time
}

type CreateAccountParams struct {
	Username     string
	PasswordHash string
	AvatarURL    string
}

type CreateChatParams struct {
	ExternalId string
	Name       string
	Members    []string
}
