package database

import "time"

type ChatRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountByUsername(username string) (User, error)
	UpdateUserPushToken(username, token string) error
	UpdateUserPresence(username string, online bool, lastSeen time.Time) error
	GetChatByExternalId(externalId string) (Chat, error)
	ListChatsByUser(username string) ([]Chat, error)
	FindOrCreateDirectChat(externalId, userA, userB string) (Chat, error)
	CreateGroupChat(params CreateChatParams) (Chat, error)
	CreateMessage(msg Message) (Message, error)
	GetMessages(chatId, limit int) ([]Message, error)
	LatestMessageTime(chatId int) (time.Time, error)
	MarkChatRead(chatId int, username string) error
	UnreadCount(username string) (int, error)
	UnreadCountInChat(chatId int, username string) (int, error)
	GetUsersWithTokens(usernames []string) ([]User, error)
}
