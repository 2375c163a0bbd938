package database

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountByUsername(username string) (User, error) {
	args := m.Called(username)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) UpdateUserPushToken(username, token string) error {
	args := m.Called(username, token)
	return args.Error(0)
}
func (m *MockChatRepository) UpdateUserPresence(username string, online bool, lastSeen time.Time) error {
	args := m.Called(username, online, lastSeen)
	return args.Error(0)
}
func (m *MockChatRepository) GetChatByExternalId(externalId string) (Chat, error) {
	args := m.Called(externalId)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockChatRepository) ListChatsByUser(username string) ([]Chat, error) {
	args := m.Called(username)
	return args.Get(0).([]Chat), args.Error(1)
}
func (m *MockChatRepository) FindOrCreateDirectChat(externalId, userA, userB string) (Chat, error) {
	args := m.Called(externalId, userA, userB)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockChatRepository) CreateGroupChat(params CreateChatParams) (Chat, error) {
	args := m.Called(params)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockChatRepository) CreateMessage(msg Message) (Message, error) {
	args := m.Called(msg)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetMessages(chatId, limit int) ([]Message, error) {
	args := m.Called(chatId, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockChatRepository) LatestMessageTime(chatId int) (time.Time, error) {
	args := m.Called(chatId)
	return args.Get(0).(time.Time), args.Error(1)
}
func (m *MockChatRepository) MarkChatRead(chatId int, username string) error {
	args := m.Called(chatId, username)
	return args.Error(0)
}
func (m *MockChatRepository) UnreadCount(username string) (int, error) {
	args := m.Called(username)
	return args.Int(0), args.Error(1)
}
func (m *MockChatRepository) UnreadCountInChat(chatId int, username string) (int, error) {
	args := m.Called(chatId, username)
	return args.Int(0), args.Error(1)
}
func (m *MockChatRepository) GetUsersWithTokens(usernames []string) ([]User, error) {
	args := m.Called(usernames)
	return args.Get(0).([]User), args.Error(1)
}
