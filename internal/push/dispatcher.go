// Package push resolves which chat members should be notified about a
// message and forwards the notification to the provider. Push is
// best-effort: nothing here may fail a message send.
package push

import (
	"context"
	"log"
	"time"

	"github.com/avolkov/chatka/internal/database"
	"github.com/avolkov/chatka/internal/types"
)

const DefaultTimeout = 5 * time.Second

// Provider delivers one notification to a set of device tokens.
type Provider interface {
	SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) error
}

// Placeholder bodies for messages without text, keyed by payload kind.
const (
	placeholderFile  = "📎 File"
	placeholderVoice = "🎤 Voice"
	placeholderPhoto = "📷 Photo"
)

type Dispatcher struct {
	db       database.ChatRepository
	provider Provider
	log      *log.Logger
	timeout  time.Duration
}

func NewDispatcher(db database.ChatRepository, provider Provider, logger *log.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Dispatcher{
		db:       db,
		provider: provider,
		log:      logger,
		timeout:  timeout,
	}
}

// Notify pushes msg to every chat member with a stored token except
// the sender. An empty token set is a no-op, not an error. Provider
// failures are logged and swallowed, and the provider call is bounded
// by the dispatcher timeout.
func (d *Dispatcher) Notify(chat database.Chat, msg database.Message) {
	if d.provider == nil {
		return
	}

	recipients := make([]string, 0, len(chat.Members))
	for _, member := range chat.Members {
		if member == msg.Sender {
			continue
		}
		recipients = append(recipients, member)
	}

	if len(recipients) == 0 {
		return
	}

	users, err := d.db.GetUsersWithTokens(recipients)
	if err != nil {
		d.log.Println("GetUsersWithTokens:", err)
		return
	}

	tokens := make([]string, 0, len(users))
	for _, u := range users {
		if u.PushToken.Valid && u.PushToken.String != "" {
			tokens = append(tokens, u.PushToken.String)
		}
	}

	if len(tokens) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	data := map[string]string{
		"chat_id":    chat.ExternalId,
		"message_id": msg.Id,
		"type":       msg.Kind,
	}

	if err := d.provider.SendMulticast(ctx, tokens, msg.Sender, notificationBody(msg), data); err != nil {
		d.log.Printf("push: send to %d tokens: %v", len(tokens), err)
	}
}

func notificationBody(msg database.Message) string {
	if msg.Body != "" {
		return msg.Body
	}

	switch types.MessageKind(msg.Kind) {
	case types.KindVoice:
		return placeholderVoice
	case types.KindImage:
		return placeholderPhoto
	default:
		return placeholderFile
	}
}
