package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const (
	findDirectChatQuery = "SELECT c.id, c.external_id, c.name, c.created_at FROM chats c " +
		"JOIN chat_members m ON m.chat_id = c.id " +
		"GROUP BY c.id " +
		"HAVING COUNT(*) = 2 AND COUNT(*) FILTER (WHERE m.username IN ($1, $2)) = 2"

	markChatReadQuery = "INSERT INTO message_reads (message_id, username, read_at) " +
		"SELECT m.id, $2, $3 FROM messages m WHERE m.chat_id = $1 " +
		"ON CONFLICT DO NOTHING"

	unreadCountQuery = "SELECT COUNT(*) FROM messages msg " +
		"JOIN chat_members cm ON cm.chat_id = msg.chat_id AND cm.username = $1 " +
		"WHERE NOT EXISTS (SELECT 1 FROM message_reads r " +
		"WHERE r.message_id = msg.id AND r.username = $1)"

	unreadCountInChatQuery = "SELECT COUNT(*) FROM messages msg " +
		"WHERE msg.chat_id = $1 AND NOT EXISTS (SELECT 1 FROM message_reads r " +
		"WHERE r.message_id = msg.id AND r.username = $2)"
)

func (db *PgChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, password_hash, avatar_url, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING id, username, avatar_url",
		params.Username,
		params.PasswordHash,
		params.AvatarURL,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.AvatarURL,
	)

	return u, err
}

func (db *PgChatRepository) GetAccountByUsername(username string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, password_hash, avatar_url, push_token, online, last_seen FROM accounts "+
			"WHERE username = $1 LIMIT 1",
		username,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.PasswordHash,
		&user.AvatarURL,
		&user.PushToken,
		&user.Online,
		&user.LastSeen,
	)

	return user, err
}

func (db *PgChatRepository) UpdateUserPushToken(username, token string) error {
	pushToken := sql.NullString{String: token, Valid: token != ""}
	_, err := db.conn.Exec(
		"UPDATE accounts SET push_token = $2, updated_at = $3 WHERE username = $1",
		username,
		pushToken,
		time.Now().UTC(),
	)

	return err
}

func (db *PgChatRepository) UpdateUserPresence(username string, online bool, lastSeen time.Time) error {
	_, err := db.conn.Exec(
		"UPDATE accounts SET online = $2, last_seen = $3, updated_at = $4 WHERE username = $1",
		username,
		online,
		lastSeen,
		time.Now().UTC(),
	)

	return err
}

func (db *PgChatRepository) GetChatByExternalId(externalId string) (Chat, error) {
	row := db.conn.QueryRow(
		"SELECT c.id, c.external_id, c.name, c.created_at, "+
			"ARRAY(SELECT m.username FROM chat_members m WHERE m.chat_id = c.id ORDER BY m.username) "+
			"FROM chats c WHERE c.external_id = $1 LIMIT 1",
		externalId,
	)

	var chat Chat
	err := row.Scan(
		&chat.Id,
		&chat.ExternalId,
		&chat.Name,
		&chat.CreatedAt,
		pq.Array(&chat.Members),
	)

	return chat, err
}

func (db *PgChatRepository) ListChatsByUser(username string) ([]Chat, error) {
	rows, err := db.conn.Query(
		"SELECT c.id, c.external_id, c.name, c.created_at, "+
			"ARRAY(SELECT m.username FROM chat_members m WHERE m.chat_id = c.id ORDER BY m.username) "+
			"FROM chats c JOIN chat_members cm ON cm.chat_id = c.id "+
			"WHERE cm.username = $1 ORDER BY c.created_at",
		username,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var chat Chat
		if err := rows.Scan(
			&chat.Id,
			&chat.ExternalId,
			&chat.Name,
			&chat.CreatedAt,
			pq.Array(&chat.Members),
		); err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}

	return chats, rows.Err()
}

// FindOrCreateDirectChat returns the existing two-member chat for the
// pair of usernames, creating it with externalId if none exists. The
// pair is unordered: (a, b) and (b, a) resolve to the same chat. An
// advisory lock on the sorted pair serializes concurrent calls, since
// no unique constraint backs pair uniqueness in the schema.
func (db *PgChatRepository) FindOrCreateDirectChat(externalId, userA, userB string) (Chat, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Chat{}, err
	}
	defer tx.Rollback()

	first, second := userA, userB
	if second < first {
		first, second = second, first
	}
	if _, err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))", first, second); err != nil {
		return Chat{}, err
	}

	var chat Chat
	err = tx.QueryRow(findDirectChatQuery, userA, userB).Scan(
		&chat.Id,
		&chat.ExternalId,
		&chat.Name,
		&chat.CreatedAt,
	)
	switch err {
	case nil:
		chat.Members = []string{userA, userB}
		return chat, tx.Commit()
	case sql.ErrNoRows:
	default:
		return Chat{}, err
	}

	chat, err = createChatTx(tx, CreateChatParams{
		ExternalId: externalId,
		Members:    []string{userA, userB},
	})
	if err != nil {
		return Chat{}, err
	}

	return chat, tx.Commit()
}

func (db *PgChatRepository) CreateGroupChat(params CreateChatParams) (Chat, error) {
	if len(params.Members) < 3 {
		return Chat{}, fmt.Errorf("group chat requires at least 3 members, got %d", len(params.Members))
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return Chat{}, err
	}
	defer tx.Rollback()

	chat, err := createChatTx(tx, params)
	if err != nil {
		return Chat{}, err
	}

	return chat, tx.Commit()
}

func createChatTx(tx *sql.Tx, params CreateChatParams) (Chat, error) {
	var chat Chat
	err := tx.QueryRow(
		"INSERT INTO chats (external_id, name, created_at) "+
			"VALUES ($1, $2, $3) RETURNING id, external_id, name, created_at",
		params.ExternalId,
		params.Name,
		time.Now().UTC(),
	).Scan(
		&chat.Id,
		&chat.ExternalId,
		&chat.Name,
		&chat.CreatedAt,
	)
	if err != nil {
		return Chat{}, err
	}

	for _, member := range params.Members {
		if _, err := tx.Exec(
			"INSERT INTO chat_members (chat_id, username) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			chat.Id,
			member,
		); err != nil {
			return Chat{}, err
		}
	}

	chat.Members = params.Members
	return chat, nil
}

// CreateMessage persists the message and seeds its read-by set with
// the sender in one transaction.
func (db *PgChatRepository) CreateMessage(msg Message) (Message, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT INTO messages (id, chat_id, sender, kind, body, attachment, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7)",
		msg.Id,
		msg.ChatId,
		msg.Sender,
		msg.Kind,
		msg.Body,
		msg.Attachment,
		msg.CreatedAt,
	); err != nil {
		return Message{}, err
	}

	if _, err := tx.Exec(
		"INSERT INTO message_reads (message_id, username, read_at) VALUES ($1, $2, $3)",
		msg.Id,
		msg.Sender,
		msg.CreatedAt,
	); err != nil {
		return Message{}, err
	}

	msg.ReadBy = []string{msg.Sender}
	return msg, tx.Commit()
}

func (db *PgChatRepository) GetMessages(chatId, limit int) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT m.id, m.chat_id, m.sender, m.kind, m.body, m.attachment, m.created_at, "+
			"ARRAY(SELECT r.username FROM message_reads r WHERE r.message_id = m.id ORDER BY r.username) "+
			"FROM messages m WHERE m.chat_id = $1 ORDER BY m.created_at, m.id LIMIT $2",
		chatId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.Id,
			&msg.ChatId,
			&msg.Sender,
			&msg.Kind,
			&msg.Body,
			&msg.Attachment,
			&msg.CreatedAt,
			pq.Array(&msg.ReadBy),
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// LatestMessageTime returns the newest persisted timestamp for the
// chat, or the zero time if the chat has no messages.
func (db *PgChatRepository) LatestMessageTime(chatId int) (time.Time, error) {
	row := db.conn.QueryRow(
		"SELECT COALESCE(MAX(created_at), 'epoch'::timestamptz) FROM messages WHERE chat_id = $1",
		chatId,
	)

	var ts time.Time
	if err := row.Scan(&ts); err != nil {
		return time.Time{}, err
	}

	if ts.Unix() == 0 {
		return time.Time{}, nil
	}
	return ts, nil
}

func (db *PgChatRepository) MarkChatRead(chatId int, username string) error {
	_, err := db.conn.Exec(markChatReadQuery, chatId, username, time.Now().UTC())
	return err
}

func (db *PgChatRepository) UnreadCount(username string) (int, error) {
	var count int
	err := db.conn.QueryRow(unreadCountQuery, username).Scan(&count)
	return count, err
}

func (db *PgChatRepository) UnreadCountInChat(chatId int, username string) (int, error) {
	var count int
	err := db.conn.QueryRow(unreadCountInChatQuery, chatId, username).Scan(&count)
	return count, err
}

func (db *PgChatRepository) GetUsersWithTokens(usernames []string) ([]User, error) {
	rows, err := db.conn.Query(
		"SELECT id, username, push_token FROM accounts "+
			"WHERE username = ANY($1) AND push_token IS NOT NULL AND push_token <> ''",
		pq.Array(usernames),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Id, &u.Username, &u.PushToken); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}
