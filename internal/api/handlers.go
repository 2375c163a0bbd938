package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/avolkov/chatka/internal/database"
	"github.com/avolkov/chatka/internal/server"
	"github.com/avolkov/chatka/internal/types"
	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"
)

const (
	defaultMessageLimit = 100
	maxMessageLimit     = 500
	maxUploadBytes      = 32 << 20
)

type CreateChatRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

type DirectChatRequest struct {
	Username string `json:"username"`
}

type PushTokenRequest struct {
	Token string `json:"token"`
}

func chatToType(chat database.Chat) types.Chat {
	return types.Chat{
		Id:        chat.ExternalId,
		Name:      chat.Name,
		Members:   chat.Members,
		IsGroup:   chat.IsGroup(),
		CreatedAt: chat.CreatedAt,
	}
}

func (s *ChatkaApp) createGroupChat(w http.ResponseWriter, r *http.Request) {
	username, ok := Username(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	members := req.Members
	if !slices.Contains(members, username) {
		members = append(members, username)
	}

	if req.Name == "" || len(members) < 3 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := shortid.Generate()
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	chat, err := s.db.CreateGroupChat(database.CreateChatParams{
		ExternalId: sid,
		Name:       req.Name,
		Members:    members,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, chatToType(chat))
}

// directChat finds or creates the unique two-member chat between the
// caller and the requested user.
func (s *ChatkaApp) directChat(w http.ResponseWriter, r *http.Request) {
	username, ok := Username(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req DirectChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Username == username {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := s.db.GetAccountByUsername(req.Username); err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := shortid.Generate()
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	chat, err := s.db.FindOrCreateDirectChat(sid, username, req.Username)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, chatToType(chat))
}

func (s *ChatkaApp) listChats(w http.ResponseWriter, r *http.Request) {
	username, ok := Username(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	chats, err := s.db.ListChatsByUser(username)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	resp := make([]types.Chat, len(chats))
	for i, chat := range chats {
		resp[i] = chatToType(chat)
	}

	s.writeJson(w, http.StatusOK, resp)
}

func (s *ChatkaApp) getMessages(w http.ResponseWriter, r *http.Request) {
	username, ok := Username(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.URL.Query().Get("chat_id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	limit := defaultMessageLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > maxMessageLimit {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		limit = n
	}

	chat, err := s.db.GetChatByExternalId(externalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !slices.Contains(chat.Members, username) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages, err := s.db.GetMessages(chat.Id, limit)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	resp := make([]types.Message, len(messages))
	for i, msg := range messages {
		resp[i] = types.Message{
			Id:        msg.Id,
			ChatId:    chat.ExternalId,
			User:      msg.Sender,
			Type:      types.MessageKind(msg.Kind),
			Text:      msg.Body,
			File:      msg.Attachment,
			ReadBy:    msg.ReadBy,
			CreatedAt: msg.CreatedAt,
		}
	}

	s.writeJson(w, http.StatusOK, resp)
}

func (s *ChatkaApp) unreadCount(w http.ResponseWriter, r *http.Request) {
	username, ok := Username(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var (
		count int
		err   error
	)

	if externalId := r.URL.Query().Get("chat_id"); externalId != "" {
		var chat database.Chat
		chat, err = s.db.GetChatByExternalId(externalId)
		if err != nil {
			var errResp *ApiError
			if errors.Is(err, sql.ErrNoRows) {
				errResp = NewNotFoundError()
			} else {
				errResp = NewInternalServerError(err)
			}
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		if !slices.Contains(chat.Members, username) {
			errResp := NewForbiddenError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		count, err = s.db.UnreadCountInChat(chat.Id, username)
	} else {
		count, err = s.db.UnreadCount(username)
	}

	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]int{"unread": count})
}

func (s *ChatkaApp) updatePushToken(w http.ResponseWriter, r *http.Request) {
	username, ok := Username(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req PushTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.UpdateUserPushToken(username, req.Token); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *ChatkaApp) uploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	defer file.Close()

	uri, err := s.uploads.Save(header.Filename, file)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, map[string]string{"url": uri})
}

func (s *ChatkaApp) serveWs(w http.ResponseWriter, r *http.Request) {
	username, ok := Username(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountByUsername(username)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(types.User{
		Username:  user.Username,
		AvatarURL: user.AvatarURL,
	}, conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
