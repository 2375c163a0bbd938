package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/avolkov/chatka/internal/database"
	"github.com/avolkov/chatka/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func authedRequest(method, target, body, username string) *http.Request {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	return r.WithContext(WithUsername(r.Context(), username))
}

func Test_createGroupChat(t *testing.T) {
	t.Run("creates the chat with the caller as member", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("CreateGroupChat", mock.MatchedBy(func(p database.CreateChatParams) bool {
			return p.Name == "standup" && p.ExternalId != "" &&
				assert.ObjectsAreEqual([]string{"bob", "carol", "alice"}, p.Members)
		})).Return(database.Chat{
			Id:         7,
			ExternalId: "grp-1",
			Name:       "standup",
			Members:    []string{"bob", "carol", "alice"},
		}, nil).Once()

		app := newTestApp(t, db)

		rec := httptest.NewRecorder()
		app.createGroupChat(rec, authedRequest(http.MethodPost, "/api/chats",
			`{"name":"standup","members":["bob","carol"]}`, "alice"))

		require.Equal(t, http.StatusCreated, rec.Code)

		var got types.Chat
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "grp-1", got.Id)
		assert.True(t, got.IsGroup)
	})

	t.Run("rejects chats below three members", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		app := newTestApp(t, db)

		rec := httptest.NewRecorder()
		app.createGroupChat(rec, authedRequest(http.MethodPost, "/api/chats",
			`{"name":"pair","members":["bob"]}`, "alice"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects unnamed chats", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		app := newTestApp(t, db)

		rec := httptest.NewRecorder()
		app.createGroupChat(rec, authedRequest(http.MethodPost, "/api/chats",
			`{"members":["bob","carol"]}`, "alice"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func Test_directChat(t *testing.T) {
	t.Run("finds or creates the pair chat", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountByUsername", "bob").Return(database.User{Username: "bob"}, nil).Once()
		db.On("FindOrCreateDirectChat", mock.AnythingOfType("string"), "alice", "bob").Return(database.Chat{
			Id:         3,
			ExternalId: "dm-1",
			Members:    []string{"alice", "bob"},
		}, nil).Once()

		app := newTestApp(t, db)

		rec := httptest.NewRecorder()
		app.directChat(rec, authedRequest(http.MethodPost, "/api/chats/direct",
			`{"username":"bob"}`, "alice"))

		require.Equal(t, http.StatusOK, rec.Code)

		var got types.Chat
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "dm-1", got.Id)
		assert.False(t, got.IsGroup)
	})

	t.Run("cannot open a chat with yourself", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		app := newTestApp(t, db)

		rec := httptest.NewRecorder()
		app.directChat(rec, authedRequest(http.MethodPost, "/api/chats/direct",
			`{"username":"alice"}`, "alice"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown counterpart", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountByUsername", "ghost").Return(database.User{}, sql.ErrNoRows).Once()

		app := newTestApp(t, db)

		rec := httptest.NewRecorder()
		app.directChat(rec, authedRequest(http.MethodPost, "/api/chats/direct",
			`{"username":"ghost"}`, "alice"))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func Test_listChats(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)
	db.On("ListChatsByUser", "alice").Return([]database.Chat{
		{Id: 1, ExternalId: "dm-1", Members: []string{"alice", "bob"}},
		{Id: 2, ExternalId: "grp-1", Name: "standup", Members: []string{"alice", "bob", "carol"}},
	}, nil).Once()

	app := newTestApp(t, db)

	rec := httptest.NewRecorder()
	app.listChats(rec, authedRequest(http.MethodGet, "/api/chats", "", "alice"))

	require.Equal(t, http.StatusOK, rec.Code)

	var got []types.Chat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.False(t, got[0].IsGroup)
	assert.True(t, got[1].IsGroup)
}

func Test_getMessages(t *testing.T) {
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("returns recent history", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetChatByExternalId", "dm-1").Return(database.Chat{Id: 3, ExternalId: "dm-1", Members: []string{"alice", "bob"}}, nil).Once()
		db.On("GetMessages", 3, 2).Return([]database.Message{
			{Id: "m1", ChatId: 3, Sender: "alice", Kind: "text", Body: "hi", ReadBy: []string{"alice", "bob"}, CreatedAt: created},
			{Id: "m2", ChatId: 3, Sender: "bob", Kind: "image", Attachment: "/uploads/a.png", ReadBy: []string{"bob"}, CreatedAt: created},
		}, nil).Once()

		app := newTestApp(t, db)

		rec := httptest.NewRecorder()
		app.getMessages(rec, authedRequest(http.MethodGet, "/api/messages?chat_id=dm-1&limit=2", "", "alice"))

		require.Equal(t, http.StatusOK, rec.Code)

		var got []types.Message
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 2)
		assert.Equal(t, "dm-1", got[0].ChatId)
		assert.Equal(t, types.KindText, got[0].Type)
		assert.Equal(t, []string{"alice", "bob"}, got[0].ReadBy)
		assert.Equal(t, "/uploads/a.png", got[1].File)
	})

	t.Run("missing chat id", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		app := newTestApp(t, db)

		rec := httptest.NewRecorder()
		app.getMessages(rec, authedRequest(http.MethodGet, "/api/messages", "", "alice"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("limit out of range", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		app := newTestApp(t, db)

		for _, limit := range []string{"0", "501", "nope"} {
			rec := httptest.NewRecorder()
			app.getMessages(rec, authedRequest(http.MethodGet, "/api/messages?chat_id=dm-1&limit="+limit, "", "alice"))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("unknown chat", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetChatByExternalId", "nope").Return(database.Chat{}, sql.ErrNoRows).Once()

		app := newTestApp(t, db)

		rec := httptest.NewRecorder()
		app.getMessages(rec, authedRequest(http.MethodGet, "/api/messages?chat_id=nope", "", "alice"))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("non-member cannot read history", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetChatByExternalId", "dm-1").Return(database.Chat{Id: 3, ExternalId: "dm-1", Members: []string{"bob", "carol"}}, nil).Once()

		app := newTestApp(t, db)

		rec := httptest.NewRecorder()
		app.getMessages(rec, authedRequest(http.MethodGet, "/api/messages?chat_id=dm-1", "", "alice"))

		assert.Equal(t, http.StatusForbidden, rec.Code)
		db.AssertNotCalled(t, "GetMessages", mock.Anything, mock.Anything)
	})
}

func Test_unreadCount(t *testing.T) {
	t.Run("total across chats", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("UnreadCount", "alice").Return(5, nil).Once()

		app := newTestApp(t, db)

		rec := httptest.NewRecorder()
		app.unreadCount(rec, authedRequest(http.MethodGet, "/api/unread", "", "alice"))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"unread":5}`, rec.Body.String())
	})

	t.Run("scoped to one chat", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetChatByExternalId", "dm-1").Return(database.Chat{Id: 3, ExternalId: "dm-1", Members: []string{"alice", "bob"}}, nil).Once()
		db.On("UnreadCountInChat", 3, "alice").Return(2, nil).Once()

		app := newTestApp(t, db)

		rec := httptest.NewRecorder()
		app.unreadCount(rec, authedRequest(http.MethodGet, "/api/unread?chat_id=dm-1", "", "alice"))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"unread":2}`, rec.Body.String())
	})

	t.Run("non-member cannot read another chat's count", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetChatByExternalId", "dm-1").Return(database.Chat{Id: 3, ExternalId: "dm-1", Members: []string{"bob", "carol"}}, nil).Once()

		app := newTestApp(t, db)

		rec := httptest.NewRecorder()
		app.unreadCount(rec, authedRequest(http.MethodGet, "/api/unread?chat_id=dm-1", "", "alice"))

		assert.Equal(t, http.StatusForbidden, rec.Code)
		db.AssertNotCalled(t, "UnreadCountInChat", mock.Anything, mock.Anything)
	})
}

func Test_updatePushToken(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)
	db.On("UpdateUserPushToken", "alice", "fcm-token-1").Return(nil).Once()

	app := newTestApp(t, db)

	rec := httptest.NewRecorder()
	app.updatePushToken(rec, authedRequest(http.MethodPut, "/api/account/push-token",
		`{"token":"fcm-token-1"}`, "alice"))

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func Test_uploadFile(t *testing.T) {
	app := newTestApp(t, &database.MockChatRepository{})

	t.Run("stores the file and returns its url", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, err := mw.CreateFormFile("file", "photo.png")
		require.NoError(t, err)
		fw.Write([]byte("fake image bytes"))
		require.NoError(t, mw.Close())

		req := authedRequest(http.MethodPost, "/api/upload", "", "alice")
		req.Body = nopCloser{&body}
		req.Header.Set("Content-Type", mw.FormDataContentType())

		rec := httptest.NewRecorder()
		app.uploadFile(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code)

		var got map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.True(t, strings.HasPrefix(got["url"], "/uploads/"))
		assert.True(t, strings.HasSuffix(got["url"], ".png"))
	})

	t.Run("missing file part", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		require.NoError(t, mw.WriteField("other", "x"))
		require.NoError(t, mw.Close())

		req := authedRequest(http.MethodPost, "/api/upload", "", "alice")
		req.Body = nopCloser{&body}
		req.Header.Set("Content-Type", mw.FormDataContentType())

		rec := httptest.NewRecorder()
		app.uploadFile(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func Test_ping(t *testing.T) {
	app := newTestApp(t, &database.MockChatRepository{})

	rec := httptest.NewRecorder()
	app.ping(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Server working", rec.Body.String())
}
