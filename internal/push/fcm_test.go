package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFCMProvider_SendMulticast(t *testing.T) {
	t.Run("sends the expected payload", func(t *testing.T) {
		var got fcmRequest
		var auth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			json.NewEncoder(w).Encode(fcmResponse{Success: 2})
		}))
		defer srv.Close()

		p := NewFCMProvider("server-key")
		p.endpoint = srv.URL

		err := p.SendMulticast(context.Background(), []string{"tok-1", "tok-2"}, "alice", "hi",
			map[string]string{"chat_id": "c1"})
		require.NoError(t, err)

		assert.Equal(t, "key=server-key", auth)
		assert.Equal(t, []string{"tok-1", "tok-2"}, got.RegistrationIds)
		assert.Equal(t, fcmNotification{Title: "alice", Body: "hi"}, got.Notification)
		assert.Equal(t, map[string]string{"chat_id": "c1"}, got.Data)
	})

	t.Run("non-200 status is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}))
		defer srv.Close()

		p := NewFCMProvider("bad-key")
		p.endpoint = srv.URL

		err := p.SendMulticast(context.Background(), []string{"tok-1"}, "alice", "hi", nil)
		assert.ErrorContains(t, err, "fcm returned 401")
	})

	t.Run("partial delivery failure is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(fcmResponse{Success: 1, Failure: 1})
		}))
		defer srv.Close()

		p := NewFCMProvider("server-key")
		p.endpoint = srv.URL

		err := p.SendMulticast(context.Background(), []string{"tok-1", "tok-2"}, "alice", "hi", nil)
		assert.ErrorContains(t, err, "delivered 1 of 2")
	})

	t.Run("cancelled context aborts the call", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(fcmResponse{Success: 1})
		}))
		defer srv.Close()

		p := NewFCMProvider("server-key")
		p.endpoint = srv.URL

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := p.SendMulticast(ctx, []string{"tok-1"}, "alice", "hi", nil)
		assert.Error(t, err)
	})
}
