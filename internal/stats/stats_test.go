package stats

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromStats(t *testing.T) {
	t.Run("registered gauge counts up and down", func(t *testing.T) {
		ps := NewPromStats(http.NewServeMux())
		ps.RegisterMetric("active_clients")

		ps.Incr("active_clients")
		ps.Incr("active_clients")
		ps.Decr("active_clients")

		assert.Equal(t, float64(1), testutil.ToFloat64(ps.gauges["active_clients"]))
	})

	t.Run("re-registering a metric is a no-op", func(t *testing.T) {
		ps := NewPromStats(http.NewServeMux())
		ps.RegisterMetric("active_rooms")
		ps.Incr("active_rooms")
		ps.RegisterMetric("active_rooms")

		assert.Equal(t, float64(1), testutil.ToFloat64(ps.gauges["active_rooms"]))
	})

	t.Run("unregistered metric panics", func(t *testing.T) {
		ps := NewPromStats(http.NewServeMux())

		assert.PanicsWithValue(t, "metric not registered: bogus", func() {
			ps.Incr("bogus")
		})
	})

	t.Run("metrics endpoint serves registered gauges", func(t *testing.T) {
		mux := http.NewServeMux()
		ps := NewPromStats(mux)
		ps.RegisterMetric("messages_total")
		ps.Incr("messages_total")

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "chatka_messages_total 1")
	})
}
