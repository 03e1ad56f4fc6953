package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Run("session counters track the active gauge", func(t *testing.T) {
		m := New()
		m.SessionOpened()
		m.SessionOpened()
		m.SessionClosed()

		assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsOpened))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsClosed))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions))
	})

	t.Run("labelled counters", func(t *testing.T) {
		m := New()
		m.SetupFailed("setup_timeout")
		m.SetupFailed("setup_timeout")
		m.LifecycleEvent("started")
		m.IOTimeout("read")

		assert.Equal(t, 2.0, testutil.ToFloat64(m.setupFailures.WithLabelValues("setup_timeout")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.lifecycleEvents.WithLabelValues("started")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.ioTimeouts.WithLabelValues("read")))
		assert.Equal(t, 0.0, testutil.ToFloat64(m.ioTimeouts.WithLabelValues("write")))
	})

	t.Run("byte counters", func(t *testing.T) {
		m := New()
		m.BytesRead(5)
		m.BytesRead(3)
		m.BytesWritten(7)

		assert.Equal(t, 8.0, testutil.ToFloat64(m.bytesRead))
		assert.Equal(t, 7.0, testutil.ToFloat64(m.bytesWritten))
	})

	t.Run("nil metrics record nothing", func(t *testing.T) {
		var m *Metrics
		assert.NotPanics(t, func() {
			m.SessionOpened()
			m.SessionClosed()
			m.SetupFailed("x")
			m.LifecycleEvent("started")
			m.BytesRead(1)
			m.BytesWritten(1)
			m.IOTimeout("read")
		})
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.SessionOpened()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "vplink_sessions_opened_total 1")
	assert.Contains(t, string(body), "vplink_active_sessions 1")
}
