package tap

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"paperevents/internal/eventbus"
	logx "paperevents/pkg/logx"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestStreamsFilteredEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	s := NewServer(bus, "session-1", logx.Nop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv, "?types=batch.flushed")
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello Hello
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "hello", hello.Type)
	require.Equal(t, "session-1", hello.Session)
	require.NotEmpty(t, hello.Client)
	require.Equal(t, []string{"batch.flushed"}, hello.Filter)

	// The subscription exists once hello was written.
	bus.Publish(eventbus.Event{Type: eventbus.TypeDelivery, Data: "skip"})
	bus.Publish(eventbus.Event{Type: eventbus.TypeBatchFlushed, Data: map[string]int{"delivered": 2}})

	var got struct {
		Type string         `json:"type"`
		Data map[string]int `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, eventbus.TypeBatchFlushed, got.Type)
	require.Equal(t, 2, got.Data["delivered"])
	require.Equal(t, 1, s.Clients())
}

func TestParseFilter(t *testing.T) {
	t.Parallel()
	require.Empty(t, parseFilter(""))
	require.Len(t, parseFilter("a, b,,a"), 2)
}

func TestLoopbackOnly(t *testing.T) {
	t.Parallel()
	require.True(t, isLoopbackRemote("127.0.0.1:5000"))
	require.True(t, isLoopbackRemote("[::1]:5000"))
	require.False(t, isLoopbackRemote("10.0.0.2:5000"))
	require.False(t, isLoopbackRemote("garbage"))
}

func TestPprofMountedOnDemand(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()

	plain := httptest.NewServer(NewServer(bus, "s", logx.Nop()).Handler())
	defer plain.Close()
	resp, err := http.Get(plain.URL + "/debug/pprof/cmdline")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	s := NewServer(bus, "s", logx.Nop())
	s.EnablePprof()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	resp, err = http.Get(srv.URL + "/debug/pprof/cmdline")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp2.Body.Close()
	body, err := io.ReadAll(resp2.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `"session":"s"`)
}
