package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aniladanir/wa-inbox/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, origins []string) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(origins, 8, slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
}

func TestHub_BroadcastsToClients(t *testing.T) {
	hub, srv := startHub(t, []string{"http://localhost:5173"})

	conn, _, err := dial(t, srv, "http://localhost:5173")
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Notify(context.Background(), domain.Message{MessageID: "wamid.1", WaID: "91999", Text: "hi"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev domain.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, domain.EventMessageUpdated, ev.Name)
	assert.Equal(t, "wamid.1", ev.Data.MessageID)
	assert.Equal(t, "hi", ev.Data.Text)
}

func TestHub_RejectsUnknownOrigin(t *testing.T) {
	hub, srv := startHub(t, []string{"http://localhost:5173"})

	_, resp, err := dial(t, srv, "http://evil.example")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, hub.ClientCount())
}

func TestHub_WildcardOrigin(t *testing.T) {
	hub, srv := startHub(t, []string{"*"})

	conn, _, err := dial(t, srv, "http://anything.example")
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	hub, srv := startHub(t, nil)

	conn, _, err := dial(t, srv, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_PublishDoesNotBlockWithoutRunner(t *testing.T) {
	hub := NewHub(nil, 1, slog.New(slog.DiscardHandler))

	done := make(chan struct{})
	go func() {
		for range 10 {
			hub.Notify(context.Background(), domain.Message{MessageID: "m"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
}
