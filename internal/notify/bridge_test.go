package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

func TestBridgeBroadcastsToConnectedClient(t *testing.T) {
	t.Parallel()

	bridge := NewBridge(slog.New(slog.DiscardHandler))
	hub := NewHub()
	hub.AttachBridge(bridge)

	server := httptest.NewServer(http.HandlerFunc(bridge.HandleWS))
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):]

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return bridge.ConnCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.PublishSyncProgress(SyncProgress{Status: "syncing", Fraction: 0.25})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	require.Equal(t, "sync_progress", env.Type)
}

func TestBridgeConnCountDropsOnDisconnect(t *testing.T) {
	t.Parallel()

	bridge := NewBridge(slog.New(slog.DiscardHandler))

	server := httptest.NewServer(http.HandlerFunc(bridge.HandleWS))
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):]

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return bridge.ConnCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))

	require.Eventually(t, func() bool { return bridge.ConnCount() == 0 }, time.Second, 10*time.Millisecond)
}
