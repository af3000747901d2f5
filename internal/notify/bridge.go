package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// writeTimeout bounds how long broadcast waits on a single slow or dead
// client before giving up on that frame; a stuck loopback client must never
// stall notifications to the others.
const writeTimeout = 2 * time.Second

// envelope is the wire shape for every event the bridge broadcasts: a type
// tag plus the typed payload, so a single loopback client can demultiplex
// sync/backfill/alert events off one connection.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Bridge is a loopback-only websocket server that rebroadcasts Hub events
// to every connected client, for the out-of-scope local UI process. It
// never accepts client-originated data beyond the initial handshake.
type Bridge struct {
	mu     sync.Mutex
	conns  map[string]*websocket.Conn
	logger *slog.Logger
}

// NewBridge constructs an empty Bridge. Wire it to a Hub via
// Hub.AttachBridge, then mount HandleWS under a loopback-only HTTP server.
func NewBridge(logger *slog.Logger) *Bridge {
	return &Bridge{conns: make(map[string]*websocket.Conn), logger: logger}
}

// HandleWS upgrades the request to a websocket connection and registers it
// for broadcast until the client disconnects.
func (b *Bridge) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost", "127.0.0.1"},
	})
	if err != nil {
		if b.logger != nil {
			b.logger.Warn("notify: websocket accept failed", slog.String("error", err.Error()))
		}

		return
	}

	id := uuid.NewString()

	b.mu.Lock()
	b.conns[id] = conn
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.conns, id)
		b.mu.Unlock()

		_ = conn.CloseNow()
	}()

	// The bridge is push-only; this read loop exists solely to detect
	// client disconnects (a failed read unblocks on close or error).
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

func (b *Bridge) broadcast(eventType string, data any) {
	payload, err := json.Marshal(envelope{Type: eventType, Data: data})
	if err != nil {
		if b.logger != nil {
			b.logger.Error("notify: marshaling event", slog.String("error", err.Error()))
		}

		return
	}

	b.mu.Lock()
	targets := make([]*websocket.Conn, 0, len(b.conns))
	for _, c := range b.conns {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	for _, conn := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := conn.Write(ctx, websocket.MessageText, payload)
		cancel()

		if err != nil && b.logger != nil {
			b.logger.Debug("notify: broadcast write failed", slog.String("error", err.Error()))
		}
	}
}

// ConnCount reports the number of currently connected loopback clients,
// mainly useful for tests and `kira status`.
func (b *Bridge) ConnCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.conns)
}
