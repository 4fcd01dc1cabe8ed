package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"roster-api/pkg/events"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// connLifecycle holds the cancel handle for the active session. It is the
// only part of the Reconciler touched from outside the run goroutine, hence
// its own mutex.
type connLifecycle struct {
	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// Connect starts the push-channel session loop: dial the websocket, fetch a
// full snapshot, then merge inbound deltas until the connection drops, and
// reconnect with exponential backoff. The connection is owned by this
// reconciler; Disconnect (or cancelling ctx) tears it down. Run must be
// active for inputs to be processed.
func (r *Reconciler) Connect(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancelMu.Lock()
	r.cancel = cancel
	r.cancelMu.Unlock()
	go r.sessionLoop(ctx)
}

// Disconnect closes the push channel. Local views are retained but marked
// stale until the next snapshot after a reconnect.
func (r *Reconciler) Disconnect() {
	r.cancelMu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.cancelMu.Unlock()
}

func (r *Reconciler) sessionLoop(ctx context.Context) {
	for ctx.Err() == nil {
		conn, err := r.subscribe(ctx)
		if err != nil {
			if ctx.Err() == nil {
				// The retry policy gave up before the context was
				// cancelled. Surface it; a session that dies silently
				// would sit in Connecting forever.
				r.do(func() {
					r.markDisconnected()
					if r.OnError != nil {
						r.OnError("", err)
					}
				})
			}
			return
		}
		r.readLoop(ctx, conn)
		_ = conn.Close()
		r.do(r.markDisconnected)
	}
}

// subscribe dials the websocket and applies a fresh snapshot, retrying with
// exponential backoff until it succeeds or ctx is cancelled. The snapshot is
// applied before any delta from the new connection, so deltas that raced the
// snapshot are superseded by it.
func (r *Reconciler) subscribe(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	operation := func() error {
		r.do(r.setConnecting)

		header := http.Header{}
		if r.api.Token() != "" {
			header.Set("Authorization", "Bearer "+r.api.Token())
		}
		c, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL(r.api.BaseURL), header)
		if err != nil {
			slog.Debug("websocket dial failed", "err", err)
			return err
		}

		snapshot, err := r.api.ListEvents()
		if err != nil {
			_ = c.Close()
			return err
		}
		r.do(func() { r.applySnapshot(snapshot) })
		conn = c
		return nil
	}
	err := backoff.Retry(operation, backoff.WithContext(r.newBackOff(), ctx))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// defaultBackOff retries indefinitely. ExponentialBackOff stops after
// MaxElapsedTime by default, which would strand a long-lived session;
// giving up is the caller's decision, made by cancelling the context.
func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	return b
}

func (r *Reconciler) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg events.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			slog.Warn("discarding malformed notification", "err", err)
			continue
		}
		r.do(func() { r.applyDelta(msg) })
	}
}

// wsURL converts the API base URL into the websocket endpoint.
func wsURL(baseURL string) string {
	u := baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}
