package notify

import (
	"encoding/json"
	"log/slog"

	"roster-api/pkg/events"
	"roster-api/websocket"
)

// WSBroadcaster serializes change descriptors as JSON and hands them to the
// websocket hub. Publish satisfies the store's Publisher interface: it hands
// the payload to the hub's queue and never blocks on subscriber progress, so
// the store may call it while holding the per-event lock.
type WSBroadcaster struct {
	Hub *websocket.Hub
}

func (b *WSBroadcaster) Publish(msg events.Message) {
	if b == nil || b.Hub == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal notification", "err", err)
		return
	}
	b.Hub.Broadcast(payload)
}
