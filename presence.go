package main

import (
	"encoding/json"
	"log/slog"
)

// presenceFrame is the roster payload pushed to every live connection
// whenever membership changes.
type presenceFrame struct {
	Online []Identity `json:"online"`
}

// PresenceBroadcaster serializes the roster once per membership change
// and pushes the identical payload to every live connection. It is wired
// as the registry's onChange hook, so the roster it sees is always the
// post-mutation state.
type PresenceBroadcaster struct {
	log *slog.Logger
}

// NewPresenceBroadcaster creates a broadcaster logging through log.
func NewPresenceBroadcaster(log *slog.Logger) *PresenceBroadcaster {
	return &PresenceBroadcaster{log: log}
}

// Announce pushes the given roster to the given connections. A slow
// receiver only loses its own frame; delivery is non-blocking.
func (b *PresenceBroadcaster) Announce(roster []Identity, conns []*Connection) {
	frame, err := json.Marshal(presenceFrame{Online: roster})
	if err != nil {
		b.log.Error("marshal presence frame", "error", err)
		return
	}

	for _, conn := range conns {
		if err := conn.Deliver(frame); err != nil {
			b.log.Warn("presence frame dropped", "connId", conn.ID, "error", err)
		}
	}
	b.log.Debug("presence announced", "online", len(roster), "connections", len(conns))
}
