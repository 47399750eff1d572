package main

import (
	"encoding/json"
	"log/slog"
)

// deliveredFrame is the outbound frame pushed to each of the recipient's
// live connections after a message is persisted.
type deliveredFrame struct {
	ID            int64   `json:"id"`
	Sender        string  `json:"sender"`
	Recipient     string  `json:"recipient"`
	Text          *string `json:"text"`
	AttachmentRef *string `json:"attachmentRef"`
	CreatedAt     int64   `json:"createdAt"`
}

// errorFrame tells a sender its message could not be persisted. Invalid
// envelopes get no reply; store failures do.
type errorFrame struct {
	Error     string `json:"error"`
	Recipient string `json:"recipient"`
}

// MessageRouter validates and persists inbound envelopes and fans them
// out to the recipient's live connections.
type MessageRouter struct {
	registry    *Registry
	store       MessageStore
	attachments AttachmentStore
	log         *slog.Logger
}

// NewMessageRouter wires a router against its collaborators.
func NewMessageRouter(registry *Registry, store MessageStore, attachments AttachmentStore, log *slog.Logger) *MessageRouter {
	return &MessageRouter{
		registry:    registry,
		store:       store,
		attachments: attachments,
		log:         log,
	}
}

// Route handles one raw inbound frame from conn. Malformed or invalid
// envelopes are dropped without persistence; store failures abort the
// route and surface a delivery-failed frame on the sender's own
// connection. Nothing that happens here may take down the connection.
func (r *MessageRouter) Route(conn *Connection, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.log.Warn("malformed envelope dropped", "connId", conn.ID, "error", err)
		return
	}

	if env.Recipient == "" || (env.Text == "" && env.Attachment == nil) {
		r.log.Warn("invalid envelope dropped",
			"connId", conn.ID, "sender", conn.Identity.UserID, "recipient", env.Recipient)
		return
	}

	var attachmentRef string
	if env.Attachment != nil {
		payload, err := decodeDataURL(env.Attachment.Data)
		if err != nil {
			r.log.Warn("undecodable attachment dropped", "connId", conn.ID, "error", err)
			return
		}
		attachmentRef, err = r.attachments.Store(env.Attachment.Name, payload)
		if err != nil {
			r.log.Error("attachment store failed", "connId", conn.ID, "error", err)
			r.deliveryFailed(conn, env.Recipient)
			return
		}
	}

	msg, err := r.store.Create(MessageRecord{
		Sender:        conn.Identity.UserID,
		Recipient:     env.Recipient,
		Text:          env.Text,
		AttachmentRef: attachmentRef,
	})
	if err != nil {
		r.log.Error("message persist failed",
			"sender", conn.Identity.UserID, "recipient", env.Recipient, "error", err)
		r.deliveryFailed(conn, env.Recipient)
		return
	}

	frame, err := json.Marshal(deliveredFrame{
		ID:            msg.ID,
		Sender:        msg.Sender,
		Recipient:     msg.Recipient,
		Text:          nullable(msg.Text),
		AttachmentRef: nullable(msg.AttachmentRef),
		CreatedAt:     msg.CreatedAt.UnixMilli(),
	})
	if err != nil {
		r.log.Error("marshal delivered frame", "error", err)
		return
	}

	// Persisted but undelivered is fine: an offline recipient reads the
	// message later through history.
	for _, rc := range r.registry.ConnectionsForUser(env.Recipient) {
		if err := rc.Deliver(frame); err != nil {
			r.log.Warn("delivery frame dropped", "connId", rc.ID, "error", err)
		}
	}
}

func (r *MessageRouter) deliveryFailed(conn *Connection, recipient string) {
	frame, err := json.Marshal(errorFrame{Error: "delivery-failed", Recipient: recipient})
	if err != nil {
		return
	}
	if err := conn.Deliver(frame); err != nil {
		r.log.Warn("delivery-failed frame dropped", "connId", conn.ID, "error", err)
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
