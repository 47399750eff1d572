package main

import (
	"sync"
	"time"
)

// aliveState tracks where a connection is in its heartbeat cycle.
type aliveState int

const (
	stateAlive aliveState = iota
	stateAwaitingPong
	stateDead
)

// Identity is the authenticated principal attached to a connection
// after a successful handshake.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Connection represents a single live websocket session. All fields are
// set at construction; nothing is attached after the fact.
type Connection struct {
	ID       string
	Identity Identity

	ws    wire
	send  chan []byte
	pings chan struct{}
	done  chan struct{}

	heartbeat *heartbeat
	closeOnce sync.Once
}

// wire is the write side of a transport. *websocket.Conn satisfies it;
// tests substitute a recorder.
type wire interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// envelope is the inbound message frame sent by a client.
type envelope struct {
	Recipient  string            `json:"recipient"`
	Text       string            `json:"text,omitempty"`
	Attachment *attachmentUpload `json:"attachment,omitempty"`
}

// attachmentUpload carries an uploaded file as a base64 data URL.
type attachmentUpload struct {
	Name string `json:"name"`
	Data string `json:"data"`
	Size int64  `json:"size"`
}

// Message is a persisted unit of communication. Immutable once stored.
type Message struct {
	ID            int64     `json:"id"`
	Sender        string    `json:"sender"`
	Recipient     string    `json:"recipient"`
	Text          string    `json:"text"`
	AttachmentRef string    `json:"attachmentRef"`
	CreatedAt     time.Time `json:"createdAt"`
}

// MessageRecord is the store input; id and createdAt are assigned by the
// store at persistence time.
type MessageRecord struct {
	Sender        string
	Recipient     string
	Text          string
	AttachmentRef string
}

// User is a registered account.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// TokenVerifier turns a presented credential token into an identity.
type TokenVerifier interface {
	Verify(token string) (Identity, error)
}

// MessageStore is the durable append/query interface for messages.
type MessageStore interface {
	Create(rec MessageRecord) (Message, error)
	ListBetween(userA, userB string) ([]Message, error)
}

// AttachmentStore stores uploaded binary payloads and returns a
// reference usable to retrieve them later.
type AttachmentStore interface {
	Store(name string, data []byte) (string, error)
}

// ServerConfig holds tunables for the relay server.
type ServerConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	SendBufferSize  int
	PingInterval    time.Duration
	PongTimeout     time.Duration
}
