package main

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeWire records every frame written to it.
type fakeWire struct {
	mu     sync.Mutex
	frames []wireFrame
	closed bool
}

type wireFrame struct {
	messageType int
	data        []byte
}

func (w *fakeWire) WriteMessage(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, wireFrame{messageType: messageType, data: data})
	return nil
}

func (w *fakeWire) SetWriteDeadline(t time.Time) error { return nil }

func (w *fakeWire) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func newTestConn(id, userID, username string) *Connection {
	return newConnection(id, Identity{UserID: userID, Username: username}, &fakeWire{}, 16)
}

// drainFrames returns every frame currently queued on the connection.
func drainFrames(c *Connection) [][]byte {
	var frames [][]byte
	for {
		select {
		case data := <-c.send:
			frames = append(frames, data)
		default:
			return frames
		}
	}
}

// memStore is an in-memory MessageStore with serial ids.
type memStore struct {
	mu         sync.Mutex
	nextID     int64
	created    []Message
	failCreate error
}

func (s *memStore) Create(rec MessageRecord) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate != nil {
		return Message{}, s.failCreate
	}
	s.nextID++
	msg := Message{
		ID:            s.nextID,
		Sender:        rec.Sender,
		Recipient:     rec.Recipient,
		Text:          rec.Text,
		AttachmentRef: rec.AttachmentRef,
		CreatedAt:     time.Now(),
	}
	s.created = append(s.created, msg)
	return msg, nil
}

func (s *memStore) ListBetween(userA, userB string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var msgs []Message
	for _, m := range s.created {
		if (m.Sender == userA && m.Recipient == userB) || (m.Sender == userB && m.Recipient == userA) {
			msgs = append(msgs, m)
		}
	}
	return msgs, nil
}

func (s *memStore) messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.created...)
}

// memAttachments is an in-memory AttachmentStore.
type memAttachments struct {
	mu        sync.Mutex
	stored    map[string][]byte
	failStore error
}

func newMemAttachments() *memAttachments {
	return &memAttachments{stored: make(map[string][]byte)}
}

func (s *memAttachments) Store(name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failStore != nil {
		return "", s.failStore
	}
	ref := "stored-" + name
	s.stored[ref] = data
	return ref, nil
}
