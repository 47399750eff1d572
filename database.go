package main

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUsernameTaken = errors.New("username already taken")
)

// Store is the Postgres-backed persistence layer for users and
// messages. Message ids come from a BIGSERIAL, so they are unique and
// ordered by creation.
type Store struct {
	conn *sql.DB
}

// NewStore opens the database, configures the pool and ensures the
// schema exists.
func NewStore(connStr string) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &Store{conn: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(64) PRIMARY KEY,
		username VARCHAR(255) UNIQUE NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		sender VARCHAR(64) NOT NULL,
		recipient VARCHAR(64) NOT NULL,
		text TEXT,
		attachment VARCHAR(255),
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (sender) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (recipient) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender);
	CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// Create persists one message and returns it with the assigned id and
// timestamp.
func (s *Store) Create(rec MessageRecord) (Message, error) {
	query := `
	INSERT INTO messages (sender, recipient, text, attachment)
	VALUES ($1, $2, $3, $4)
	RETURNING id, created_at
	`

	msg := Message{
		Sender:        rec.Sender,
		Recipient:     rec.Recipient,
		Text:          rec.Text,
		AttachmentRef: rec.AttachmentRef,
	}
	err := s.conn.QueryRow(query,
		rec.Sender, rec.Recipient, nullString(rec.Text), nullString(rec.AttachmentRef),
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// ListBetween returns every message exchanged between two users,
// oldest first.
func (s *Store) ListBetween(userA, userB string) ([]Message, error) {
	query := `
	SELECT id, sender, recipient, text, attachment, created_at
	FROM messages
	WHERE (sender = $1 AND recipient = $2) OR (sender = $2 AND recipient = $1)
	ORDER BY id ASC
	`

	rows, err := s.conn.Query(query, userA, userB)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var text, attachment sql.NullString
		if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Recipient, &text, &attachment, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Text = text.String
		msg.AttachmentRef = attachment.String
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CreateUser registers a new account with an already-hashed password.
func (s *Store) CreateUser(username, passwordHash string) (User, error) {
	user := User{ID: uuid.NewString(), Username: username}

	query := `INSERT INTO users (id, username, password_hash) VALUES ($1, $2, $3)`
	if _, err := s.conn.Exec(query, user.ID, username, passwordHash); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return User{}, ErrUsernameTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// FindUser looks an account up by username and returns it with the
// stored password hash.
func (s *Store) FindUser(username string) (User, string, error) {
	query := `SELECT id, username, password_hash FROM users WHERE username = $1`

	var user User
	var hash string
	err := s.conn.QueryRow(query, username).Scan(&user.ID, &user.Username, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, "", ErrUserNotFound
	}
	if err != nil {
		return User{}, "", fmt.Errorf("query user: %w", err)
	}
	return user, hash, nil
}

// ListUsers returns every known account.
func (s *Store) ListUsers() ([]User, error) {
	rows, err := s.conn.Query(`SELECT id, username FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Username); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
