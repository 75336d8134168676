package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserExists         = errors.New("relay: username already taken")
	ErrInvalidCredentials = errors.New("relay: invalid credentials")
)

// User is one directory record.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Message is one persisted chat message.
type Message struct {
	ID        string    `json:"id"`
	Sender    User      `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type userRecord struct {
	User
	password string
}

// Store holds users, tokens and chat history in memory. Good enough for the
// dev relay; a production backend owns this data.
type Store struct {
	mu       sync.Mutex
	byName   map[string]*userRecord
	byID     map[string]*userRecord
	tokens   map[string]string // access token -> user ID
	messages map[string][]Message
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		byName:   make(map[string]*userRecord),
		byID:     make(map[string]*userRecord),
		tokens:   make(map[string]string),
		messages: make(map[string][]Message),
	}
}

// Register creates a user. The username is the unique key.
func (s *Store) Register(username, email, password string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[username]; ok {
		return User{}, ErrUserExists
	}
	rec := &userRecord{
		User:     User{ID: uuid.NewString(), Username: username, Email: email},
		password: password,
	}
	s.byName[username] = rec
	s.byID[rec.ID] = rec
	return rec.User, nil
}

// Login verifies credentials and mints an opaque token pair.
func (s *Store) Login(username, password string) (User, string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byName[username]
	if !ok || rec.password != password {
		return User{}, "", "", ErrInvalidCredentials
	}
	access := uuid.NewString()
	refresh := uuid.NewString()
	s.tokens[access] = rec.ID
	return rec.User, access, refresh, nil
}

// Authenticate resolves a bearer token to a user.
func (s *Store) Authenticate(token string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.tokens[token]
	if !ok {
		return User{}, false
	}
	rec, ok := s.byID[id]
	if !ok {
		return User{}, false
	}
	return rec.User, true
}

// Users lists the directory.
func (s *Store) Users() []User {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]User, 0, len(s.byID))
	for _, rec := range s.byID {
		out = append(out, rec.User)
	}
	return out
}

// UserByID looks up one user.
func (s *Store) UserByID(id string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return User{}, false
	}
	return rec.User, true
}

// AppendMessage persists a chat message and returns it with ID and
// timestamp filled in.
func (s *Store) AppendMessage(roomID, senderID, content string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	sender := User{ID: senderID}
	if rec, ok := s.byID[senderID]; ok {
		sender = rec.User
	}
	msg := Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	s.messages[roomID] = append(s.messages[roomID], msg)
	return msg
}

// Messages returns a room's history, oldest first.
func (s *Store) Messages(roomID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[roomID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
