// Package session keeps the provider conversation id for each end user.
//
// Entries are created lazily, set once, and live for the process lifetime.
// Concurrent first messages from one user are serialized on a per-user lock
// so exactly one conversation is created.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Creator starts a new provider-side conversation.
type Creator interface {
	CreateConversation(ctx context.Context) (string, error)
}

// CreatorFunc adapts a function to Creator.
type CreatorFunc func(ctx context.Context) (string, error)

// CreateConversation calls f.
func (f CreatorFunc) CreateConversation(ctx context.Context) (string, error) {
	return f(ctx)
}

// InitError reports that a conversation could not be created for a user.
type InitError struct {
	UserID string
	Err    error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init session for user %s: %v", e.UserID, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

type entry struct {
	mu             sync.Mutex
	conversationID string
}

// Store maps end-user ids to conversation ids.
type Store struct {
	logger  *slog.Logger
	creator Creator

	mu      sync.Mutex
	entries map[string]*entry
}

// NewStore creates an empty store backed by creator.
func NewStore(log *slog.Logger, creator Creator) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		logger:  log.With(slog.String("component", "session")),
		creator: creator,
		entries: make(map[string]*entry),
	}
}

// GetOrCreate returns the user's conversation id, creating it on first use.
// A failed creation leaves no entry behind and returns *InitError.
func (s *Store) GetOrCreate(ctx context.Context, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", &InitError{Err: fmt.Errorf("user id is required")}
	}
	e := s.entryFor(userID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conversationID != "" {
		return e.conversationID, nil
	}
	if s.creator == nil {
		return "", &InitError{UserID: userID, Err: fmt.Errorf("conversation creator is not configured")}
	}
	id, err := s.creator.CreateConversation(ctx)
	if err != nil {
		return "", &InitError{UserID: userID, Err: err}
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", &InitError{UserID: userID, Err: fmt.Errorf("provider returned empty conversation id")}
	}
	e.conversationID = id
	s.logger.Info("conversation created", slog.String("user_id", userID), slog.String("conversation_id", id))
	return id, nil
}

func (s *Store) entryFor(userID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	if !ok {
		e = &entry{}
		s.entries[userID] = e
	}
	return e
}
