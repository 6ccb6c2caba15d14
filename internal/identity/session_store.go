package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	// ErrSessionNotFound indicates no persisted session exists for the profile.
	ErrSessionNotFound = errors.New("session_store.not_found")
	// ErrSessionEmptyProfile indicates that the profile key is blank.
	ErrSessionEmptyProfile = errors.New("session_store.empty_profile")
)

// PersistedSession is the provider state that survives process restarts.
type PersistedSession struct {
	Identity     Identity
	IDToken      string
	RefreshToken string
	ExpiresAt    time.Time
}

// SessionStore persists the signed-in provider session per profile.
type SessionStore interface {
	Load(ctx context.Context, profile string) (*PersistedSession, error)
	Save(ctx context.Context, profile string, session PersistedSession) error
	Clear(ctx context.Context, profile string) error
}

// MemorySessionStore is an in-memory store intended for tests and embedding.
type MemorySessionStore struct {
	mutex    sync.Mutex
	sessions map[string]PersistedSession
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]PersistedSession)}
}

// Load returns the persisted session for the profile.
func (store *MemorySessionStore) Load(ctx context.Context, profile string) (*PersistedSession, error) {
	if strings.TrimSpace(profile) == "" {
		return nil, ErrSessionEmptyProfile
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	session, ok := store.sessions[profile]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

// Save replaces the persisted session for the profile.
func (store *MemorySessionStore) Save(ctx context.Context, profile string, session PersistedSession) error {
	if strings.TrimSpace(profile) == "" {
		return ErrSessionEmptyProfile
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.sessions[profile] = session
	return nil
}

// Clear removes the persisted session; clearing a missing profile is a no-op.
func (store *MemorySessionStore) Clear(ctx context.Context, profile string) error {
	if strings.TrimSpace(profile) == "" {
		return ErrSessionEmptyProfile
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.sessions, profile)
	return nil
}
