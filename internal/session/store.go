package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the plaintext carried for one session.
type State struct {
	ActiveBatchID    string `json:"active_batch_id,omitempty"`
	PendingSelection string `json:"pending_selection,omitempty"`
}

// Clock returns the current time.
type Clock func() time.Time

type record struct {
	blob    []byte
	touched time.Time
}

// Store keeps only sealed blobs; State values exist in memory just for the
// duration of a Load or Save call.
type Store struct {
	vault *Vault
	ttl   time.Duration
	now   Clock

	mu    sync.Mutex
	blobs map[string]record
}

// NewStore returns a Store. A ttl of zero keeps sessions until Delete.
func NewStore(vault *Vault, ttl time.Duration, now Clock) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{vault: vault, ttl: ttl, now: now, blobs: make(map[string]record)}
}

// Load returns the session state, or a zero State when none is stored.
func (s *Store) Load(sessionID string) (State, error) {
	s.mu.Lock()
	rec, ok := s.blobs[sessionID]
	s.mu.Unlock()
	if !ok {
		return State{}, nil
	}
	plaintext, err := s.vault.Unseal(sessionID, rec.blob)
	if err != nil {
		if errors.Is(err, ErrSessionTampered) {
			s.Delete(sessionID)
		}
		return State{}, err
	}
	var state State
	if err := json.Unmarshal(plaintext, &state); err != nil {
		return State{}, fmt.Errorf("decode session state: %w", err)
	}
	return state, nil
}

// Save seals state and replaces any existing blob.
func (s *Store) Save(sessionID string, state State) error {
	plaintext, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	blob, err := s.vault.Seal(sessionID, plaintext)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.blobs[sessionID] = record{blob: blob, touched: s.now()}
	s.mu.Unlock()
	return nil
}

// Update loads, mutates and saves state for sessionID.
func (s *Store) Update(sessionID string, fn func(*State)) (State, error) {
	state, err := s.Load(sessionID)
	if err != nil {
		return State{}, err
	}
	fn(&state)
	return state, s.Save(sessionID, state)
}

// Delete drops a session.
func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	delete(s.blobs, sessionID)
	s.mu.Unlock()
}

// Blob exposes the sealed form, mainly for diagnostics.
func (s *Store) Blob(sessionID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.blobs[sessionID]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), rec.blob...), true
}

// Put installs a sealed blob as-is.
func (s *Store) Put(sessionID string, blob []byte) {
	s.mu.Lock()
	s.blobs[sessionID] = record{blob: append([]byte(nil), blob...), touched: s.now()}
	s.mu.Unlock()
}

// Sweep drops sessions idle for longer than the ttl.
func (s *Store) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, rec := range s.blobs {
		if rec.touched.Before(cutoff) {
			delete(s.blobs, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}
