// Package session keeps short-lived conversation state for follow-up questions.
package session

import (
	"slices"
	"sync"
	"time"
)

// Conversation is the remembered state of one conversation.
type Conversation struct {
	ID        string    `json:"conversationId"`
	Commits   []string  `json:"commitIds"` // commit scope of the last scoped question
	Turns     int       `json:"turns"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store maps conversation ids to their state. Entries expire ttl after their
// last update.
type Store struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	convs map[string]*Conversation
}

// NewStore creates a store. A nil clock uses time.Now.
func NewStore(ttl time.Duration, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{ttl: ttl, now: now, convs: make(map[string]*Conversation)}
}

// Get returns the conversation if it exists and has not expired.
func (s *Store) Get(id string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, false
	}
	if s.expired(c) {
		delete(s.convs, id)
		return Conversation{}, false
	}
	cp := *c
	cp.Commits = slices.Clone(c.Commits)
	return cp, true
}

// Resolve returns the commit scope to use for a turn. An explicit scope is
// remembered; an empty one reuses the last remembered scope. Every call
// counts as a turn and refreshes the expiry.
func (s *Store) Resolve(id string, commits []string) []string {
	if id == "" {
		return commits
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	c, ok := s.convs[id]
	if !ok {
		c = &Conversation{ID: id}
		s.convs[id] = c
	}
	if len(commits) > 0 {
		c.Commits = slices.Clone(commits)
	}
	c.Turns++
	c.UpdatedAt = s.now()
	return slices.Clone(c.Commits)
}

// Delete forgets a conversation and reports whether it was live.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	delete(s.convs, id)
	return ok && !s.expired(c)
}

// Len returns the number of live conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return len(s.convs)
}

func (s *Store) expired(c *Conversation) bool {
	return s.now().Sub(c.UpdatedAt) > s.ttl
}

func (s *Store) sweepLocked() {
	for id, c := range s.convs {
		if s.expired(c) {
			delete(s.convs, id)
		}
	}
}
