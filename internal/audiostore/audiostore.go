// Package audiostore holds synthesized speech between the moment TTS
// produces it and the moment the provider fetches it from GET /audio/{id}.
// Entries are short-lived: the provider plays a clip once, right after the
// turn that created it.
package audiostore

import (
	"time"

	"github.com/google/uuid"

	"github.com/havenline/havenline/internal/cache"
)

// Defaults sized for one relay number: clips are fetched within seconds and
// a call produces a handful of them.
const (
	DefaultTTL = 5 * time.Minute
	DefaultMax = 256
)

// Entry is one stored clip.
type Entry struct {
	Data        []byte
	ContentType string
}

// Store is a bounded in-memory clip store with random ids. Safe for
// concurrent use.
type Store struct {
	entries *cache.Cache[Entry]
	newID   func() string
}

// Option configures a Store.
type Option func(*Store)

// WithIDFunc replaces the id generator, for tests.
func WithIDFunc(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// New returns a Store keeping at most max clips, each for ttl.
// Non-positive arguments fall back to the defaults.
func New(ttl time.Duration, max int, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if max <= 0 {
		max = DefaultMax
	}
	s := &Store{
		entries: cache.New[Entry](ttl, max),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores a clip and returns its id, the path segment of the serving URL.
func (s *Store) Put(data []byte, contentType string) string {
	id := s.newID()
	s.entries.Put(id, Entry{Data: data, ContentType: contentType})
	return id
}

// Get returns the clip for id if it is still live.
func (s *Store) Get(id string) (Entry, bool) {
	return s.entries.Get(id)
}

// Len reports the number of live clips.
func (s *Store) Len() int { return s.entries.Len() }

// Close stops the expiry sweeper.
func (s *Store) Close() { s.entries.Close() }
