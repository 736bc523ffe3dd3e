package relay

import (
	"time"

	"github.com/google/uuid"

	"github.com/c360/reliabus/pkg/lockedmap"
)

// Store is the correlation table shared by the Dispatcher and Responder.
// Presence of an id means the request was sent at least once and is not
// yet resolved.
type Store struct {
	m *lockedmap.Map[uuid.UUID, Request]
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{m: lockedmap.New[uuid.UUID, Request]()}
}

// Lookup returns a copy of the request under a read lock
func (s *Store) Lookup(id uuid.UUID) (Request, bool) {
	type hit struct {
		req Request
		ok  bool
	}
	h := lockedmap.ReadResult(s.m, func(v lockedmap.View[uuid.UUID, Request]) hit {
		req, ok := v.Get(id)
		return hit{req, ok}
	})
	return h.req, h.ok
}

// Contains reports whether id is pending
func (s *Store) Contains(id uuid.UUID) bool {
	_, ok := s.Lookup(id)
	return ok
}

// Insert records a newly sent request. It refuses an id that is already
// present and reports whether the insert happened.
func (s *Store) Insert(id uuid.UUID, req Request) bool {
	return lockedmap.WriteResult(s.m, func(m map[uuid.UUID]Request) bool {
		if _, exists := m[id]; exists {
			return false
		}
		m[id] = req
		return true
	})
}

// Remove resolves id. It reports whether the id was pending.
func (s *Store) Remove(id uuid.UUID) bool {
	return lockedmap.WriteResult(s.m, func(m map[uuid.UUID]Request) bool {
		if _, exists := m[id]; !exists {
			return false
		}
		delete(m, id)
		return true
	})
}

// ClaimStale stamps every request older than interval with now and returns
// copies of them, all in one write pass. A claimed request cannot be claimed
// again until another interval has passed.
func (s *Store) ClaimStale(now time.Time, interval time.Duration) []Staged {
	return lockedmap.WriteResult(s.m, func(m map[uuid.UUID]Request) []Staged {
		var staged []Staged
		for id, req := range m {
			if now.Sub(req.LastSendAttempt) <= interval {
				continue
			}
			req.LastSendAttempt = now
			m[id] = req
			staged = append(staged, Staged{ID: id, Request: req})
		}
		return staged
	})
}

// Len returns the number of pending requests
func (s *Store) Len() int {
	return lockedmap.ReadResult(s.m, func(v lockedmap.View[uuid.UUID, Request]) int {
		return v.Len()
	})
}
