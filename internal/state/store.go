// Package state holds the single authoritative snapshot of client data. The
// snapshot only changes through Store.Apply with one of the Transition types.
package state

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ibeckermayer/modsync/internal/types"
)

// State is an immutable snapshot. Reduce never modifies a State it was given,
// so a snapshot can be read without holding any lock.
type State struct {
	Posts  []types.Post
	Limit  int
	Offset int
	// ItemsSeq is the sequence number of the fetch that produced Posts.
	ItemsSeq uint64

	Analytics *types.Analytics
	Stats     *types.Stats

	Loading bool
	Err     error
	BaseURL string

	UpdatedAt time.Time
}

// Post returns the post with id from the snapshot
func (s State) Post(id int64) (types.Post, bool) {
	for _, p := range s.Posts {
		if p.ID == id {
			return p, true
		}
	}
	return types.Post{}, false
}

// ErrorMessage returns the last error's text, empty when there is none
func (s State) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// Reduce computes the state after applying t to s
func Reduce(s State, t Transition) State {
	switch t := t.(type) {
	case SetLoading:
		s.Loading = t.Loading
	case SetError:
		if t.Seq != 0 && t.Seq < s.ItemsSeq {
			return s
		}
		s.Err = t.Err
		s.Loading = false
	case ReplaceItems:
		if t.Seq != 0 && t.Seq < s.ItemsSeq {
			// A newer fetch already landed.
			return s
		}
		s.Posts = dedupe(t.Posts)
		s.Limit = t.Limit
		s.Offset = t.Offset
		if t.Seq != 0 {
			s.ItemsSeq = t.Seq
		}
		s.Loading = false
		s.Err = nil
	case MergeItem:
		idx := -1
		for i := range s.Posts {
			if s.Posts[i].ID == t.ID {
				idx = i
				break
			}
		}
		if idx < 0 || t.Patch.Empty() {
			return s
		}
		posts := make([]types.Post, len(s.Posts))
		copy(posts, s.Posts)
		posts[idx] = t.Patch.applyTo(posts[idx])
		s.Posts = posts
	case SetAnalytics:
		s.Analytics = t.Analytics
		s.Loading = false
	case SetStats:
		s.Stats = t.Stats
		s.Loading = false
	case SetBaseURL:
		s.BaseURL = t.URL
	default:
		panic(fmt.Sprintf("state: unhandled transition %T", t))
	}
	return s
}

// dedupe copies posts, keeping the first occurrence of each id
func dedupe(posts []types.Post) []types.Post {
	out := make([]types.Post, 0, len(posts))
	seen := make(map[int64]struct{}, len(posts))
	for _, p := range posts {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Store owns the current State
type Store struct {
	mu    sync.RWMutex
	state State
	seq   atomic.Uint64
	now   func() time.Time
	// observe is called after every Apply, outside the lock.
	observe func(Transition, State)
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the clock used for UpdatedAt
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithBaseURL seeds the session base URL
func WithBaseURL(url string) Option {
	return func(s *Store) { s.state.BaseURL = url }
}

// WithObserver registers fn to see every applied transition and its result.
// Observers of concurrent Applies may run in any order.
func WithObserver(fn func(Transition, State)) Option {
	return func(s *Store) { s.observe = fn }
}

// New creates a Store with an empty collection
func New(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply atomically applies t and returns the resulting snapshot
func (s *Store) Apply(t Transition) State {
	next := s.apply(t)
	if s.observe != nil {
		s.observe(t, next)
	}
	return next
}

func (s *Store) apply(t Transition) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := Reduce(s.state, t)
	next.UpdatedAt = s.now()
	s.state = next
	return next
}

// Snapshot returns the current state
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// BaseURL returns the session base URL at call time
func (s *Store) BaseURL() string {
	return s.Snapshot().BaseURL
}

// NextSeq hands out the next fetch sequence number for ReplaceItems
func (s *Store) NextSeq() uint64 {
	return s.seq.Add(1)
}
