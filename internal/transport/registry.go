package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/daikw/ttsbridge/internal/metrics"
)

// Policy decides what happens when a stream opens while the registry is full.
type Policy string

const (
	// PolicyReplace closes the oldest session to admit the new one.
	PolicyReplace Policy = "replace"
	// PolicyReject refuses the new stream.
	PolicyReject Policy = "reject"
)

// eventQueueSize is the number of frames buffered per session.
const eventQueueSize = 100

var (
	// ErrNoSession is returned when a message arrives for a session that is
	// not live.
	ErrNoSession = errors.New("no active session")
	// ErrCapacity is returned by Open when the registry is full and the
	// policy is PolicyReject.
	ErrCapacity = errors.New("session capacity reached")
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyReplace, PolicyReject:
		return p, nil
	case "":
		return PolicyReplace, nil
	default:
		return "", fmt.Errorf("unknown session policy %q (supported: replace, reject)", s)
	}
}

// Session is one live event stream. Responses to messages posted for the
// session are queued on it and written by the stream handler.
type Session struct {
	ID      string
	Created time.Time

	events chan string
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newSession() *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:      uuid.NewString(),
		Created: time.Now(),
		events:  make(chan string, eventQueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Events yields frames queued for the stream.
func (s *Session) Events() <-chan string {
	return s.events
}

// Send queues a frame without blocking. It reports false when the session is
// closed or its queue is full.
func (s *Session) Send(frame string) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}

	select {
	case s.events <- frame:
		return true
	default:
		log.Warn().Str("session", s.ID).Msg("Event queue full, dropping frame")
		return false
	}
}

func (s *Session) close() {
	s.once.Do(s.cancel)
}

// Registry tracks live sessions up to a fixed capacity.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	order    []*Session // oldest first

	max     int
	policy  Policy
	metrics *metrics.Metrics
}

// NewRegistry creates a registry holding at most max sessions.
func NewRegistry(max int, policy Policy, m *metrics.Metrics) *Registry {
	if max < 1 {
		max = 1
	}
	if policy == "" {
		policy = PolicyReplace
	}
	return &Registry{
		sessions: make(map[string]*Session),
		max:      max,
		policy:   policy,
		metrics:  m,
	}
}

// Open registers a new session, evicting or rejecting according to the
// policy when the registry is full.
func (r *Registry) Open() (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.order) >= r.max {
		if r.policy == PolicyReject {
			return nil, ErrCapacity
		}
		oldest := r.order[0]
		r.removeLocked(oldest)
		oldest.close()
		r.metrics.SessionClosed(true)
		log.Info().Str("session", oldest.ID).Msg("Session replaced by a newer stream")
	}

	s := newSession()
	r.sessions[s.ID] = s
	r.order = append(r.order, s)
	r.metrics.SessionOpened()
	log.Info().Str("session", s.ID).Int("active", len(r.order)).Msg("Session opened")
	return s, nil
}

// Get returns the live session with the given id. An empty id selects the
// most recently opened session.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" {
		if len(r.order) == 0 {
			return nil, ErrNoSession
		}
		return r.order[len(r.order)-1], nil
	}

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, id)
	}
	return s, nil
}

// Close removes the session if it is still registered and closes it.
func (r *Registry) Close(s *Session) {
	r.mu.Lock()
	removed := r.removeLocked(s)
	r.mu.Unlock()

	s.close()
	if removed {
		r.metrics.SessionClosed(false)
		log.Info().Str("session", s.ID).Msg("Session closed")
	}
}

// CloseAll closes every live session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.order
	r.order = nil
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.close()
		r.metrics.SessionClosed(false)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

func (r *Registry) removeLocked(s *Session) bool {
	if _, ok := r.sessions[s.ID]; !ok {
		return false
	}
	delete(r.sessions, s.ID)
	for i, o := range r.order {
		if o == s {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}
