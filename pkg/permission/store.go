package permission

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wangdong/clawguard/pkg/logger"
)

var (
	// ErrTimeout means no human response arrived within the configured window.
	ErrTimeout = errors.New("permission request timed out")
	// ErrStoreCleared means the store was torn down while the request was
	// still outstanding, typically at shutdown.
	ErrStoreCleared = errors.New("pending request store cleared")
)

type outcome struct {
	decision Decision
	err      error
}

// Pending is the awaitable handle for one registered request.
type Pending struct {
	Request
	MessageID string

	done chan outcome
}

// Await blocks until the request resolves, times out, or ctx is cancelled.
func (p *Pending) Await(ctx context.Context) (Decision, error) {
	select {
	case o := <-p.done:
		return o.decision, o.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type entry struct {
	pending *Pending
	timer   *time.Timer
}

// Store tracks in-flight permission requests. The map is the single source of
// truth for "is this id still awaitable": removal and handle completion happen
// under one mutex, so at most one of resolve/expire ever fires per id.
type Store struct {
	mu      sync.Mutex
	timeout time.Duration
	pending map[string]*entry
}

func NewStore(timeout time.Duration) *Store {
	return &Store{
		timeout: timeout,
		pending: make(map[string]*entry),
	}
}

// Register adds a request and starts its independent expiry timer.
func (s *Store) Register(req Request, messageID string) *Pending {
	p := &Pending{
		Request:   req,
		MessageID: messageID,
		done:      make(chan outcome, 1),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[req.ID] = &entry{
		pending: p,
		timer:   time.AfterFunc(s.timeout, func() { s.expire(req.ID) }),
	}

	logger.DebugCF("permission", "Registered pending request", map[string]any{
		"request_id": req.ID,
		"message_id": messageID,
		"timeout":    s.timeout.String(),
	})
	return p
}

// Resolve completes the request with a decision. Returns false when the id is
// absent (already resolved or expired); that call has no side effect.
func (s *Store) Resolve(id string, decision Decision) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.pending[id]
	if !ok {
		return false
	}
	delete(s.pending, id)
	e.timer.Stop()
	e.pending.done <- outcome{decision: decision}
	return true
}

// expire is fired by the per-record timer. A silent no-op if the id was
// already resolved.
func (s *Store) expire(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.pending[id]
	if !ok {
		return
	}
	delete(s.pending, id)
	e.pending.done <- outcome{err: ErrTimeout}

	logger.WarnCF("permission", "Pending request expired", map[string]any{
		"request_id": id,
	})
}

// Clear fails every outstanding handle with ErrStoreCleared so callers
// awaiting a decision always resume. Used at shutdown.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.pending {
		e.timer.Stop()
		e.pending.done <- outcome{err: ErrStoreCleared}
		delete(s.pending, id)
	}
}

// Len reports how many requests are currently awaitable.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
