package channels

import "sync"

// Table maps pending request ids to channel-native message ids and back. It
// grows on every SendPermissionRequest and shrinks on every UpdateMessage, so
// a finalized id can never be matched twice. Accessed from both the receive
// loop and orchestrator call sites, hence the mutex.
type Table struct {
	mu        sync.Mutex
	byMessage map[string]string
	byRequest map[string]string
}

func NewTable() *Table {
	return &Table{
		byMessage: make(map[string]string),
		byRequest: make(map[string]string),
	}
}

func (t *Table) Bind(requestID, messageID string) {
	if requestID == "" || messageID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byMessage[messageID] = requestID
	t.byRequest[requestID] = messageID
}

// RequestFor reverse-looks-up the pending request targeted by a reply or
// callback on the given native message id.
func (t *Table) RequestFor(messageID string) (string, bool) {
	if messageID == "" {
		return "", false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	requestID, ok := t.byMessage[messageID]
	return requestID, ok
}

// Unbind removes the binding for a native message id, in both directions.
func (t *Table) Unbind(messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if requestID, ok := t.byMessage[messageID]; ok {
		delete(t.byRequest, requestID)
	}
	delete(t.byMessage, messageID)
}

// Contains reports whether a request id is still bound.
func (t *Table) Contains(requestID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byRequest[requestID]
	return ok
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byMessage)
}
