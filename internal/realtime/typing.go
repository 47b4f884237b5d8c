package realtime

import "sync"

type typingKey struct {
	from uint64
	to   uint64
}

// TypingState is the ephemeral "who is typing to whom" map. Best-effort:
// nothing is persisted and losing it on disconnect is correct behavior.
type TypingState struct {
	mu     sync.Mutex
	active map[typingKey]struct{}
}

func NewTypingState() *TypingState {
	return &TypingState{active: make(map[typingKey]struct{})}
}

func (t *TypingState) Set(from, to uint64, typing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := typingKey{from: from, to: to}
	if typing {
		t.active[k] = struct{}{}
	} else {
		delete(t.active, k)
	}
}

func (t *TypingState) IsTyping(from, to uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[typingKey{from: from, to: to}]
	return ok
}

// ClearFrom drops every entry where the given user is the typist. Called
// when the user's last session disconnects.
func (t *TypingState) ClearFrom(from uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.active {
		if k.from == from {
			delete(t.active, k)
		}
	}
}
