package realtime

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

type fakeSession struct {
	id     string
	userID uint64

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newFakeSession(userID uint64, id string) *fakeSession {
	return &fakeSession{id: id, userID: userID}
}

func (f *fakeSession) ID() string     { return f.id }
func (f *fakeSession) UserID() uint64 { return f.userID }

func (f *fakeSession) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("session closed")
	}
	f.frames = append(f.frames, append([]byte(nil), payload...))
	return nil
}

func (f *fakeSession) Close(code int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSession) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.frames))
	copy(out, f.frames)
	return out
}

type fakeNotifier struct {
	mu      sync.Mutex
	online  []uint64
	offline []uint64
}

func (n *fakeNotifier) UserOnline(ctx context.Context, userID uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.online = append(n.online, userID)
}

func (n *fakeNotifier) UserOffline(ctx context.Context, userID uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = append(n.offline, userID)
}

func TestRouter_OnlineOnFirstSessionOnly(t *testing.T) {
	notifier := &fakeNotifier{}
	router := NewRouter(notifier)
	ctx := context.Background()

	tab1 := newFakeSession(1, "s1")
	tab2 := newFakeSession(1, "s2")

	router.Register(ctx, tab1)
	router.Register(ctx, tab2)

	if len(notifier.online) != 1 || notifier.online[0] != 1 {
		t.Fatalf("expected one online transition, got %v", notifier.online)
	}
	if got := len(router.SessionsOf(1)); got != 2 {
		t.Fatalf("expected 2 sessions, got %d", got)
	}
}

func TestRouter_OfflineOnLastSessionOnly(t *testing.T) {
	notifier := &fakeNotifier{}
	router := NewRouter(notifier)
	ctx := context.Background()

	tab1 := newFakeSession(2, "s1")
	tab2 := newFakeSession(2, "s2")
	router.Register(ctx, tab1)
	router.Register(ctx, tab2)

	if last := router.Unregister(ctx, tab1); last {
		t.Fatalf("first unregister reported as last")
	}
	if len(notifier.offline) != 0 {
		t.Fatalf("offline fired while a session remained: %v", notifier.offline)
	}

	if last := router.Unregister(ctx, tab2); !last {
		t.Fatalf("last unregister not reported")
	}
	if len(notifier.offline) != 1 || notifier.offline[0] != 2 {
		t.Fatalf("expected one offline transition, got %v", notifier.offline)
	}
	if got := router.SessionsOf(2); got != nil {
		t.Fatalf("expected no sessions, got %d", len(got))
	}

	// Unregistering an unknown session is a no-op.
	if last := router.Unregister(ctx, tab2); last {
		t.Fatalf("double unregister reported as last")
	}
	if len(notifier.offline) != 1 {
		t.Fatalf("double unregister fired another transition")
	}
}

func TestRouter_NotifyUserReachesAllSessions(t *testing.T) {
	router := NewRouter(nil)
	ctx := context.Background()

	a1 := newFakeSession(3, "a1")
	a2 := newFakeSession(3, "a2")
	b := newFakeSession(4, "b1")
	router.Register(ctx, a1)
	router.Register(ctx, a2)
	router.Register(ctx, b)

	payload := []byte(`{"type":"new-message"}`)
	if delivered := router.NotifyUser(3, payload); delivered != 2 {
		t.Fatalf("expected 2 deliveries, got %d", delivered)
	}
	if len(a1.received()) != 1 || len(a2.received()) != 1 {
		t.Fatalf("not every session of the user received the event")
	}
	if len(b.received()) != 0 {
		t.Fatalf("event leaked to an unrelated user")
	}

	// Offline user: dropped, zero deliveries.
	if delivered := router.NotifyUser(99, payload); delivered != 0 {
		t.Fatalf("expected 0 deliveries for offline user, got %d", delivered)
	}
}

func TestRouter_CloseFlipsEveryUserOffline(t *testing.T) {
	notifier := &fakeNotifier{}
	router := NewRouter(notifier)
	ctx := context.Background()

	a1 := newFakeSession(5, "a1")
	a2 := newFakeSession(5, "a2")
	b := newFakeSession(6, "b1")
	router.Register(ctx, a1)
	router.Register(ctx, a2)
	router.Register(ctx, b)

	router.Close(ctx)

	if len(notifier.offline) != 2 {
		t.Fatalf("expected offline for both users, got %v", notifier.offline)
	}
	seen := map[uint64]int{}
	for _, u := range notifier.offline {
		seen[u]++
	}
	if seen[5] != 1 || seen[6] != 1 {
		t.Fatalf("offline transitions not one per user: %v", notifier.offline)
	}
	for _, s := range []*fakeSession{a1, a2, b} {
		if !s.closed {
			t.Fatalf("session %s left open after close", s.ID())
		}
	}

	// Read loops unregister after the close; that must not fire a second
	// offline transition.
	if last := router.Unregister(ctx, a1); last {
		t.Fatalf("unregister after close reported as last")
	}
	if len(notifier.offline) != 2 {
		t.Fatalf("extra offline transition after close: %v", notifier.offline)
	}
}

func TestRouter_ConcurrentRegisterUnregister(t *testing.T) {
	router := NewRouter(&fakeNotifier{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := newFakeSession(uint64(i%7), fmt.Sprintf("s%d", i))
			router.Register(ctx, s)
			router.NotifyUser(s.UserID(), []byte("x"))
			router.Unregister(ctx, s)
		}(i)
	}
	wg.Wait()

	for u := uint64(0); u < 7; u++ {
		if got := router.SessionsOf(u); got != nil {
			t.Fatalf("user %d still has %d sessions", u, len(got))
		}
	}
}
