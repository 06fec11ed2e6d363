package keeper

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

// fakeClock fires timers only when advanced. Callbacks run on the goroutine
// calling Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer

	armedAfter int
	armedTick  int
	stopsAfter int
	stopsTick  int
}

type fakeTimer struct {
	c        *fakeClock
	at       time.Time
	period   time.Duration
	periodic bool
	active   bool
	f        func()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), active: true, f: f}
	c.timers = append(c.timers, t)
	c.armedAfter++
	return t
}

func (c *fakeClock) TickFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), period: d, periodic: true, active: true, f: f}
	c.timers = append(c.timers, t)
	c.armedTick++
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if !t.active {
		return false
	}
	t.active = false
	if t.periodic {
		t.c.stopsTick++
	} else {
		t.c.stopsAfter++
	}
	return true
}

// Advance moves the clock forward by d, firing due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due []*fakeTimer
		for _, t := range c.timers {
			if t.active && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
		t := due[0]
		c.now = t.at
		if t.periodic {
			t.at = t.at.Add(t.period)
		} else {
			t.active = false
		}
		f := t.f
		c.mu.Unlock()

		f()
	}
}

// pending returns the number of live one-shot and periodic timers.
func (c *fakeClock) pending() (after, tick int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.timers {
		if !t.active {
			continue
		}
		if t.periodic {
			tick++
		} else {
			after++
		}
	}
	return after, tick
}

func (c *fakeClock) nextAfter() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var best time.Duration
	found := false
	for _, t := range c.timers {
		if !t.active || t.periodic {
			continue
		}
		d := t.at.Sub(c.now)
		if !found || d < best {
			best, found = d, true
		}
	}
	return best, found
}

func (c *fakeClock) counts() (armed, stops int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armedAfter, c.stopsAfter
}

func (c *fakeClock) tickStops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopsTick
}

// fakeStore is an in-memory Store. By default a refresh extends the session
// to one hour from the fake clock's now.
type fakeStore struct {
	clock *fakeClock

	mu         sync.Mutex
	session    *Session
	refreshFn  func(ctx context.Context) error
	refreshAt  []time.Time
	logouts    int
	checks     int
	subs       map[int]func()
	nextSubID  int
	refreshTTL time.Duration
}

func newFakeStore(clock *fakeClock) *fakeStore {
	return &fakeStore{clock: clock, subs: map[int]func(){}, refreshTTL: time.Hour}
}

func (s *fakeStore) Session() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return Session{}, false
	}
	return *s.session, true
}

func (s *fakeStore) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

func (s *fakeStore) RefreshSession(ctx context.Context) error {
	s.mu.Lock()
	s.refreshAt = append(s.refreshAt, s.clock.Now())
	fn := s.refreshFn
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	s.setExpiresIn(s.refreshTTL)
	return nil
}

func (s *fakeStore) CheckSessionExpiry(context.Context) {
	s.mu.Lock()
	s.checks++
	s.mu.Unlock()
}

func (s *fakeStore) Logout(context.Context) error {
	s.mu.Lock()
	s.logouts++
	s.session = nil
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *fakeStore) Subscribe(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *fakeStore) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// setExpiresIn replaces the session with one expiring d from now and notifies.
func (s *fakeStore) setExpiresIn(d time.Duration) {
	s.mu.Lock()
	s.session = &Session{AccessToken: "tok", ExpiresAt: s.clock.Now().Add(d).Unix()}
	s.mu.Unlock()
	s.notify()
}

func (s *fakeStore) setRefresh(fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshFn = fn
}

func (s *fakeStore) refreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refreshAt)
}

func (s *fakeStore) refreshTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.refreshAt...)
}

func (s *fakeStore) logoutCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logouts
}

func (s *fakeStore) checkCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checks
}

type noticeRecorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *noticeRecorder) Notify(_ context.Context, n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *noticeRecorder) all() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

func newTestCoordinator(t *testing.T, store Store, clock Clock, notifier Notifier, mutate func(*Config)) *Coordinator {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(store, cfg, Options{Clock: clock, Notifier: notifier})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
