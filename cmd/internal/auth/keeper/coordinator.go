package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State is the coordinator's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateScheduled
	StateRefreshing
	StateRetrying
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateRefreshing:
		return "refreshing"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Trigger names what asked for a refresh attempt.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerImmediate Trigger = "immediate"
	TriggerRetry     Trigger = "retry"
	TriggerVisible   Trigger = "visible"
	TriggerFocus     Trigger = "focus"
	TriggerManual    Trigger = "manual"
)

// Event is a host signal that the session holder became active again.
type Event int

const (
	// EventVisible: the page/tab (or the agent's connection) became visible again.
	EventVisible Event = iota + 1
	// EventFocus: the window gained focus.
	EventFocus
)

func (e Event) trigger() Trigger {
	if e == EventFocus {
		return TriggerFocus
	}
	return TriggerVisible
}

// FailureMessage is shown to the user when retries are exhausted.
const FailureMessage = "Your session could not be renewed. Please sign in again."

// Options carries the coordinator's collaborators. Zero values are replaced
// with the system clock, a discarding notifier and a discarding logger.
type Options struct {
	Clock    Clock
	Notifier Notifier
	Logger   *slog.Logger
	Metrics  *Metrics
}

// Coordinator schedules proactive refreshes for the session held by a Store.
//
// Every refresh path goes through a single in-flight guard, so at most one
// Store.RefreshSession call is outstanding at any time. Callers that arrive
// while one is running are dropped, not queued.
//
// Stop must not be called from a Store subscriber or Notifier callback.
type Coordinator struct {
	cfg      Config
	store    Store
	clock    Clock
	notifier Notifier
	log      *slog.Logger
	metrics  *Metrics

	inFlight atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	state        State
	retryCount   int
	refreshTimer Timer
	retryTimer   Timer
	expiryTicker Timer
	refreshGen   uint64
	retryGen     uint64
	tickGen      uint64
	unsubscribe  func()

	// sessionGen changes on every SessionChanged. An attempt that started
	// under an older generation no longer owns the retry path.
	sessionGen uint64
	started      bool
	stopped      bool
}

// New builds a Coordinator for store. It does nothing until Start.
func New(store Store, cfg Config, opts Options) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("keeper: nil store")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Notifier == nil {
		opts.Notifier = discardNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:      cfg,
		store:    store,
		clock:    opts.Clock,
		notifier: opts.Notifier,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start subscribes to session changes and evaluates the current session.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	unsub := c.store.Subscribe(c.SessionChanged)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		unsub()
		return
	}
	c.unsubscribe = unsub
	c.mu.Unlock()

	c.log.Info("keeper.start",
		"lead_time", c.cfg.LeadTime,
		"immediate_threshold", c.cfg.ImmediateThreshold,
		"max_retries", c.cfg.MaxRetries,
	)
	c.SessionChanged()
}

// Stop tears the coordinator down: pending timers and the expiry check are
// cancelled, the in-flight refresh (if any) is cancelled and awaited, and no
// callback acts afterwards. Stop is idempotent.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.cancelRefreshLocked()
	c.cancelRetryLocked()
	c.stopExpiryCheckLocked()
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	c.cancel()
	c.wg.Wait()
	c.log.Info("keeper.stop")
}

// SessionChanged re-evaluates the session after a Store mutation. While
// authenticated it reschedules the refresh and (re)starts the expiry check;
// otherwise both are cleared.
func (c *Coordinator) SessionChanged() {
	s, ok := c.store.Session()
	authed := c.store.IsAuthenticated()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.sessionGen++
	c.cancelRetryLocked()
	c.retryCount = 0

	if !authed || !ok {
		c.cancelRefreshLocked()
		c.stopExpiryCheckLocked()
		c.setStateLocked(StateIdle)
		c.mu.Unlock()
		return
	}

	immediate := c.scheduleLocked(s, c.clock.Now(), true)
	c.startExpiryCheckLocked()
	c.mu.Unlock()

	if immediate {
		c.refreshNow(TriggerImmediate)
	}
}

// ScheduleRefresh recomputes the refresh deadline from the current session.
// Any pending refresh timer is cancelled first. A session at or inside the
// immediate threshold is refreshed right away.
func (c *Coordinator) ScheduleRefresh() {
	s, ok := c.store.Session()
	authed := c.store.IsAuthenticated()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if !authed || !ok {
		c.cancelRefreshLocked()
		c.mu.Unlock()
		return
	}
	immediate := c.scheduleLocked(s, c.clock.Now(), true)
	c.mu.Unlock()

	if immediate {
		c.refreshNow(TriggerImmediate)
	}
}

// StartExpiryCheck arms the periodic Store.CheckSessionExpiry call,
// replacing a running one.
func (c *Coordinator) StartExpiryCheck() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.startExpiryCheckLocked()
}

// StopExpiryCheck clears the periodic expiry check.
func (c *Coordinator) StopExpiryCheck() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopExpiryCheckLocked()
}

// RefreshToken is the manual trigger. It returns once its attempt settles,
// or at once when another attempt is in flight. Failures are owned by the
// retry state machine and are not returned.
func (c *Coordinator) RefreshToken(ctx context.Context, retryCount int) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	c.attempt(ctx, TriggerManual, retryCount)
}

// Trigger handles a focus or visibility event: if authenticated and the
// session expires within the trigger threshold, a refresh starts now.
// A session without an expiry never expires, so triggers ignore it.
func (c *Coordinator) Trigger(ev Event) {
	if !c.store.IsAuthenticated() {
		return
	}
	s, ok := c.store.Session()
	if !ok {
		return
	}
	if _, has := s.Expiry(); !has {
		return
	}
	left := TimeUntilExpiry(s, c.clock.Now())
	if left > c.cfg.TriggerThreshold {
		return
	}
	c.log.Debug("keeper.trigger", "trigger", ev.trigger(), "expires_in", left)
	c.refreshNow(ev.trigger())
}

// TimeUntilExpiry reports the current session's remaining lifetime.
func (c *Coordinator) TimeUntilExpiry() time.Duration {
	s, ok := c.store.Session()
	if !ok {
		return 0
	}
	return TimeUntilExpiry(s, c.clock.Now())
}

// TimeUntilRefresh reports how long until the proactive refresh is due.
func (c *Coordinator) TimeUntilRefresh() time.Duration {
	s, ok := c.store.Session()
	if !ok {
		return 0
	}
	return TimeUntilRefresh(s, c.clock.Now(), c.cfg.LeadTime)
}

// IsRefreshing reports whether a refresh call is outstanding.
func (c *Coordinator) IsRefreshing() bool { return c.inFlight.Load() }

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RetryCount returns the number of failed attempts since the last success
// or session change.
func (c *Coordinator) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

// scheduleLocked arms the refresh timer for s. It reports whether s is due
// for an immediate refresh instead; that is only possible when allowImmediate.
func (c *Coordinator) scheduleLocked(s Session, now time.Time, allowImmediate bool) bool {
	c.cancelRefreshLocked()

	if _, ok := s.Expiry(); !ok {
		c.setStateLocked(StateIdle)
		return false
	}

	left := TimeUntilExpiry(s, now)
	if left <= c.cfg.ImmediateThreshold {
		if allowImmediate {
			return true
		}
		// Freshly issued yet already inside the threshold: the server hands
		// out short-lived tokens. Refresh halfway through instead of looping.
		d := left / 2
		if d < c.cfg.BackoffBase {
			d = c.cfg.BackoffBase
		}
		c.log.Warn("keeper.session.short_lived", "expires_in", left, "refresh_in", d)
		c.armRefreshLocked(d)
		return false
	}

	d := TimeUntilRefresh(s, now, c.cfg.LeadTime)
	if d <= 0 {
		// Between the immediate threshold and the lead time: wake up when the
		// session crosses into the immediate window.
		d = left - c.cfg.ImmediateThreshold
	}
	c.armRefreshLocked(d)
	return false
}

func (c *Coordinator) armRefreshLocked(d time.Duration) {
	c.refreshGen++
	gen := c.refreshGen
	c.refreshTimer = c.clock.AfterFunc(d, func() { c.onRefreshTimer(gen) })
	c.setStateLocked(StateScheduled)
	c.log.Debug("keeper.refresh.scheduled", "in", d)
}

func (c *Coordinator) cancelRefreshLocked() {
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	c.refreshGen++
}

func (c *Coordinator) armRetryLocked(d time.Duration, next int) {
	c.cancelRetryLocked()
	c.retryGen++
	gen := c.retryGen
	c.retryTimer = c.clock.AfterFunc(d, func() { c.onRetryTimer(gen, next) })
}

func (c *Coordinator) cancelRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.retryGen++
}

func (c *Coordinator) startExpiryCheckLocked() {
	c.stopExpiryCheckLocked()
	c.tickGen++
	gen := c.tickGen
	c.expiryTicker = c.clock.TickFunc(c.cfg.ExpiryCheckInterval, func() { c.onExpiryTick(gen) })
}

func (c *Coordinator) stopExpiryCheckLocked() {
	if c.expiryTicker != nil {
		c.expiryTicker.Stop()
		c.expiryTicker = nil
	}
	c.tickGen++
}

func (c *Coordinator) setStateLocked(s State) {
	c.state = s
	c.metrics.setState(s)
}

func (c *Coordinator) onRefreshTimer(gen uint64) {
	c.mu.Lock()
	if c.stopped || gen != c.refreshGen {
		c.mu.Unlock()
		return
	}
	c.refreshTimer = nil
	c.mu.Unlock()

	c.attempt(c.ctx, TriggerScheduled, 0)
}

func (c *Coordinator) onRetryTimer(gen uint64, next int) {
	c.mu.Lock()
	if c.stopped || gen != c.retryGen {
		c.mu.Unlock()
		return
	}
	c.retryTimer = nil
	c.mu.Unlock()

	c.attempt(c.ctx, TriggerRetry, next)
}

func (c *Coordinator) onExpiryTick(gen uint64) {
	c.mu.Lock()
	if c.stopped || gen != c.tickGen {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	c.store.CheckSessionExpiry(c.ctx)
}

// refreshNow takes the in-flight guard on the calling goroutine and runs the
// attempt on a new one.
func (c *Coordinator) refreshNow(trigger Trigger) {
	if !c.acquire(trigger) {
		return
	}
	go c.run(c.ctx, trigger, 0)
}

func (c *Coordinator) attempt(ctx context.Context, trigger Trigger, retry int) {
	if !c.acquire(trigger) {
		return
	}
	c.run(ctx, trigger, retry)
}

func (c *Coordinator) acquire(trigger Trigger) bool {
	if c.inFlight.CompareAndSwap(false, true) {
		return true
	}
	c.metrics.result("dropped")
	c.log.Debug("keeper.refresh.dropped", "trigger", trigger)
	return false
}

// run performs one attempt. The caller holds the in-flight guard; run releases it.
func (c *Coordinator) run(ctx context.Context, trigger Trigger, retry int) {
	defer c.inFlight.Store(false)

	retry, gen, ok := c.begin(trigger, retry)
	if !ok {
		return
	}
	defer c.wg.Done()

	c.metrics.attempt(trigger)
	c.log.Debug("keeper.refresh.attempt", "trigger", trigger, "retry", retry)

	if err := c.callRefresh(ctx); err != nil {
		c.failed(trigger, retry, gen, err)
		return
	}
	c.succeeded(trigger, retry)
}

// begin marks the attempt as running. A pending retry is absorbed into a
// non-retry attempt, which continues its count so the total stays bounded.
func (c *Coordinator) begin(trigger Trigger, retry int) (int, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return 0, 0, false
	}
	if trigger != TriggerRetry && c.retryTimer != nil {
		c.cancelRetryLocked()
		if c.retryCount > retry {
			retry = c.retryCount
		}
	}
	c.wg.Add(1)
	c.setStateLocked(StateRefreshing)
	return retry, c.sessionGen, true
}

func (c *Coordinator) callRefresh(ctx context.Context) error {
	if c.cfg.RefreshTimeout <= 0 {
		return c.store.RefreshSession(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RefreshTimeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- c.store.RefreshSession(ctx) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrRefreshTimeout, c.cfg.RefreshTimeout)
		}
		return ctx.Err()
	}
}

func (c *Coordinator) succeeded(trigger Trigger, retry int) {
	c.metrics.result("success")
	c.log.Info("keeper.refresh.ok", "trigger", trigger, "retries", retry)

	s, ok := c.store.Session()
	authed := c.store.IsAuthenticated()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.retryCount = 0
	c.cancelRetryLocked()
	if !authed || !ok {
		c.cancelRefreshLocked()
		c.setStateLocked(StateIdle)
		return
	}
	c.scheduleLocked(s, c.clock.Now(), false)
}

// failed runs the retry state machine for an attempt started under session
// generation gen. A session that was logged out or replaced while the call
// was out is not retried and not logged out again; SessionChanged already
// rescheduled or cleared everything for the current one.
func (c *Coordinator) failed(trigger Trigger, retry int, gen uint64, err error) {
	if errors.Is(err, ErrRefreshTimeout) {
		c.metrics.result("timeout")
	} else {
		c.metrics.result("failure")
	}
	authed := c.store.IsAuthenticated()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if gen != c.sessionGen {
		c.mu.Unlock()
		c.log.Info("keeper.refresh.abandoned", "trigger", trigger, "reason", "session_changed", "err", err)
		return
	}
	if !authed {
		c.retryCount = 0
		c.cancelRetryLocked()
		c.cancelRefreshLocked()
		c.setStateLocked(StateIdle)
		c.mu.Unlock()
		c.log.Info("keeper.refresh.abandoned", "trigger", trigger, "reason", "signed_out", "err", err)
		return
	}
	if retry < c.cfg.MaxRetries {
		delay := c.cfg.Backoff(retry)
		c.retryCount = retry + 1
		c.armRetryLocked(delay, retry+1)
		c.setStateLocked(StateRetrying)
		c.mu.Unlock()

		c.log.Warn("keeper.refresh.retry",
			"trigger", trigger,
			"attempt", retry+1,
			"next_in", delay,
			"err", err,
		)
		return
	}

	c.retryCount = 0
	c.cancelRefreshLocked()
	c.cancelRetryLocked()
	c.setStateLocked(StateFailed)
	c.mu.Unlock()

	c.log.Error("keeper.refresh.exhausted", "trigger", trigger, "attempts", retry+1, "err", err)
	c.forceLogout()
}

func (c *Coordinator) forceLogout() {
	c.metrics.forcedLogout()
	c.notifier.Notify(c.ctx, Notice{Level: LevelError, Message: FailureMessage})

	if err := c.store.Logout(c.ctx); err != nil {
		c.log.Warn("keeper.logout.fail", "err", err)
	}

	c.mu.Lock()
	if c.state == StateFailed {
		c.setStateLocked(StateIdle)
	}
	c.mu.Unlock()
	c.log.Info("keeper.logout.forced")
}
