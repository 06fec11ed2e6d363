package authapi

import (
	"context"
	"net"
	"time"
)

type lockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// evaluateWindowThrottle blocks once limit failures fall inside window. The
// block lifts when the oldest of them leaves the window.
func evaluateWindowThrottle(now time.Time, failures []time.Time, limit int, window time.Duration) (bool, time.Duration) {
	if limit <= 0 || window <= 0 {
		return false, 0
	}
	start := now.Add(-window)
	var (
		count  int
		oldest time.Time
	)
	for _, at := range failures {
		if !at.After(start) || at.After(now) {
			continue
		}
		count++
		if oldest.IsZero() || at.Before(oldest) {
			oldest = at
		}
	}
	if count < limit {
		return false, 0
	}
	retry := oldest.Add(window).Sub(now)
	if retry <= 0 {
		return false, 0
	}
	return true, retry
}

// evaluateProgressiveLockout picks the highest tier whose threshold the
// failure count reaches and locks until the latest failure plus the tier's
// duration.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []lockoutTier) (bool, time.Duration) {
	if len(failures) == 0 {
		return false, 0
	}
	latest := failures[0]
	for _, at := range failures[1:] {
		if at.After(latest) {
			latest = at
		}
	}

	var best *lockoutTier
	for i := range tiers {
		t := &tiers[i]
		if t.Threshold <= 0 || t.Duration <= 0 || len(failures) < t.Threshold {
			continue
		}
		if best == nil || t.Threshold > best.Threshold {
			best = t
		}
	}
	if best == nil {
		return false, 0
	}
	retry := latest.Add(best.Duration).Sub(now)
	if retry <= 0 {
		return false, 0
	}
	return true, retry
}

func (h *Handler) checkLoginIPThrottle(ctx context.Context, ip net.IP, now time.Time) (bool, time.Duration, error) {
	if ip == nil {
		return false, 0, nil
	}
	failures, err := h.audit.LoginFailures(ctx, FailureQuery{IP: ip, Since: now.Add(-h.cfg.LoginIPWindow)})
	if err != nil {
		return false, 0, err
	}
	blocked, retry := evaluateWindowThrottle(now, failures, h.cfg.LoginIPMax, h.cfg.LoginIPWindow)
	return blocked, retry, nil
}

func (h *Handler) checkLoginUserThrottle(ctx context.Context, usernameNorm string, now time.Time) (bool, time.Duration, error) {
	failures, err := h.audit.LoginFailures(ctx, FailureQuery{UsernameNorm: usernameNorm, Since: now.Add(-h.cfg.LoginUserWindow)})
	if err != nil {
		return false, 0, err
	}
	blocked, retry := evaluateProgressiveLockout(now, failures, h.cfg.lockoutTiers())
	return blocked, retry, nil
}
