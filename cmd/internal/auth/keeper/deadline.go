package keeper

import "time"

// TimeUntilExpiry returns how long until s expires, measured from now.
// It is zero for sessions without an expiry and for expired sessions.
func TimeUntilExpiry(s Session, now time.Time) time.Duration {
	exp, ok := s.Expiry()
	if !ok {
		return 0
	}
	return clampZero(exp.Sub(now))
}

// TimeUntilRefresh returns how long until the proactive refresh for s is due:
// expiry minus lead, clamped to zero.
func TimeUntilRefresh(s Session, now time.Time, lead time.Duration) time.Duration {
	exp, ok := s.Expiry()
	if !ok {
		return 0
	}
	return clampZero(exp.Add(-lead).Sub(now))
}

func clampZero(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
