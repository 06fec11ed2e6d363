// Package keeper keeps a panel session alive from the client side.
//
// A Coordinator watches a Store that owns the current session and schedules
// a proactive refresh ahead of access-token expiry. Failed refreshes are
// retried with exponential backoff; once retries are exhausted the user is
// notified and the session is logged out. At most one refresh call is in
// flight at any time, whichever path (timer, retry, focus/visibility trigger
// or manual call) asked for it.
//
// The Coordinator never mutates the session itself. It only reads it and
// calls the Store's mutation methods.
package keeper
