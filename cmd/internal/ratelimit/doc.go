// Package ratelimit is a fixed-window request limiter for the panel HTTP
// API. Each request is matched to a Rule by path prefix and counted under
// a key made of the rule and the caller (user id when the request carries
// a valid access token, client address otherwise).
//
// Counts live in a Store: MemoryStore for a single instance, RedisStore
// when several instances share one budget.
package ratelimit
