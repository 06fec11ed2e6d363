// Package session issues and maintains server-side panel sessions.
//
// A session pairs a short-lived PASETO v4.public access token (claims uid and
// sid) with an opaque refresh token that is stored only as a digest. Every
// refresh rotates the refresh token; presenting a rotated token again is
// treated as theft and revokes all of the user's sessions.
//
// Stores must make rotation atomic: MemoryStore serialises it under a mutex,
// PostgresStore runs it in a transaction holding a row lock.
package session
