// Package token hashes and mints opaque secrets (refresh tokens) for the
// panel server.
//
// A Hasher produces a stable 64-char hex digest suitable for storage:
// HMAC-SHA256 when a key is configured, plain SHA-256 otherwise. Production
// deployments set PANEL_REQUIRE_TOKEN_HMAC=true, which makes a missing or
// short PANEL_TOKEN_HMAC_KEY a startup error.
package token
