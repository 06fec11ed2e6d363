// Package identity holds panel accounts: who can sign in and with which role.
//
// Accounts wraps a Store with password policy and hashing so that callers
// never handle password hashes directly.
package identity
