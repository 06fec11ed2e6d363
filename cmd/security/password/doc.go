// Package password hashes and verifies account passwords with Argon2id.
//
// Encoded hashes use the PHC string layout
//
//	$argon2id$v=19$m=<KiB>,t=<iterations>,p=<lanes>$<salt>$<key>
//
// and are treated as untrusted on Verify: parameters far above the configured
// cost are refused rather than computed.
package password
