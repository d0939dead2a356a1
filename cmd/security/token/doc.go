// Package token holds the small primitives shared by everything that handles
// bearer credentials: SHA-256 digests, log-safe fingerprints and the
// Authorization header convention.
//
// Bearer tokens are opaque here. They are never logged in full; use
// Fingerprint when a token needs to be correlated in logs.
package token
