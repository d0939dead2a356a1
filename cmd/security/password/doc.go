// Package password provides password hashing and verification for the local
// credential store.
//
// New hashes are Argon2id in a PHC-like encoded string. Verification also
// accepts the bare hex SHA-256 digests written by the legacy browser store so
// that imported accounts stay usable; callers rehash those on the next
// successful verification (see Config.NeedsRehash).
//
// Hash strings are treated as untrusted input during Verify and are validated
// accordingly, including anti-DoS bounds on the encoded Argon2 parameters.
package password
