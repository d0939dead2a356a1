// Package identity defines the vocabulary shared by every session source:
// the canonical session, local account records, source kinds, input
// validation and the error taxonomy.
//
// This package is intentionally dependency-light; persistence, transport and
// provider integrations live in their own packages and depend on this one.
package identity
