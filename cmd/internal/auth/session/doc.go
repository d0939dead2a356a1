// Package session reconciles the three identity sources into one canonical
// session and propagates changes to subscribers.
//
// Persisted markers live in the kv key space (kv.SessionKeys). Resolve is a
// pure function of those markers; Manager reads them, resolves, publishes the
// result atomically and notifies the Broadcaster when the identity changed.
//
// Priority is fixed: federated > remote > local. The outcome therefore does
// not depend on the order in which the sources were last written.
package session
