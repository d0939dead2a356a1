// Package authflow orchestrates register, login and logout across the remote
// account service, the local fallback store and the federated provider.
//
// Register and login run one explicit cascade:
//
//	start -> remote_attempt -> remote_success
//	                        -> remote_unavailable -> local_fallback -> local_success | local_failure
//	                        -> remote_rejected
//	      -> resolved
//
// Only availability failures fall back to the local store. A rejection from
// the remote service is returned to the caller as-is. The stages traversed are
// reported in Result.Trace.
package authflow
