// Package executor runs provider operations against external systems with a
// per-attempt deadline, a correlation id and a bounded fixed-delay retry
// policy.
//
// Two implementations share the retry loop. Pool dispatches every attempt to a
// fixed set of worker goroutines standing in for a remote worker fleet.
// InProcess runs attempts on the calling goroutine and is used for providers
// backed by tenant-shared global configs.
//
// Failures are classified after each attempt. Taxonomy errors from
// internal/errors (validation, not-found, authorization...) are terminal and
// returned unchanged. Errors marked with errors.Transient, timeouts and
// throttling are retried. Anything else is terminal and wrapped in a
// ProviderOperationError carrying the attempt history.
package executor
