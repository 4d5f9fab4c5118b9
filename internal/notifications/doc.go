// Package notifications delivers experiment lifecycle events to an
// ntfy topic over plain HTTP POST.
//
// # Behaviour
//
// NewService inspects the configuration: with no topic set it returns a
// no-op implementation, so callers never guard notification calls.
// Delivery failures are reported as errors but are advisory; the
// experiment runner logs and continues rather than aborting a run over
// a push message.
package notifications
