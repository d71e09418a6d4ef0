// Package webhooks receives platform event deliveries, verifies their
// signatures, and routes trusted events to registered handlers. Payloads
// are never parsed before the signature checks out, and entitlement
// revocation events evict the verification cache before any handler runs.
package webhooks
