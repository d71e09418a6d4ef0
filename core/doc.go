// Package core contains the canonical domain contracts, configuration, and
// error taxonomy shared by every onesub-go package. Higher-level packages
// (transport, exchange, verification, webhooks) depend on core; core must
// not depend on any of them.
package core
