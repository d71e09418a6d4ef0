package core

import (
	"context"

	glog "github.com/goliatone/go-logger/glog"
)

// Logger and LoggerProvider re-export the glog contracts so packages depend
// on core instead of the logging library directly.
type (
	Logger         = glog.Logger
	LoggerProvider = glog.LoggerProvider
	FieldsLogger   = glog.FieldsLogger
)

// ResolveLogger applies deterministic precedence provider > logger > nop.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	return glog.Resolve(name, provider, logger)
}

// PlatformClient is the transport collaborator every API package consumes:
// a single POST with the platform envelope decoded into out. Implementations
// own timeout and retry behavior; callers own path and payload shape.
// A nil out skips body decoding.
type PlatformClient interface {
	Post(ctx context.Context, path string, body any, out any) error
}
