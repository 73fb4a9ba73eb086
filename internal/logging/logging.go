// Package logging configures the process-wide structured logger.
//
// Grounded on dexidp-dex's cmd/dex/logger.go: a slog.Handler wrapper that
// enriches every record with request-scoped attributes pulled out of the
// context, constructed once at startup and passed explicitly rather than
// stashed behind a package-level global.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const (
	// RequestIDKey carries a per-request identifier into log records.
	RequestIDKey contextKey = "request_id"
	// RemoteIPKey carries the caller's address into log records.
	RemoteIPKey contextKey = "remote_ip"
	// ConnectionIDKey carries the connection a sync-loop iteration is
	// currently operating on into log records.
	ConnectionIDKey contextKey = "connection_id"
	// InstitutionIDKey carries the institution a sync-loop iteration is
	// currently operating on into log records.
	InstitutionIDKey contextKey = "institution_id"
)

// WithRequestID returns a context carrying the given request ID for logging.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// WithRemoteIP returns a context carrying the given remote IP for logging.
func WithRemoteIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, RemoteIPKey, ip)
}

// WithConnection returns a context carrying connection/institution IDs for
// logging inside the sync loops.
func WithConnection(ctx context.Context, connectionID int64, institutionID string) context.Context {
	ctx = context.WithValue(ctx, ConnectionIDKey, connectionID)
	return context.WithValue(ctx, InstitutionIDKey, institutionID)
}

// New builds a *slog.Logger at the given level ("debug", "info", "warn",
// "error") and format ("text" or "json").
func New(level, format string) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}

	return slog.New(contextHandler{handler: handler}), nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level: %s", level)
	}
}

var _ slog.Handler = contextHandler{}

// contextHandler enriches every record with request- or loop-scoped
// attributes carried on the context, without requiring every call site to
// remember to attach them.
type contextHandler struct {
	handler slog.Handler
}

func (h contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h contextHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, key := range []contextKey{RequestIDKey, RemoteIPKey, ConnectionIDKey, InstitutionIDKey} {
		if v := ctx.Value(key); v != nil {
			record.AddAttrs(slog.Any(string(key), v))
		}
	}
	return h.handler.Handle(ctx, record)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{handler: h.handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{handler: h.handler.WithGroup(name)}
}
