package log

import (
	"context"
	"log/slog"
	"strings"
)

const redacted = "[REDACTED]"

// sensitiveKeys are matched as case-insensitive substrings of attribute keys.
var sensitiveKeys = []string{
	"password",
	"pass",
	"secret",
	"token",
	"authorization",
	"challenge",
	"hash",
	"cred",
	"keytab",
	"ticket",
}

// authSchemes prefix header values that carry credentials or handshake tokens.
var authSchemes = []string{"ntlm ", "negotiate ", "basic ", "kerberos "}

// RedactingHandler is a slog.Handler that drops secrets from records.
//
// String values under sensitive keys are replaced, as is any value that looks
// like an Authorization or WWW-Authenticate header carrying a token. Numbers,
// booleans and durations pass through, so lengths and counts stay visible.
type RedactingHandler struct {
	next slog.Handler
}

// NewRedactingHandler wraps next.
func NewRedactingHandler(next slog.Handler) *RedactingHandler {
	return &RedactingHandler{next: next}
}

// Enabled implements slog.Handler.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

// WithAttrs implements slog.Handler.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = redactAttr(a)
	}
	return &RedactingHandler{next: h.next.WithAttrs(clean)}
}

// WithGroup implements slog.Handler.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()

	switch a.Value.Kind() {
	case slog.KindGroup:
		group := a.Value.Group()
		clean := make([]any, len(group))
		for i, attr := range group {
			clean[i] = redactAttr(attr)
		}
		return slog.Group(a.Key, clean...)
	case slog.KindInt64, slog.KindUint64, slog.KindFloat64, slog.KindBool, slog.KindDuration:
		return a
	}

	if sensitiveKey(a.Key) || carriesToken(a.Value.String()) {
		return slog.String(a.Key, redacted)
	}
	return a
}

func sensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func carriesToken(v string) bool {
	lower := strings.ToLower(strings.TrimSpace(v))
	for _, scheme := range authSchemes {
		if strings.HasPrefix(lower, scheme) && len(strings.TrimSpace(lower[len(scheme):])) > 0 {
			return true
		}
	}
	return false
}
