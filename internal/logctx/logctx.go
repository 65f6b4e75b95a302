// Package logctx enriches slog records with request-scoped attributes
// carried on the context, so call sites log events without re-stating where
// they happened.
package logctx

import (
	"context"
	"log/slog"
)

type requestDataKey struct{}

// RequestData identifies one HTTP request across every log line it produces.
type RequestData struct {
	RequestID  string
	Method     string
	UserAgent  string
	RemoteAddr string
	Path       string
}

// WithRequestData attaches request attributes to the context.
func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, rd)
}

// Handler wraps a slog.Handler and appends the context's request group to
// every record.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("user_agent", rd.UserAgent),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("path", rd.Path),
		))
	}
	return h.Handler.Handle(ctx, r)
}
