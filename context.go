package authflow

import "context"

type clientIPContextKey struct{}
type tabIDContextKey struct{}
type localeContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The reference
// LocalService uses it for per-IP send throttling and audit logging.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithTabID attaches the originating tab identity to ctx. The cross-tab
// notifier stamps announcements with it so the sender can skip its own
// messages; when absent, the engine's generated tab ID is used.
func WithTabID(ctx context.Context, tabID string) context.Context {
	return context.WithValue(ctx, tabIDContextKey{}, tabID)
}

// WithLocale attaches a BCP 47 locale tag to ctx for audit metadata. The
// engine itself never localizes; user-facing strings in [ErrorDetails] are
// the canonical English messages the presentation layer keys off.
func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeContextKey{}, locale)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func tabIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	tabID, _ := ctx.Value(tabIDContextKey{}).(string)
	return tabID
}

func localeFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	locale, _ := ctx.Value(localeContextKey{}).(string)
	return locale
}
