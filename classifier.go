package authflow

import (
	"context"
	"strings"
	"time"
)

// ErrorCategory is the closed taxonomy every failure is mapped into before
// it reaches the presentation layer.
type ErrorCategory string

const (
	// CategoryNetwork is an exported constant or variable used by the verification engine.
	CategoryNetwork ErrorCategory = "network"
	// CategoryAuth is an exported constant or variable used by the verification engine.
	CategoryAuth ErrorCategory = "auth"
	// CategoryValidation is an exported constant or variable used by the verification engine.
	CategoryValidation ErrorCategory = "validation"
	// CategoryServer is an exported constant or variable used by the verification engine.
	CategoryServer ErrorCategory = "server"
	// CategoryUnknown is an exported constant or variable used by the verification engine.
	CategoryUnknown ErrorCategory = "unknown"
)

// ErrorSeverity selects the visual weight of the surfaced message.
type ErrorSeverity string

const (
	// SeverityInfo is an exported constant or variable used by the verification engine.
	SeverityInfo ErrorSeverity = "info"
	// SeverityWarning is an exported constant or variable used by the verification engine.
	SeverityWarning ErrorSeverity = "warning"
	// SeverityError is an exported constant or variable used by the verification engine.
	SeverityError ErrorSeverity = "error"
)

// ErrorContext tags the operation a failure came from so the classifier can
// pick context-tailored messages and fallbacks.
type ErrorContext string

const (
	// ContextLoading is an exported constant or variable used by the verification engine.
	ContextLoading ErrorContext = "loading"
	// ContextLinking is an exported constant or variable used by the verification engine.
	ContextLinking ErrorContext = "linking"
	// ContextUnlinking is an exported constant or variable used by the verification engine.
	ContextUnlinking ErrorContext = "unlinking"
	// ContextGeneric is an exported constant or variable used by the verification engine.
	ContextGeneric ErrorContext = "generic"
)

// ErrorDetails is the classified, user-facing form of a failure. It is
// derived purely from the input error and context tag and never persisted.
type ErrorDetails struct {
	Message         string
	Resolution      string
	IsRetryable     bool
	Category        ErrorCategory
	Severity        ErrorSeverity
	RequiresReauth  bool
	RequiresSupport bool
}

const defaultMaxAutoRetries = 2

var networkPhrases = []string{
	"network", "offline", "connection", "timeout", "timed out",
	"unreachable", "deadline", "dns", "fetch failed", "socket",
}

var authPhrases = []string{
	"unauthorized", "401", "not authenticated", "authentication required",
	"session expired", "requires recent login", "sign in again",
}

var rateLimitPhrases = []string{
	"rate limit", "too many requests", "429",
}

var serverPhrases = []string{
	"internal server", "server error", "service unavailable", "bad gateway",
	"500", "502", "503", "504",
}

// Classify maps an arbitrary failure into the closed taxonomy. The input is
// normalized to a lowercase message; pattern groups are tested in a fixed
// order and the first match wins. Unmatched failures fall back to a
// context-specific unknown classification that asks the user to retry and,
// failing that, contact support.
func Classify(err error, errCtx ErrorContext) ErrorDetails {
	if err == nil {
		return ErrorDetails{
			Message:         fallbackMessage(errCtx),
			Resolution:      "Try again, and contact support if the problem persists.",
			IsRetryable:     true,
			Category:        CategoryUnknown,
			Severity:        SeverityError,
			RequiresSupport: true,
		}
	}
	return ClassifyMessage(err.Error(), errCtx)
}

// ClassifyMessage is the string form of [Classify] for callers that only
// hold a failure message.
func ClassifyMessage(msg string, errCtx ErrorContext) ErrorDetails {
	normalized := strings.ToLower(strings.TrimSpace(msg))

	if containsAny(normalized, networkPhrases) {
		return ErrorDetails{
			Message:     "Connection problem. Please check your internet connection.",
			Resolution:  "Check your connection and try again.",
			IsRetryable: true,
			Category:    CategoryNetwork,
			Severity:    SeverityError,
		}
	}

	if containsAny(normalized, authPhrases) {
		return ErrorDetails{
			Message:        "Your session has expired.",
			Resolution:     "Sign in again to continue.",
			IsRetryable:    false,
			Category:       CategoryAuth,
			Severity:       SeverityError,
			RequiresReauth: true,
		}
	}

	if details, ok := classifyContextValidation(normalized, errCtx); ok {
		return details
	}

	if containsAny(normalized, rateLimitPhrases) {
		return ErrorDetails{
			Message:     "Too many attempts. Please wait a moment before trying again.",
			Resolution:  "Wait a minute, then retry.",
			IsRetryable: true,
			Category:    CategoryValidation,
			Severity:    SeverityWarning,
		}
	}

	if containsAny(normalized, serverPhrases) {
		return ErrorDetails{
			Message:     "The server had a problem handling your request.",
			Resolution:  "Try again in a few moments.",
			IsRetryable: true,
			Category:    CategoryServer,
			Severity:    SeverityError,
		}
	}

	return ErrorDetails{
		Message:         fallbackMessage(errCtx),
		Resolution:      "Try again, and contact support if the problem persists.",
		IsRetryable:     true,
		Category:        CategoryUnknown,
		Severity:        SeverityError,
		RequiresSupport: true,
	}
}

func classifyContextValidation(normalized string, errCtx ErrorContext) (ErrorDetails, bool) {
	validation := func(message, resolution string, severity ErrorSeverity) (ErrorDetails, bool) {
		return ErrorDetails{
			Message:     message,
			Resolution:  resolution,
			IsRetryable: false,
			Category:    CategoryValidation,
			Severity:    severity,
		}, true
	}

	switch errCtx {
	case ContextLinking:
		switch {
		case strings.Contains(normalized, "mismatch") || strings.Contains(normalized, "different email"):
			return validation(
				"The Google account email doesn't match your account email.",
				"Use the Google account registered to this email.",
				SeverityError,
			)
		case strings.Contains(normalized, "already linked") || strings.Contains(normalized, "already in use"):
			return validation(
				"That Google account is already linked to another user.",
				"Unlink it from the other account first.",
				SeverityError,
			)
		case strings.Contains(normalized, "invalid credential"):
			return validation(
				"Google didn't accept the sign-in credential.",
				"Start the linking process again.",
				SeverityError,
			)
		case strings.Contains(normalized, "cancelled") || strings.Contains(normalized, "canceled") ||
			strings.Contains(normalized, "popup closed"):
			// User-initiated, not a fault.
			return validation(
				"Google sign-in was cancelled.",
				"",
				SeverityInfo,
			)
		}
	case ContextUnlinking:
		switch {
		case strings.Contains(normalized, "wrong password") || strings.Contains(normalized, "incorrect password") ||
			strings.Contains(normalized, "invalid password"):
			return validation(
				"The password you entered is incorrect.",
				"Re-enter your current password.",
				SeverityError,
			)
		case strings.Contains(normalized, "not linked"):
			return validation(
				"This account has no linked Google sign-in.",
				"",
				SeverityError,
			)
		case strings.Contains(normalized, "last auth") || strings.Contains(normalized, "only sign-in method"):
			return validation(
				"You can't remove your only way of signing in.",
				"Set a password before unlinking Google.",
				SeverityError,
			)
		}
	}

	return ErrorDetails{}, false
}

func fallbackMessage(errCtx ErrorContext) string {
	switch errCtx {
	case ContextLoading:
		return "Couldn't load your account security settings."
	case ContextLinking:
		return "Something went wrong while linking your Google account."
	case ContextUnlinking:
		return "Something went wrong while unlinking your Google account."
	default:
		return "Something unexpected went wrong."
	}
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// ShouldAutoRetry reports whether a failed attempt may be transparently
// retried. Only network and server failures qualify, and only while the
// attempt number has not passed the cap; validation and auth failures never
// auto-retry even when marked retryable.
func ShouldAutoRetry(details ErrorDetails, attemptNumber int) bool {
	if !details.IsRetryable {
		return false
	}
	if details.Category != CategoryNetwork && details.Category != CategoryServer {
		return false
	}
	return attemptNumber <= defaultMaxAutoRetries
}

// RetryDelay returns the backoff before the attempt following attemptIndex:
// 1s, 2s, 4s, then capped at 5s.
func RetryDelay(attemptIndex int) time.Duration {
	return retryPolicy{
		base:       1000 * time.Millisecond,
		max:        5000 * time.Millisecond,
		maxRetries: defaultMaxAutoRetries,
	}.delay(attemptIndex)
}

type retryPolicy struct {
	base       time.Duration
	max        time.Duration
	maxRetries int
}

func newRetryPolicy(cfg RetryConfig) retryPolicy {
	return retryPolicy{
		base:       cfg.BaseDelay,
		max:        cfg.MaxDelay,
		maxRetries: cfg.MaxAutoRetries,
	}
}

func (p retryPolicy) delay(attemptIndex int) time.Duration {
	if attemptIndex < 0 {
		attemptIndex = 0
	}

	d := p.base
	for i := 0; i < attemptIndex; i++ {
		d *= 2
		if d >= p.max {
			return p.max
		}
	}
	if d > p.max {
		return p.max
	}
	return d
}

func (p retryPolicy) shouldAutoRetry(details ErrorDetails, attemptNumber int) bool {
	if !details.IsRetryable {
		return false
	}
	if details.Category != CategoryNetwork && details.Category != CategoryServer {
		return false
	}
	return attemptNumber <= p.maxRetries
}

// ExecuteWithRetry runs op, classifying every failure and reporting it via
// onError (including the final one), and transparently retries network and
// server failures with exponential backoff under the default policy. The
// last error is returned unwrapped so callers can still errors.Is against
// service sentinels.
func ExecuteWithRetry(ctx context.Context, op func(context.Context) error, errCtx ErrorContext, onError func(ErrorDetails)) error {
	policy := retryPolicy{
		base:       1000 * time.Millisecond,
		max:        5000 * time.Millisecond,
		maxRetries: defaultMaxAutoRetries,
	}
	return executeWithRetry(ctx, policy, op, errCtx, onError)
}

func executeWithRetry(
	ctx context.Context,
	policy retryPolicy,
	op func(context.Context) error,
	errCtx ErrorContext,
	onError func(ErrorDetails),
) error {
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		details := Classify(err, errCtx)
		if onError != nil {
			onError(details)
		}
		if !policy.shouldAutoRetry(details, attempt) {
			return err
		}

		timer := time.NewTimer(policy.delay(attempt - 1))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
