package authflow

import (
	"context"
	"strings"
)

/* ==== URL TOKEN DETECTION ==== */

// URLTokenResult defines a public type used by authflow APIs, reporting the
// outcome of a URL token detection pass.
type URLTokenResult struct {
	// Detected is true when the path carried a token, even one already
	// attempted.
	Detected bool
	// Attempted is true when the token was actually sent to the service.
	Attempted bool
	// Verified is true when the service accepted the token.
	Verified bool
	// Details is the classification of the failure when Attempted is true
	// and Verified is false.
	Details *ErrorDetails
}

// DetectURLToken inspects path for a verification token under the configured
// prefix and, when one is present, verifies it exactly once per process.
//
// Side effects on detection, in order: the location is rewritten so the
// token cannot be re-triggered by a reload, the token is verified unless a
// previous pass already attempted it, and the navigator is sent home. On a
// successful verification sibling tabs are told to redirect and the sign-in
// surface is opened; on failure the sign-in surface opens only when
// PromptSignInOnFailure is set.
func (e *Engine) DetectURLToken(ctx context.Context, path string) (URLTokenResult, error) {
	if err := e.ready(); err != nil {
		return URLTokenResult{}, err
	}

	token, ok := extractURLToken(path, e.config.URLToken.PathPrefix)
	if !ok {
		return URLTokenResult{}, nil
	}
	res := URLTokenResult{Detected: true}

	// Strip the token before anything that can fail, so a reload after an
	// error does not replay the attempt.
	if e.navigator != nil {
		e.navigator.ReplaceLocation(e.config.URLToken.RedirectURL)
	}

	if !e.markTokenAttempted(token) {
		if e.navigator != nil {
			e.navigator.GoHome()
		}
		return res, nil
	}
	res.Attempted = true
	e.metricInc(MetricURLTokenDetected)

	verifyErr := e.service.VerifyURLToken(ctx, token)
	e.emitAudit(ctx, auditEventURLTokenVerified, verifyErr == nil, "", kindNone, verifyErr, nil)

	if e.navigator != nil {
		e.navigator.GoHome()
	}

	if verifyErr != nil {
		details := Classify(verifyErr, ContextGeneric)
		res.Details = &details
		e.metricInc(MetricURLTokenFailed)
		if e.config.URLToken.PromptSignInOnFailure && e.navigator != nil {
			e.navigator.OpenSignIn()
		}
		return res, verifyErr
	}

	res.Verified = true
	e.metricInc(MetricURLTokenVerified)
	e.metricInc(MetricCrossTabAnnounced)
	e.notifier.AnnounceRedirect(ctx, RedirectSuccess, e.config.URLToken.RedirectURL, "")
	if e.navigator != nil {
		e.navigator.OpenSignIn()
	}
	return res, nil
}

// markTokenAttempted records the token in the process-wide registry and
// reports whether this was its first sighting.
func (e *Engine) markTokenAttempted(token string) bool {
	e.attemptedMu.Lock()
	defer e.attemptedMu.Unlock()
	if _, seen := e.attemptedTokens[token]; seen {
		return false
	}
	e.attemptedTokens[token] = struct{}{}
	return true
}

// extractURLToken pulls the token segment out of path. Only the first path
// segment after the prefix counts; queries and fragments are ignored.
func extractURLToken(path, prefix string) (string, bool) {
	if prefix == "" || !strings.HasPrefix(path, prefix) {
		return "", false
	}
	rest := path[len(prefix):]
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return "", false
	}
	return rest, true
}
