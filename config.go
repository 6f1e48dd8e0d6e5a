package authflow

import (
	"errors"
	"time"
)

// Config defines a public type used by authflow APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Pending  PendingConfig
	Flow     FlowConfig
	Retry    RetryConfig
	Notifier NotifierConfig
	URLToken URLTokenConfig
	Service  ServiceConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
PENDING STORE CONFIG
====================================
*/

// PendingConfig defines a public type used by authflow APIs.
//
// PendingConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PendingConfig struct {
	// StorageKey is the single slot the record lives under. One key,
	// last write wins, no merge.
	StorageKey string
	// TTL is the soft expiry enforced lazily on read, never swept.
	TTL time.Duration
}

/*
====================================
FLOW CONFIG
====================================
*/

// FlowConfig defines a public type used by authflow APIs.
//
// FlowConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type FlowConfig struct {
	CodeDigits int
	// CompleteAdvanceDelay is the UX grace period between reaching the
	// terminal step and firing the caller's advance callback.
	CompleteAdvanceDelay time.Duration
	// RequestTimeout bounds every remote call issued by a flow.
	RequestTimeout    time.Duration
	MinPasswordLength int
}

// RetryConfig defines a public type used by authflow APIs.
//
// RetryConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RetryConfig struct {
	// BaseDelay doubles per attempt up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// MaxAutoRetries counts retries after the first attempt. Validation
	// and auth failures never auto-retry regardless of this value.
	MaxAutoRetries int
}

// NotifierConfig defines a public type used by authflow APIs.
//
// NotifierConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type NotifierConfig struct {
	// Topic is the fixed broadcast channel name, distinct from any other
	// pub/sub use of the backing client.
	Topic string
	// Enabled gates the whole subsystem. Cross-tab sync is an
	// enhancement, not a correctness requirement.
	Enabled bool
}

// URLTokenConfig defines a public type used by authflow APIs.
//
// URLTokenConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type URLTokenConfig struct {
	// PathPrefix is the location segment that precedes the token,
	// e.g. "/verify/".
	PathPrefix string
	// PromptSignInOnFailure controls whether a failed link-click
	// verification still opens the sign-in affordance. Default off: a
	// stale link should not look like a sign-out.
	PromptSignInOnFailure bool
	// RedirectURL is where all tabs converge after a successful
	// link-click verification.
	RedirectURL string
}

// ServiceConfig defines a public type used by authflow APIs.
//
// ServiceConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ServiceConfig struct {
	// CodeTTL and MaxCodeAttempts apply to the reference LocalService
	// code store only; a remote AccountService enforces its own.
	CodeTTL           time.Duration
	MaxCodeAttempts   int
	OperationTokenTTL time.Duration
	// SendCooldown throttles repeated send-code requests per email.
	SendCooldown     time.Duration
	MaxSendPerWindow int
}

// AuditConfig defines a public type used by authflow APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by authflow APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig describes the defaultconfig operation and its observable behavior.
//
// DefaultConfig may return an error when input validation, dependency calls, or security checks fail.
// DefaultConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Pending: PendingConfig{
			StorageKey: "afp:pending",
			TTL:        24 * time.Hour,
		},
		Flow: FlowConfig{
			CodeDigits:           6,
			CompleteAdvanceDelay: 2 * time.Second,
			RequestTimeout:       15 * time.Second,
			MinPasswordLength:    8,
		},
		Retry: RetryConfig{
			BaseDelay:      1000 * time.Millisecond,
			MaxDelay:       5000 * time.Millisecond,
			MaxAutoRetries: 2,
		},
		Notifier: NotifierConfig{
			Topic:   "afn:redirect",
			Enabled: true,
		},
		URLToken: URLTokenConfig{
			PathPrefix:            "/verify/",
			PromptSignInOnFailure: false,
			RedirectURL:           "/",
		},
		Service: ServiceConfig{
			CodeTTL:           15 * time.Minute,
			MaxCodeAttempts:   5,
			OperationTokenTTL: 5 * time.Minute,
			SendCooldown:      15 * time.Minute,
			MaxSendPerWindow:  5,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	if c.Pending.StorageKey == "" {
		return errors.New("Pending StorageKey is required")
	}
	if c.Pending.TTL <= 0 {
		return errors.New("Pending TTL must be > 0")
	}

	if c.Flow.CodeDigits != 6 {
		return errors.New("Flow CodeDigits must be 6")
	}
	if c.Flow.CompleteAdvanceDelay < 0 {
		return errors.New("Flow CompleteAdvanceDelay must be >= 0")
	}
	if c.Flow.RequestTimeout <= 0 {
		return errors.New("Flow RequestTimeout must be > 0")
	}
	if c.Flow.MinPasswordLength < 1 {
		return errors.New("Flow MinPasswordLength must be >= 1")
	}

	if c.Retry.BaseDelay <= 0 {
		return errors.New("Retry BaseDelay must be > 0")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return errors.New("Retry MaxDelay must be >= BaseDelay")
	}
	if c.Retry.MaxAutoRetries < 0 {
		return errors.New("Retry MaxAutoRetries must be >= 0")
	}

	if c.Notifier.Enabled && c.Notifier.Topic == "" {
		return errors.New("Notifier Topic is required when notifier is enabled")
	}

	if c.URLToken.PathPrefix == "" {
		return errors.New("URLToken PathPrefix is required")
	}
	if c.URLToken.RedirectURL == "" {
		return errors.New("URLToken RedirectURL is required")
	}

	if c.Service.CodeTTL <= 0 {
		return errors.New("Service CodeTTL must be > 0")
	}
	if c.Service.MaxCodeAttempts <= 0 {
		return errors.New("Service MaxCodeAttempts must be > 0")
	}
	if c.Service.OperationTokenTTL <= 0 {
		return errors.New("Service OperationTokenTTL must be > 0")
	}
	if c.Service.MaxSendPerWindow <= 0 {
		return errors.New("Service MaxSendPerWindow must be > 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
