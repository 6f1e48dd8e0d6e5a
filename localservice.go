package authflow

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authflow/internal"
	"github.com/MrEthical07/authflow/jwt"
	"github.com/MrEthical07/authflow/password"
)

const (
	operationJTIPrefix = "afj:"
	urlTokenKeyPrefix  = "afu:"
)

type localAccount struct {
	passwordHash string
	verified     bool
}

// LocalService defines a public type used by authflow APIs.
//
// LocalService is a complete in-process [AccountService] backed by Redis for
// code, link-token, and token-replay state, with an in-memory account table.
// It is the reference backend for tests and single-node deployments; a real
// deployment substitutes its own AccountService over RPC.
type LocalService struct {
	redis   *redis.Client
	config  ServiceConfig
	codes   *verificationCodeStore
	limiter *codeSendLimiter
	tokens  *jwt.Manager
	hasher  *password.Hasher

	mu       sync.RWMutex
	accounts map[string]*localAccount
}

// NewLocalService describes the newlocalservice operation and its observable behavior.
//
// NewLocalService may return an error when input validation, dependency calls, or security checks fail.
// NewLocalService does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewLocalService(redisClient *redis.Client, cfg ServiceConfig, signingKey []byte) (*LocalService, error) {
	if redisClient == nil {
		return nil, errors.New("redis client required")
	}
	if len(signingKey) == 0 {
		return nil, errors.New("signing key required")
	}

	manager, err := jwt.NewManager(jwt.Config{
		OperationTTL:  cfg.OperationTokenTTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    signingKey,
		Issuer:        "authflow",
	})
	if err != nil {
		return nil, err
	}

	return &LocalService{
		redis:    redisClient,
		config:   cfg,
		codes:    newVerificationCodeStore(redisClient),
		limiter:  newCodeSendLimiter(redisClient, cfg),
		tokens:   manager,
		hasher:   password.NewHasher(),
		accounts: make(map[string]*localAccount),
	}, nil
}

// RegisterAccount describes the registeraccount operation and its observable behavior.
//
// RegisterAccount may return an error when input validation, dependency calls, or security checks fail.
// RegisterAccount does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *LocalService) RegisterAccount(email, plaintext string) error {
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[email] = &localAccount{passwordHash: hash}
	return nil
}

// IsVerified describes the isverified operation and its observable behavior.
//
// IsVerified may return an error when input validation, dependency calls, or security checks fail.
// IsVerified does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *LocalService) IsVerified(email string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[email]
	return ok && account.verified
}

func (s *LocalService) account(email string) (*localAccount, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[email]
	return account, ok
}

// SendVerificationCode describes the sendverificationcode operation and its observable behavior.
//
// SendVerificationCode may return an error when input validation, dependency calls, or security checks fail.
// SendVerificationCode does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *LocalService) SendVerificationCode(ctx context.Context, email string, kind OperationKind) (string, error) {
	if err := s.limiter.CheckSend(ctx, email, kind); err != nil {
		if errors.Is(err, errSendRateLimited) {
			return "", ErrCodeRateLimited
		}
		return "", ErrServiceUnavailable
	}

	code, err := internal.NewOTP(6)
	if err != nil {
		return "", err
	}

	// Unknown addresses take the same path and get the same answer; the
	// code is simply never stored, so it can never verify. The existence
	// of an account must not be observable from this call.
	if _, ok := s.account(email); !ok {
		return code, nil
	}

	record := &verificationCodeRecord{
		CodeHash:  internal.HashLinkBytes([]byte(code)),
		ExpiresAt: time.Now().Add(s.config.CodeTTL).Unix(),
		Kind:      kind,
	}
	if err := s.codes.Save(ctx, email, record, s.config.CodeTTL); err != nil {
		return "", ErrServiceUnavailable
	}

	// Delivery is the caller's concern; the code is returned so a mailer or
	// a test harness can pick it up.
	return code, nil
}

// VerifyCode describes the verifycode operation and its observable behavior.
//
// VerifyCode may return an error when input validation, dependency calls, or security checks fail.
// VerifyCode does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *LocalService) VerifyCode(ctx context.Context, email, code string, kind OperationKind) (*CodeGrant, error) {
	err := s.codes.Consume(ctx, email, kind, internal.HashLinkBytes([]byte(code)), s.config.MaxCodeAttempts)
	if err != nil {
		switch {
		case errors.Is(err, errCodeAttempts):
			return nil, ErrCodeAttemptsExceeded
		case errors.Is(err, errCodeNotFound), errors.Is(err, errCodeMismatch):
			return nil, ErrCodeRejected
		default:
			return nil, ErrServiceUnavailable
		}
	}

	token, err := s.tokens.CreateOperation(email, kind.String(), uuid.NewString())
	if err != nil {
		return nil, ErrServiceUnavailable
	}

	return &CodeGrant{
		OperationToken: token,
		ExpiresIn:      s.config.OperationTokenTTL,
	}, nil
}

// PerformPrivilegedAction describes the performprivilegedaction operation and its observable behavior.
//
// PerformPrivilegedAction may return an error when input validation, dependency calls, or security checks fail.
// PerformPrivilegedAction does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *LocalService) PerformPrivilegedAction(ctx context.Context, req PrivilegedRequest) (string, error) {
	claims, err := s.tokens.ParseOperation(req.OperationToken)
	if err != nil {
		return "", ErrOperationTokenRejected
	}
	if claims.Email != req.Email || claims.Kind != req.Kind.String() {
		return "", ErrOperationTokenRejected
	}
	if err := s.consumeJTI(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return "", err
	}

	switch req.Kind {
	case KindEmailVerification:
		return "", s.markVerified(req.Email)
	case KindPasswordReset:
		return "", s.setPassword(req.Email, req.NewPassword)
	case KindPasswordChange:
		account, ok := s.account(req.Email)
		if !ok {
			return "", ErrUserNotFound
		}
		match, vErr := s.hasher.Verify(req.CurrentPassword, account.passwordHash)
		if vErr != nil || !match {
			return "", ErrPasswordMismatch
		}
		return "", s.setPassword(req.Email, req.NewPassword)
	case KindEmailChange:
		return "", s.moveAccount(req.Email, req.NewEmail)
	default:
		return "", ErrOperationTokenRejected
	}
}

// consumeJTI burns the token id for the remainder of its validity window.
// A second redemption of the same id fails.
func (s *LocalService) consumeJTI(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return ErrOperationTokenRejected
	}

	ok, err := s.redis.SetNX(ctx, operationJTIPrefix+jti, "1", ttl).Result()
	if err != nil {
		return ErrServiceUnavailable
	}
	if !ok {
		return ErrOperationTokenRejected
	}
	return nil
}

func (s *LocalService) markVerified(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[email]
	if !ok {
		return ErrUserNotFound
	}
	account.verified = true
	return nil
}

func (s *LocalService) setPassword(email, plaintext string) error {
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[email]
	if !ok {
		return ErrUserNotFound
	}
	account.passwordHash = hash
	return nil
}

func (s *LocalService) moveAccount(email, newEmail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[email]
	if !ok {
		return ErrUserNotFound
	}
	delete(s.accounts, email)
	// The new address has not proven ownership yet.
	account.verified = false
	s.accounts[newEmail] = account
	return nil
}

// IssueURLToken describes the issueurltoken operation and its observable behavior.
//
// IssueURLToken may return an error when input validation, dependency calls, or security checks fail.
// IssueURLToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *LocalService) IssueURLToken(ctx context.Context, email string, ttl time.Duration) (string, error) {
	if _, ok := s.account(email); !ok {
		return "", ErrUserNotFound
	}

	linkID, err := internal.NewLinkID()
	if err != nil {
		return "", err
	}
	secret, err := internal.NewLinkSecret()
	if err != nil {
		return "", err
	}

	hash := internal.HashLinkSecret(secret)
	value := append(hash[:], []byte(email)...)
	if err := s.redis.Set(ctx, urlTokenKeyPrefix+linkID.String(), value, ttl).Err(); err != nil {
		return "", ErrServiceUnavailable
	}

	return internal.EncodeLinkToken(linkID.String(), secret)
}

// VerifyURLToken describes the verifyurltoken operation and its observable behavior.
//
// VerifyURLToken may return an error when input validation, dependency calls, or security checks fail.
// VerifyURLToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *LocalService) VerifyURLToken(ctx context.Context, token string) error {
	linkID, secret, err := internal.DecodeLinkToken(token)
	if err != nil {
		return ErrURLTokenInvalid
	}

	value, err := s.redis.GetDel(ctx, urlTokenKeyPrefix+linkID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrURLTokenInvalid
		}
		return ErrServiceUnavailable
	}
	if len(value) < 32 {
		return ErrURLTokenInvalid
	}

	want := value[:32]
	got := internal.HashLinkSecret(secret)
	if subtle.ConstantTimeCompare(want, got[:]) != 1 {
		return ErrURLTokenInvalid
	}

	return s.markVerified(string(value[32:]))
}
