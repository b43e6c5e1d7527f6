package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kestrelwallet/kestrel-go/errctx"
)

// TokenTTL is how long an issued export token stays valid.
const TokenTTL = 2 * time.Minute

// VerifyPassword checks a password against the keystore without unlocking
// anything. The keystore manager satisfies this.
type VerifyPassword func(password []byte) error

// Token authorizes exactly one sensitive export. It is handed to the caller
// on successful re-authentication and burned on use.
type Token struct {
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Authenticator gates seed-phrase and private-key exports: each export
// needs a fresh password check, attempts are rate limited, and every
// decision lands in the audit log.
type Authenticator struct {
	log    *logrus.Logger
	verify VerifyPassword

	attempts *RateLimiter
	exports  *RateLimiter

	mu     sync.Mutex
	issued map[string]time.Time // token id -> expiry; removed on use

	audit *AuditLog

	now func() time.Time
}

func NewAuthenticator(log *logrus.Logger, verify VerifyPassword) *Authenticator {
	return &Authenticator{
		log:      log,
		verify:   verify,
		attempts: NewRateLimiter(UnlockAttemptCapacity, UnlockAttemptWindow),
		exports:  NewRateLimiter(ExportCapacity, ExportWindow),
		issued:   make(map[string]time.Time),
		audit:    NewAuditLog(log),
		now:      time.Now,
	}
}

// Audit exposes the authenticator's audit trail.
func (a *Authenticator) Audit() *AuditLog {
	return a.audit
}

// Authorize verifies the password and, when both the attempt and the export
// budget allow it, issues a single-use token.
func (a *Authenticator) Authorize(password []byte, userAction string) (*Token, error) {
	ec := errctx.New("auth_authorize").WithUserAction(userAction)

	ok, wait := a.attempts.TryConsume()
	if !ok {
		a.audit.Record(ec, OutcomeRateLimited, "authorization attempts exhausted")
		return nil, errctx.RateLimited(ec, wait)
	}

	if err := a.verify(password); err != nil {
		a.audit.Record(ec, OutcomeDenied, "password rejected")
		if errctx.KindOf(err) == errctx.KindInvalidPassword {
			return nil, errctx.E(errctx.KindInvalidPassword, ec, "password rejected")
		}
		return nil, errctx.Wrap(err, ec)
	}

	if ok, wait := a.exports.TryConsume(); !ok {
		a.audit.Record(ec, OutcomeRateLimited, "export budget exhausted")
		return nil, errctx.RateLimited(ec, wait)
	}

	now := a.now()
	tok := &Token{
		ID:        uuid.New().String(),
		IssuedAt:  now,
		ExpiresAt: now.Add(TokenTTL),
	}
	a.mu.Lock()
	a.issued[tok.ID] = tok.ExpiresAt
	a.mu.Unlock()

	a.audit.Record(ec, OutcomeGranted, "export token issued")
	return tok, nil
}

// Consume burns a token. A token is good for one export within its TTL;
// unknown, expired and already-used tokens are all refused the same way.
func (a *Authenticator) Consume(tokenID string, userAction string) error {
	ec := errctx.New("auth_consume").WithUserAction(userAction)

	a.mu.Lock()
	expiry, ok := a.issued[tokenID]
	if ok {
		delete(a.issued, tokenID)
	}
	a.mu.Unlock()

	if !ok {
		a.audit.Record(ec, OutcomeDenied, "unknown or already used token")
		return errctx.E(errctx.KindUnauthorized, ec, "token is not valid")
	}
	if a.now().After(expiry) {
		a.audit.Record(ec, OutcomeDenied, "token expired")
		return errctx.E(errctx.KindUnauthorized, ec, "token has expired")
	}

	a.audit.Record(ec, OutcomeGranted, "export token consumed")
	return nil
}

// ResetAttempts refills the attempt budget, typically after a successful
// wallet unlock.
func (a *Authenticator) ResetAttempts() {
	a.attempts.Reset()
}

// PruneExpired drops expired tokens that were never used.
func (a *Authenticator) PruneExpired() {
	now := a.now()
	a.mu.Lock()
	for id, expiry := range a.issued {
		if now.After(expiry) {
			delete(a.issued, id)
		}
	}
	a.mu.Unlock()
}
