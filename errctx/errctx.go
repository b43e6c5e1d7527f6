package errctx

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a failure so callers can react without string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidationFailed
	KindDuplicateNickname
	KindLocked
	KindUnauthorized
	KindInvalidPassword
	KindRateLimited
	KindHardwareUnsupported
	KindNetworkFailure
	KindIntegrityCheckFailed
	KindImportFormatInvalid
)

var kindNames = map[Kind]string{
	KindUnknown:              "Unknown",
	KindNotFound:             "NotFound",
	KindValidationFailed:     "ValidationFailed",
	KindDuplicateNickname:    "DuplicateNickname",
	KindLocked:               "Locked",
	KindUnauthorized:         "Unauthorized",
	KindInvalidPassword:      "InvalidPassword",
	KindRateLimited:          "RateLimited",
	KindHardwareUnsupported:  "HardwareUnsupported",
	KindNetworkFailure:       "NetworkFailure",
	KindIntegrityCheckFailed: "IntegrityCheckFailed",
	KindImportFormatInvalid:  "ImportFormatInvalid",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Retryable reports whether a failure of this kind may be retried.
// Only transient network failures qualify; integrity, validation and
// authentication failures must surface immediately.
func (k Kind) Retryable() bool {
	return k == KindNetworkFailure
}

// Context carries correlation information for one operation. It is immutable
// once created; the With* methods return enriched copies.
type Context struct {
	CorrelationID string
	Operation     string
	AccountID     string
	Network       string
	UserAction    string
	Timestamp     time.Time
}

// New creates a Context for the named operation with a fresh correlation id.
func New(operation string) *Context {
	return &Context{
		CorrelationID: uuid.New().String(),
		Operation:     operation,
		Timestamp:     time.Now().UTC(),
	}
}

// Child creates a Context for a sub-operation that inherits the parent's
// correlation id, so all derived work remains traceable to one root call.
func (c *Context) Child(operation string) *Context {
	return &Context{
		CorrelationID: c.CorrelationID,
		Operation:     operation,
		AccountID:     c.AccountID,
		Network:       c.Network,
		UserAction:    c.UserAction,
		Timestamp:     time.Now().UTC(),
	}
}

func (c *Context) WithAccount(accountID string) *Context {
	d := *c
	d.AccountID = accountID
	return &d
}

func (c *Context) WithNetwork(network string) *Context {
	d := *c
	d.Network = network
	return &d
}

func (c *Context) WithUserAction(action string) *Context {
	d := *c
	d.UserAction = action
	return &d
}

// Error is a failure annotated with a Kind and a correlation Context.
// The correlation id is never stripped as the error crosses layers.
type Error struct {
	Kind       Kind
	Msg        string
	Ctx        *Context
	RetryAfter time.Duration // only meaningful for KindRateLimited
	Cause      error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Ctx != nil {
		return fmt.Sprintf("%s: %s [correlation: %s]", e.Ctx.Operation, msg, e.Ctx.CorrelationID)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// E builds an Error of the given kind.
func E(kind Kind, ctx *Context, format string, args ...interface{}) *Error {
	return &Error{
		Kind: kind,
		Msg:  fmt.Sprintf(format, args...),
		Ctx:  ctx,
	}
}

// Wrap annotates an existing error with a kind and context. The original
// error stays reachable through Unwrap. If err is already an *Error its
// kind and correlation id are preserved.
func Wrap(err error, ctx *Context) error {
	if err == nil {
		return nil
	}
	if ee, ok := err.(*Error); ok {
		if ee.Ctx != nil {
			return ee
		}
		enriched := *ee
		enriched.Ctx = ctx
		return &enriched
	}
	return &Error{
		Kind:  KindUnknown,
		Ctx:   ctx,
		Cause: err,
	}
}

// RateLimited builds a KindRateLimited error carrying the wait hint.
func RateLimited(ctx *Context, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Msg:        fmt.Sprintf("rate limit exceeded, retry after %s", retryAfter),
		Ctx:        ctx,
		RetryAfter: retryAfter,
	}
}

// KindOf extracts the Kind of an error, walking the cause chain.
// Errors without a kind report KindUnknown.
func KindOf(err error) Kind {
	for err != nil {
		if ee, ok := err.(*Error); ok {
			return ee.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return KindUnknown
}

// IsKind reports whether err (or any error in its chain) has the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// CorrelationID extracts the correlation id of an error, walking the cause
// chain. It returns an empty string when no context is attached.
func CorrelationID(err error) string {
	for err != nil {
		if ee, ok := err.(*Error); ok && ee.Ctx != nil {
			return ee.Ctx.CorrelationID
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ""
}
