package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/autoscore/autoscore/internal/model"
)

var (
	ErrMissingKey = errors.New("missing api key")
	ErrUnknownKey = errors.New("unknown api key")
	ErrKeyExpired = errors.New("api key expired")
)

// RejectReason classifies why a credential was refused.
type RejectReason int

const (
	ReasonNone RejectReason = iota
	ReasonMissing
	ReasonUnknown
	ReasonExpired
)

func (r RejectReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonMissing:
		return "missing"
	case ReasonUnknown:
		return "unknown"
	case ReasonExpired:
		return "expired"
	default:
		return fmt.Sprintf("RejectReason(%d)", int(r))
	}
}

// AuthError is the caller-visible form of a rejected credential.
type AuthError struct {
	Reason     RejectReason
	Expiration time.Time // set for ReasonExpired
}

func (e *AuthError) Error() string {
	switch e.Reason {
	case ReasonMissing:
		return "Missing API Key"
	case ReasonExpired:
		return "API Key expired on " + e.Expiration.UTC().Format(time.DateOnly)
	default:
		return "Invalid API Key"
	}
}

// Is lets errors.Is match an AuthError against the reason sentinels.
func (e *AuthError) Is(target error) bool {
	switch e.Reason {
	case ReasonMissing:
		return target == ErrMissingKey
	case ReasonUnknown:
		return target == ErrUnknownKey
	case ReasonExpired:
		return target == ErrKeyExpired
	}
	return false
}

// AuthResult is either Authenticated (Reason == ReasonNone, ClientName set)
// or Rejected with a reason.
type AuthResult struct {
	ClientName string
	Reason     RejectReason
	Expiration time.Time
}

// Authenticated reports whether the credential was accepted.
func (r AuthResult) Authenticated() bool { return r.Reason == ReasonNone }

// Err returns nil for an authenticated result and an *AuthError otherwise.
func (r AuthResult) Err() error {
	if r.Authenticated() {
		return nil
	}
	return &AuthError{Reason: r.Reason, Expiration: r.Expiration}
}

// KeyLookup is the read side of the key store the gate depends on.
type KeyLookup interface {
	Lookup(key string) (model.APIKeyRecord, bool)
}

// Gate validates API keys against a KeyLookup. It holds no mutable state and
// is safe for concurrent use.
type Gate struct {
	keys KeyLookup
	now  func() time.Time
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

func NewGate(keys KeyLookup, opts ...GateOption) *Gate {
	g := &Gate{keys: keys, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authenticate checks a credential. present is false when the request carried
// no credential at all; an empty value is treated the same way.
func (g *Gate) Authenticate(credential string, present bool) AuthResult {
	if !present || credential == "" {
		return AuthResult{Reason: ReasonMissing}
	}

	rec, ok := g.keys.Lookup(credential)
	if !ok {
		return AuthResult{Reason: ReasonUnknown}
	}

	if rec.ExpiredAt(g.now()) {
		return AuthResult{Reason: ReasonExpired, Expiration: rec.Expiration}
	}

	return AuthResult{ClientName: rec.ClientName, Expiration: rec.Expiration}
}
