package frond

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/frondhq/frond/directory"
	"github.com/frondhq/frond/session"
	"github.com/frondhq/frond/token"
)

// Engine is the gateway's policy core: it issues credentials, admits
// requests against the live session, and releases concurrency slots.
// Engine methods are safe for concurrent use after construction.
type Engine struct {
	store  *session.Store
	dir    *directory.Directory
	active *directory.ActiveCache
	tokens *token.Manager
	log    *slog.Logger
}

// Admission is the result of a successful Admit. It carries everything the
// HTTP layer needs downstream: the identity for the release hook and the
// credential's bounds for diagnostics.
type Admission struct {
	Tel           string
	ExpiresAt     time.Time
	MaxConcurrent int
	// Concurrent is the in-flight count after this reservation.
	Concurrent int
}

// NewEngine wires the Engine's collaborators. A nil logger falls back to
// slog.Default.
func NewEngine(store *session.Store, dir *directory.Directory, active *directory.ActiveCache, tokens *token.Manager, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: store, dir: dir, active: active, tokens: tokens, log: log}
}

// Issue validates a subscriber and mints a fresh credential, seeding a new
// session record whose TTL equals the credential's remaining lifetime.
//
// Issuing overwrites any prior session for the subject: the previous
// credential, even if unexpired, is permanently invalidated because the
// admission signature comparison will no longer match. Concurrent issuance
// for one subject is last-write-wins; no lock is taken.
func (e *Engine) Issue(ctx context.Context, tel string) (string, error) {
	sub, err := e.dir.Lookup(ctx, tel)
	if err != nil {
		if errors.Is(err, directory.ErrSubscriberNotFound) {
			return "", ErrSubscriberNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	if !sub.Active {
		return "", ErrSubscriberNotFound
	}

	d, err := ParseDurationPolicy(sub.ExpiryPolicy)
	if err != nil {
		return "", err
	}

	expiresAt := sub.CreatedAt.Add(d).Truncate(time.Second)
	now := time.Now()
	if expiresAt.Before(now) {
		return "", ErrAccountExpired
	}

	credential, err := e.tokens.Mint(tel, expiresAt, sub.MaxConcurrent)
	if err != nil {
		return "", fmt.Errorf("mint credential: %w", err)
	}

	rec := session.Record{Signature: credential, Concurrent: 0, Active: true}
	ttl := expiresAt.Sub(now).Truncate(time.Second)
	if err := e.store.Save(ctx, tel, rec, ttl); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.log.Info("credential issued",
		"tel", tel,
		"expires_at", expiresAt,
		"max_concurrent", sub.MaxConcurrent,
	)

	return credential, nil
}

// Admit runs the full gate sequence for a presented bearer credential and,
// when every gate passes, reserves a concurrency slot.
//
// Gate order is load-bearing: a superseded credential reports
// [ErrCredentialSuperseded] even when it is also expired, and expiry
// reports [ErrCredentialExpired] before the account gates. The final
// reservation re-validates everything atomically in the store, so races
// between the read and the reserve cannot over-admit.
func (e *Engine) Admit(ctx context.Context, bearer string) (*Admission, error) {
	claims, parseErr := e.tokens.Parse(bearer)
	if parseErr != nil && !errors.Is(parseErr, token.ErrTokenExpired) {
		return nil, ErrCredentialInvalid
	}

	rec, err := e.store.Get(ctx, claims.Tel)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCredentialSuperseded
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if rec.Signature != bearer {
		return nil, ErrCredentialSuperseded
	}

	if parseErr != nil {
		return nil, ErrCredentialExpired
	}

	if !rec.Active {
		return nil, ErrAccountInactive
	}
	if !e.active.IsActive(ctx, claims.Tel) {
		return nil, ErrAccountInactive
	}

	count, err := e.store.Reserve(ctx, claims.Tel, bearer, claims.MaxConcurrent)
	if err != nil {
		switch {
		case errors.Is(err, redis.Nil), errors.Is(err, session.ErrSignatureMismatch):
			return nil, ErrCredentialSuperseded
		case errors.Is(err, session.ErrInactive):
			return nil, ErrAccountInactive
		case errors.Is(err, session.ErrConcurrencyExceeded):
			return nil, ErrConcurrencyExceeded
		default:
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	return &Admission{
		Tel:           claims.Tel,
		ExpiresAt:     claims.ExpiresAt.Time,
		MaxConcurrent: claims.MaxConcurrent,
		Concurrent:    count,
	}, nil
}

// AdmitOptional runs the same gates as Admit but degrades to unauthenticated
// instead of rejecting, and never reserves a slot. The returned Admission is
// nil whenever any gate fails, with no indication of which one.
func (e *Engine) AdmitOptional(ctx context.Context, bearer string) *Admission {
	if bearer == "" {
		return nil
	}

	claims, err := e.tokens.Parse(bearer)
	if err != nil {
		return nil
	}

	rec, err := e.store.Get(ctx, claims.Tel)
	if err != nil || rec.Signature != bearer || !rec.Active {
		return nil
	}
	if !e.active.IsActive(ctx, claims.Tel) {
		return nil
	}

	return &Admission{
		Tel:           claims.Tel,
		ExpiresAt:     claims.ExpiresAt.Time,
		MaxConcurrent: claims.MaxConcurrent,
		Concurrent:    rec.Concurrent,
	}
}

// Release frees one concurrency slot for the subject. Errors are logged,
// not returned: by the time the hook runs the response is already gone, and
// the floor-at-zero store semantics make a lost release self-correcting
// once the session expires.
func (e *Engine) Release(ctx context.Context, tel string) {
	if err := e.store.Release(ctx, tel); err != nil {
		e.log.Error("slot release failed", "tel", tel, "error", err)
	}
}
