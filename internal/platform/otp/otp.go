// Package otp issues short numeric codes that prove a caller controls a
// phone number. Codes are stored bcrypt-hashed under an opaque key, expire
// after a TTL, and allow a bounded number of wrong guesses.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrExpired         = errors.New("otp: no active code")
	ErrMismatch        = errors.New("otp: code does not match")
	ErrTooManyAttempts = errors.New("otp: too many attempts")
)

const (
	codeDigits = 6

	// DefaultAttemptWindow is how long wrong guesses are remembered for a key.
	DefaultAttemptWindow = 24 * time.Hour
)

// Challenge is a stored code awaiting verification.
type Challenge struct {
	Hash     []byte
	Attempts int
}

// Store keeps challenges until they expire. The attempt counter of a key is
// kept apart from its challenge: Put replaces the code but not the count,
// and only Reset clears both. Get and IncrAttempts return ErrExpired when no
// live challenge exists.
type Store interface {
	Put(ctx context.Context, key string, hash []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) (*Challenge, error)
	Attempts(ctx context.Context, key string) (int, error)
	// IncrAttempts starts the counter's window on the first wrong guess.
	IncrAttempts(ctx context.Context, key string, window time.Duration) (int, error)
	Delete(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

type Manager struct {
	store         Store
	ttl           time.Duration
	maxAttempts   int
	attemptWindow time.Duration
	cost          int
}

func NewManager(store Store, ttl time.Duration, maxAttempts int) *Manager {
	return &Manager{
		store:         store,
		ttl:           ttl,
		maxAttempts:   maxAttempts,
		attemptWindow: DefaultAttemptWindow,
		cost:          bcrypt.DefaultCost,
	}
}

// WithCost overrides the bcrypt cost.
func (m *Manager) WithCost(cost int) *Manager {
	m.cost = cost
	return m
}

// WithAttemptWindow overrides how long wrong guesses count against a key.
func (m *Manager) WithAttemptWindow(d time.Duration) *Manager {
	m.attemptWindow = d
	return m
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue replaces any outstanding code for key and returns the new plaintext
// code. Wrong guesses made against earlier codes still count, and a key that
// has used up its attempts gets no new code.
func (m *Manager) Issue(ctx context.Context, key string) (string, error) {
	used, err := m.store.Attempts(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read attempts: %w", err)
	}
	if used >= m.maxAttempts {
		return "", ErrTooManyAttempts
	}

	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	code := fmt.Sprintf("%0*d", codeDigits, n.Int64())

	hash, err := bcrypt.GenerateFromPassword([]byte(code), m.cost)
	if err != nil {
		return "", fmt.Errorf("hash code: %w", err)
	}
	if err := m.store.Put(ctx, key, hash, m.ttl); err != nil {
		return "", fmt.Errorf("store code: %w", err)
	}
	return code, nil
}

// Verify consumes the challenge on success. A wrong code counts as an
// attempt; once the attempts run out the challenge is dropped while the
// count stays, so the key stays locked until its window passes.
func (m *Manager) Verify(ctx context.Context, key, code string) error {
	ch, err := m.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if ch.Attempts >= m.maxAttempts {
		_ = m.store.Delete(ctx, key)
		return ErrTooManyAttempts
	}

	if err := bcrypt.CompareHashAndPassword(ch.Hash, []byte(code)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return fmt.Errorf("compare code: %w", err)
		}
		n, err := m.store.IncrAttempts(ctx, key, m.attemptWindow)
		if err != nil {
			return err
		}
		if n >= m.maxAttempts {
			_ = m.store.Delete(ctx, key)
			return ErrTooManyAttempts
		}
		return ErrMismatch
	}

	return m.store.Reset(ctx, key)
}

// Revoke drops any outstanding code for key together with its attempt count.
func (m *Manager) Revoke(ctx context.Context, key string) error {
	return m.store.Reset(ctx, key)
}
