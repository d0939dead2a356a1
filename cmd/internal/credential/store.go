// Package credential is the local fallback account store.
//
// Accounts are JSON records under kv.AccountKey(email). Passwords are hashed
// with Argon2id; hex SHA-256 digests written by older clients still verify and
// are rehashed on the first successful login.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"unisession/cmd/identity"
	"unisession/cmd/internal/kv"
	"unisession/cmd/security/password"
)

// Store implements register/verify over a kv.Store.
type Store struct {
	kv  kv.Store
	pw  password.Config
	log *slog.Logger
	now func() time.Time

	// Serializes read-modify-write of existing account records (rehash).
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns a Store backed by store, hashing with pw.
func New(store kv.Store, pw password.Config, opts ...Option) *Store {
	s := &Store{
		kv:  store,
		pw:  pw,
		log: slog.Default(),
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a new local account. It fails with ErrDuplicateAccount when
// the email is taken, leaving the existing record untouched.
func (s *Store) Register(ctx context.Context, email, displayName, pw string) (identity.LocalAccount, error) {
	const op = "credential.Register"

	email = identity.NormalizeEmail(email)
	displayName = strings.TrimSpace(displayName)
	if err := identity.ValidateRegistration(op, email, displayName, pw); err != nil {
		return identity.LocalAccount{}, err
	}

	hash, err := s.pw.Hash(pw)
	if err != nil {
		return identity.LocalAccount{}, policyError(op, err)
	}

	now := s.now()
	subject, err := identity.NewLocalSubjectID(now)
	if err != nil {
		return identity.LocalAccount{}, fmt.Errorf("%s: subject id: %w", op, err)
	}

	acct := identity.LocalAccount{
		SubjectID:    subject,
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		CreatedAt:    now,
	}
	raw, err := json.Marshal(acct)
	if err != nil {
		return identity.LocalAccount{}, fmt.Errorf("%s: encode: %w", op, err)
	}

	created, err := s.kv.PutIfAbsent(ctx, kv.AccountKey(email), raw)
	if err != nil {
		return identity.LocalAccount{}, fmt.Errorf("%s: %w", op, err)
	}
	if !created {
		return identity.LocalAccount{}, identity.OpError{Op: op, Kind: identity.ErrDuplicateAccount}
	}

	s.log.Info("credential.registered", "subject_id", subject)
	return acct, nil
}

// Verify checks pw against the stored hash for email.
func (s *Store) Verify(ctx context.Context, email, pw string) (identity.LocalAccount, error) {
	const op = "credential.Verify"

	email = identity.NormalizeEmail(email)
	if err := identity.ValidateEmail(op, email); err != nil {
		return identity.LocalAccount{}, err
	}

	acct, err := s.lookup(ctx, op, email)
	if err != nil {
		return identity.LocalAccount{}, err
	}

	ok, err := s.pw.Verify(acct.PasswordHash, pw)
	if err != nil {
		// Unreadable hash: the account exists but cannot be signed into.
		s.log.Warn("credential.verify.invalid_hash", "subject_id", acct.SubjectID, "err", err)
		return identity.LocalAccount{}, identity.OpError{Op: op, Kind: identity.ErrInvalidCredentials}
	}
	if !ok {
		return identity.LocalAccount{}, identity.OpError{Op: op, Kind: identity.ErrInvalidCredentials}
	}

	if s.pw.NeedsRehash(acct.PasswordHash) {
		if upgraded, err := s.rehash(ctx, acct, pw); err != nil {
			s.log.Warn("credential.verify.rehash_failed", "subject_id", acct.SubjectID, "err", err)
		} else {
			acct = upgraded
		}
	}
	return acct, nil
}

// Lookup returns the account registered under email.
func (s *Store) Lookup(ctx context.Context, email string) (identity.LocalAccount, error) {
	return s.lookup(ctx, "credential.Lookup", identity.NormalizeEmail(email))
}

func (s *Store) lookup(ctx context.Context, op, email string) (identity.LocalAccount, error) {
	raw, err := s.kv.Get(ctx, kv.AccountKey(email))
	if errors.Is(err, kv.ErrNotFound) {
		return identity.LocalAccount{}, identity.OpError{Op: op, Kind: identity.ErrAccountNotFound}
	}
	if err != nil {
		return identity.LocalAccount{}, fmt.Errorf("%s: %w", op, err)
	}

	acct, err := decodeAccount(raw)
	if err != nil {
		s.log.Error("credential.storage_corrupt", "err", identity.OpError{Op: op, Kind: identity.ErrStorageCorrupt, Msg: err.Error()})
		return identity.LocalAccount{}, identity.OpError{Op: op, Kind: identity.ErrAccountNotFound}
	}
	return acct, nil
}

func (s *Store) rehash(ctx context.Context, acct identity.LocalAccount, pw string) (identity.LocalAccount, error) {
	hash, err := s.pw.Hash(pw)
	if err != nil {
		return acct, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.lookup(ctx, "credential.rehash", acct.Email)
	if err != nil {
		return acct, err
	}
	if current.PasswordHash != acct.PasswordHash {
		// Changed underneath us; keep whatever is stored.
		return current, nil
	}

	current.PasswordHash = hash
	raw, err := json.Marshal(current)
	if err != nil {
		return acct, err
	}
	if err := s.kv.Put(ctx, kv.AccountKey(current.Email), raw); err != nil {
		return acct, err
	}
	s.log.Info("credential.rehashed", "subject_id", current.SubjectID)
	return current, nil
}

func decodeAccount(raw []byte) (identity.LocalAccount, error) {
	var acct identity.LocalAccount
	if err := json.Unmarshal(raw, &acct); err != nil {
		return identity.LocalAccount{}, err
	}
	if acct.Email == "" || acct.SubjectID == "" || acct.PasswordHash == "" {
		return identity.LocalAccount{}, errors.New("incomplete account record")
	}
	return acct, nil
}

// policyError maps password policy failures to caller-correctable input errors.
func policyError(op string, err error) error {
	switch {
	case errors.Is(err, password.ErrPasswordTooShort):
		return identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: "Password is too short."}
	case errors.Is(err, password.ErrPasswordTooLong):
		return identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: "Password is too long."}
	case errors.Is(err, password.ErrWeakPassword):
		return identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: "Password is too easy to guess."}
	default:
		return fmt.Errorf("%s: hash: %w", op, err)
	}
}
