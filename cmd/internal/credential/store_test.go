package credential

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"unisession/cmd/identity"
	"unisession/cmd/internal/kv"
	"unisession/cmd/security/password"
	"unisession/cmd/security/token"
)

func cheapPassword() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func newTestStore(t *testing.T) (*Store, *kv.MemoryStore) {
	t.Helper()

	mem := kv.NewMemoryStore()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(mem, cheapPassword(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return fixed }),
	)
	return s, mem
}

func TestStore_RegisterThenVerify(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	acct, err := s.Register(ctx, " User@Example.com ", "Ann", "secret1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if acct.Email != "user@example.com" || acct.DisplayName != "Ann" {
		t.Fatalf("unexpected account: %+v", acct)
	}
	if !strings.HasPrefix(acct.SubjectID, identity.LocalSubjectPrefix) {
		t.Fatalf("subject id %q is not source-qualified", acct.SubjectID)
	}
	if strings.Contains(acct.PasswordHash, "secret1") || !strings.HasPrefix(acct.PasswordHash, "$argon2id$") {
		t.Fatalf("unexpected hash %q", acct.PasswordHash)
	}

	got, err := s.Verify(ctx, "user@example.com", "secret1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.SubjectID != acct.SubjectID {
		t.Fatalf("verify returned %q, want %q", got.SubjectID, acct.SubjectID)
	}

	_, err = s.Verify(ctx, "user@example.com", "secret2")
	if !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestStore_Verify_UnknownEmail(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	_, err := s.Verify(context.Background(), "nobody@example.com", "secret1")
	if !errors.Is(err, identity.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestStore_Register_DuplicateLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	s, mem := newTestStore(t)
	ctx := context.Background()

	first, err := s.Register(ctx, "user@example.com", "Ann", "secret1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	before, _ := mem.Get(ctx, kv.AccountKey("user@example.com"))

	_, err = s.Register(ctx, "USER@example.com", "Bob", "another1")
	if !errors.Is(err, identity.ErrDuplicateAccount) {
		t.Fatalf("expected ErrDuplicateAccount, got %v", err)
	}

	after, _ := mem.Get(ctx, kv.AccountKey("user@example.com"))
	if string(before) != string(after) {
		t.Fatalf("record changed after failed registration")
	}
	if mem.Len() != 1 {
		t.Fatalf("expected one key, got %d", mem.Len())
	}
	if _, err := s.Verify(ctx, "user@example.com", "secret1"); err != nil {
		t.Fatalf("original password no longer verifies: %v", err)
	}
	got, _ := s.Lookup(ctx, "user@example.com")
	if got.SubjectID != first.SubjectID {
		t.Fatalf("subject changed")
	}
}

func TestStore_Register_ConcurrentSameEmail(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, dups int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Register(ctx, "race@example.com", "Racer", "secret1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, identity.ErrDuplicateAccount):
				dups++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || dups != 7 {
		t.Fatalf("ok=%d dups=%d, want 1/7", ok, dups)
	}
}

func TestStore_Register_InvalidInput(t *testing.T) {
	t.Parallel()

	s, mem := newTestStore(t)

	cases := []struct {
		name, email, display, pw string
	}{
		{"bad email", "not-an-email", "Ann", "secret1"},
		{"short password", "a@b.co", "Ann", "12345"},
		{"short name", "a@b.co", "A", "secret1"},
		{"blank name", "a@b.co", "   ", "secret1"},
		{"oversized email", strings.Repeat("a", 520) + "@example.com", "Ann", "secret1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Register(context.Background(), tc.email, tc.display, tc.pw)
			if !errors.Is(err, identity.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if identity.UserMessage(err) == "" {
				t.Fatalf("expected a user message")
			}
		})
	}
	if mem.Len() != 0 {
		t.Fatalf("invalid input must not touch the store")
	}
}

func TestStore_Verify_OversizedEmailIsInvalidInput(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)

	_, err := s.Verify(context.Background(), strings.Repeat("a", 520)+"@example.com", "secret1")
	if !errors.Is(err, identity.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if identity.Code(err) == "internal" {
		t.Fatalf("oversized email surfaced as internal error: %v", err)
	}
}

func TestStore_Register_WeakPasswordPolicy(t *testing.T) {
	t.Parallel()

	cfg := cheapPassword()
	cfg.Policy.RejectVeryWeak = true
	s := New(kv.NewMemoryStore(), cfg)

	_, err := s.Register(context.Background(), "a@b.co", "Ann", "123456")
	if !errors.Is(err, identity.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestStore_CorruptRecordReadsAsAbsent(t *testing.T) {
	t.Parallel()

	s, mem := newTestStore(t)
	ctx := context.Background()

	if err := mem.Put(ctx, kv.AccountKey("user@example.com"), []byte("{not json")); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, err := s.Verify(ctx, "user@example.com", "secret1")
	if !errors.Is(err, identity.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestStore_Verify_UnreadableHashIsInvalidCredentials(t *testing.T) {
	t.Parallel()

	s, mem := newTestStore(t)
	ctx := context.Background()

	rec := `{"subject_id":"local_x","email":"user@example.com","display_name":"Ann","password_hash":"$argon2id$garbage","created_at":"2026-01-01T00:00:00Z"}`
	if err := mem.Put(ctx, kv.AccountKey("user@example.com"), []byte(rec)); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, err := s.Verify(ctx, "user@example.com", "secret1")
	if !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestStore_ImportLegacy_ThenVerifyRehashes(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	digest := token.HashSHA256Hex("secret1")
	in := `{
  "user@example.com": {"email":"user@example.com","name":"Ann","passHash":"` + digest + `","createdAt":1700000000000},
  "fb@example.com": {"uid":"fallback_1700000000000_abc","email":"fb@example.com","displayName":"Fay","passHash":"` + digest + `","createdAt":"2024-05-01T10:00:00.000Z"},
  "broken@example.com": {"email":"broken@example.com","name":"B","passHash":"nothex"},
  "not-an-email": {"passHash":"` + digest + `"}
}`

	stats, err := s.ImportLegacy(ctx, strings.NewReader(in))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if stats.Imported != 2 || stats.Invalid != 2 || stats.Skipped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	fb, err := s.Lookup(ctx, "fb@example.com")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if fb.SubjectID != "fallback_1700000000000_abc" || fb.DisplayName != "Fay" {
		t.Fatalf("legacy fields not carried: %+v", fb)
	}
	if !fb.CreatedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("createdAt = %v", fb.CreatedAt)
	}

	acct, err := s.Verify(ctx, "user@example.com", "secret1")
	if err != nil {
		t.Fatalf("verify legacy: %v", err)
	}
	if !strings.HasPrefix(acct.PasswordHash, "$argon2id$") {
		t.Fatalf("legacy digest was not rehashed: %q", acct.PasswordHash)
	}
	if !acct.CreatedAt.Equal(time.UnixMilli(1700000000000).UTC()) {
		t.Fatalf("createdAt = %v", acct.CreatedAt)
	}

	stored, _ := s.Lookup(ctx, "user@example.com")
	if stored.PasswordHash != acct.PasswordHash {
		t.Fatalf("rehash was not persisted")
	}
	if _, err := s.Verify(ctx, "user@example.com", "secret1"); err != nil {
		t.Fatalf("verify after rehash: %v", err)
	}
	if _, err := s.Verify(ctx, "user@example.com", "wrong-pass"); !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestStore_ImportLegacy_SkipsExisting(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Register(ctx, "user@example.com", "Ann", "secret1"); err != nil {
		t.Fatalf("register: %v", err)
	}

	in := `{"user@example.com":{"email":"user@example.com","name":"Other","passHash":"` + token.HashSHA256Hex("other-pass") + `"}}`
	stats, err := s.ImportLegacy(ctx, strings.NewReader(in))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if stats.Skipped != 1 || stats.Imported != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if _, err := s.Verify(ctx, "user@example.com", "secret1"); err != nil {
		t.Fatalf("existing account was overwritten: %v", err)
	}
}

func TestStore_ImportLegacy_RejectsNonObject(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	_, err := s.ImportLegacy(context.Background(), strings.NewReader(`[1,2,3]`))
	if !errors.Is(err, identity.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
