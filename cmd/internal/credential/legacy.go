package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"unisession/cmd/identity"
	"unisession/cmd/internal/kv"
	"unisession/cmd/security/password"
)

// ImportStats summarizes an ImportLegacy run.
type ImportStats struct {
	Imported int
	Skipped  int // already present
	Invalid  int
}

// legacyRecord is one entry of the browser-era account map.
// createdAt was written both as epoch millis and as an ISO-8601 string.
type legacyRecord struct {
	UID         string          `json:"uid"`
	Email       string          `json:"email"`
	Name        string          `json:"name"`
	DisplayName string          `json:"displayName"`
	PassHash    string          `json:"passHash"`
	CreatedAt   json.RawMessage `json:"createdAt"`
}

// ImportLegacy loads a JSON object of {email: {email, name, passHash, createdAt}}
// and stores every valid entry that is not already present. Legacy SHA-256
// digests are kept as-is; Verify upgrades them on the next successful login.
func (s *Store) ImportLegacy(ctx context.Context, r io.Reader) (ImportStats, error) {
	const op = "credential.ImportLegacy"

	var records map[string]legacyRecord
	dec := json.NewDecoder(io.LimitReader(r, 32<<20))
	if err := dec.Decode(&records); err != nil {
		return ImportStats{}, identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: "legacy account file is not a JSON object"}
	}

	var stats ImportStats
	for key, rec := range records {
		acct, ok := s.fromLegacy(key, rec)
		if !ok {
			stats.Invalid++
			continue
		}

		raw, err := json.Marshal(acct)
		if err != nil {
			return stats, fmt.Errorf("%s: encode: %w", op, err)
		}
		created, err := s.kv.PutIfAbsent(ctx, kv.AccountKey(acct.Email), raw)
		if err != nil {
			return stats, fmt.Errorf("%s: %w", op, err)
		}
		if created {
			stats.Imported++
		} else {
			stats.Skipped++
		}
	}

	s.log.Info("credential.legacy_import",
		"imported", stats.Imported,
		"skipped", stats.Skipped,
		"invalid", stats.Invalid,
	)
	return stats, nil
}

func (s *Store) fromLegacy(key string, rec legacyRecord) (identity.LocalAccount, bool) {
	email := identity.NormalizeEmail(rec.Email)
	if email == "" {
		email = identity.NormalizeEmail(key)
	}
	if identity.ValidateEmail("", email) != nil || !password.IsLegacyDigest(rec.PassHash) {
		return identity.LocalAccount{}, false
	}

	name := strings.TrimSpace(rec.Name)
	if name == "" {
		name = strings.TrimSpace(rec.DisplayName)
	}
	if name == "" {
		name = identity.DisplayNameFromEmail(email)
	}

	created := parseLegacyTime(rec.CreatedAt)
	if created.IsZero() {
		created = s.now()
	}

	subject := strings.TrimSpace(rec.UID)
	if subject == "" {
		id, err := identity.NewLocalSubjectID(created)
		if err != nil {
			return identity.LocalAccount{}, false
		}
		subject = id
	}

	return identity.LocalAccount{
		SubjectID:    subject,
		Email:        email,
		DisplayName:  name,
		PasswordHash: strings.ToLower(rec.PassHash),
		CreatedAt:    created,
	}, true
}

func parseLegacyTime(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}
		}
		return t.UTC()
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
