package identity

import (
	"time"

	"unisession/cmd/identity/ids"
)

// LocalSubjectPrefix qualifies subject ids minted by the local fallback store.
const LocalSubjectPrefix = "local_"

// NewLocalSubjectID returns a new source-qualified subject id for a local account.
func NewLocalSubjectID(now time.Time) (string, error) {
	id, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}
	return LocalSubjectPrefix + id, nil
}
