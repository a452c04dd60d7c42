package audit

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

const fieldSep = "\x1f"

// chainHash links e to its predecessor. Every field that is persisted takes
// part, so editing any column in the store breaks verification.
func chainHash(prev string, e Entry) string {
	payload := strings.Join([]string{
		prev,
		e.ID,
		e.ActorID,
		e.ActorRole,
		e.Action,
		e.Resource,
		e.Details,
		e.OccurredAt.UTC().Format(time.RFC3339Nano),
	}, fieldSep)
	sum := blake3.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
