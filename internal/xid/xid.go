// Package xid mints prefixed identifiers for ledger rows, items, and
// transactions. The fixed-width hex timestamp keeps ids of one prefix
// sortable by creation time, which the stock log uses as a pagination
// tie-break.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

const randomBytes = 6

func New(prefix string) string {
	stamp := time.Now().UTC().UnixNano()
	suffix := make([]byte, randomBytes)
	if _, err := rand.Read(suffix); err != nil {
		// Timestamp-only id; a collision within one nanosecond is accepted
		// over failing the write.
		return fmt.Sprintf("%s-%016x", prefix, stamp)
	}
	return fmt.Sprintf("%s-%016x-%s", prefix, stamp, hex.EncodeToString(suffix))
}
