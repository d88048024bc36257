// Package ids generates the identifiers handed out for roles, sessions
// and request tracing. ULIDs encode their creation time, so the
// append-heavy tables stay index-friendly and log lines sort naturally.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a fresh ULID string. Ids minted within the same
// millisecond are still strictly increasing.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
