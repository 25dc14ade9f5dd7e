package id

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a time-ordered ULID string.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// WithPrefix returns <prefix>_<ulid>.
func WithPrefix(prefix string) string {
	return prefix + "_" + New()
}

// Short returns the last n characters of a fresh ULID, uppercase.
// The random tail keeps short references distinct within the same millisecond.
func Short(n int) string {
	s := New()
	if n <= 0 || n >= len(s) {
		return s
	}
	return strings.ToUpper(s[len(s)-n:])
}
