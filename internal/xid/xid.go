package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a prefixed random identifier such as "sale-3f0c...".
func New(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// Short returns an upper-case token of n hex characters for human-facing numbers.
func Short(n int) string {
	token := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	if n < 1 || n > len(token) {
		return token
	}
	return token[:n]
}
