package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns prefix-<unix nanos>-<random hex> for the current time.
func New(prefix string) string {
	return At(prefix, time.Now())
}

// At is New with an explicit timestamp. If the random source fails the
// suffix is left off.
func At(prefix string, at time.Time) string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, at.UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, at.UnixNano(), hex.EncodeToString(buf))
}
