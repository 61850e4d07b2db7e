package billing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"excisepos/backend/internal/xid"
)

const (
	DefaultPrefix      = "INV"
	DefaultNumberWidth = 6
)

// NumberFormat is the one canonical bill number layout: the prefix followed
// by a decimal sequence zero-padded to at least Width digits ("INV000042").
// Sequences wider than Width are printed in full.
type NumberFormat struct {
	Prefix string
	Width  int
}

func (f NumberFormat) withDefaults() NumberFormat {
	if f.Width <= 0 {
		f.Width = DefaultNumberWidth
	}
	return f
}

func (f NumberFormat) Format(seq int64) string {
	f = f.withDefaults()
	return fmt.Sprintf("%s%0*d", f.Prefix, f.Width, seq)
}

// Parse returns the sequence of a canonical number. Anything else, including
// fallback numbers, is rejected so that it never feeds the sequence.
func (f NumberFormat) Parse(number string) (int64, bool) {
	digits, ok := strings.CutPrefix(number, f.Prefix)
	if !ok || digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	seq, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// Fallback is the collision-resistant number used once sequential attempts
// are exhausted: prefix, "X", then a nanosecond timestamp and random hex.
func (f NumberFormat) Fallback(at time.Time) string {
	return xid.At(f.Prefix+"X", at)
}
