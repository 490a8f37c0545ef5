// Package directory defines the contact-directory collaborator used to
// identify callers by number.
package directory

import (
	"context"
	"strings"

	"github.com/spec-kit/callbridge/internal/domain"
)

// Directory resolves a caller number to contact information. Lookup returns
// (nil, nil) when no contact matches.
type Directory interface {
	Lookup(ctx context.Context, number string) (*domain.CallerInfo, error)
}

// Digits strips everything but digits from a phone number, so formatting
// variants ("+49 30 1234-56" vs "0049301234 56") compare equal by suffix.
func Digits(number string) string {
	var out strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			out.WriteRune(r)
		}
	}
	return out.String()
}

// SuffixMatch reports how many trailing digits a and b share. Numbers stored
// with and without country prefixes still match on their common suffix.
func SuffixMatch(a, b string) int {
	da, db := Digits(a), Digits(b)
	n := 0
	for n < len(da) && n < len(db) && da[len(da)-1-n] == db[len(db)-1-n] {
		n++
	}
	return n
}

type noopDirectory struct{}

func (noopDirectory) Lookup(context.Context, string) (*domain.CallerInfo, error) {
	return nil, nil
}

// Noop returns a directory that never identifies anyone. Every caller is
// handled through the unknown-number path.
func Noop() Directory {
	return noopDirectory{}
}
