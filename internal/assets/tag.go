package assets

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	tagPrefix       = "UTV"
	tagFallback     = "OTH"
	tagMaxAttempts  = 10
	tagSequenceSpan = 10000
)

// CategoryAbbrev derives the three character tag segment from a category
// name: accents stripped, slugified, upper-cased.
func CategoryAbbrev(name string) string {
	slug := slugify(name)
	if slug == "" {
		return tagFallback
	}
	slug = strings.ToUpper(slug)
	if len(slug) > 3 {
		slug = slug[:3]
	}
	return slug
}

func slugify(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(folded)) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		case r == '-' || r == '_' || unicode.IsSpace(r):
			pendingDash = true
		}
	}
	return b.String()
}

// tagExists reports whether a candidate tag is already taken.
type tagExists func(ctx context.Context, tag string) (bool, error)

// generateTag draws UTV-<CAT>-<NNNN> candidates and falls back to a random
// hex suffix after repeated collisions.
func generateTag(ctx context.Context, categoryName string, intn func(int) int, exists tagExists) (string, error) {
	abbrev := CategoryAbbrev(categoryName)
	for i := 0; i < tagMaxAttempts; i++ {
		candidate := fmt.Sprintf("%s-%s-%04d", tagPrefix, abbrev, intn(tagSequenceSpan))
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("%s-%s-%s", tagPrefix, abbrev, suffix), nil
}
