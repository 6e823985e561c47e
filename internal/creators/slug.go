package creators

import (
	"regexp"
	"strings"

	"github.com/halloffame/hof-server/internal/hoferr"
)

// creatorNameRe restricts creator names to 1-25 code points of
// letters, digits, spaces and light punctuation.
var creatorNameRe = regexp.MustCompile(`^[\p{L}\p{N} .'’\-]{1,25}$`)

// ValidateCreatorName checks a presented (non-empty) creator name.
// Legacy names persisted before the regex change are never
// re-validated on read.
func ValidateCreatorName(name string) error {
	if !creatorNameRe.MatchString(name) {
		return hoferr.Newf(hoferr.KindInvalidCreatorName,
			"creator name %q must be 1-25 characters of letters, digits, spaces or .'-", name)
	}
	return nil
}

var (
	apostrophes = strings.NewReplacer("'", "", "’", "")
	slugRuns    = regexp.MustCompile(`[ \-]+`)
)

// Slug renders a creator name as its case-folded uniqueness slug:
// apostrophes stripped, runs of spaces or hyphens collapsed to one
// hyphen, leading/trailing hyphens trimmed. Null or empty input
// yields a null slug.
func Slug(name *string) *string {
	if name == nil {
		return nil
	}

	s := apostrophes.Replace(*name)
	s = slugRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	s = strings.ToLower(s)
	if s == "" {
		return nil
	}
	return &s
}
