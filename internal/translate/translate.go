// Package translate is the seam to the external name-translation
// service. The AI-backed implementation lives outside this repository;
// a noop ships for development and tests.
package translate

import (
	"context"
	"unicode"

	"github.com/halloffame/hof-server/internal/models"
)

// Translator produces the translated-name triple for a non-Latin name.
type Translator interface {
	TranslateName(ctx context.Context, name string) (*models.TranslatedName, error)
}

// Noop answers every request with no translation. Development default.
type Noop struct{}

func (Noop) TranslateName(ctx context.Context, name string) (*models.TranslatedName, error) {
	return nil, nil
}

// NeedsTranslation reports whether a name contains characters outside
// Latin script and digits, i.e. whether a translation pass is worth
// scheduling.
func NeedsTranslation(name string) bool {
	for _, r := range name {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			return true
		}
	}
	return false
}
