// Package blob is the gateway to image blob storage. Production uses
// Azure blob storage; development and tests use an afero-backed file
// store with the same naming contract.
package blob

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/halloffame/hof-server/internal/models"
)

// Image variants, suffixing every blob name.
const (
	VariantThumbnail = "thumbnail"
	VariantFHD       = "fhd"
	Variant4K        = "4k"
)

const contentTypeJPEG = "image/jpeg"

// ImageSet carries the three encoded variants of one screenshot.
type ImageSet struct {
	Thumbnail []byte
	FHD       []byte
	FourK     []byte
}

// Names carries the three blob names of one screenshot.
type Names struct {
	Thumbnail string
	FHD       string
	FourK     string
}

// Store is the blob storage contract shared by the Azure and file
// implementations.
type Store interface {
	// UploadImages writes the three variants under deterministic
	// names derived from the creator, screenshot and upload time,
	// tagged with both ids.
	UploadImages(ctx context.Context, creator *models.Creator, screenshot *models.Screenshot, images ImageSet) (Names, error)

	// DeleteImages removes the three variants, tolerating blobs that
	// are already gone.
	DeleteImages(ctx context.Context, names Names) error

	DownloadToBuffer(ctx context.Context, name string) ([]byte, error)
	DownloadToFile(ctx context.Context, name, path string) error

	// PublicURL returns the CDN-fronted URL of a blob.
	PublicURL(name string) string
}

// buildNames derives the three blob names:
// {creatorId}/{screenshotId}/{slug}-{yyyy-MM-dd-HH-mm-ss}-{variant}.jpg
func buildNames(creator *models.Creator, screenshot *models.Screenshot, now time.Time) Names {
	slug := contextSlug(screenshot.CityName, creator.CreatorName)
	stamp := now.UTC().Format("2006-01-02-15-04-05")
	prefix := fmt.Sprintf("%s/%s/%s-%s",
		screenshot.CreatorID.Hex(), screenshot.ID.Hex(), slug, stamp)

	return Names{
		Thumbnail: prefix + "-" + VariantThumbnail + ".jpg",
		FHD:       prefix + "-" + VariantFHD + ".jpg",
		FourK:     prefix + "-" + Variant4K + ".jpg",
	}
}

// contextSlug renders "{cityName}-by-{creatorName}" as an ASCII slug.
// Pure non-Latin input transliterates to nothing, so it falls back to
// the city slug alone, then the creator slug, then "screenshot".
func contextSlug(cityName string, creatorName *string) string {
	name := ""
	if creatorName != nil {
		name = *creatorName
	}

	if slug := asciiSlug(cityName + " by " + name); slug != "" {
		return slug
	}
	if slug := asciiSlug(cityName); slug != "" {
		return slug
	}
	if slug := asciiSlug(name); slug != "" {
		return slug
	}
	return "screenshot"
}

var stripMarks = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// asciiSlug transliterates to lowercase ASCII, mapping every
// non-alphanumeric run to a single hyphen. Returns "" when nothing
// survives.
func asciiSlug(s string) string {
	flat, _, err := transform.String(stripMarks, s)
	if err != nil {
		flat = s
	}

	var b strings.Builder
	b.Grow(len(flat))
	lastHyphen := true
	for _, r := range strings.ToLower(flat) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.Trim(b.String(), "-")
}

func publicURL(cdnBase, container, name string) string {
	return fmt.Sprintf("%s/%s/%s",
		strings.TrimSuffix(cdnBase, "/"), container, name)
}

func blobTags(screenshot *models.Screenshot) map[string]string {
	return map[string]string{
		"creatorId":    screenshot.CreatorID.Hex(),
		"screenshotId": screenshot.ID.Hex(),
	}
}
