// Package testutil holds the fixtures and helpers shared by the
// package tests.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/halloffame/hof-server/internal/models"
)

// Logger returns a logger that swallows everything.
func Logger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// FixedTime is the reference instant used by clock-pinned tests.
var FixedTime = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// Clock returns a clock stuck at the given instant.
func Clock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

// OID builds a deterministic ObjectID from a single varying byte.
func OID(b byte) primitive.ObjectID {
	var id primitive.ObjectID
	for i := range id {
		id[i] = b
	}
	return id
}

// Creator returns a populated creator fixture.
func Creator(name string) *models.Creator {
	hwid := "hwid-" + name
	return &models.Creator{
		ID:                primitive.NewObjectID(),
		CreatorID:         "6ba7b811-9dad-41d1-80b4-00c04fd430c8",
		CreatorIDProvider: models.ProviderParadox,
		CreatorName:       &name,
		HWIDs:             []string{hwid},
		IPs:               []string{"203.0.113.7"},
		CreatedAt:         FixedTime,
	}
}

// AnonymousCreator returns a creator fixture without a name.
func AnonymousCreator() *models.Creator {
	c := Creator("x")
	c.CreatorName = nil
	c.CreatorNameSlug = nil
	return c
}

// Screenshot returns a populated screenshot fixture owned by the given
// creator.
func Screenshot(creator *models.Creator, cityName string) *models.Screenshot {
	return &models.Screenshot{
		ID:             primitive.NewObjectID(),
		CreatorID:      creator.ID,
		CityName:       cityName,
		CityMilestone:  10,
		CityPopulation: 250_000,
		BlobThumbnail:  "a/b/c-thumbnail.jpg",
		BlobFHD:        "a/b/c-fhd.jpg",
		Blob4K:         "a/b/c-4k.jpg",
		HWID:           creator.LatestHWID(),
		IP:             creator.LatestIP(),
		CreatedAt:      FixedTime,
	}
}

// JPEG encodes a solid-color image of the given size.
func JPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("failed to encode fixture jpeg: %v", err)
	}
	return buf.Bytes()
}

// UnitVector builds an L2-normalised vector of the given dimension
// with its weight on one axis.
func UnitVector(dim, axis int) []float32 {
	vec := make([]float32, dim)
	vec[axis%dim] = 1
	return vec
}
