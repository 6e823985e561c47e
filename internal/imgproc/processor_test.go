package imgproc

import (
	"bytes"
	"image"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halloffame/hof-server/internal/hoferr"
	"github.com/halloffame/hof-server/internal/testutil"
)

func decodeSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	b := img.Bounds()
	return b.Dx(), b.Dy()
}

func TestProcessProducesThreeVariants(t *testing.T) {
	p := New(85).WithClock(testutil.Clock(testutil.FixedTime))
	raw := testutil.JPEG(t, 512, 288)

	set, err := p.Process(raw, "Ann", "Tokyo")
	require.NoError(t, err)

	// 512x288 shrinks to the thumbnail preset but is never enlarged
	// towards FHD or 4K.
	w, h := decodeSize(t, set.Thumbnail)
	assert.Equal(t, 256, w)
	assert.Equal(t, 144, h)

	w, h = decodeSize(t, set.FHD)
	assert.Equal(t, 512, w)
	assert.Equal(t, 288, h)

	w, h = decodeSize(t, set.FourK)
	assert.Equal(t, 512, w)
	assert.Equal(t, 288, h)
}

func TestProcessRejectsGarbage(t *testing.T) {
	p := New(85)

	_, err := p.Process([]byte("definitely not a jpeg"), "Ann", "Tokyo")
	assert.True(t, hoferr.IsKind(err, hoferr.KindInvalidImageFormat))
}

func TestResizeToPresetOverflowsLargerAxis(t *testing.T) {
	// Very wide source: the height axis drives the scale so both axes
	// reach the preset minimum.
	src := image.NewRGBA(image.Rect(0, 0, 2880, 720))

	resized := resizeToPreset(src, presetThumbnail)
	b := resized.Bounds()
	assert.Equal(t, 576, b.Dx())
	assert.Equal(t, 144, b.Dy())
}

func TestResizeToPresetNeverEnlarges(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 100, 60))

	resized := resizeToPreset(src, presetFHD)
	b := resized.Bounds()
	assert.Equal(t, 100, b.Dx())
	assert.Equal(t, 60, b.Dy())
}
