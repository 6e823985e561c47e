// Package imgproc decodes uploaded screenshots and produces the three
// JPEG variants with embedded EXIF metadata.
package imgproc

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"time"

	"github.com/disintegration/imaging"
	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"

	"github.com/halloffame/hof-server/internal/blob"
	"github.com/halloffame/hof-server/internal/hoferr"
)

// ExifSoftware is written to the EXIF Software tag of every variant.
const ExifSoftware = "Cities: Skylines II, Hall of Fame Mod"

// preset is the minimum dimensions of one variant. The image is scaled
// so both axes reach the preset, overflowing on the larger axis, and
// is never enlarged beyond the source.
type preset struct {
	width  int
	height int
}

var (
	presetThumbnail = preset{256, 144}
	presetFHD       = preset{1920, 1080}
	preset4K        = preset{3840, 2160}
)

// Processor re-encodes screenshots at a configured JPEG quality.
type Processor struct {
	quality int
	now     func() time.Time
}

func New(quality int) *Processor {
	return &Processor{quality: quality, now: time.Now}
}

// WithClock overrides the EXIF DateTime clock. Test hook.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Process decodes raw image bytes and produces the thumbnail, FHD and
// 4K JPEG variants. Decoding failures surface as the
// invalid-image-format kind; any other failure is fatal to the caller.
func (p *Processor) Process(raw []byte, creatorName, cityName string) (blob.ImageSet, error) {
	src, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return blob.ImageSet{}, hoferr.Wrap(hoferr.KindInvalidImageFormat,
			"could not decode image", err)
	}

	if creatorName == "" {
		creatorName = "Anonymous"
	}

	var set blob.ImageSet
	for _, v := range []struct {
		preset preset
		out    *[]byte
	}{
		{presetThumbnail, &set.Thumbnail},
		{presetFHD, &set.FHD},
		{preset4K, &set.FourK},
	} {
		encoded, err := p.encodeVariant(src, v.preset, creatorName, cityName)
		if err != nil {
			return blob.ImageSet{}, err
		}
		*v.out = encoded
	}
	return set, nil
}

func (p *Processor) encodeVariant(src image.Image, pr preset, creatorName, cityName string) ([]byte, error) {
	resized := resizeToPreset(src, pr)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}

	tagged, err := p.embedExif(buf.Bytes(), creatorName, cityName)
	if err != nil {
		return nil, fmt.Errorf("failed to embed exif: %w", err)
	}
	return tagged, nil
}

// resizeToPreset scales so both axes reach the preset minimum while
// preserving aspect ratio; the source is never enlarged.
func resizeToPreset(src image.Image, pr preset) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	scale := math.Max(
		float64(pr.width)/float64(w),
		float64(pr.height)/float64(h),
	)
	if scale >= 1 {
		return src
	}

	targetW := int(math.Round(float64(w) * scale))
	if targetW < 1 {
		targetW = 1
	}
	return imaging.Resize(src, targetW, 0, imaging.Lanczos)
}

// embedExif writes the IFD0 tags into an encoded JPEG.
func (p *Processor) embedExif(encoded []byte, artist, description string) ([]byte, error) {
	jmp := jpegstructure.NewJpegMediaParser()
	intfc, err := jmp.ParseBytes(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jpeg structure: %w", err)
	}
	sl := intfc.(*jpegstructure.SegmentList)

	rootIb, err := sl.ConstructExifBuilder()
	if err != nil {
		im, err := exifcommon.NewIfdMappingWithStandard()
		if err != nil {
			return nil, fmt.Errorf("failed to create ifd mapping: %w", err)
		}
		ti := exif.NewTagIndex()
		rootIb = exif.NewIfdBuilder(im, ti,
			exifcommon.IfdStandardIfdIdentity, exifcommon.EncodeDefaultByteOrder)
	}

	ifd0, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD0")
	if err != nil {
		return nil, fmt.Errorf("failed to access IFD0: %w", err)
	}

	tags := []struct {
		name  string
		value string
	}{
		{"Software", ExifSoftware},
		{"Artist", artist},
		{"ImageDescription", description},
		{"DateTime", p.now().UTC().Format("2006:01:02 15:04:05")},
	}
	for _, tag := range tags {
		if err := ifd0.SetStandardWithName(tag.name, tag.value); err != nil {
			return nil, fmt.Errorf("failed to set exif tag %s: %w", tag.name, err)
		}
	}

	if err := sl.SetExif(rootIb); err != nil {
		return nil, fmt.Errorf("failed to attach exif: %w", err)
	}

	var buf bytes.Buffer
	if err := sl.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
