package detection

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/bep/imagemeta"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrNotImage is returned when a file's content is not a recognised image.
var ErrNotImage = errors.New("not an image")

// ImageProber reads image headers without decoding pixel data. Dimensions
// are reported as displayed: EXIF orientations that rotate by 90 degrees
// swap width and height.
type ImageProber struct{}

// Probe implements Prober.
func (ImageProber) Probe(path string) (int, int, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("sniff content: %w", err)
	}
	if !strings.HasPrefix(mtype.String(), "image/") {
		return 0, 0, fmt.Errorf("%w: %s", ErrNotImage, mtype.String())
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decode header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, fmt.Errorf("decode header: invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}

	width, height := cfg.Width, cfg.Height
	if format, ok := metaFormat(mtype); ok {
		if _, err := f.Seek(0, 0); err == nil && rotatesQuarterTurn(orientation(f, format)) {
			width, height = height, width
		}
	}
	return width, height, nil
}

func metaFormat(mtype *mimetype.MIME) (imagemeta.ImageFormat, bool) {
	switch {
	case mtype.Is("image/jpeg"):
		return imagemeta.JPEG, true
	case mtype.Is("image/png"):
		return imagemeta.PNG, true
	case mtype.Is("image/webp"):
		return imagemeta.WebP, true
	case mtype.Is("image/tiff"):
		return imagemeta.TIFF, true
	default:
		var none imagemeta.ImageFormat
		return none, false
	}
}

// orientation returns the EXIF orientation tag, or 1 when absent or
// unreadable.
func orientation(f *os.File, format imagemeta.ImageFormat) int {
	value := 1
	_, err := imagemeta.Decode(imagemeta.Options{
		R:           f,
		ImageFormat: format,
		Sources:     imagemeta.EXIF,
		ShouldHandleTag: func(ti imagemeta.TagInfo) bool {
			return ti.Tag == "Orientation"
		},
		HandleTag: func(ti imagemeta.TagInfo) error {
			if n, ok := toInt(ti.Value); ok {
				value = n
			}
			return nil
		},
	})
	if err != nil {
		return 1
	}
	return value
}

// rotatesQuarterTurn covers orientations 5 through 8 (transpose, rotate 90 CW,
// transverse, rotate 270 CW).
func rotatesQuarterTurn(o int) bool {
	return o >= 5 && o <= 8
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint8:
		return int(n), true
	case []uint16:
		if len(n) > 0 {
			return int(n[0]), true
		}
	}
	return 0, false
}
