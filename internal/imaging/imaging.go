// Package imaging validates user-supplied images before they enter or advance through the pipeline.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/webp"
)

var (
	// ErrUnsupportedFormat is returned for content that no registered decoder accepts
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrTooLarge is returned when the declared dimensions exceed the pixel cap
	ErrTooLarge = errors.New("image dimensions too large")
)

// DefaultMaxPixels caps width*height of an accepted image (40 MP)
const DefaultMaxPixels = 40_000_000

// Image is a verified image payload
type Image struct {
	Name     string
	Data     []byte
	Format   string
	MIMEType string
	Width    int
	Height   int
}

// Extension returns the file extension used when staging the image
func (i Image) Extension() string {
	switch i.Format {
	case "jpeg":
		return "jpg"
	case "":
		return "png"
	default:
		return i.Format
	}
}

var mimeTypes = map[string]string{
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// SupportedExtensions lists the file suffixes the client scans for
var SupportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// HasSupportedExtension reports whether the file name carries a supported image suffix
func HasSupportedExtension(name string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(name))]
}

// Decode fully decodes data under DefaultMaxPixels and returns the verified image
func Decode(name string, data []byte) (Image, error) {
	return DecodeWithLimit(name, data, DefaultMaxPixels)
}

// DecodeWithLimit reads the header first and only decodes the pixels when
// width*height stays within maxPixels. A non-positive maxPixels means DefaultMaxPixels.
func DecodeWithLimit(name string, data []byte, maxPixels int) (Image, error) {
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%s: empty file", name)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return Image{}, fmt.Errorf("%s: %w", name, ErrUnsupportedFormat)
		}
		return Image{}, fmt.Errorf("%s: %w", name, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return Image{}, fmt.Errorf("%s: %w: %dx%d", name, ErrTooLarge, cfg.Width, cfg.Height)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("%s: %w", name, err)
	}

	mimeType, ok := mimeTypes[format]
	if !ok {
		return Image{}, fmt.Errorf("%s: %w: %s", name, ErrUnsupportedFormat, format)
	}

	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return Image{}, fmt.Errorf("%s: image has no pixels", name)
	}

	return Image{
		Name:     name,
		Data:     data,
		Format:   format,
		MIMEType: mimeType,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
	}, nil
}

// Rejected pairs an input name with the reason it was dropped
type Rejected struct {
	Name string
	Err  error
}

// Filter decodes every input, keeps the valid ones in order and reports the rest
func Filter(names []string, payloads [][]byte) ([]Image, []Rejected) {
	valid := make([]Image, 0, len(payloads))
	var rejected []Rejected

	for i, data := range payloads {
		name := fmt.Sprintf("image_%d", i)
		if i < len(names) && names[i] != "" {
			name = names[i]
		}

		img, err := Decode(name, data)
		if err != nil {
			rejected = append(rejected, Rejected{Name: name, Err: err})
			continue
		}
		valid = append(valid, img)
	}

	return valid, rejected
}
