package capture

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/heic"
)

// DefaultMaxUploadBytes is the largest photo accepted from a file upload.
const DefaultMaxUploadBytes int64 = 5 * 1024 * 1024

// maxNormalizePixels caps HEIC images decoded for re-encoding.
const maxNormalizePixels = 50_000_000

// DefaultJPEGQuality is used for camera frames and re-encoded uploads.
const DefaultJPEGQuality = 80

// CapturedPhoto is an encoded raster image produced by a capture or upload.
// It is immutable; the zero value means "no photo".
type CapturedPhoto struct {
	data     []byte
	mimeType string
}

// NewCapturedPhoto copies data into a new photo. maxBytes <= 0 disables the
// size check.
func NewCapturedPhoto(data []byte, mimeType string, maxBytes int64) (CapturedPhoto, error) {
	if len(data) == 0 {
		return CapturedPhoto{}, ErrPhotoRequired
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return CapturedPhoto{}, ErrUploadTooLarge
	}
	mimeType = normalizeMIMEType(mimeType)
	if !strings.HasPrefix(mimeType, "image/") {
		return CapturedPhoto{}, fmt.Errorf("%w: %s", ErrUnsupportedMedia, mimeType)
	}
	return CapturedPhoto{
		data:     bytes.Clone(data),
		mimeType: mimeType,
	}, nil
}

// IsZero reports whether p holds no image.
func (p CapturedPhoto) IsZero() bool {
	return len(p.data) == 0
}

// Bytes returns a copy of the encoded image.
func (p CapturedPhoto) Bytes() []byte {
	return bytes.Clone(p.data)
}

// Size is the encoded size in bytes.
func (p CapturedPhoto) Size() int {
	return len(p.data)
}

// MIMEType is the media type of the encoded image, e.g. image/jpeg.
func (p CapturedPhoto) MIMEType() string {
	return p.mimeType
}

// DataURI renders the photo as a base64 data URI.
func (p CapturedPhoto) DataURI() string {
	if p.IsZero() {
		return ""
	}
	return "data:" + p.mimeType + ";base64," + base64.StdEncoding.EncodeToString(p.data)
}

// ParseDataURI decodes a base64 data URI such as the one produced by DataURI
// or by a browser canvas.
func ParseDataURI(uri string, maxBytes int64) (CapturedPhoto, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(uri), "data:")
	if !ok {
		return CapturedPhoto{}, fmt.Errorf("%w: not a data URI", ErrUnsupportedMedia)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return CapturedPhoto{}, fmt.Errorf("%w: malformed data URI", ErrUnsupportedMedia)
	}
	mimeType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return CapturedPhoto{}, fmt.Errorf("%w: data URI must be base64", ErrUnsupportedMedia)
	}
	if maxBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(payload))) > maxBytes+2 {
		return CapturedPhoto{}, ErrUploadTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return CapturedPhoto{}, fmt.Errorf("%w: decoding data URI: %v", ErrUnsupportedMedia, err)
	}
	data, mimeType, err = normalizeUpload(data, normalizeMIMEType(mimeType), DefaultJPEGQuality)
	if err != nil {
		return CapturedPhoto{}, fmt.Errorf("%w: %v", ErrUnsupportedMedia, err)
	}
	return NewCapturedPhoto(data, mimeType, maxBytes)
}

// RegistrationRecord is the immutable (name, photo) value handed from the
// capture flow to the compositor.
type RegistrationRecord struct {
	name  string
	photo CapturedPhoto
}

// NewRegistrationRecord validates name and photo.
func NewRegistrationRecord(name string, photo CapturedPhoto) (RegistrationRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return RegistrationRecord{}, ErrNameRequired
	}
	if photo.IsZero() {
		return RegistrationRecord{}, ErrPhotoRequired
	}
	return RegistrationRecord{name: name, photo: photo}, nil
}

func (r RegistrationRecord) Name() string         { return r.name }
func (r RegistrationRecord) Photo() CapturedPhoto { return r.photo }

func normalizeMIMEType(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return mimeType
}

// isHEICFormat checks for an ftyp box with a HEIC-family brand.
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// normalizeUpload re-encodes formats the compositor can't decode (HEIC/HEIF
// from phones) as JPEG. Everything else is passed through untouched.
func normalizeUpload(data []byte, mimeType string, quality int) ([]byte, string, error) {
	if !isHEICFormat(data) && !isHEICMimeType(mimeType) {
		return data, mimeType, nil
	}
	cfg, err := heic.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decoding HEIC/HEIF image: %w", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxNormalizePixels {
		return nil, "", fmt.Errorf("HEIC/HEIF image is %dx%d, over the %d pixel limit", cfg.Width, cfg.Height, maxNormalizePixels)
	}
	img, err := heic.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decoding HEIC/HEIF image: %w", err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, "", fmt.Errorf("encoding JPEG: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}
