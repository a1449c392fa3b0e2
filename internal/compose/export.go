package compose

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]`)

// Download is a rendered pass ready to be saved by the user.
type Download struct {
	Filename    string
	ContentType string
	Data        []byte
	Width       int
	Height      int
}

// Slug lower-cases name and replaces every character other than a-z and 0-9
// with a hyphen. An empty name gives "user".
func Slug(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "user"
	}
	return nonAlphanumeric.ReplaceAllString(name, "-")
}

// Filename is visitor-pass-<slug>-<unix millis>.png. The timestamp keeps
// repeated downloads from colliding; it never affects the pixels.
func Filename(name string, now time.Time) string {
	return fmt.Sprintf("visitor-pass-%s-%d.png", Slug(name), now.UnixMilli())
}

// Export wraps a rendered pass as a download named after the registrant.
func Export(r *Result, name string, now time.Time) (*Download, error) {
	if r == nil || len(r.Data) == 0 {
		return nil, fmt.Errorf("%w: nothing rendered", ErrExport)
	}
	return &Download{
		Filename:    Filename(name, now),
		ContentType: MIMETypePNG,
		Data:        r.Data,
		Width:       r.Width,
		Height:      r.Height,
	}, nil
}
