package capture

import (
	"context"
	"image"
)

// FacingMode selects which camera to open on devices that have several.
type FacingMode string

const (
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
)

// Constraints describes the stream requested from a MediaDevices.
type Constraints struct {
	FacingMode  FacingMode
	IdealWidth  int
	IdealHeight int
	Audio       bool
}

// DefaultConstraints is a front camera at 1280x720 without audio.
func DefaultConstraints() Constraints {
	return Constraints{
		FacingMode:  FacingUser,
		IdealWidth:  1280,
		IdealHeight: 720,
		Audio:       false,
	}
}

// Settings are what the device actually negotiated. Width and Height may
// differ from the ideal constraints.
type Settings struct {
	Width      int
	Height     int
	FacingMode FacingMode
}

// MediaDevices grants access to camera streams. GetUserMedia may block
// indefinitely while the user decides on a permission prompt; callers
// should return ErrPermissionDenied or ErrDeviceUnavailable (wrapped) so the
// controller can report the right kind.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an open device stream. The device stays on until every track
// has been stopped.
type Stream interface {
	Tracks() []Track
	Settings() Settings
}

// Track is a single media track of a Stream.
type Track interface {
	Stop()
}

// VideoSink renders a Stream for preview and exposes its current frame.
type VideoSink interface {
	// Attach binds the stream to the sink.
	Attach(s Stream)
	// WaitMetadata blocks until the sink knows the stream's frame size.
	WaitMetadata(ctx context.Context) error
	// Play starts playback and returns once frames are flowing.
	Play(ctx context.Context) error
	// Frame returns the current frame at the stream's native resolution.
	Frame() (image.Image, error)
	// Detach unbinds whatever stream is attached.
	Detach()
}
