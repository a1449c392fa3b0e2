package capture

import "errors"

// Device errors. Any partially acquired stream is released before one of
// these is returned.
var (
	ErrPermissionDenied  = errors.New("camera permission denied")
	ErrDeviceUnavailable = errors.New("camera device unavailable")
	ErrPlaybackFailed    = errors.New("camera playback failed")
	ErrCameraNotReady    = errors.New("camera not ready")
	ErrCaptureFailed     = errors.New("failed to capture photo")
)

// Validation errors. They block only the attempted transition.
var (
	ErrUploadTooLarge    = errors.New("image size should be less than the upload limit")
	ErrUnsupportedMedia  = errors.New("file is not an image")
	ErrNameRequired      = errors.New("name required")
	ErrPhotoRequired     = errors.New("photo required")
	ErrInvalidTransition = errors.New("invalid capture state transition")
)

var (
	// ErrSuperseded is returned by a camera start that was overtaken by a
	// newer start, a cancel, or Close while it was waiting on the device.
	ErrSuperseded = errors.New("camera start superseded")
	ErrClosed     = errors.New("capture controller closed")
)
