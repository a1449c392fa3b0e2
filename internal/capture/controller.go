// Package capture acquires a visitor photo from a live camera or a file upload
// and hands it on as an immutable RegistrationRecord.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
)

// State is the controller's position in a capture cycle.
type State int

const (
	StateIdle State = iota
	StateCameraStarting
	StateCameraActive
	StatePhotoCaptured
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCameraStarting:
		return "camera-starting"
	case StateCameraActive:
		return "camera-active"
	case StatePhotoCaptured:
		return "photo-captured"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds the controller's tunables.
type Config struct {
	Constraints    Constraints
	MaxUploadBytes int64
	// JPEGQuality is used when encoding camera frames, 1-100.
	JPEGQuality int
}

// DefaultConfig returns the front camera at 1280x720, a 5 MB upload limit
// and JPEG quality 80.
func DefaultConfig() Config {
	return Config{
		Constraints:    DefaultConstraints(),
		MaxUploadBytes: DefaultMaxUploadBytes,
		JPEGQuality:    DefaultJPEGQuality,
	}
}

// File is a single uploaded file. Size must be known before Open is called
// so oversized files are rejected without being read.
type File interface {
	Size() int64
	ContentType() string
	Open() (io.ReadCloser, error)
}

// session is the one camera stream the controller may hold.
type session struct {
	stream   Stream
	settings Settings
}

// Controller runs the capture state machine and owns the camera device.
// Every session it opens is released on capture, cancel, upload, error and
// Close. It is safe to call from multiple goroutines, but callers should
// still serialize user actions.
type Controller struct {
	devices MediaDevices
	sink    VideoSink
	cfg     Config

	mu         sync.Mutex
	state      State
	session    *session
	generation uint64
	closed     bool
	name       string
	photo      CapturedPhoto
}

// NewController creates a Controller. devices and sink may be nil for an
// upload-only controller; StartCamera then fails with ErrDeviceUnavailable.
func NewController(devices MediaDevices, sink VideoSink, cfg Config) *Controller {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}
	return &Controller{
		devices: devices,
		sink:    sink,
		cfg:     cfg,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Photo returns the current photo, which is zero when none was captured.
func (c *Controller) Photo() CapturedPhoto {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.photo
}

// Name returns the registrant name entered so far.
func (c *Controller) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// SetName records the registrant name. It does not affect the photo.
func (c *Controller) SetName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
}

// StartCamera opens the camera and waits for playback. A session that is
// already open is released first. The call may block on the permission
// prompt; if StopCamera, Close or another StartCamera runs meanwhile, this
// call releases whatever it acquired and returns ErrSuperseded.
func (c *Controller) StartCamera(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StatePhotoCaptured {
		c.mu.Unlock()
		return fmt.Errorf("%w: clear the photo before starting the camera", ErrInvalidTransition)
	}
	if c.devices == nil || c.sink == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: no camera configured", ErrDeviceUnavailable)
	}
	c.releaseLocked()
	c.generation++
	gen := c.generation
	c.state = StateCameraStarting
	c.mu.Unlock()

	slog.Info("Requesting camera access",
		"facing_mode", c.cfg.Constraints.FacingMode,
		"ideal_width", c.cfg.Constraints.IdealWidth,
		"ideal_height", c.cfg.Constraints.IdealHeight,
	)
	stream, err := c.devices.GetUserMedia(ctx, c.cfg.Constraints)
	if err != nil {
		c.mu.Lock()
		if c.generation == gen {
			c.state = StateIdle
		}
		c.mu.Unlock()
		if stream != nil {
			stopTracks(stream)
		}
		err = classifyDeviceError(err)
		slog.Error("Camera setup error", "error", err)
		return err
	}

	c.mu.Lock()
	if c.generation != gen || c.closed {
		c.mu.Unlock()
		stopTracks(stream)
		return ErrSuperseded
	}
	c.session = &session{stream: stream, settings: stream.Settings()}
	c.sink.Attach(stream)
	c.mu.Unlock()

	err = c.sink.WaitMetadata(ctx)
	if err == nil {
		err = c.sink.Play(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen || c.closed {
		// Whoever moved the generation on has already released our session.
		return ErrSuperseded
	}
	if err != nil {
		c.releaseLocked()
		c.state = StateIdle
		slog.Error("Error playing video", "error", err)
		return fmt.Errorf("%w: %v", ErrPlaybackFailed, err)
	}
	c.state = StateCameraActive
	slog.Info("Video playback started",
		"width", c.session.settings.Width,
		"height", c.session.settings.Height,
	)
	return nil
}

// StopCamera cancels live capture, releasing the device and returning to
// Idle. It is a no-op when no camera is starting or active.
func (c *Controller) StopCamera() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCameraStarting && c.state != StateCameraActive {
		return
	}
	c.generation++
	c.releaseLocked()
	c.state = StateIdle
}

// CaptureFrame grabs the current frame at the stream's native resolution,
// mirrors it for front cameras, encodes it as JPEG and releases the camera.
// A failed grab also releases the camera and returns to Idle.
func (c *Controller) CaptureFrame() (CapturedPhoto, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCameraActive || c.session == nil {
		return CapturedPhoto{}, ErrCameraNotReady
	}

	photo, err := c.grabLocked()

	// The camera is released whether or not the grab worked.
	c.generation++
	c.releaseLocked()
	if err != nil {
		c.state = StateIdle
		slog.Error("Photo capture error", "error", err)
		return CapturedPhoto{}, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	c.photo = photo
	c.state = StatePhotoCaptured
	return photo, nil
}

func (c *Controller) grabLocked() (CapturedPhoto, error) {
	frame, err := c.sink.Frame()
	if err != nil {
		return CapturedPhoto{}, err
	}
	if frame.Bounds().Empty() {
		return CapturedPhoto{}, errors.New("empty frame")
	}
	data, err := encodeFrame(frame, c.session.settings.FacingMode == FacingUser, c.cfg.JPEGQuality)
	if err != nil {
		return CapturedPhoto{}, err
	}
	return NewCapturedPhoto(data, "image/jpeg", 0)
}

// Upload reads a single image file into the photo. Files over the upload
// limit are rejected before Open is called. Any live camera session is
// released since the uploaded photo replaces it.
func (c *Controller) Upload(ctx context.Context, f File) (CapturedPhoto, error) {
	limit := c.cfg.MaxUploadBytes
	if f.Size() > limit {
		return CapturedPhoto{}, ErrUploadTooLarge
	}
	contentType := normalizeMIMEType(f.ContentType())
	if !strings.HasPrefix(contentType, "image/") {
		return CapturedPhoto{}, fmt.Errorf("%w: %s", ErrUnsupportedMedia, contentType)
	}

	rc, err := f.Open()
	if err != nil {
		return CapturedPhoto{}, fmt.Errorf("opening upload: %w", err)
	}
	defer rc.Close()

	// Size() comes from the client; don't trust it for the read.
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return CapturedPhoto{}, fmt.Errorf("reading upload: %w", err)
	}
	if int64(len(data)) > limit {
		return CapturedPhoto{}, ErrUploadTooLarge
	}
	if err := ctx.Err(); err != nil {
		return CapturedPhoto{}, err
	}

	data, contentType, err = normalizeUpload(data, contentType, c.cfg.JPEGQuality)
	if err != nil {
		return CapturedPhoto{}, fmt.Errorf("%w: %v", ErrUnsupportedMedia, err)
	}
	photo, err := NewCapturedPhoto(data, contentType, limit)
	if err != nil {
		return CapturedPhoto{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return CapturedPhoto{}, ErrClosed
	}
	c.generation++
	c.releaseLocked()
	c.photo = photo
	c.state = StatePhotoCaptured
	return photo, nil
}

// ClearPhoto discards the photo and returns to Idle. The name is kept.
func (c *Controller) ClearPhoto() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.photo = CapturedPhoto{}
	if c.state == StatePhotoCaptured {
		c.state = StateIdle
	}
}

// Submit yields the registration record. It fails without changing state
// when the name or the photo is missing.
func (c *Controller) Submit() (RegistrationRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePhotoCaptured || c.photo.IsZero() {
		return RegistrationRecord{}, ErrPhotoRequired
	}
	return NewRegistrationRecord(c.name, c.photo)
}

// Close releases the camera synchronously. Later camera starts fail with
// ErrClosed.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.generation++
	c.releaseLocked()
	if c.state == StateCameraStarting || c.state == StateCameraActive {
		c.state = StateIdle
	}
	return nil
}

// releaseLocked stops every track of the active session and detaches the
// sink. c.mu must be held.
func (c *Controller) releaseLocked() {
	if c.session == nil {
		return
	}
	stopTracks(c.session.stream)
	if c.sink != nil {
		c.sink.Detach()
	}
	c.session = nil
}

func stopTracks(s Stream) {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

func classifyDeviceError(err error) error {
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrDeviceUnavailable):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
}

// orientFrame copies frame into a buffer of its own size, mirrored
// horizontally when requested.
func orientFrame(frame image.Image, mirror bool) *image.NRGBA {
	if mirror {
		return imaging.FlipH(frame)
	}
	return imaging.Clone(frame)
}

func encodeFrame(frame image.Image, mirror bool, quality int) ([]byte, error) {
	var out bytes.Buffer
	if err := imaging.Encode(&out, orientFrame(frame, mirror), imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
