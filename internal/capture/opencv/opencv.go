// Package opencv provides a camera backend for the capture controller on top
// of OpenCV's VideoCapture.
package opencv

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/zombor/visitor-pass/internal/capture"
)

const metadataPoll = 30 * time.Millisecond

var (
	// ErrStreamStopped is returned once the stream's track has been stopped.
	ErrStreamStopped = errors.New("stream stopped")
	// ErrNotAttached is returned when the sink has no stream.
	ErrNotAttached = errors.New("no stream attached")
)

// source is the part of gocv.VideoCapture a stream reads from.
type source interface {
	Read(m *gocv.Mat) bool
	Close() error
}

// Devices opens local cameras by index.
type Devices struct {
	DeviceID int
}

// NewDevices returns a MediaDevices for the camera at deviceID.
func NewDevices(deviceID int) *Devices {
	return &Devices{DeviceID: deviceID}
}

// GetUserMedia opens the camera and asks for the ideal resolution. OpenCV
// has no permission prompt, so a device that fails to open is reported as
// unavailable.
func (d *Devices) GetUserMedia(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vc, err := gocv.OpenVideoCapture(d.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: opening device %d: %v", capture.ErrDeviceUnavailable, d.DeviceID, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: device %d not opened", capture.ErrDeviceUnavailable, d.DeviceID)
	}
	if c.IdealWidth > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.IdealWidth))
	}
	if c.IdealHeight > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.IdealHeight))
	}

	settings := capture.Settings{
		Width:      int(vc.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(vc.Get(gocv.VideoCaptureFrameHeight)),
		FacingMode: c.FacingMode,
	}
	slog.Info("Opened camera", "device", d.DeviceID, "width", settings.Width, "height", settings.Height)
	return newStream(vc, settings), nil
}

type stream struct {
	mu       sync.Mutex
	vc       source
	settings capture.Settings
	closed   bool
}

func newStream(vc source, settings capture.Settings) *stream {
	return &stream{vc: vc, settings: settings}
}

func (s *stream) Tracks() []capture.Track {
	return []capture.Track{(*videoTrack)(s)}
}

func (s *stream) Settings() capture.Settings {
	return s.settings
}

// read grabs the next frame into m.
func (s *stream) read(m *gocv.Mat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamStopped
	}
	if ok := s.vc.Read(m); !ok || m.Empty() {
		return errors.New("no frame available")
	}
	return nil
}

type videoTrack stream

// Stop closes the device. It is safe to call more than once.
func (t *videoTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	if err := t.vc.Close(); err != nil {
		slog.Warn("Failed to close camera", "error", err)
	}
}

// Sink reads frames from the attached stream.
type Sink struct {
	mu     sync.Mutex
	stream *stream
}

// NewSink returns an empty sink.
func NewSink() *Sink {
	return &Sink{}
}

// Attach binds a stream opened by Devices. Streams from other backends are
// ignored.
func (s *Sink) Attach(st capture.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream, _ = st.(*stream)
}

// Detach unbinds the stream without stopping it.
func (s *Sink) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream = nil
}

func (s *Sink) current() (*stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil, ErrNotAttached
	}
	return s.stream, nil
}

// WaitMetadata polls until the device delivers its first frame. It gives up
// as soon as the stream is stopped or detached.
func (s *Sink) WaitMetadata(ctx context.Context) error {
	st, err := s.current()
	if err != nil {
		return err
	}
	m := gocv.NewMat()
	defer m.Close()

	ticker := time.NewTicker(metadataPoll)
	defer ticker.Stop()
	for {
		err := st.read(&m)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrStreamStopped) {
			return err
		}
		cur, err := s.current()
		if err != nil {
			return err
		}
		if cur != st {
			return ErrNotAttached
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Play confirms the stream is still attached. OpenCV streams start delivering
// frames as soon as they are opened.
func (s *Sink) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.current()
	return err
}

// Frame reads the current frame at the device's native resolution.
func (s *Sink) Frame() (image.Image, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	m := gocv.NewMat()
	defer m.Close()
	if err := st.read(&m); err != nil {
		return nil, err
	}
	img, err := m.ToImage()
	if err != nil {
		return nil, fmt.Errorf("converting frame: %w", err)
	}
	return img, nil
}
