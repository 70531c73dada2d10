package recorder

import (
	"context"
	"errors"
	"time"

	"assoc-messaging/internal/imtypes"
)

// Errors a MediaDevices implementation returns from GetUserMedia so that the
// recorder can classify them. Wrap them to keep the platform detail.
var (
	ErrPermissionDenied       = errors.New("NotAllowedError")
	ErrDeviceNotFound         = errors.New("NotFoundError")
	ErrDeviceBusy             = errors.New("NotReadableError")
	ErrUnsupportedConstraints = errors.New("OverconstrainedError")
	ErrSecurityBlocked        = errors.New("SecurityError")
)

// AudioConstraints are requested when acquiring the microphone.
type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	SampleRate       int
}

// EncoderOptions configure the encoder sink.
type EncoderOptions struct {
	MimeType           string
	AudioBitsPerSecond int
}

// MediaStream is an acquired capture device.
type MediaStream interface {
	// Stop releases the device.
	Stop()
}

// Encoder turns a stream into encoded chunks.
type Encoder interface {
	// Start begins encoding, calling onData with each chunk roughly every timeslice.
	Start(timeslice time.Duration, onData func(chunk []byte)) error
	// Stop ends encoding. Any buffered data is passed to onData before Stop returns.
	// Implementations must not call back into the Recorder.
	Stop() error
}

// MediaDevices is the platform capture collaborator.
type MediaDevices interface {
	IsTypeSupported(mimeType string) bool
	GetUserMedia(ctx context.Context, constraints AudioConstraints) (MediaStream, error)
	NewEncoder(stream MediaStream, opts EncoderOptions) (Encoder, error)
}

// ClassifyMediaError maps an acquisition failure onto the media access taxonomy.
func ClassifyMediaError(err error) *imtypes.MediaAccessError {
	var existing *imtypes.MediaAccessError
	if errors.As(err, &existing) {
		return existing
	}
	kind := imtypes.MediaUnknown
	switch {
	case errors.Is(err, ErrPermissionDenied):
		kind = imtypes.MediaPermissionDenied
	case errors.Is(err, ErrDeviceNotFound):
		kind = imtypes.MediaDeviceNotFound
	case errors.Is(err, ErrDeviceBusy):
		kind = imtypes.MediaDeviceBusy
	case errors.Is(err, ErrUnsupportedConstraints):
		kind = imtypes.MediaUnsupportedConstraints
	case errors.Is(err, ErrSecurityBlocked):
		kind = imtypes.MediaSecurityBlocked
	}
	return &imtypes.MediaAccessError{Kind: kind, Err: err}
}
