// Package recorder captures voice messages through a small state machine:
// idle -> recording -> stopped, with error reachable from start and stop.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"assoc-messaging/internal/clock"
	"assoc-messaging/internal/config"
	"assoc-messaging/internal/imtypes"

	units "github.com/docker/go-units"
	"github.com/sirupsen/logrus"
)

// State of the recorder.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopped   State = "stopped"
	StateError     State = "error"
)

const (
	DefaultMaxDuration        = 300 * time.Second
	DefaultMimeType           = "audio/webm;codecs=opus"
	DefaultAudioBitsPerSecond = 128000
	DefaultSampleRate         = 44100
	DefaultTimeslice          = time.Second
)

// fallbackMimeTypes are tried after the configured type.
var fallbackMimeTypes = []string{"audio/webm", "audio/ogg;codecs=opus", "audio/mp4"}

// ErrStartCancelled is returned by Start when Cancel was called while the
// microphone was still being acquired.
var ErrStartCancelled = errors.New("recording cancelled before it started")

// UnsupportedMessage is shown when no supported recording format exists.
const UnsupportedMessage = "Audio recording is not supported on this device."

// Config holds recording parameters.
type Config struct {
	MaxDuration        time.Duration
	MimeType           string
	AudioBitsPerSecond int
	SampleRate         int
	Timeslice          time.Duration
}

// DefaultConfig returns the stock recording parameters.
func DefaultConfig() Config {
	return Config{
		MaxDuration:        DefaultMaxDuration,
		MimeType:           DefaultMimeType,
		AudioBitsPerSecond: DefaultAudioBitsPerSecond,
		SampleRate:         DefaultSampleRate,
		Timeslice:          DefaultTimeslice,
	}
}

// ConfigFrom maps the RECORDER config section.
func ConfigFrom(cfg config.RecorderConfig) Config {
	c := DefaultConfig()
	if cfg.MaxDurationSeconds > 0 {
		c.MaxDuration = time.Duration(cfg.MaxDurationSeconds) * time.Second
	}
	if cfg.MimeType != "" {
		c.MimeType = cfg.MimeType
	}
	if cfg.AudioBitsPerSecond > 0 {
		c.AudioBitsPerSecond = cfg.AudioBitsPerSecond
	}
	if cfg.SampleRate > 0 {
		c.SampleRate = cfg.SampleRate
	}
	if cfg.Timeslice > 0 {
		c.Timeslice = cfg.Timeslice
	}
	return c
}

// Blob is a finished recording.
type Blob struct {
	Data     []byte
	MimeType string
	Duration int // seconds
}

// Size returns the length in bytes.
func (b Blob) Size() int { return len(b.Data) }

// HumanSize formats the blob size, e.g. "1.5 KB".
func (b Blob) HumanSize() string { return HumanSize(int64(len(b.Data))) }

// HumanSize formats a byte count with binary multiples.
func HumanSize(n int64) string {
	return units.CustomSize("%.4g %s", float64(n), 1024.0, []string{"Bytes", "KB", "MB", "GB", "TB"})
}

// FormatDuration renders whole seconds as MM:SS.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// take buffers the chunks of one recording.
type take struct {
	mu      sync.Mutex
	chunks  [][]byte
	size    int
	discard bool
}

func (t *take) add(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.discard {
		return
	}
	t.chunks = append(t.chunks, append([]byte(nil), chunk...))
	t.size += len(chunk)
}

func (t *take) drop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.discard = true
	t.chunks = nil
	t.size = 0
}

func (t *take) bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, 0, t.size)
	for _, c := range t.chunks {
		out = append(out, c...)
	}
	return out
}

// Option customises a Recorder.
type Option func(*Recorder)

// WithClock sets the clock used for the duration tick.
func WithClock(c clock.Clock) Option { return func(r *Recorder) { r.clock = clock.OrReal(c) } }

// OnDurationChange is called with the elapsed seconds after every tick.
func OnDurationChange(f func(seconds int)) Option { return func(r *Recorder) { r.onDuration = f } }

// OnComplete is called with the blob when a recording stops normally.
func OnComplete(f func(Blob)) Option { return func(r *Recorder) { r.onComplete = f } }

// OnError is called when the recorder enters the error state.
func OnError(f func(error)) Option { return func(r *Recorder) { r.onError = f } }

// Recorder captures one voice message at a time.
type Recorder struct {
	mu       sync.Mutex
	devices  MediaDevices
	cfg      Config
	clock    clock.Clock
	state    State
	starting bool

	// cancelPending is set by Cancel during a start and consumed by Start
	cancelPending bool
	duration int
	blob     *Blob
	err      error
	mimeType string

	stream  MediaStream
	encoder Encoder
	take    *take
	tick    clock.Timer
	gen     uint64

	onDuration func(int)
	onComplete func(Blob)
	onError    func(error)
}

// New returns an idle recorder.
func New(devices MediaDevices, cfg Config, opts ...Option) *Recorder {
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.MimeType == "" {
		cfg.MimeType = DefaultMimeType
	}
	if cfg.Timeslice <= 0 {
		cfg.Timeslice = DefaultTimeslice
	}
	r := &Recorder{devices: devices, cfg: cfg, clock: clock.Real{}, state: StateIdle}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsSupported reports whether any usable recording format exists.
func (r *Recorder) IsSupported() bool {
	return r.negotiate() != ""
}

func (r *Recorder) negotiate() string {
	if r.devices == nil {
		return ""
	}
	for _, m := range append([]string{r.cfg.MimeType}, fallbackMimeTypes...) {
		if r.devices.IsTypeSupported(m) {
			return m
		}
	}
	return ""
}

// Start acquires the microphone and begins recording.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateRecording || r.starting {
		r.mu.Unlock()
		return &imtypes.RecordingError{Reason: "a recording is already in progress"}
	}
	r.starting = true
	r.cancelPending = false
	r.duration = 0
	r.blob = nil
	r.err = nil
	r.mu.Unlock()

	mimeType := r.negotiate()
	if mimeType == "" {
		return r.fail(&imtypes.RecordingError{Reason: UnsupportedMessage})
	}

	stream, err := r.devices.GetUserMedia(ctx, AudioConstraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		SampleRate:       r.cfg.SampleRate,
	})
	if err != nil {
		return r.fail(ClassifyMediaError(err))
	}
	if r.consumeCancel() {
		stream.Stop()
		return ErrStartCancelled
	}

	enc, err := r.devices.NewEncoder(stream, EncoderOptions{MimeType: mimeType, AudioBitsPerSecond: r.cfg.AudioBitsPerSecond})
	if err != nil {
		stream.Stop()
		return r.fail(&imtypes.RecordingError{Reason: "could not create the audio encoder", Err: err})
	}

	tk := &take{}
	r.mu.Lock()
	if r.cancelPending {
		r.resetCancelledLocked()
		r.mu.Unlock()
		stream.Stop()
		return ErrStartCancelled
	}
	r.gen++
	gen := r.gen
	r.stream = stream
	r.encoder = enc
	r.take = tk
	r.mimeType = mimeType
	r.state = StateRecording
	r.starting = false
	r.scheduleTickLocked(gen)
	r.mu.Unlock()

	if err := enc.Start(r.cfg.Timeslice, tk.add); err != nil {
		rerr := &imtypes.RecordingError{Reason: "could not start recording", Err: err}
		r.mu.Lock()
		if r.gen == gen {
			r.releaseLocked()
			r.setErrorLocked(rerr)
		}
		r.mu.Unlock()
		return r.notifyError(rerr)
	}

	logrus.WithFields(logrus.Fields{"component": "recorder", "mimeType": mimeType}).Info("recording started")
	return nil
}

func (r *Recorder) scheduleTickLocked(gen uint64) {
	r.tick = r.clock.AfterFunc(time.Second, func() { r.onTick(gen) })
}

func (r *Recorder) onTick(gen uint64) {
	r.mu.Lock()
	if r.gen != gen || r.state != StateRecording {
		r.mu.Unlock()
		return
	}
	r.duration++
	d := r.duration
	reachedMax := time.Duration(d)*time.Second >= r.cfg.MaxDuration
	if !reachedMax {
		r.scheduleTickLocked(gen)
	}
	onDuration := r.onDuration
	r.mu.Unlock()

	if onDuration != nil {
		onDuration(d)
	}
	if reachedMax {
		logrus.WithFields(logrus.Fields{"component": "recorder", "duration": d}).Info("maximum duration reached, stopping")
		_, _ = r.Stop()
	}
}

// Stop finishes the recording and returns the blob. When nothing is being
// recorded it returns the last blob, if any.
func (r *Recorder) Stop() (*Blob, error) {
	r.mu.Lock()
	if r.state != StateRecording {
		b := r.blob
		r.mu.Unlock()
		return b, nil
	}
	enc, tk, dur, mimeType := r.encoder, r.take, r.duration, r.mimeType
	stopErr := enc.Stop()
	r.releaseLocked()

	if stopErr != nil {
		rerr := &imtypes.RecordingError{Reason: "could not finalize the recording", Err: stopErr}
		r.setErrorLocked(rerr)
		r.mu.Unlock()
		return nil, r.notifyError(rerr)
	}

	blob := Blob{Data: tk.bytes(), MimeType: mimeType, Duration: dur}
	r.blob = &blob
	r.state = StateStopped
	onComplete := r.onComplete
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"component": "recorder",
		"duration":  dur,
		"size":      blob.HumanSize(),
	}).Info("recording stopped")
	if onComplete != nil {
		onComplete(blob)
	}
	out := blob
	return &out, nil
}

// consumeCancel reports whether Cancel was called during the current start,
// returning the recorder to idle if so.
func (r *Recorder) consumeCancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.cancelPending {
		return false
	}
	r.resetCancelledLocked()
	return true
}

func (r *Recorder) resetCancelledLocked() {
	r.cancelPending = false
	r.starting = false
	r.state = StateIdle
	logrus.WithField("component", "recorder").Info("recording cancelled while starting")
}

// Cancel discards the current recording and releases the microphone. Called
// while Start is still acquiring the microphone, it makes that Start release
// the device and return ErrStartCancelled.
func (r *Recorder) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.starting {
		r.cancelPending = true
		return
	}
	if r.state != StateRecording {
		return
	}
	r.take.drop()
	if err := r.encoder.Stop(); err != nil {
		logrus.WithFields(logrus.Fields{"component": "recorder", "error": err}).Debug("encoder stop on cancel failed")
	}
	r.releaseLocked()
	r.duration = 0
	r.blob = nil
	r.state = StateIdle
}

// Clear forgets a finished or failed recording.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRecording || r.starting {
		return
	}
	r.duration = 0
	r.blob = nil
	r.err = nil
	r.state = StateIdle
}

// releaseLocked stops the tick and the device and invalidates callbacks of
// the current take.
func (r *Recorder) releaseLocked() {
	r.gen++
	if r.tick != nil {
		r.tick.Stop()
		r.tick = nil
	}
	if r.stream != nil {
		r.stream.Stop()
	}
	r.stream = nil
	r.encoder = nil
	r.take = nil
}

func (r *Recorder) fail(err error) error {
	r.mu.Lock()
	r.setErrorLocked(err)
	r.mu.Unlock()
	return r.notifyError(err)
}

func (r *Recorder) setErrorLocked(err error) {
	r.state = StateError
	r.err = err
	r.starting = false
	r.cancelPending = false
}

func (r *Recorder) notifyError(err error) error {
	logrus.WithFields(logrus.Fields{"component": "recorder", "error": err}).Warn("recording failed")
	if r.onError != nil {
		r.onError(err)
	}
	return err
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recorder) IsRecording() bool { return r.State() == StateRecording }

// Duration returns the elapsed whole seconds of the current or last recording.
func (r *Recorder) Duration() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duration
}

func (r *Recorder) Blob() *Blob {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.blob == nil {
		return nil
	}
	b := *r.blob
	return &b
}

func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
