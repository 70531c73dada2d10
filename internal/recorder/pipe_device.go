package recorder

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PipeDevice is a MediaDevices that "captures" already encoded audio from a
// reader, e.g. the stdout of arecord or ffmpeg piped into the CLI. The
// reader's bytes are passed through unchanged.
type PipeDevice struct {
	mu        sync.Mutex
	r         io.Reader
	mimeTypes []string
	inUse     bool
}

// NewPipeDevice reads from r and claims to produce the given mime types.
func NewPipeDevice(r io.Reader, mimeTypes ...string) *PipeDevice {
	if len(mimeTypes) == 0 {
		mimeTypes = []string{DefaultMimeType}
	}
	return &PipeDevice{r: r, mimeTypes: mimeTypes}
}

func (d *PipeDevice) IsTypeSupported(mimeType string) bool {
	for _, m := range d.mimeTypes {
		if strings.EqualFold(m, mimeType) {
			return true
		}
	}
	return false
}

func (d *PipeDevice) GetUserMedia(ctx context.Context, _ AudioConstraints) (MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.r == nil {
		return nil, ErrDeviceNotFound
	}
	if d.inUse {
		return nil, ErrDeviceBusy
	}
	d.inUse = true
	return &pipeStream{device: d}, nil
}

func (d *PipeDevice) NewEncoder(stream MediaStream, _ EncoderOptions) (Encoder, error) {
	ps, ok := stream.(*pipeStream)
	if !ok || ps.device != d {
		return nil, errors.New("stream does not belong to this device")
	}
	return &pipeEncoder{r: d.r, done: make(chan struct{})}, nil
}

type pipeStream struct {
	device *PipeDevice
	once   sync.Once
}

func (s *pipeStream) Stop() {
	s.once.Do(func() {
		s.device.mu.Lock()
		s.device.inUse = false
		s.device.mu.Unlock()
	})
}

// pipeEncoder batches whatever the reader produced and hands it to onData every timeslice.
type pipeEncoder struct {
	r       io.Reader
	mu      sync.Mutex
	pending []byte
	onData  func([]byte)
	stopped bool
	done    chan struct{}
	wg      sync.WaitGroup
}

func (e *pipeEncoder) Start(timeslice time.Duration, onData func([]byte)) error {
	e.mu.Lock()
	e.onData = onData
	e.mu.Unlock()

	// The read loop is not joined on Stop: a blocking reader cannot be interrupted.
	go e.readLoop()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(timeslice)
		defer ticker.Stop()
		for {
			select {
			case <-e.done:
				return
			case <-ticker.C:
				e.flush()
			}
		}
	}()
	return nil
}

func (e *pipeEncoder) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := e.r.Read(buf)
		if n > 0 {
			e.mu.Lock()
			if e.stopped {
				e.mu.Unlock()
				return
			}
			e.pending = append(e.pending, buf[:n]...)
			e.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logrus.WithFields(logrus.Fields{"component": "recorder", "error": err}).Warn("pipe read failed")
			}
			return
		}
	}
}

func (e *pipeEncoder) flush() {
	e.mu.Lock()
	chunk := e.pending
	e.pending = nil
	onData := e.onData
	e.mu.Unlock()
	if len(chunk) > 0 && onData != nil {
		onData(chunk)
	}
}

func (e *pipeEncoder) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	close(e.done)
	e.wg.Wait()
	e.flush()
	return nil
}
