package sink

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/moutend/go-wav"

	"github.com/breeze-rmm/loopback/internal/capture"
)

// WAV collects samples and writes a 16-bit PCM WAV file on Close. The whole
// capture is held in memory until then.
type WAV struct {
	w     io.Writer
	audio *wav.File
	buf   []byte
}

// NewWAV returns a sink that writes the finished file to w. w is closed on
// Close unless it is os.Stdout.
func NewWAV(w io.Writer) *WAV {
	return &WAV{w: w}
}

func (s *WAV) Start(info capture.OutputInfo) error {
	audio, err := wav.New(int(info.SampleRate), 16, int(info.ChannelCount))
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	s.audio = audio
	return nil
}

func (s *WAV) Write(samples []int16) error {
	if s.audio == nil {
		return errors.New("wav sink not started")
	}
	s.buf = Encode(s.buf[:0], samples)
	if _, err := io.Copy(s.audio, bytes.NewReader(s.buf)); err != nil {
		return fmt.Errorf("buffer wav data: %w", err)
	}
	return nil
}

func (s *WAV) Close() error {
	var errs []error
	if s.audio != nil {
		data, err := wav.Marshal(s.audio)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode wav: %w", err))
		} else if _, err := s.w.Write(data); err != nil {
			errs = append(errs, fmt.Errorf("write wav: %w", err))
		} else {
			log.Info("wav written", "bytes", len(data))
		}
		s.audio = nil
	}
	if c, ok := s.w.(io.Closer); ok && s.w != os.Stdout {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
