// Package sink receives converted PCM from the frame pump.
package sink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/breeze-rmm/loopback/internal/capture"
	"github.com/breeze-rmm/loopback/internal/logging"
)

var log = logging.L("sink")

// Sink consumes interleaved s16 samples. Start is called once with the
// negotiated format before the first Write; Close is called once at the end
// of the stream, including after a failed Start.
type Sink interface {
	Start(info capture.OutputInfo) error
	Write(samples []int16) error
	Close() error
}

// Encode appends samples to dst as little-endian s16 and returns the
// extended slice.
func Encode(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}

// PCM writes raw s16le to an io.Writer.
type PCM struct {
	w      io.Writer
	closer io.Closer
	buf    []byte
	frames int64
	ch     int
}

// NewPCM returns a sink writing to w. w is closed on Close when it
// implements io.Closer and is not os.Stdout.
func NewPCM(w io.Writer) *PCM {
	p := &PCM{w: w}
	if c, ok := w.(io.Closer); ok && w != os.Stdout {
		p.closer = c
	}
	return p
}

func (p *PCM) Start(info capture.OutputInfo) error {
	p.ch = int(info.ChannelCount)
	log.Debug("pcm sink started", logging.KeyChannels, info.ChannelCount, logging.KeySampleRate, info.SampleRate)
	return nil
}

func (p *PCM) Write(samples []int16) error {
	p.buf = Encode(p.buf[:0], samples)
	if _, err := p.w.Write(p.buf); err != nil {
		return fmt.Errorf("write pcm: %w", err)
	}
	if p.ch > 0 {
		p.frames += int64(len(samples) / p.ch)
	}
	return nil
}

// Frames reports the number of frames written so far.
func (p *PCM) Frames() int64 {
	return p.frames
}

func (p *PCM) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

// Multi fans every call out to all sinks. A failing sink is closed and
// dropped; Write only fails once no sink is left.
type Multi struct {
	sinks []Sink
}

// NewMulti returns a fan-out over sinks.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Start(info capture.OutputInfo) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Start(info); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ErrNoSinks is returned by Multi.Write once every sink has failed.
var ErrNoSinks = errors.New("sink: all sinks failed")

func (m *Multi) Write(samples []int16) error {
	if len(m.sinks) == 0 {
		return ErrNoSinks
	}
	kept := m.sinks[:0]
	for _, s := range m.sinks {
		if err := s.Write(samples); err != nil {
			log.Warn("dropping failed sink", logging.KeyError, err)
			if cerr := s.Close(); cerr != nil {
				log.Debug("closing failed sink", logging.KeyError, cerr)
			}
			continue
		}
		kept = append(kept, s)
	}
	for i := len(kept); i < len(m.sinks); i++ {
		m.sinks[i] = nil
	}
	m.sinks = kept
	if len(m.sinks) == 0 {
		return ErrNoSinks
	}
	return nil
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.sinks = nil
	return errors.Join(errs...)
}
