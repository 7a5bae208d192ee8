package capture

import (
	"github.com/breeze-rmm/loopback/internal/logging"
	"github.com/breeze-rmm/loopback/internal/status"
	"github.com/breeze-rmm/loopback/internal/wasapi"
)

// Read drains captured audio into dst as interleaved int16 samples and
// returns the number of samples written. len(dst) must be a multiple of the
// channel count. Read never waits for audio: it returns as soon as dst is
// full or the OS has nothing more buffered, so 0 with a nil error means
// "nothing available right now".
//
// OS packets and dst are independent: a packet that does not fit is left
// with the OS (released with zero frames) and the remainder is delivered by
// the next call.
func (s *Session) Read(dst []int16) (int, error) {
	if s == nil {
		return 0, status.New(status.NullSession)
	}
	if !s.initialised {
		return 0, status.New(status.NotInitialised)
	}

	channels := s.channels
	capacity := len(dst)
	if capacity%channels != 0 {
		return 0, status.New(status.InvalidBufferSize)
	}

	written := 0
	for written < capacity {
		packet, err := s.captureClient.GetBuffer()
		if err != nil {
			code, ok := status.HRESULT(err)
			if ok && code == wasapi.AudclntSBufferEmpty {
				s.releaseBuffer(packet.Frames)
				break
			}
			if !ok || int32(code) < 0 {
				return written, status.Wrap(status.CaptureBuffer, err)
			}
		}

		// Silent and discontinuity flags are not acted upon; samples are
		// forwarded as delivered.
		frames := packet.Frames
		if frames == 0 {
			s.releaseBuffer(0)
			break
		}

		copyFrames := min((capacity-written)/channels, int(frames-s.packetOffset))
		offset := int(s.packetOffset) * channels
		n := copyFrames * channels

		ConvertInto(dst[written:written+n], packet.Samples[offset:offset+n])

		s.packetOffset += uint32(copyFrames)
		written += n

		if s.packetOffset < frames {
			s.releaseBuffer(0)
			break
		}

		s.packetOffset = 0
		s.releaseBuffer(frames)
	}

	return written, nil
}

func (s *Session) releaseBuffer(frames uint32) {
	if err := s.captureClient.ReleaseBuffer(frames); err != nil {
		s.log.Debug("release buffer failed", "frames", frames, logging.KeyError, err)
	}
}
