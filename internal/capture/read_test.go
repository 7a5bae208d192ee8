package capture

import (
	"testing"

	"github.com/go-ole/go-ole"

	"github.com/breeze-rmm/loopback/internal/status"
	"github.com/breeze-rmm/loopback/internal/wasapi"
	"github.com/breeze-rmm/loopback/internal/wasapi/wasapitest"
)

func startedSession(t *testing.T, channels uint16) (*Session, *wasapitest.Backend, *wasapitest.CaptureClient) {
	t.Helper()
	dev := wasapitest.NewDevice("Speakers")
	dev.Client = wasapitest.NewAudioClient(wasapitest.FloatFormat(channels, 48000))
	backend := wasapitest.NewBackend(dev)

	s := NewSession(backend)
	if _, err := s.Initialise(""); err != nil {
		t.Fatalf("Initialise: %v", err)
	}
	return s, backend, dev.Client.Capture
}

func assertReleases(t *testing.T, c *wasapitest.CaptureClient, want ...uint32) {
	t.Helper()
	got := c.Releases()
	if len(got) != len(want) {
		t.Fatalf("releases = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("releases = %v, want %v", got, want)
		}
	}
}

func TestReadReassemblesSplitPackets(t *testing.T) {
	s, backend, c := startedSession(t, 2)

	next := c.PushFrames(3, 0)
	next = c.PushFrames(5, next)
	c.PushFrames(2, next)

	var got []int16
	dst := make([]int16, 12)

	n, err := s.Read(dst)
	if err != nil || n != 12 {
		t.Fatalf("first Read = (%d, %v), want (12, nil)", n, err)
	}
	got = append(got, dst[:n]...)

	n, err = s.Read(dst)
	if err != nil || n != 8 {
		t.Fatalf("second Read = (%d, %v), want (8, nil)", n, err)
	}
	got = append(got, dst[:n]...)

	n, err = s.Read(dst)
	if err != nil || n != 0 {
		t.Fatalf("third Read = (%d, %v), want (0, nil)", n, err)
	}

	if len(got) != 20 {
		t.Fatalf("read %d samples, want 20", len(got))
	}
	for i, v := range got {
		if v != int16(i) {
			t.Fatalf("sample %d = %d, want %d", i, v, i)
		}
	}

	assertReleases(t, c, 3, 0, 5, 2, 0, 0)
	if c.Pending() != 0 {
		t.Fatalf("%d packets left with the OS", c.Pending())
	}
	if m := c.Misuse(); len(m) != 0 {
		t.Fatalf("capture client misuse: %v", m)
	}

	s.Shutdown()
	assertClean(t, backend)
}

func TestReadSmallBufferWalksOnePacket(t *testing.T) {
	s, _, c := startedSession(t, 2)
	defer s.Shutdown()

	c.PushFrames(5, 0)
	dst := make([]int16, 4)

	var sizes []int
	var got []int16
	for i := 0; i < 4; i++ {
		n, err := s.Read(dst)
		if err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
		sizes = append(sizes, n)
		got = append(got, dst[:n]...)
	}

	want := []int{4, 4, 2, 0}
	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("read sizes = %v, want %v", sizes, want)
		}
	}
	for i, v := range got {
		if v != int16(i) {
			t.Fatalf("sample %d = %d, want %d", i, v, i)
		}
	}
	assertReleases(t, c, 0, 0, 5, 0, 0)
	if m := c.Misuse(); len(m) != 0 {
		t.Fatalf("capture client misuse: %v", m)
	}
}

func TestReadEmptyBufferReturnsZero(t *testing.T) {
	s, _, c := startedSession(t, 2)
	defer s.Shutdown()

	n, err := s.Read(make([]int16, 8))
	if err != nil || n != 0 {
		t.Fatalf("Read = (%d, %v), want (0, nil)", n, err)
	}
	assertReleases(t, c, 0)
}

func TestReadZeroCapacity(t *testing.T) {
	s, _, c := startedSession(t, 2)
	defer s.Shutdown()

	c.PushFrames(1, 0)
	n, err := s.Read(nil)
	if err != nil || n != 0 {
		t.Fatalf("Read(nil) = (%d, %v), want (0, nil)", n, err)
	}
	assertReleases(t, c)
	if c.Pending() != 1 {
		t.Fatal("zero-capacity read consumed a packet")
	}
}

func TestReadRejectsPartialFrames(t *testing.T) {
	s, _, c := startedSession(t, 2)
	defer s.Shutdown()

	c.PushFrames(4, 0)
	dst := []int16{-7, -7, -7, -7, -7}

	n, err := s.Read(dst)
	assertKind(t, err, status.InvalidBufferSize)
	if n != 0 {
		t.Fatalf("wrote %d samples on invalid size", n)
	}
	for _, v := range dst {
		if v != -7 {
			t.Fatalf("destination modified: %v", dst)
		}
	}
	assertReleases(t, c)
}

func TestReadSixChannels(t *testing.T) {
	s, _, c := startedSession(t, 6)
	defer s.Shutdown()

	c.PushFrames(2, 0)

	if _, err := s.Read(make([]int16, 8)); status.KindOf(err) != status.InvalidBufferSize {
		t.Fatalf("8 samples on 6 channels: got %v", err)
	}
	dst := make([]int16, 12)
	n, err := s.Read(dst)
	if err != nil || n != 12 {
		t.Fatalf("Read = (%d, %v), want (12, nil)", n, err)
	}
	if dst[11] != 11 {
		t.Fatalf("last sample = %d, want 11", dst[11])
	}
}

func TestReadForwardsSilentPacketsLiterally(t *testing.T) {
	s, _, c := startedSession(t, 2)
	defer s.Shutdown()

	c.Push([]float32{100.0 / 32768, -100.0 / 32768, 200.0 / 32768, -200.0 / 32768}, wasapi.BufferFlagsSilent|wasapi.BufferFlagsDataDiscontinuity)

	dst := make([]int16, 4)
	n, err := s.Read(dst)
	if err != nil || n != 4 {
		t.Fatalf("Read = (%d, %v)", n, err)
	}
	want := []int16{100, -100, 200, -200}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("samples = %v, want %v", dst, want)
		}
	}
}

func TestReadConvertsNormalisedSamples(t *testing.T) {
	s, _, c := startedSession(t, 1)
	defer s.Shutdown()

	c.Push([]float32{40000.0 / 32768, -40000.0 / 32768, 1.9 / 32768, -1.9 / 32768, 32767.0 / 32768, -1}, 0)

	dst := make([]int16, 6)
	if _, err := s.Read(dst); err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []int16{32767, -32768, 1, -1, 32767, -32768}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("samples = %v, want %v", dst, want)
		}
	}
}

func TestReadZeroFramePacketStops(t *testing.T) {
	s, _, c := startedSession(t, 2)
	defer s.Shutdown()

	c.Push(nil, 0)
	c.PushFrames(1, 0)

	n, err := s.Read(make([]int16, 4))
	if err != nil || n != 0 {
		t.Fatalf("Read = (%d, %v), want (0, nil)", n, err)
	}
	assertReleases(t, c, 0)
}

func TestReadCaptureFailure(t *testing.T) {
	s, backend, c := startedSession(t, 2)

	c.PushFrames(1, 0)
	n, err := s.Read(make([]int16, 2))
	if err != nil || n != 2 {
		t.Fatalf("Read = (%d, %v)", n, err)
	}

	c.GetBufferErr = ole.NewError(wasapi.AudclntEDeviceInvalidated)
	n, err = s.Read(make([]int16, 2))
	assertKind(t, err, status.CaptureBuffer)
	if n != 0 {
		t.Fatalf("wrote %d samples on failure", n)
	}
	if !status.IsDeviceInvalidated(err) {
		t.Fatalf("expected device invalidated, got %v", err)
	}
	if status.Encode(err) != status.DeviceInvalidated {
		t.Fatalf("encoded = 0x%016X", uint64(status.Encode(err)))
	}
	if uint64(status.DeviceInvalidated) != 0x8000001388890004 {
		t.Fatalf("device invalidated status = 0x%016X", uint64(status.DeviceInvalidated))
	}

	s.Shutdown()
	assertClean(t, backend)
}

func TestReadAfterShutdown(t *testing.T) {
	s, _, _ := startedSession(t, 2)
	s.Shutdown()

	_, err := s.Read(make([]int16, 2))
	assertKind(t, err, status.NotInitialised)
}
