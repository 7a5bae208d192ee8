package sink

import (
	"bytes"
	"errors"
	"testing"

	"github.com/breeze-rmm/loopback/internal/capture"
)

var stereo = capture.OutputInfo{ChannelCount: 2, SampleRate: 48000}

type closeBuffer struct {
	bytes.Buffer
	closed int
}

func (b *closeBuffer) Close() error {
	b.closed++
	return nil
}

func TestEncodeLittleEndian(t *testing.T) {
	got := Encode(nil, []int16{1, -1, 0x1234, -32768})
	want := []byte{0x01, 0x00, 0xFF, 0xFF, 0x34, 0x12, 0x00, 0x80}
	if !bytes.Equal(got, want) {
		t.Fatalf("Encode = % X, want % X", got, want)
	}
}

func TestPCMSink(t *testing.T) {
	var out closeBuffer
	p := NewPCM(&out)

	if err := p.Start(stereo); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Write([]int16{1, 2, 3, 4}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := p.Write([]int16{5, 6}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if p.Frames() != 3 {
		t.Fatalf("Frames() = %d, want 3", p.Frames())
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := []byte{1, 0, 2, 0, 3, 0, 4, 0, 5, 0, 6, 0}
	if !bytes.Equal(out.Bytes(), want) {
		t.Fatalf("output = % X, want % X", out.Bytes(), want)
	}
	if out.closed != 1 {
		t.Fatalf("writer closed %d times, want 1", out.closed)
	}
}

func TestWAVSink(t *testing.T) {
	var out closeBuffer
	w := NewWAV(&out)

	if err := w.Write([]int16{1}); err == nil {
		t.Fatal("Write before Start should fail")
	}
	if err := w.Start(stereo); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Write([]int16{1, -1, 2, -2}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data := out.Bytes()
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("not a RIFF/WAVE file: % X", data[:min(len(data), 16)])
	}
	if !bytes.HasSuffix(data, []byte{0x01, 0x00, 0xFF, 0xFF, 0x02, 0x00, 0xFE, 0xFF}) {
		t.Fatalf("sample data missing from file tail: % X", data)
	}
	if out.closed != 1 {
		t.Fatalf("writer closed %d times, want 1", out.closed)
	}
}

type recordingSink struct {
	started  []capture.OutputInfo
	writes   [][]int16
	writeErr error
	closed   int
}

func (r *recordingSink) Start(info capture.OutputInfo) error {
	r.started = append(r.started, info)
	return nil
}

func (r *recordingSink) Write(samples []int16) error {
	if r.writeErr != nil {
		return r.writeErr
	}
	r.writes = append(r.writes, append([]int16(nil), samples...))
	return nil
}

func (r *recordingSink) Close() error {
	r.closed++
	return nil
}

func TestMultiDropsFailedSinks(t *testing.T) {
	good := &recordingSink{}
	bad := &recordingSink{writeErr: errors.New("disk full")}
	m := NewMulti(good, bad)

	if err := m.Start(stereo); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(good.started) != 1 || len(bad.started) != 1 {
		t.Fatal("Start not fanned out")
	}

	if err := m.Write([]int16{1, 2}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if bad.closed != 1 {
		t.Fatalf("failed sink closed %d times, want 1", bad.closed)
	}
	if err := m.Write([]int16{3, 4}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(good.writes) != 2 {
		t.Fatalf("good sink saw %d writes, want 2", len(good.writes))
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if good.closed != 1 || bad.closed != 1 {
		t.Fatalf("close counts good=%d bad=%d", good.closed, bad.closed)
	}
}

func TestMultiFailsWhenEmpty(t *testing.T) {
	bad := &recordingSink{writeErr: errors.New("broken pipe")}
	m := NewMulti(bad)

	if err := m.Write([]int16{1, 2}); !errors.Is(err, ErrNoSinks) {
		t.Fatalf("Write error = %v, want ErrNoSinks", err)
	}
	if err := NewMulti().Write(nil); !errors.Is(err, ErrNoSinks) {
		t.Fatalf("empty Multi Write error = %v", err)
	}
}
