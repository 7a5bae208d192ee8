package source

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		identifier string
		ok         bool
		device     string
	}{
		{"loopback", true, ""},
		{"loopback:Speakers", true, "Speakers"},
		{"loopback:  Headphones (USB) \t", true, "Headphones (USB)"},
		{"loopback:", true, ""},
		{"loopback:   ", true, ""},
		{"Loopback", false, ""},
		{"loopbacks", false, ""},
		{" loopback", false, ""},
		{"https://example.com/loopback", false, ""},
		{"", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.identifier, func(t *testing.T) {
			req, ok := Parse(tt.identifier)
			if ok != tt.ok {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.identifier, ok, tt.ok)
			}
			if req.Device != tt.device {
				t.Fatalf("Parse(%q) device = %q, want %q", tt.identifier, req.Device, tt.device)
			}
		})
	}
}

func TestIdentifierRoundTrip(t *testing.T) {
	for _, id := range []string{"loopback", "loopback:Speakers"} {
		req, _ := Parse(id)
		if got := req.Identifier(); got != id {
			t.Fatalf("Identifier() = %q, want %q", got, id)
		}
	}
}

func TestDeviceName(t *testing.T) {
	if (Request{}).DeviceName() != nil {
		t.Fatal("default request must map to a nil device name")
	}
	name := Request{Device: "HDMI"}.DeviceName()
	if name == nil || *name != "HDMI" {
		t.Fatalf("DeviceName() = %v", name)
	}
}

func TestTrack(t *testing.T) {
	track, ok := Load("loopback:Speakers")
	if !ok {
		t.Fatal("Load rejected a loopback identifier")
	}

	info := track.Info()
	if info.Title != "Output loopback" || info.Author != "None" || info.Identifier != "loopback" {
		t.Fatalf("info = %+v", info)
	}
	if !info.Stream || info.Length != UnboundedLength {
		t.Fatalf("live track must be an unbounded stream: %+v", info)
	}
	if track.Seekable() || track.Encodable() {
		t.Fatal("loopback tracks are neither seekable nor encodable")
	}
	if _, err := track.Encode(); !errors.Is(err, ErrNotEncodable) {
		t.Fatalf("Encode() error = %v", err)
	}
	if clone := track.Clone(); clone.Request != track.Request {
		t.Fatalf("clone = %+v", clone)
	}

	if _, ok := Load("ytsearch:loopback"); ok {
		t.Fatal("Load accepted a foreign identifier")
	}
}
