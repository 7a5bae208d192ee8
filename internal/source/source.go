// Package source maps item identifiers onto loopback capture requests and
// describes the resulting live track.
package source

import (
	"errors"
	"math"
	"strings"
)

// Name is the source name and the bare identifier that selects the default
// render endpoint.
const Name = "loopback"

const devicePrefix = Name + ":"

// ErrNotEncodable is returned when a loopback track is asked to serialise
// itself; a live capture cannot be persisted and replayed.
var ErrNotEncodable = errors.New("source: cannot serialize loopback track")

// Request is a parsed loopback identifier.
type Request struct {
	// Device is the friendly name to capture from; empty means the default
	// render endpoint.
	Device string
}

// Parse recognises "loopback" and "loopback:<device name>". The device name
// is trimmed of surrounding whitespace. ok is false for any other identifier
// so callers can fall through to other sources.
func Parse(identifier string) (req Request, ok bool) {
	if identifier == Name {
		return Request{}, true
	}
	if name, found := strings.CutPrefix(identifier, devicePrefix); found {
		return Request{Device: strings.TrimSpace(name)}, true
	}
	return Request{}, false
}

// Identifier is the inverse of Parse.
func (r Request) Identifier() string {
	if r.Device == "" {
		return Name
	}
	return devicePrefix + r.Device
}

// DeviceName returns the device name as the facade expects it: nil for the
// default endpoint.
func (r Request) DeviceName() *string {
	if r.Device == "" {
		return nil
	}
	name := r.Device
	return &name
}

// UnboundedLength is the length reported for live tracks.
const UnboundedLength = math.MaxInt64

// TrackInfo describes a playable item.
type TrackInfo struct {
	Title      string `json:"title"`
	Author     string `json:"author"`
	Length     int64  `json:"length"`
	Identifier string `json:"identifier"`
	Stream     bool   `json:"isStream"`
}

// Track is a live capture of one output endpoint.
type Track struct {
	Request Request
}

// Info returns the fixed description shared by every loopback track.
func (t Track) Info() TrackInfo {
	return TrackInfo{
		Title:      "Output loopback",
		Author:     "None",
		Length:     UnboundedLength,
		Identifier: Name,
		Stream:     true,
	}
}

// Seekable is always false.
func (Track) Seekable() bool { return false }

// Encodable is always false; see ErrNotEncodable.
func (Track) Encodable() bool { return false }

// Encode always fails with ErrNotEncodable.
func (Track) Encode() ([]byte, error) { return nil, ErrNotEncodable }

// Clone returns an independent track capturing the same endpoint.
func (t Track) Clone() Track { return Track{Request: t.Request} }

// Load returns a track for identifier, or false when the identifier does
// not belong to this source.
func Load(identifier string) (Track, bool) {
	req, ok := Parse(identifier)
	if !ok {
		return Track{}, false
	}
	return Track{Request: req}, true
}
