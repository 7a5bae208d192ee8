package status

import (
	"errors"
	"fmt"
)

// Kind identifies the stage of the capture engine that failed. The numeric
// values are part of the encoded status and must not be reordered.
type Kind uint32

const (
	None Kind = iota
	CoInitialize
	AcquireEnumerator
	AcquireDevice
	AcquireClient
	GetMixFormat
	InitializeClient
	GetBufferSize
	UnsupportedFormatTag
	UnsupportedFormatSubtype
	AcquireCapture
	ClientStart
	NullSession
	AlreadyInitialised
	NotInitialised
	InvalidBuffer
	InvalidBufferCapacity
	InvalidBlockAlign
	InvalidBufferSize
	CaptureBuffer
	EnumerateDevices
	EnumerateCount
	EnumerateItem
	EnumerateProperty
	EnumerateName
	NoMatch
)

var kindNames = [...]string{
	None:                     "none",
	CoInitialize:             "co_initialize",
	AcquireEnumerator:        "acquire_enumerator",
	AcquireDevice:            "acquire_device",
	AcquireClient:            "acquire_client",
	GetMixFormat:             "get_mix_format",
	InitializeClient:         "initialize_client",
	GetBufferSize:            "get_buffer_size",
	UnsupportedFormatTag:     "unsupported_format_tag",
	UnsupportedFormatSubtype: "unsupported_format_subtype",
	AcquireCapture:           "acquire_capture",
	ClientStart:              "client_start",
	NullSession:              "null_session",
	AlreadyInitialised:       "already_initialised",
	NotInitialised:           "not_initialised",
	InvalidBuffer:            "invalid_buffer",
	InvalidBufferCapacity:    "invalid_buffer_capacity",
	InvalidBlockAlign:        "invalid_block_align",
	InvalidBufferSize:        "invalid_buffer_size",
	CaptureBuffer:            "capture_buffer",
	EnumerateDevices:         "enumerate_devices",
	EnumerateCount:           "enumerate_count",
	EnumerateItem:            "enumerate_item",
	EnumerateProperty:        "enumerate_property",
	EnumerateName:            "enumerate_name",
	NoMatch:                  "no_match",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

const (
	failureBit = uint64(1) << 63
	kindMask   = uint64(0x7FFFFFFF)
	codeMask   = uint64(0xFFFFFFFF)
)

// Local packs a locally detected failure. The low 32 bits are zero.
func Local(kind Kind) int64 {
	return int64(failureBit | (uint64(kind)&kindMask)<<32)
}

// Call packs a failure reported by an OS call together with its raw status
// code (HRESULT), zero-extended into the low 32 bits.
func Call(kind Kind, code uint32) int64 {
	return int64(failureBit | (uint64(kind)&kindMask)<<32 | uint64(code)&codeMask)
}

// Decode splits an encoded status. failed is false for zero and for any
// non-negative value (a sample count returned by a read).
func Decode(v int64) (kind Kind, code uint32, failed bool) {
	if v >= 0 {
		return None, 0, false
	}
	u := uint64(v)
	return Kind((u >> 32) & kindMask), uint32(u & codeMask), true
}

// Error is the tagged form of an encoded status used inside the engine.
type Error struct {
	Kind    Kind
	Code    uint32
	HasCode bool
	Err     error
}

// New returns a locally detected error of the given kind.
func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Wrap returns an error of the given kind caused by an OS call. The raw code
// is taken from err when it exposes one (as *ole.OleError does).
func Wrap(kind Kind, err error) *Error {
	e := &Error{Kind: kind, Err: err}
	if code, ok := HRESULT(err); ok {
		e.Code = code
		e.HasCode = true
	}
	return e
}

func (e *Error) Error() string {
	if e.HasCode {
		return fmt.Sprintf("loopback: %s (hresult 0x%08X)", e.Kind, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("loopback: %s: %v", e.Kind, e.Err)
	}
	return "loopback: " + e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the packed 64-bit form of e.
func (e *Error) Status() int64 {
	if e.HasCode {
		return Call(e.Kind, e.Code)
	}
	return Local(e.Kind)
}

type coder interface {
	Code() uintptr
}

// HRESULT extracts the raw status code carried by err, if any.
func HRESULT(err error) (uint32, bool) {
	var c coder
	if errors.As(err, &c) {
		return uint32(c.Code()), true
	}
	return 0, false
}

// Encode maps err onto the packed status convention. A nil error is 0. An
// error that is not a *Error is reported as a capture failure.
func Encode(err error) int64 {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Status()
	}
	if code, ok := HRESULT(err); ok {
		return Call(CaptureBuffer, code)
	}
	return Local(CaptureBuffer)
}

// KindOf returns the kind of err, or None when err carries no kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return None
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// audclntEDeviceInvalidated is AUDCLNT_E_DEVICE_INVALIDATED.
const audclntEDeviceInvalidated = 0x88890004

// DeviceInvalidated is the status a read returns once the endpoint it was
// capturing from has gone away (unplugged, disabled or reconfigured).
var DeviceInvalidated = Call(CaptureBuffer, audclntEDeviceInvalidated)

// IsDeviceInvalidated reports whether err is a capture failure caused by the
// endpoint being invalidated.
func IsDeviceInvalidated(err error) bool {
	return Encode(err) == DeviceInvalidated
}

// FromStatus turns a packed status back into an error, or nil when v is not
// a failure.
func FromStatus(v int64) error {
	kind, code, failed := Decode(v)
	if !failed {
		return nil
	}
	if code != 0 {
		return &Error{Kind: kind, Code: code, HasCode: true}
	}
	return New(kind)
}
