// Package loopback is the flat, handle-based surface of the capture engine.
// Every call takes an opaque Handle and plain buffers and reports its outcome
// as a packed int64 status: non-negative values are successes (a sample
// count for Read), negative values carry the error kind in bits 32..62 and,
// for failed OS calls, the raw HRESULT in the low 32 bits.
package loopback

import (
	"sync"
	"unicode/utf16"

	"github.com/breeze-rmm/loopback/internal/capture"
	"github.com/breeze-rmm/loopback/internal/status"
	"github.com/breeze-rmm/loopback/internal/wasapi"
)

// Handle identifies a session created by a Registry. The zero Handle never
// refers to a session.
type Handle uint64

// OutputInfoSize is the minimum length of the buffer passed to Initialise.
const OutputInfoSize = capture.OutputInfoSize

// DeviceInvalidated is the status Read returns once the captured endpoint
// has disappeared. Callers treat it as end of stream.
var DeviceInvalidated = status.DeviceInvalidated

// Registry owns the sessions behind handles. Calls for different handles
// may run concurrently; calls for one handle must be serialised by the
// caller and, with the Windows backend, made from one OS thread.
type Registry struct {
	backend wasapi.Backend
	opts    []capture.Option

	mu       sync.Mutex
	next     Handle
	sessions map[Handle]*capture.Session
}

// NewRegistry returns a registry whose sessions run on backend.
func NewRegistry(backend wasapi.Backend, opts ...capture.Option) *Registry {
	return &Registry{
		backend:  backend,
		opts:     opts,
		sessions: make(map[Handle]*capture.Session),
	}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default is the registry used by the package-level functions.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(wasapi.Default())
	})
	return defaultRegistry
}

// Create registers an empty session and returns its handle. It never fails.
func (r *Registry) Create() Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.sessions[r.next] = capture.NewSession(r.backend, r.opts...)
	return r.next
}

func (r *Registry) lookup(h Handle) *capture.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[h]
}

// Initialise starts capture on h and writes the negotiated format into
// outputInfo as two little-endian int32 values: channel count, then sample
// rate. A nil deviceName selects the default render endpoint; otherwise the
// first active endpoint whose friendly name equals *deviceName is used, so
// an empty name only matches an endpoint with an empty friendly name.
func (r *Registry) Initialise(h Handle, outputInfo []byte, deviceName *string) int64 {
	if outputInfo == nil {
		return status.Local(status.InvalidBuffer)
	}
	if len(outputInfo) < OutputInfoSize {
		return status.Local(status.InvalidBufferCapacity)
	}

	info, err := r.lookup(h).InitialiseDevice(deviceName)
	if err != nil {
		return status.Encode(err)
	}
	info.Put(outputInfo)
	return 0
}

// InitialiseUTF16 is Initialise with the device name as UTF-16 code units,
// optionally NUL-terminated. A nil name selects the default endpoint.
func (r *Registry) InitialiseUTF16(h Handle, outputInfo []byte, deviceName []uint16) int64 {
	if deviceName == nil {
		return r.Initialise(h, outputInfo, nil)
	}
	name := decodeUTF16(deviceName)
	return r.Initialise(h, outputInfo, &name)
}

func decodeUTF16(s []uint16) string {
	for i, c := range s {
		if c == 0 {
			s = s[:i]
			break
		}
	}
	return string(utf16.Decode(s))
}

// Read copies up to sampleCapacity interleaved int16 samples into pcm and
// returns how many were written, or a negative status. sampleCapacity must
// be a multiple of the channel count and no larger than len(pcm).
func (r *Registry) Read(h Handle, pcm []int16, sampleCapacity int) int64 {
	if pcm == nil {
		return status.Local(status.InvalidBuffer)
	}
	if sampleCapacity < 0 || sampleCapacity > len(pcm) {
		return status.Local(status.InvalidBufferCapacity)
	}

	n, err := r.lookup(h).Read(pcm[:sampleCapacity])
	if err != nil {
		return status.Encode(err)
	}
	return int64(n)
}

// Destroy shuts the session down and forgets h. Unknown handles and repeated
// calls are ignored.
func (r *Registry) Destroy(h Handle) {
	r.mu.Lock()
	s := r.sessions[h]
	delete(r.sessions, h)
	r.mu.Unlock()

	s.Shutdown()
}

// Len reports the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Create registers a session in the default registry.
func Create() Handle { return Default().Create() }

// Initialise initialises h in the default registry.
func Initialise(h Handle, outputInfo []byte, deviceName *string) int64 {
	return Default().Initialise(h, outputInfo, deviceName)
}

// InitialiseUTF16 initialises h in the default registry.
func InitialiseUTF16(h Handle, outputInfo []byte, deviceName []uint16) int64 {
	return Default().InitialiseUTF16(h, outputInfo, deviceName)
}

// Read reads from h in the default registry.
func Read(h Handle, pcm []int16, sampleCapacity int) int64 {
	return Default().Read(h, pcm, sampleCapacity)
}

// Destroy destroys h in the default registry.
func Destroy(h Handle) { Default().Destroy(h) }

// Failed reports whether v is an error status.
func Failed(v int64) bool {
	return v < 0
}

// Describe renders an error status for logs, for example
// "loopback: capture_buffer (hresult 0x88890004)".
func Describe(v int64) string {
	kind, code, failed := status.Decode(v)
	if !failed {
		return "ok"
	}
	if code != 0 {
		return (&status.Error{Kind: kind, Code: code, HasCode: true}).Error()
	}
	return status.New(kind).Error()
}
