// Package wasapi describes the slice of the Windows Audio Session API the
// capture engine drives, so the engine can run against the real COM objects
// or against a scripted fake.
package wasapi

import (
	"time"

	"github.com/go-ole/go-ole"
)

// HRESULT values the engine reacts to.
const (
	SOK                       = 0x00000000
	SFalse                    = 0x00000001
	AudclntSBufferEmpty       = 0x08890001
	AudclntEDeviceInvalidated = 0x88890004
	ENotImpl                  = 0x80004001
	EInvalidArg               = 0x80070057
	EElementNotFound          = 0x80070490
	RPCEChangedMode           = 0x80010106
)

// Wave format tags.
const (
	WaveFormatPCM        = 0x0001
	WaveFormatIEEEFloat  = 0x0003
	WaveFormatExtensible = 0xFFFE
)

// Buffer flags reported with a capture packet.
const (
	BufferFlagsDataDiscontinuity = 0x1
	BufferFlagsSilent            = 0x2
	BufferFlagsTimestampError    = 0x4
)

// SubtypeIEEEFloat is KSDATAFORMAT_SUBTYPE_IEEE_FLOAT.
var SubtypeIEEEFloat = ole.GUID{
	Data1: 0x00000003,
	Data2: 0x0000,
	Data3: 0x0010,
	Data4: [8]byte{0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71},
}

// SubtypePCM is KSDATAFORMAT_SUBTYPE_PCM.
var SubtypePCM = ole.GUID{
	Data1: 0x00000001,
	Data2: 0x0000,
	Data3: 0x0010,
	Data4: [8]byte{0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71},
}

// WaveFormat is a copy of the WAVEFORMATEXTENSIBLE fields the engine reads.
// SubFormat is only meaningful when Tag is WaveFormatExtensible.
type WaveFormat struct {
	Tag           uint16
	Channels      uint16
	SampleRate    uint32
	BlockAlign    uint16
	BitsPerSample uint16
	SubFormat     ole.GUID
}

// MixFormat is the engine mix format as returned by the OS. The memory
// behind it belongs to the COM task allocator until Free is called.
type MixFormat interface {
	Format() WaveFormat
	Free()
}

// Packet is one chunk handed out by IAudioCaptureClient::GetBuffer. Samples
// holds Frames*channels interleaved float samples and is only valid until
// the packet is released.
type Packet struct {
	Samples []float32
	Frames  uint32
	Flags   uint32
}

// Backend is the process-level entry point: COM lifetime for the calling
// thread and creation of device enumerators.
type Backend interface {
	// Initialize initialises COM on the calling thread. owner is true only
	// when this call performed the first initialisation on the thread.
	Initialize() (owner bool, err error)
	Uninitialize()
	// ThreadID identifies the calling OS thread. Never zero.
	ThreadID() uint32
	NewEnumerator() (DeviceEnumerator, error)
}

// DeviceEnumerator is IMMDeviceEnumerator restricted to render endpoints.
type DeviceEnumerator interface {
	DefaultRenderDevice() (Device, error)
	ActiveRenderDevices() (DeviceCollection, error)
	Release()
}

// DeviceCollection is IMMDeviceCollection.
type DeviceCollection interface {
	Count() (uint32, error)
	Item(index uint32) (Device, error)
	Release()
}

// Device is IMMDevice.
type Device interface {
	ID() (string, error)
	OpenPropertyStore() (PropertyStore, error)
	Activate() (AudioClient, error)
	Release()
}

// PropertyStore is IPropertyStore opened for reading.
type PropertyStore interface {
	FriendlyName() (string, error)
	Release()
}

// AudioClient is IAudioClient. Initialize always uses shared mode with the
// loopback stream flag.
type AudioClient interface {
	MixFormat() (MixFormat, error)
	Initialize(bufferDuration time.Duration, format MixFormat) error
	BufferSize() (uint32, error)
	CaptureClient() (CaptureClient, error)
	Start() error
	Stop() error
	Release()
}

// CaptureClient is IAudioCaptureClient. GetBuffer reports
// AUDCLNT_S_BUFFER_EMPTY as an error carrying that code, the same way the
// COM bindings report every non-S_OK HRESULT.
type CaptureClient interface {
	GetBuffer() (Packet, error)
	ReleaseBuffer(frames uint32) error
	Release()
}

// ReferenceTime converts d to the 100ns units WASAPI uses.
func ReferenceTime(d time.Duration) int64 {
	return int64(d / 100)
}
