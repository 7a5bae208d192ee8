// Package wasapitest provides a scripted, in-memory wasapi.Backend that
// records every acquisition and release so tests can assert on leaks and
// double releases without a Windows audio stack.
package wasapitest

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-ole/go-ole"

	"github.com/breeze-rmm/loopback/internal/wasapi"
)

// Ledger counts live handles by label.
type Ledger struct {
	mu       sync.Mutex
	live     map[string]int
	acquired map[string]int
	doubles  []string
	events   []string
}

func newLedger() *Ledger {
	return &Ledger{live: make(map[string]int), acquired: make(map[string]int)}
}

func (l *Ledger) acquire(label string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.live[label]++
	l.acquired[label]++
	l.events = append(l.events, "acquire "+label)
}

func (l *Ledger) release(label string, already bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if already {
		l.doubles = append(l.doubles, label)
		return
	}
	l.live[label]--
	l.events = append(l.events, "release "+label)
}

func (l *Ledger) note(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

// Outstanding lists labels that were acquired more often than released.
func (l *Ledger) Outstanding() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for label, n := range l.live {
		if n != 0 {
			out = append(out, fmt.Sprintf("%s(%d)", label, n))
		}
	}
	sort.Strings(out)
	return out
}

// DoubleReleases lists labels whose handle was released more than once.
func (l *Ledger) DoubleReleases() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.doubles...)
}

// Acquired reports how many handles with label were ever handed out.
func (l *Ledger) Acquired(label string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquired[label]
}

// Events returns the ordered acquire/release/call log.
func (l *Ledger) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// handle is embedded by every fake COM object handed to the engine.
type handle struct {
	ledger   *Ledger
	label    string
	released bool
}

func newHandle(l *Ledger, label string) handle {
	l.acquire(label)
	return handle{ledger: l, label: label}
}

func (h *handle) Release() {
	h.ledger.release(h.label, h.released)
	h.released = true
}

// Backend is a fake wasapi.Backend.
type Backend struct {
	Ledger *Ledger

	// Thread is what ThreadID returns; the zero value means thread 1.
	Thread uint32
	// Foreign makes Initialize report that COM was already initialised on
	// the thread (S_FALSE), so the caller does not own uninitialisation.
	Foreign       bool
	InitErr       error
	EnumeratorErr error
	Enumerator    *Enumerator

	mu            sync.Mutex
	initCalls     int
	uninitCalls   int
	uninitThreads []uint32
}

// NewBackend returns a backend enumerating devices. The first device is the
// default render endpoint.
func NewBackend(devices ...*Device) *Backend {
	b := &Backend{Ledger: newLedger(), Enumerator: &Enumerator{Devices: devices}}
	if len(devices) > 0 {
		b.Enumerator.Default = devices[0]
	}
	return b
}

func (b *Backend) Initialize() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.InitErr != nil {
		return false, b.InitErr
	}
	b.initCalls++
	b.Ledger.note("co_initialize")
	return !b.Foreign, nil
}

func (b *Backend) Uninitialize() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uninitCalls++
	b.uninitThreads = append(b.uninitThreads, b.threadLocked())
	b.Ledger.note("co_uninitialize")
}

func (b *Backend) ThreadID() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.threadLocked()
}

// SetThread switches the thread the backend reports as current.
func (b *Backend) SetThread(id uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Thread = id
}

func (b *Backend) threadLocked() uint32 {
	if b.Thread == 0 {
		return 1
	}
	return b.Thread
}

// InitCalls and UninitCalls report COM lifetime calls.
func (b *Backend) InitCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initCalls
}

func (b *Backend) UninitCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.uninitCalls
}

func (b *Backend) NewEnumerator() (wasapi.DeviceEnumerator, error) {
	if b.EnumeratorErr != nil {
		return nil, b.EnumeratorErr
	}
	return &enumeratorHandle{handle: newHandle(b.Ledger, "enumerator"), e: b.Enumerator, ledger: b.Ledger}, nil
}

// Enumerator scripts IMMDeviceEnumerator behaviour.
type Enumerator struct {
	Devices []*Device
	// Default is returned by DefaultRenderDevice; nil reports
	// E_ELEMENTNOTFOUND like a machine without any render endpoint.
	Default  *Device
	EnumErr  error
	CountErr error
	// ItemErr is returned by Item for index ItemErrAt.
	ItemErr   error
	ItemErrAt uint32
}

type enumeratorHandle struct {
	handle
	e      *Enumerator
	ledger *Ledger
}

func (h *enumeratorHandle) DefaultRenderDevice() (wasapi.Device, error) {
	if h.e.Default == nil {
		return nil, ole.NewError(wasapi.EElementNotFound)
	}
	return h.e.Default.open(h.ledger), nil
}

func (h *enumeratorHandle) ActiveRenderDevices() (wasapi.DeviceCollection, error) {
	if h.e.EnumErr != nil {
		return nil, h.e.EnumErr
	}
	var active []*Device
	for _, d := range h.e.Devices {
		if !d.Inactive {
			active = append(active, d)
		}
	}
	return &collectionHandle{handle: newHandle(h.ledger, "collection"), e: h.e, devices: active, ledger: h.ledger}, nil
}

type collectionHandle struct {
	handle
	e       *Enumerator
	devices []*Device
	ledger  *Ledger
}

func (h *collectionHandle) Count() (uint32, error) {
	if h.e.CountErr != nil {
		return 0, h.e.CountErr
	}
	return uint32(len(h.devices)), nil
}

func (h *collectionHandle) Item(index uint32) (wasapi.Device, error) {
	if h.e.ItemErr != nil && index == h.e.ItemErrAt {
		return nil, h.e.ItemErr
	}
	if int(index) >= len(h.devices) {
		return nil, ole.NewError(wasapi.EInvalidArg)
	}
	return h.devices[index].open(h.ledger), nil
}

// Device scripts one render endpoint.
type Device struct {
	Name        string
	EndpointID  string
	Inactive    bool
	PropertyErr error
	NameErr     error
	ActivateErr error
	Client      *AudioClient
}

// NewDevice returns an active endpoint with a stereo 48kHz float mix format.
func NewDevice(name string) *Device {
	return &Device{
		Name:       name,
		EndpointID: "{0.0.0.00000000}." + name,
		Client:     NewAudioClient(FloatFormat(2, 48000)),
	}
}

func (d *Device) label() string {
	return "device:" + d.Name
}

func (d *Device) open(l *Ledger) *deviceHandle {
	return &deviceHandle{handle: newHandle(l, d.label()), d: d, ledger: l}
}

type deviceHandle struct {
	handle
	d      *Device
	ledger *Ledger
}

func (h *deviceHandle) ID() (string, error) {
	return h.d.EndpointID, nil
}

func (h *deviceHandle) OpenPropertyStore() (wasapi.PropertyStore, error) {
	if h.d.PropertyErr != nil {
		return nil, h.d.PropertyErr
	}
	return &propertyHandle{handle: newHandle(h.ledger, "properties:"+h.d.Name), d: h.d}, nil
}

func (h *deviceHandle) Activate() (wasapi.AudioClient, error) {
	if h.d.ActivateErr != nil {
		return nil, h.d.ActivateErr
	}
	return &audioClientHandle{handle: newHandle(h.ledger, "client:"+h.d.Name), c: h.d.Client, ledger: h.ledger}, nil
}

type propertyHandle struct {
	handle
	d *Device
}

func (h *propertyHandle) FriendlyName() (string, error) {
	if h.d.NameErr != nil {
		return "", h.d.NameErr
	}
	return h.d.Name, nil
}

// FloatFormat returns a WAVE_FORMAT_EXTENSIBLE IEEE float mix format.
func FloatFormat(channels uint16, sampleRate uint32) wasapi.WaveFormat {
	return wasapi.WaveFormat{
		Tag:           wasapi.WaveFormatExtensible,
		Channels:      channels,
		SampleRate:    sampleRate,
		BlockAlign:    4 * channels,
		BitsPerSample: 32,
		SubFormat:     wasapi.SubtypeIEEEFloat,
	}
}

// AudioClient scripts IAudioClient behaviour.
type AudioClient struct {
	Format        wasapi.WaveFormat
	BufferFrames  uint32
	MixFormatErr  error
	InitializeErr error
	BufferSizeErr error
	CaptureErr    error
	StartErr      error
	StopErr       error
	Capture       *CaptureClient

	mu             sync.Mutex
	initialized    bool
	bufferDuration time.Duration
	started        bool
	stopCalls      int
	formatsLive    int
}

// NewAudioClient returns a client negotiating format with an empty capture
// queue.
func NewAudioClient(format wasapi.WaveFormat) *AudioClient {
	return &AudioClient{
		Format:       format,
		BufferFrames: format.SampleRate,
		Capture:      NewCaptureClient(int(format.Channels)),
	}
}

// Started reports whether Start succeeded and Stop has not been called.
func (c *AudioClient) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// StopCalls reports how often Stop was called.
func (c *AudioClient) StopCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopCalls
}

// BufferDuration is the duration passed to Initialize.
func (c *AudioClient) BufferDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bufferDuration
}

// FormatsLive reports mix formats handed out and not yet freed.
func (c *AudioClient) FormatsLive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.formatsLive
}

type audioClientHandle struct {
	handle
	c      *AudioClient
	ledger *Ledger
}

type mixFormat struct {
	c     *AudioClient
	wf    wasapi.WaveFormat
	freed bool
}

func (f *mixFormat) Format() wasapi.WaveFormat {
	return f.wf
}

func (f *mixFormat) Free() {
	if f.freed {
		return
	}
	f.freed = true
	f.c.mu.Lock()
	f.c.formatsLive--
	f.c.mu.Unlock()
}

func (h *audioClientHandle) MixFormat() (wasapi.MixFormat, error) {
	if h.c.MixFormatErr != nil {
		return nil, h.c.MixFormatErr
	}
	h.c.mu.Lock()
	h.c.formatsLive++
	h.c.mu.Unlock()
	return &mixFormat{c: h.c, wf: h.c.Format}, nil
}

func (h *audioClientHandle) Initialize(bufferDuration time.Duration, format wasapi.MixFormat) error {
	if h.c.InitializeErr != nil {
		return h.c.InitializeErr
	}
	if _, ok := format.(*mixFormat); !ok {
		return ole.NewError(wasapi.EInvalidArg)
	}
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	h.c.initialized = true
	h.c.bufferDuration = bufferDuration
	return nil
}

func (h *audioClientHandle) BufferSize() (uint32, error) {
	if h.c.BufferSizeErr != nil {
		return 0, h.c.BufferSizeErr
	}
	return h.c.BufferFrames, nil
}

func (h *audioClientHandle) CaptureClient() (wasapi.CaptureClient, error) {
	if h.c.CaptureErr != nil {
		return nil, h.c.CaptureErr
	}
	return &captureHandle{handle: newHandle(h.ledger, "capture"), c: h.c.Capture}, nil
}

func (h *audioClientHandle) Start() error {
	if h.c.StartErr != nil {
		return h.c.StartErr
	}
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	h.c.started = true
	return nil
}

func (h *audioClientHandle) Stop() error {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	h.c.stopCalls++
	h.c.started = false
	return h.c.StopErr
}

// CaptureClient scripts IAudioCaptureClient: a FIFO of packets that are
// only dequeued once released with their full frame count.
type CaptureClient struct {
	Channels int
	// GetBufferErr, when set, is returned by the next GetBuffer call.
	GetBufferErr error

	mu       sync.Mutex
	packets  []wasapi.Packet
	releases []uint32
	misuse   []string
	pending  bool
}

// NewCaptureClient returns an empty capture queue.
func NewCaptureClient(channels int) *CaptureClient {
	return &CaptureClient{Channels: channels}
}

// Push queues a packet of interleaved samples; len(samples) must be a
// multiple of the channel count.
func (c *CaptureClient) Push(samples []float32, flags uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := uint32(len(samples) / c.Channels)
	c.packets = append(c.packets, wasapi.Packet{Samples: samples, Frames: frames, Flags: flags})
}

// PushFrames queues a packet of n frames whose samples count up from start,
// so tests can check ordering after conversion.
func (c *CaptureClient) PushFrames(n int, start int) int {
	samples := make([]float32, n*c.Channels)
	for i := range samples {
		samples[i] = float32(start+i) / 32768
	}
	c.Push(samples, 0)
	return start + len(samples)
}

// Releases returns the frame counts passed to ReleaseBuffer.
func (c *CaptureClient) Releases() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint32(nil), c.releases...)
}

// Pending reports queued packets not yet fully released.
func (c *CaptureClient) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.packets)
}

// Misuse lists protocol violations such as releasing without a packet.
func (c *CaptureClient) Misuse() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.misuse...)
}

type captureHandle struct {
	handle
	c *CaptureClient
}

func (h *captureHandle) GetBuffer() (wasapi.Packet, error) {
	c := h.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending {
		c.misuse = append(c.misuse, "GetBuffer before ReleaseBuffer")
	}
	if c.GetBufferErr != nil {
		err := c.GetBufferErr
		c.GetBufferErr = nil
		return wasapi.Packet{}, err
	}
	c.pending = true
	if len(c.packets) == 0 {
		return wasapi.Packet{}, ole.NewError(wasapi.AudclntSBufferEmpty)
	}
	return c.packets[0], nil
}

func (h *captureHandle) ReleaseBuffer(frames uint32) error {
	c := h.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pending {
		c.misuse = append(c.misuse, "ReleaseBuffer without GetBuffer")
		return ole.NewError(wasapi.EInvalidArg)
	}
	c.pending = false
	c.releases = append(c.releases, frames)
	if frames == 0 {
		return nil
	}
	if len(c.packets) == 0 || c.packets[0].Frames != frames {
		c.misuse = append(c.misuse, fmt.Sprintf("ReleaseBuffer(%d) does not match packet", frames))
		return ole.NewError(wasapi.EInvalidArg)
	}
	c.packets = c.packets[1:]
	return nil
}
