//go:build windows

package wasapi

import (
	"errors"
	"time"
	"unsafe"

	"github.com/go-ole/go-ole"
	"github.com/moutend/go-wca/pkg/wca"
	"golang.org/x/sys/windows"
)

var (
	ole32DLL             = windows.NewLazySystemDLL("ole32.dll")
	procPropVariantClear = ole32DLL.NewProc("PropVariantClear")
)

// Offset of SubFormat inside WAVEFORMATEXTENSIBLE (the structure is packed,
// so it cannot be mirrored by a Go struct embedding WAVEFORMATEX).
const subFormatOffset = 24

type comBackend struct{}

// Default returns the COM-backed implementation.
func Default() Backend {
	return comBackend{}
}

func (comBackend) Initialize() (bool, error) {
	err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED)
	if err == nil {
		return true, nil
	}
	var oleErr *ole.OleError
	if errors.As(err, &oleErr) && oleErr.Code() == SFalse {
		return false, nil
	}
	return false, err
}

func (comBackend) Uninitialize() {
	ole.CoUninitialize()
}

func (comBackend) ThreadID() uint32 {
	return windows.GetCurrentThreadId()
}

func (comBackend) NewEnumerator() (DeviceEnumerator, error) {
	var mmde *wca.IMMDeviceEnumerator
	if err := wca.CoCreateInstance(wca.CLSID_MMDeviceEnumerator, 0, wca.CLSCTX_ALL, wca.IID_IMMDeviceEnumerator, &mmde); err != nil {
		return nil, err
	}
	return &comEnumerator{mmde: mmde}, nil
}

type comEnumerator struct {
	mmde *wca.IMMDeviceEnumerator
}

func (e *comEnumerator) DefaultRenderDevice() (Device, error) {
	var mmd *wca.IMMDevice
	if err := e.mmde.GetDefaultAudioEndpoint(wca.ERender, wca.EConsole, &mmd); err != nil {
		return nil, err
	}
	return &comDevice{mmd: mmd}, nil
}

func (e *comEnumerator) ActiveRenderDevices() (DeviceCollection, error) {
	var dco *wca.IMMDeviceCollection
	if err := e.mmde.EnumAudioEndpoints(wca.ERender, wca.DEVICE_STATE_ACTIVE, &dco); err != nil {
		return nil, err
	}
	return &comCollection{dco: dco}, nil
}

func (e *comEnumerator) Release() {
	e.mmde.Release()
}

type comCollection struct {
	dco *wca.IMMDeviceCollection
}

func (c *comCollection) Count() (uint32, error) {
	var count uint32
	if err := c.dco.GetCount(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (c *comCollection) Item(index uint32) (Device, error) {
	var mmd *wca.IMMDevice
	if err := c.dco.Item(index, &mmd); err != nil {
		return nil, err
	}
	return &comDevice{mmd: mmd}, nil
}

func (c *comCollection) Release() {
	c.dco.Release()
}

type comDevice struct {
	mmd *wca.IMMDevice
}

func (d *comDevice) ID() (string, error) {
	var id string
	if err := d.mmd.GetId(&id); err != nil {
		return "", err
	}
	return id, nil
}

func (d *comDevice) OpenPropertyStore() (PropertyStore, error) {
	var ps *wca.IPropertyStore
	if err := d.mmd.OpenPropertyStore(wca.STGM_READ, &ps); err != nil {
		return nil, err
	}
	return &comPropertyStore{ps: ps}, nil
}

func (d *comDevice) Activate() (AudioClient, error) {
	var ac *wca.IAudioClient
	if err := d.mmd.Activate(wca.IID_IAudioClient, wca.CLSCTX_ALL, nil, &ac); err != nil {
		return nil, err
	}
	return &comAudioClient{ac: ac}, nil
}

func (d *comDevice) Release() {
	d.mmd.Release()
}

type comPropertyStore struct {
	ps *wca.IPropertyStore
}

func (p *comPropertyStore) FriendlyName() (string, error) {
	var pv wca.PROPVARIANT
	if err := p.ps.GetValue(&wca.PKEY_Device_FriendlyName, &pv); err != nil {
		return "", err
	}
	defer procPropVariantClear.Call(uintptr(unsafe.Pointer(&pv)))
	return pv.String(), nil
}

func (p *comPropertyStore) Release() {
	p.ps.Release()
}

type comMixFormat struct {
	wfx *wca.WAVEFORMATEX
}

func (f *comMixFormat) Format() WaveFormat {
	wf := WaveFormat{
		Tag:           f.wfx.WFormatTag,
		Channels:      f.wfx.NChannels,
		SampleRate:    f.wfx.NSamplesPerSec,
		BlockAlign:    f.wfx.NBlockAlign,
		BitsPerSample: f.wfx.WBitsPerSample,
	}
	if wf.Tag == WaveFormatExtensible && f.wfx.CbSize >= 22 {
		wf.SubFormat = *(*ole.GUID)(unsafe.Add(unsafe.Pointer(f.wfx), subFormatOffset))
	}
	return wf
}

func (f *comMixFormat) Free() {
	if f.wfx != nil {
		ole.CoTaskMemFree(uintptr(unsafe.Pointer(f.wfx)))
		f.wfx = nil
	}
}

type comAudioClient struct {
	ac       *wca.IAudioClient
	channels int
}

func (c *comAudioClient) MixFormat() (MixFormat, error) {
	var wfx *wca.WAVEFORMATEX
	if err := c.ac.GetMixFormat(&wfx); err != nil {
		return nil, err
	}
	return &comMixFormat{wfx: wfx}, nil
}

func (c *comAudioClient) Initialize(bufferDuration time.Duration, format MixFormat) error {
	mf, ok := format.(*comMixFormat)
	if !ok || mf.wfx == nil {
		return ole.NewError(EInvalidArg)
	}
	err := c.ac.Initialize(
		wca.AUDCLNT_SHAREMODE_SHARED,
		wca.AUDCLNT_STREAMFLAGS_LOOPBACK,
		wca.REFERENCE_TIME(ReferenceTime(bufferDuration)),
		0,
		mf.wfx,
		nil,
	)
	if err != nil {
		return err
	}
	c.channels = int(mf.wfx.NChannels)
	return nil
}

func (c *comAudioClient) BufferSize() (uint32, error) {
	var frames uint32
	if err := c.ac.GetBufferSize(&frames); err != nil {
		return 0, err
	}
	return frames, nil
}

func (c *comAudioClient) CaptureClient() (CaptureClient, error) {
	var acc *wca.IAudioCaptureClient
	if err := c.ac.GetService(wca.IID_IAudioCaptureClient, &acc); err != nil {
		return nil, err
	}
	return &comCaptureClient{acc: acc, channels: c.channels}, nil
}

func (c *comAudioClient) Start() error {
	return c.ac.Start()
}

func (c *comAudioClient) Stop() error {
	return c.ac.Stop()
}

func (c *comAudioClient) Release() {
	c.ac.Release()
}

type comCaptureClient struct {
	acc      *wca.IAudioCaptureClient
	channels int
}

func (c *comCaptureClient) GetBuffer() (Packet, error) {
	var (
		data           *byte
		frames, flags  uint32
		devicePosition uint64
		qpcPosition    uint64
	)
	err := c.acc.GetBuffer(&data, &frames, &flags, &devicePosition, &qpcPosition)
	p := Packet{Frames: frames, Flags: flags}
	if data != nil && frames > 0 {
		p.Samples = unsafe.Slice((*float32)(unsafe.Pointer(data)), int(frames)*c.channels)
	}
	return p, err
}

func (c *comCaptureClient) ReleaseBuffer(frames uint32) error {
	return c.acc.ReleaseBuffer(frames)
}

func (c *comCaptureClient) Release() {
	c.acc.Release()
}
