//go:build !windows

package wasapi

import "github.com/go-ole/go-ole"

type unsupportedBackend struct{}

// Default returns a backend that fails COM initialisation with E_NOTIMPL;
// loopback capture is only available on Windows.
func Default() Backend {
	return unsupportedBackend{}
}

func (unsupportedBackend) Initialize() (bool, error) {
	return false, ole.NewError(ENotImpl)
}

func (unsupportedBackend) Uninitialize() {}

func (unsupportedBackend) ThreadID() uint32 {
	return 1
}

func (unsupportedBackend) NewEnumerator() (DeviceEnumerator, error) {
	return nil, ole.NewError(ENotImpl)
}
