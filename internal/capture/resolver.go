package capture

import (
	"github.com/breeze-rmm/loopback/internal/status"
	"github.com/breeze-rmm/loopback/internal/wasapi"
)

// openDevice creates an enumerator, resolves the endpoint and always
// releases the enumerator before returning.
func openDevice(backend wasapi.Backend, name *string) (wasapi.Device, error) {
	enum, err := backend.NewEnumerator()
	if err != nil {
		return nil, status.Wrap(status.AcquireEnumerator, err)
	}
	defer enum.Release()

	return resolveDevice(enum, name)
}

// resolveDevice returns the default render endpoint when name is nil,
// otherwise the first active render endpoint whose friendly name equals
// *name exactly. The returned device is owned by the caller; every other
// handle is released on all paths.
func resolveDevice(enum wasapi.DeviceEnumerator, name *string) (wasapi.Device, error) {
	if name == nil {
		device, err := enum.DefaultRenderDevice()
		if err != nil {
			return nil, status.Wrap(status.AcquireDevice, err)
		}
		return device, nil
	}

	collection, err := enum.ActiveRenderDevices()
	if err != nil {
		return nil, status.Wrap(status.EnumerateDevices, err)
	}
	defer collection.Release()

	count, err := collection.Count()
	if err != nil {
		return nil, status.Wrap(status.EnumerateCount, err)
	}

	for i := uint32(0); i < count; i++ {
		device, err := collection.Item(i)
		if err != nil {
			return nil, status.Wrap(status.EnumerateItem, err)
		}

		matched, err := deviceMatches(device, *name)
		if err == nil && matched {
			return device, nil
		}

		device.Release()
		if err != nil {
			return nil, err
		}
	}

	return nil, status.New(status.NoMatch)
}

func deviceMatches(device wasapi.Device, name string) (bool, error) {
	friendly, err := friendlyName(device)
	if err != nil {
		return false, err
	}
	return friendly == name, nil
}

func friendlyName(device wasapi.Device) (string, error) {
	props, err := device.OpenPropertyStore()
	if err != nil {
		return "", status.Wrap(status.EnumerateProperty, err)
	}
	defer props.Release()

	name, err := props.FriendlyName()
	if err != nil {
		return "", status.Wrap(status.EnumerateName, err)
	}
	return name, nil
}
