package capture

import (
	"github.com/breeze-rmm/loopback/internal/status"
	"github.com/breeze-rmm/loopback/internal/wasapi"
)

// DeviceInfo describes an active render endpoint that can be captured.
type DeviceInfo struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Default bool   `json:"default" yaml:"default"`
}

// ListDevices enumerates the active render endpoints, marking the default
// one. COM is initialised for the duration of the call when needed; the
// caller must stay on one OS thread.
func ListDevices(backend wasapi.Backend) ([]DeviceInfo, error) {
	owner, err := backend.Initialize()
	if err != nil {
		return nil, status.Wrap(status.CoInitialize, err)
	}
	if owner {
		defer backend.Uninitialize()
	}

	enum, err := backend.NewEnumerator()
	if err != nil {
		return nil, status.Wrap(status.AcquireEnumerator, err)
	}
	defer enum.Release()

	defaultID := ""
	if device, err := enum.DefaultRenderDevice(); err == nil {
		defaultID, _ = device.ID()
		device.Release()
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

	devices := make([]DeviceInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		info, err := describe(collection, i)
		if err != nil {
			return nil, err
		}
		info.Default = info.ID != "" && info.ID == defaultID
		devices = append(devices, info)
	}
	return devices, nil
}

func describe(collection wasapi.DeviceCollection, index uint32) (DeviceInfo, error) {
	device, err := collection.Item(index)
	if err != nil {
		return DeviceInfo{}, status.Wrap(status.EnumerateItem, err)
	}
	defer device.Release()

	name, err := friendlyName(device)
	if err != nil {
		return DeviceInfo{}, err
	}
	id, _ := device.ID()
	return DeviceInfo{ID: id, Name: name}, nil
}
