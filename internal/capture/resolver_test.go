package capture

import (
	"testing"

	"github.com/go-ole/go-ole"

	"github.com/breeze-rmm/loopback/internal/status"
	"github.com/breeze-rmm/loopback/internal/wasapi"
	"github.com/breeze-rmm/loopback/internal/wasapi/wasapitest"
)

func threeDevices() (*wasapitest.Backend, []*wasapitest.Device) {
	devices := []*wasapitest.Device{
		wasapitest.NewDevice("Speakers"),
		wasapitest.NewDevice("Headphones"),
		wasapitest.NewDevice("HDMI"),
	}
	return wasapitest.NewBackend(devices...), devices
}

func TestInitialiseNamedDevice(t *testing.T) {
	backend, devices := threeDevices()

	s := NewSession(backend)
	if _, err := s.Initialise("Headphones"); err != nil {
		t.Fatalf("Initialise: %v", err)
	}
	if !devices[1].Client.Started() {
		t.Fatal("matched device was not started")
	}
	if devices[0].Client.Started() || devices[2].Client.Started() {
		t.Fatal("non-matching device started")
	}

	out := backend.Ledger.Outstanding()
	want := []string{"capture(1)", "client:Headphones(1)", "device:Headphones(1)"}
	if len(out) != len(want) {
		t.Fatalf("outstanding = %v, want %v", out, want)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("outstanding = %v, want %v", out, want)
		}
	}
	if backend.Ledger.Acquired("device:HDMI") != 0 {
		t.Fatal("enumeration continued past the match")
	}

	s.Shutdown()
	assertClean(t, backend)
}

func TestResolveMatchIsExactAndCaseSensitive(t *testing.T) {
	for _, name := range []string{"headphones", "Headphones ", "Head", "Headphones (USB)"} {
		t.Run(name, func(t *testing.T) {
			backend, _ := threeDevices()

			s := NewSession(backend)
			_, err := s.Initialise(name)
			assertKind(t, err, status.NoMatch)
			if got, want := status.Encode(err), status.Local(status.NoMatch); got != want {
				t.Fatalf("encoded = 0x%016X, want 0x%016X", uint64(got), uint64(want))
			}
			assertClean(t, backend)
		})
	}
}

func TestResolveFirstMatchWins(t *testing.T) {
	first := wasapitest.NewDevice("Speakers")
	second := wasapitest.NewDevice("Speakers")
	second.EndpointID = "second"
	backend := wasapitest.NewBackend(wasapitest.NewDevice("HDMI"), first, second)

	s := NewSession(backend)
	if _, err := s.Initialise("Speakers"); err != nil {
		t.Fatalf("Initialise: %v", err)
	}
	defer s.Shutdown()

	if !first.Client.Started() {
		t.Fatal("first matching endpoint should be selected")
	}
	if second.Client.Started() {
		t.Fatal("later duplicate was selected")
	}
}

func TestResolveSkipsInactiveDevices(t *testing.T) {
	backend, devices := threeDevices()
	devices[1].Inactive = true

	s := NewSession(backend)
	_, err := s.Initialise("Headphones")
	assertKind(t, err, status.NoMatch)
	assertClean(t, backend)
}

func TestInitialiseDeviceEmptyNameIsLookup(t *testing.T) {
	backend, devices := threeDevices()

	s := NewSession(backend)
	empty := ""
	_, err := s.InitialiseDevice(&empty)
	assertKind(t, err, status.NoMatch)
	for _, d := range devices {
		if d.Client.Started() {
			t.Fatal("an endpoint was started for an empty name")
		}
	}
	assertClean(t, backend)
}

func TestResolveNoDefaultDevice(t *testing.T) {
	backend := wasapitest.NewBackend()

	s := NewSession(backend)
	_, err := s.Initialise("")
	assertKind(t, err, status.AcquireDevice)

	if got, want := status.Encode(err), status.Call(status.AcquireDevice, wasapi.EElementNotFound); got != want {
		t.Fatalf("encoded = 0x%016X, want 0x%016X", uint64(got), uint64(want))
	}
	assertClean(t, backend)
}

func TestResolveErrorsStopEnumeration(t *testing.T) {
	hr := ole.NewError(0x80004005)

	tests := []struct {
		name  string
		setup func(*wasapitest.Backend, []*wasapitest.Device)
		want  status.Kind
	}{
		{"enumerate", func(b *wasapitest.Backend, _ []*wasapitest.Device) { b.Enumerator.EnumErr = hr }, status.EnumerateDevices},
		{"count", func(b *wasapitest.Backend, _ []*wasapitest.Device) { b.Enumerator.CountErr = hr }, status.EnumerateCount},
		{"item", func(b *wasapitest.Backend, _ []*wasapitest.Device) {
			b.Enumerator.ItemErr = hr
			b.Enumerator.ItemErrAt = 1
		}, status.EnumerateItem},
		{"property store", func(_ *wasapitest.Backend, d []*wasapitest.Device) { d[0].PropertyErr = hr }, status.EnumerateProperty},
		{"friendly name", func(_ *wasapitest.Backend, d []*wasapitest.Device) { d[0].NameErr = hr }, status.EnumerateName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, devices := threeDevices()
			tt.setup(backend, devices)

			s := NewSession(backend)
			_, err := s.Initialise("HDMI")
			assertKind(t, err, tt.want)

			if got, want := status.Encode(err), status.Call(tt.want, 0x80004005); got != want {
				t.Fatalf("encoded = 0x%016X, want 0x%016X", uint64(got), uint64(want))
			}
			if backend.Ledger.Acquired("device:HDMI") != 0 {
				t.Fatal("enumeration continued after an error")
			}
			assertClean(t, backend)
		})
	}
}

func TestListDevices(t *testing.T) {
	backend, devices := threeDevices()
	backend.Enumerator.Default = devices[1]

	list, err := ListDevices(backend)
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("listed %d devices, want 3", len(list))
	}
	for i, info := range list {
		if info.Name != devices[i].Name || info.ID != devices[i].EndpointID {
			t.Fatalf("device %d = %+v", i, info)
		}
		if info.Default != (i == 1) {
			t.Fatalf("device %d default = %v", i, info.Default)
		}
	}
	if backend.UninitCalls() != 1 {
		t.Fatalf("UninitCalls = %d, want 1", backend.UninitCalls())
	}
	assertClean(t, backend)
}

func TestListDevicesPropagatesNameError(t *testing.T) {
	backend, devices := threeDevices()
	devices[2].NameErr = ole.NewError(0x80004005)

	_, err := ListDevices(backend)
	assertKind(t, err, status.EnumerateName)
	assertClean(t, backend)
}
