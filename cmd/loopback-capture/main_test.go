package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/loopback/internal/capture"
	"github.com/breeze-rmm/loopback/internal/config"
	"github.com/breeze-rmm/loopback/internal/source"
)

var sampleDevices = []capture.DeviceInfo{
	{ID: "{0.0.0.00000000}.a", Name: "Speakers", Default: true},
	{ID: "{0.0.0.00000000}.b", Name: "HDMI"},
}

func TestPrintDevicesText(t *testing.T) {
	var buf bytes.Buffer
	if err := printDevices(&buf, sampleDevices, "text"); err != nil {
		t.Fatalf("printDevices: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"NAME", "loopback:Speakers", "loopback:HDMI", "*"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintDevicesStructured(t *testing.T) {
	var buf bytes.Buffer
	if err := printDevices(&buf, sampleDevices, "json"); err != nil {
		t.Fatalf("json: %v", err)
	}
	var fromJSON []capture.DeviceInfo
	if err := json.Unmarshal(buf.Bytes(), &fromJSON); err != nil || len(fromJSON) != 2 || !fromJSON[0].Default {
		t.Fatalf("json output = %s (%v)", buf.String(), err)
	}

	buf.Reset()
	if err := printDevices(&buf, sampleDevices, "yaml"); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	var fromYAML []capture.DeviceInfo
	if err := yaml.Unmarshal(buf.Bytes(), &fromYAML); err != nil || len(fromYAML) != 2 || fromYAML[1].Name != "HDMI" {
		t.Fatalf("yaml output = %s (%v)", buf.String(), err)
	}

	if err := printDevices(&buf, sampleDevices, "xml"); err == nil {
		t.Fatal("unknown format accepted")
	}
}

func TestResolveRequest(t *testing.T) {
	cfg := config.Default()
	cfg.Device = "Headphones"

	req, err := resolveRequest(nil, cfg)
	if err != nil || req.Device != "Headphones" {
		t.Fatalf("from config: %+v, %v", req, err)
	}

	req, err = resolveRequest([]string{"loopback"}, cfg)
	if err != nil || req != (source.Request{}) {
		t.Fatalf("bare identifier: %+v, %v", req, err)
	}

	if _, err := resolveRequest([]string{"speakers"}, cfg); err == nil {
		t.Fatal("non-loopback identifier accepted")
	}
}

func TestIdleWait(t *testing.T) {
	cfg := config.Default()
	if idleWait(cfg) != cfg.IdleWait() {
		t.Fatalf("idleWait = %v", idleWait(cfg))
	}
	cfg.IdleWaitMs = 0
	if idleWait(cfg) >= 0 {
		t.Fatal("zero idle wait must disable the back-off")
	}
}

func TestSetDuration(t *testing.T) {
	tests := []struct {
		in      time.Duration
		want    time.Duration
		wantErr bool
	}{
		{0, 0, false},
		{500 * time.Millisecond, 500 * time.Millisecond, false},
		{1500 * time.Millisecond, 1500 * time.Millisecond, false},
		{2 * time.Minute, 2 * time.Minute, false},
		{time.Microsecond, 0, true},
		{-time.Second, 0, true},
	}
	for _, tt := range tests {
		cfg := config.Default()
		err := setDuration(cfg, tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("setDuration(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err == nil && cfg.Duration() != tt.want {
			t.Fatalf("setDuration(%v): Duration() = %v, want %v", tt.in, cfg.Duration(), tt.want)
		}
	}
}

func TestCaptureFlagsKeepSubSecondDuration(t *testing.T) {
	if err := captureCmd.Flags().Set("duration", "500ms"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	defer captureCmd.Flags().Set("duration", "0")

	cfg := config.Default()
	if err := applyCaptureFlags(captureCmd, cfg); err != nil {
		t.Fatalf("applyCaptureFlags: %v", err)
	}
	if cfg.Duration() != 500*time.Millisecond {
		t.Fatalf("Duration() = %v, want 500ms", cfg.Duration())
	}
}

func TestDevicesRejectsUnknownOutputFirst(t *testing.T) {
	defer func(prev string) { devicesOutput = prev }(devicesOutput)
	devicesOutput = "xml"

	err := devicesCmd.RunE(devicesCmd, nil)
	if err == nil || !strings.Contains(err.Error(), "unknown output format") {
		t.Fatalf("RunE = %v, want unknown output format", err)
	}
	if err := checkDevicesOutput("yaml"); err != nil {
		t.Fatalf("yaml rejected: %v", err)
	}
}
