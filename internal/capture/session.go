// Package capture implements the loopback capture engine: endpoint
// resolution, mix-format validation, the session lifecycle and the
// packet-draining read loop.
package capture

import (
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/go-ole/go-ole"

	"github.com/breeze-rmm/loopback/internal/logging"
	"github.com/breeze-rmm/loopback/internal/status"
	"github.com/breeze-rmm/loopback/internal/wasapi"
)

var log = logging.L("capture")

// DefaultBufferDuration is the size of the shared-mode ring buffer
// requested from the audio engine.
const DefaultBufferDuration = time.Second

// OutputInfoSize is the size of the OutputInfo wire form.
const OutputInfoSize = 8

// OutputInfo describes the negotiated stream. Samples handed out by Read
// are interleaved ChannelCount at a time at SampleRate frames per second.
type OutputInfo struct {
	ChannelCount int32 `json:"channelCount"`
	SampleRate   int32 `json:"sampleRate"`
}

// Put writes the 8-byte form (int32 channelCount, int32 sampleRate,
// little-endian) into b, which must be at least OutputInfoSize long.
func (o OutputInfo) Put(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(o.ChannelCount))
	binary.LittleEndian.PutUint32(b[4:8], uint32(o.SampleRate))
}

// ParseOutputInfo reads the form written by Put.
func ParseOutputInfo(b []byte) (OutputInfo, bool) {
	if len(b) < OutputInfoSize {
		return OutputInfo{}, false
	}
	return OutputInfo{
		ChannelCount: int32(binary.LittleEndian.Uint32(b[0:4])),
		SampleRate:   int32(binary.LittleEndian.Uint32(b[4:8])),
	}, true
}

// Option configures a Session.
type Option func(*Session)

// WithBufferDuration overrides DefaultBufferDuration.
func WithBufferDuration(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.bufferDuration = d
		}
	}
}

// WithLogger replaces the package logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// Session is one loopback capture stream. It is not safe for concurrent
// use; with the COM backend every call must come from the same OS thread.
type Session struct {
	backend        wasapi.Backend
	bufferDuration time.Duration
	log            *slog.Logger

	device        wasapi.Device
	audioClient   wasapi.AudioClient
	captureClient wasapi.CaptureClient
	format        wasapi.MixFormat
	channels      int

	initialisationStarted bool
	initialised           bool

	// ownerThread is the thread that performed first-time COM
	// initialisation; zero when this session does not own it.
	ownerThread uint32

	bufferFrameCount uint32

	// packetOffset counts frames of the packet currently held by the OS
	// capture client that were already copied out but not yet released.
	packetOffset uint32
}

// NewSession returns an empty session bound to backend.
func NewSession(backend wasapi.Backend, opts ...Option) *Session {
	s := &Session{
		backend:        backend,
		bufferDuration: DefaultBufferDuration,
		log:            log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialise starts capturing from the render endpoint named deviceName, or
// from the default render endpoint when deviceName is empty. It may be
// called once; on failure the session is torn down and stays unusable.
func (s *Session) Initialise(deviceName string) (OutputInfo, error) {
	if deviceName == "" {
		return s.InitialiseDevice(nil)
	}
	return s.InitialiseDevice(&deviceName)
}

// InitialiseDevice is Initialise with the handle-level naming rule: nil
// selects the default render endpoint and any other value, including the
// empty string, is looked up by friendly name.
func (s *Session) InitialiseDevice(deviceName *string) (OutputInfo, error) {
	if s == nil {
		return OutputInfo{}, status.New(status.NullSession)
	}
	if s.initialisationStarted {
		return OutputInfo{}, status.New(status.AlreadyInitialised)
	}
	s.initialisationStarted = true

	label := "default"
	if deviceName != nil {
		label = *deviceName
	}

	if err := s.initialise(deviceName); err != nil {
		s.log.Warn("loopback initialisation failed",
			logging.KeyDevice, label,
			logging.KeyKind, status.KindOf(err).String(),
			logging.KeyError, err)
		s.Shutdown()
		return OutputInfo{}, err
	}

	format := s.format.Format()
	s.channels = int(format.Channels)
	s.initialised = true

	info := OutputInfo{
		ChannelCount: int32(format.Channels),
		SampleRate:   int32(format.SampleRate),
	}
	s.log.Info("loopback capture started",
		logging.KeyDevice, label,
		logging.KeyChannels, info.ChannelCount,
		logging.KeySampleRate, info.SampleRate,
		"bufferFrames", s.bufferFrameCount)
	return info, nil
}

func (s *Session) initialise(deviceName *string) error {
	if err := s.initialiseSubsystem(); err != nil {
		return err
	}

	device, err := openDevice(s.backend, deviceName)
	if err != nil {
		return err
	}
	s.device = device

	if err := s.initialiseClient(); err != nil {
		return err
	}
	return s.initialiseCapture()
}

func (s *Session) initialiseSubsystem() error {
	owner, err := s.backend.Initialize()
	if err != nil {
		return status.Wrap(status.CoInitialize, err)
	}
	if owner {
		s.ownerThread = s.backend.ThreadID()
	}
	return nil
}

func (s *Session) initialiseClient() error {
	client, err := s.device.Activate()
	if err != nil {
		return status.Wrap(status.AcquireClient, err)
	}
	s.audioClient = client

	format, err := client.MixFormat()
	if err != nil {
		return status.Wrap(status.GetMixFormat, err)
	}
	s.format = format

	if err := verifyFormat(format.Format()); err != nil {
		return err
	}

	if err := client.Initialize(s.bufferDuration, format); err != nil {
		return status.Wrap(status.InitializeClient, err)
	}

	frames, err := client.BufferSize()
	if err != nil {
		return status.Wrap(status.GetBufferSize, err)
	}
	s.bufferFrameCount = frames
	return nil
}

func (s *Session) initialiseCapture() error {
	captureClient, err := s.audioClient.CaptureClient()
	if err != nil {
		return status.Wrap(status.AcquireCapture, err)
	}
	s.captureClient = captureClient

	if err := s.audioClient.Start(); err != nil {
		return status.Wrap(status.ClientStart, err)
	}
	return nil
}

// verifyFormat accepts only the extensible IEEE float layout with packed
// 32-bit samples; the engine never reformats on the fly.
func verifyFormat(f wasapi.WaveFormat) error {
	if f.Tag != wasapi.WaveFormatExtensible {
		return status.New(status.UnsupportedFormatTag)
	}
	if !ole.IsEqualGUID(&f.SubFormat, &wasapi.SubtypeIEEEFloat) {
		return status.New(status.UnsupportedFormatSubtype)
	}
	if f.Channels == 0 || int(f.BlockAlign) != 4*int(f.Channels) {
		return status.New(status.InvalidBlockAlign)
	}
	return nil
}

// Shutdown stops the stream and releases everything the session holds. It
// never fails, is safe on partially initialised sessions and may be called
// any number of times.
func (s *Session) Shutdown() {
	if s == nil {
		return
	}
	s.initialised = false

	if s.audioClient != nil {
		if err := s.audioClient.Stop(); err != nil {
			s.log.Debug("audio client stop failed", logging.KeyError, err)
		}
	}

	if s.format != nil {
		s.format.Free()
		s.format = nil
	}

	if s.captureClient != nil {
		s.captureClient.Release()
		s.captureClient = nil
	}
	if s.audioClient != nil {
		s.audioClient.Release()
		s.audioClient = nil
	}
	if s.device != nil {
		s.device.Release()
		s.device = nil
	}

	if s.ownerThread != 0 && s.ownerThread == s.backend.ThreadID() {
		s.backend.Uninitialize()
		s.ownerThread = 0
	}
}

// Close is Shutdown for use with defer and io.Closer.
func (s *Session) Close() error {
	s.Shutdown()
	return nil
}

// Initialised reports whether the session is capturing and readable.
func (s *Session) Initialised() bool {
	return s != nil && s.initialised
}

// Channels is the negotiated channel count, zero before initialisation.
func (s *Session) Channels() int {
	if s == nil {
		return 0
	}
	return s.channels
}

// BufferFrames is the capacity of the OS ring buffer in frames.
func (s *Session) BufferFrames() uint32 {
	if s == nil {
		return 0
	}
	return s.bufferFrameCount
}

// OwnsSubsystem reports whether this session will uninitialise COM on
// shutdown, provided shutdown runs on the thread that initialised it.
func (s *Session) OwnsSubsystem() bool {
	return s != nil && s.ownerThread != 0
}
