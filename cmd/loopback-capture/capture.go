package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/loopback/internal/capture"
	"github.com/breeze-rmm/loopback/internal/config"
	"github.com/breeze-rmm/loopback/internal/health"
	"github.com/breeze-rmm/loopback/internal/logging"
	"github.com/breeze-rmm/loopback/internal/pump"
	"github.com/breeze-rmm/loopback/internal/sink"
	"github.com/breeze-rmm/loopback/internal/source"
	"github.com/breeze-rmm/loopback/internal/stream"
	"github.com/breeze-rmm/loopback/internal/wasapi"
	"github.com/breeze-rmm/loopback/pkg/loopback"
)

var (
	outputPath string
	outFormat  string
	duration   time.Duration
	listenAddr string
	withMDNS   bool
)

var captureCmd = &cobra.Command{
	Use:   "capture [loopback | loopback:<device name>]",
	Short: "Record loopback audio to a file or stdout",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCapture,
}

var serveCmd = &cobra.Command{
	Use:   "serve [loopback | loopback:<device name>]",
	Short: "Stream loopback audio to websocket listeners",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runServe,
}

func init() {
	captureCmd.Flags().StringVarP(&outputPath, "output", "o", "", `output file, "-" for stdout`)
	captureCmd.Flags().StringVarP(&outFormat, "format", "f", "", "output format: pcm or wav")
	captureCmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop after this much audio (0 = until interrupted)")

	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "address to listen on")
	serveCmd.Flags().BoolVar(&withMDNS, "mdns", false, "advertise the stream over mDNS")
	serveCmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop after this much audio (0 = until interrupted)")
}

// resolveRequest picks the identifier from the argument or the configured
// device.
func resolveRequest(args []string, cfg *config.Config) (source.Request, error) {
	if len(args) == 0 {
		return source.Request{Device: cfg.Device}, nil
	}
	req, ok := source.Parse(args[0])
	if !ok {
		return source.Request{}, fmt.Errorf("%q is not a loopback identifier (use %q or %q)", args[0], source.Name, source.Name+":<device name>")
	}
	return req, nil
}

func applyCaptureFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("output") {
		cfg.Output = outputPath
	}
	if cmd.Flags().Changed("format") {
		cfg.Format = outFormat
	}
	if cmd.Flags().Changed("duration") {
		return setDuration(cfg, duration)
	}
	return nil
}

// setDuration stores a --duration value. Values that would be stored as 0
// are rejected, since 0 means capture until interrupted.
func setDuration(cfg *config.Config, d time.Duration) error {
	switch {
	case d < 0:
		return fmt.Errorf("duration %v is negative", d)
	case d > 0 && d < time.Millisecond:
		return fmt.Errorf("duration %v is shorter than 1ms", d)
	}
	cfg.DurationMs = int(d / time.Millisecond)
	return nil
}

func openSink(ctx context.Context, cfg *config.Config) (sink.Sink, error) {
	var f io.Writer
	switch {
	case cfg.Output == "" || cfg.Output == "-":
		f = os.Stdout
	case sink.IsPipePath(cfg.Output):
		pipe, err := sink.OpenPipe(ctx, cfg.Output)
		if err != nil {
			return nil, err
		}
		f = pipe
	default:
		file, err := os.Create(cfg.Output)
		if err != nil {
			return nil, fmt.Errorf("create output: %w", err)
		}
		f = file
	}

	if cfg.Format == "wav" {
		return sink.NewWAV(f), nil
	}
	return sink.NewPCM(f), nil
}

func newPump(cfg *config.Config, req source.Request, s sink.Sink, monitor *health.Monitor) *pump.Pump {
	registry := loopback.NewRegistry(wasapi.Default(), capture.WithBufferDuration(cfg.BufferDuration()))
	return pump.New(registry, pump.Config{
		Request:      req,
		BufferFrames: cfg.BufferFrames,
		IdleWait:     idleWait(cfg),
		Duration:     cfg.Duration(),
	}, s, monitor)
}

// idleWait maps a configured 0 onto "no back-off" rather than the default.
func idleWait(cfg *config.Config) time.Duration {
	if cfg.IdleWaitMs == 0 {
		return -1
	}
	return cfg.IdleWait()
}

// signalContext is cancelled on SIGINT/SIGTERM and carries a run logger
// tagged with the command and source identifier.
func signalContext(cmd *cobra.Command, req source.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	logger := slog.Default().With("command", cmd.Name(), "identifier", req.Identifier())
	return logging.NewContext(ctx, logger), cancel
}

func runCapture(cmd *cobra.Command, args []string) error {
	cfg, logCloser, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if err := applyCaptureFlags(cmd, cfg); err != nil {
		return err
	}
	if result := cfg.ValidateTiered(); result.HasFatals() {
		return result.Fatals[0]
	}

	req, err := resolveRequest(args, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd, req)
	defer cancel()

	out, err := openSink(ctx, cfg)
	if err != nil {
		return err
	}

	res, err := newPump(cfg, req, out, nil).Run(ctx)
	if err != nil {
		return err
	}
	log.Info("capture finished",
		"identifier", req.Identifier(),
		"reason", string(res.Reason),
		"seconds", seconds(res))
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logCloser, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if cmd.Flags().Changed("listen") {
		cfg.ListenAddr = listenAddr
	}
	if cmd.Flags().Changed("mdns") {
		cfg.MDNSEnabled = withMDNS
	}
	if cmd.Flags().Changed("duration") {
		if err := setDuration(cfg, duration); err != nil {
			return err
		}
	}
	if result := cfg.ValidateTiered(); result.HasFatals() {
		return result.Fatals[0]
	}

	req, err := resolveRequest(args, cfg)
	if err != nil {
		return err
	}

	monitor := health.NewMonitor()
	srv := stream.New(stream.Config{
		Addr:        cfg.ListenAddr,
		Queue:       cfg.StreamQueue,
		MDNS:        cfg.MDNSEnabled,
		ServiceName: cfg.MDNSServiceName,
	}, monitor)
	if err := srv.Listen(); err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("stream server shutdown", "error", err)
		}
	}()

	ctx, cancel := signalContext(cmd, req)
	defer cancel()

	res, err := newPump(cfg, req, srv, monitor).Run(ctx)
	if err != nil {
		return err
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		log.Info("interrupted")
	}
	log.Info("stream finished", "reason", string(res.Reason), "seconds", seconds(res))
	return nil
}

func seconds(res pump.Result) float64 {
	if res.Info.SampleRate <= 0 {
		return 0
	}
	return float64(res.Frames) / float64(res.Info.SampleRate)
}
