package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/loopback/internal/config"
	"github.com/breeze-rmm/loopback/internal/logging"
)

var (
	version   = "0.1.0"
	cfgFile   string
	logLevel  string
	logFormat string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "loopback-capture",
	Short: "Capture what the system is playing",
	Long: `loopback-capture records the audio rendered to a Windows output device
through WASAPI loopback and writes it as 16-bit PCM, as a WAV file or to
websocket listeners.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "loopback-capture v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is loopback.yaml in the config directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")

	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration, applies the persistent
// flag overrides and sets up logging. The returned closer flushes the log
// file, if any.
func loadConfig(cmd *cobra.Command) (*config.Config, io.Closer, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = logFormat
	}

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		return nil, nil, fmt.Errorf("invalid config: %w", result.Fatals[0])
	}

	closer, err := initLogging(cfg)
	if err != nil {
		return nil, nil, err
	}
	for _, w := range result.Warnings {
		log.Warn("config validation", logging.KeyError, w)
	}
	if path := config.Path(); path != "" {
		log.Debug("config loaded", "path", path)
	}
	return cfg, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func initLogging(cfg *config.Config) (io.Closer, error) {
	if cfg.LogFile == "" {
		logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stderr)
		return nopCloser{}, nil
	}

	rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, logging.TeeWriter(os.Stderr, rw))
	return rw, nil
}
