package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

const fileName = "loopback.yaml"

type Config struct {
	Device           string `mapstructure:"device" yaml:"device"`
	Output           string `mapstructure:"output" yaml:"output"`
	Format           string `mapstructure:"format" yaml:"format"`
	BufferFrames     int    `mapstructure:"buffer_frames" yaml:"buffer_frames"`
	IdleWaitMs       int    `mapstructure:"idle_wait_ms" yaml:"idle_wait_ms"`
	BufferDurationMs int    `mapstructure:"buffer_duration_ms" yaml:"buffer_duration_ms"`
	DurationMs       int    `mapstructure:"duration_ms" yaml:"duration_ms"`
	ListenAddr       string `mapstructure:"listen_addr" yaml:"listen_addr"`
	StreamQueue      int    `mapstructure:"stream_queue" yaml:"stream_queue"`
	MDNSEnabled      bool   `mapstructure:"mdns_enabled" yaml:"mdns_enabled"`
	MDNSServiceName  string `mapstructure:"mdns_service_name" yaml:"mdns_service_name"`
	LogLevel         string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat        string `mapstructure:"log_format" yaml:"log_format"`
	LogFile          string `mapstructure:"log_file" yaml:"log_file"`
	LogMaxSizeMB     int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups    int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`
}

func Default() *Config {
	return &Config{
		Format:           "pcm",
		BufferFrames:     4096,
		IdleWaitMs:       20,
		BufferDurationMs: 1000,
		ListenAddr:       ":7480",
		StreamQueue:      64,
		MDNSServiceName:  "loopback",
		LogLevel:         "info",
		LogFormat:        "text",
		LogMaxSizeMB:     20,
		LogMaxBackups:    3,
	}
}

// values lists every key with its value in cfg, in file order.
func (c *Config) values() []struct {
	key   string
	value any
} {
	return []struct {
		key   string
		value any
	}{
		{"device", c.Device},
		{"output", c.Output},
		{"format", c.Format},
		{"buffer_frames", c.BufferFrames},
		{"idle_wait_ms", c.IdleWaitMs},
		{"buffer_duration_ms", c.BufferDurationMs},
		{"duration_ms", c.DurationMs},
		{"listen_addr", c.ListenAddr},
		{"stream_queue", c.StreamQueue},
		{"mdns_enabled", c.MDNSEnabled},
		{"mdns_service_name", c.MDNSServiceName},
		{"log_level", c.LogLevel},
		{"log_format", c.LogFormat},
		{"log_file", c.LogFile},
		{"log_max_size_mb", c.LogMaxSizeMB},
		{"log_max_backups", c.LogMaxBackups},
	}
}

// Load reads cfgFile, or loopback.yaml from the config directory or the
// working directory when cfgFile is empty. A missing default file is not an
// error. LOOPBACK_* environment variables override file values.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	for _, kv := range cfg.values() {
		viper.SetDefault(kv.key, kv.value)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("loopback")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("LOOPBACK")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	for _, kv := range cfg.values() {
		viper.Set(kv.key, kv.value)
	}

	cfgPath := cfgFile
	if cfgPath == "" {
		cfgPath = filepath.Join(configDir(), fileName)
	}
	if dir := filepath.Dir(cfgPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	return viper.WriteConfigAs(cfgPath)
}

// Path returns the file the active configuration was read from, if any.
func Path() string {
	return viper.ConfigFileUsed()
}

func (c *Config) BufferDuration() time.Duration {
	return time.Duration(c.BufferDurationMs) * time.Millisecond
}

func (c *Config) IdleWait() time.Duration {
	return time.Duration(c.IdleWaitMs) * time.Millisecond
}

// Duration is the capture length limit; zero means until stopped.
func (c *Config) Duration() time.Duration {
	return time.Duration(c.DurationMs) * time.Millisecond
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Loopback")
	case "darwin":
		return "/Library/Application Support/Loopback"
	default:
		return "/etc/loopback"
	}
}
