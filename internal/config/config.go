// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"firestige.xyz/shredrelay/internal/capture"
	"firestige.xyz/shredrelay/internal/core"
	"firestige.xyz/shredrelay/internal/log"
	"firestige.xyz/shredrelay/internal/processor"
	"firestige.xyz/shredrelay/internal/region"
)

// rootKey is the YAML root wrapper; env vars use the matching SHREDRELAY_ prefix.
const rootKey = "shredrelay"

// Config is the top-level configuration.
type Config struct {
	Log              log.LoggerConfig `mapstructure:"log"`
	Metrics          MetricsConfig    `mapstructure:"metrics"`
	Receiver         ReceiverConfig   `mapstructure:"receiver"`
	Processor        ProcessorConfig  `mapstructure:"processor"`
	Sniffer          SnifferConfig    `mapstructure:"sniffer"`
	Regions          RegionsConfig    `mapstructure:"regions"`
	Stats            StatsConfig      `mapstructure:"stats"`
	WatchdogInterval time.Duration    `mapstructure:"watchdog_interval"`
	PIDFile          string           `mapstructure:"pid_file"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ReceiverConfig configures the relay listening sockets. A zero
// reference port disables the reference receiver.
type ReceiverConfig struct {
	Port            int `mapstructure:"port"`
	ReferencePort   int `mapstructure:"reference_port"`
	ReadBufferBytes int `mapstructure:"read_buffer_bytes"`
}

// ProcessorConfig configures validator forwarding.
type ProcessorConfig struct {
	Forwards       []string      `mapstructure:"forwards"`
	RotateInterval time.Duration `mapstructure:"rotate_interval"`

	ForwardAddrs []*net.UDPAddr `mapstructure:"-"`
}

// SnifferConfig configures capture and send back to the relay network.
type SnifferConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interface      string        `mapstructure:"interface"`
	Port           int           `mapstructure:"port"`
	Protocol       string        `mapstructure:"protocol"`
	CaptureType    string        `mapstructure:"capture_type"`
	FilePath       string        `mapstructure:"file_path"`
	SnapLen        int           `mapstructure:"snap_len"`
	Timeout        time.Duration `mapstructure:"timeout"`
	BufferSizeMB   int           `mapstructure:"buffer_size_mb"`
	Promisc        bool          `mapstructure:"promisc"`
	RotateInterval time.Duration `mapstructure:"rotate_interval"`
	ReportInterval time.Duration `mapstructure:"report_interval"`
	Destinations   []string      `mapstructure:"destinations"`

	DestinationAddrs []*net.UDPAddr `mapstructure:"-"`
}

// CaptureOptions converts the sniffer settings into capture options.
func (s SnifferConfig) CaptureOptions() capture.Options {
	return capture.Options{
		Type:         s.CaptureType,
		Interface:    s.Interface,
		FilePath:     s.FilePath,
		Protocol:     s.Protocol,
		Port:         s.Port,
		SnapLen:      s.SnapLen,
		Timeout:      s.Timeout,
		BufferSizeMB: s.BufferSizeMB,
		Promisc:      s.Promisc,
	}
}

// RegionsConfig lists relay regions ranked at startup when no static
// sniffer destinations are configured.
type RegionsConfig struct {
	Hosts        map[string]string `mapstructure:"hosts"`
	Port         int               `mapstructure:"port"`
	Nearest      int               `mapstructure:"nearest"`
	ProbeCount   int               `mapstructure:"probe_count"`
	ProbeTimeout time.Duration     `mapstructure:"probe_timeout"`
}

type StatsConfig struct {
	ReportInterval time.Duration `mapstructure:"report_interval"`
}

type configRoot struct {
	ShredRelay Config `mapstructure:"shredrelay"`
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"port":         "receiver.port",
	"reference":    "receiver.reference_port",
	"forwards":     "processor.forwards",
	"interface":    "sniffer.interface",
	"sniffer-port": "sniffer.port",
	"protocol":     "sniffer.protocol",
}

// Load reads the optional config file at path, applies SHREDRELAY_ env
// overrides and the changed flags in fs, then validates the result.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(rootKey+"."+key, f); err != nil {
					return nil, fmt.Errorf("bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.ShredRelay

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := func(key string, value any) { v.SetDefault(rootKey+"."+key, value) }

	d("log.level", "info")
	d("log.pattern", log.DefaultPattern)
	d("log.time", log.DefaultTimeLayout)
	d("log.file.enabled", false)
	d("log.file.filename", "/var/log/shredrelay/shredrelay.log")
	d("log.file.max_size", 100)
	d("log.file.max_age", 7)
	d("log.file.max_backups", 5)
	d("log.file.compress", true)

	d("metrics.enabled", true)
	d("metrics.listen", ":9091")
	d("metrics.path", "/metrics")

	// keys without a useful default are still registered so env overrides apply
	d("receiver.port", 0)
	d("receiver.reference_port", 0)
	d("receiver.read_buffer_bytes", 8<<20)

	d("processor.forwards", []string{})
	d("processor.rotate_interval", "15s")

	d("sniffer.enabled", true)
	d("sniffer.interface", "")
	d("sniffer.port", 0)
	d("sniffer.file_path", "")
	d("sniffer.destinations", []string{})
	d("sniffer.protocol", "udp")
	d("sniffer.capture_type", capture.TypePcap)
	d("sniffer.snap_len", capture.DefaultSnapLen)
	d("sniffer.timeout", "100ms")
	d("sniffer.buffer_size_mb", capture.DefaultBufferSizeMB)
	d("sniffer.promisc", true)
	d("sniffer.rotate_interval", "15s")
	d("sniffer.report_interval", "60s")

	d("regions.port", region.DefaultPort)
	d("regions.nearest", region.DefaultNearest)
	d("regions.probe_count", 4)
	d("regions.probe_timeout", "10s")

	d("stats.report_interval", "10s")
	d("watchdog_interval", "3s")
	d("pid_file", "/var/run/shredrelay.pid")
}

// ValidateAndApplyDefaults validates the configuration and resolves
// addresses. It is idempotent.
func (cfg *Config) ValidateAndApplyDefaults() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", core.ErrConfigInvalid, fmt.Sprintf(format, args...))
	}

	switch cfg.Log.Level {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return invalid("invalid log level: %s (must be trace/debug/info/warn/error)", cfg.Log.Level)
	}

	if !validPort(cfg.Receiver.Port) || cfg.Receiver.Port == 0 {
		return invalid("receiver.port is required and must be within 1-65535, got %d", cfg.Receiver.Port)
	}
	if !validPort(cfg.Receiver.ReferencePort) {
		return invalid("receiver.reference_port must be within 0-65535, got %d", cfg.Receiver.ReferencePort)
	}
	if cfg.Receiver.ReferencePort == cfg.Receiver.Port {
		return invalid("receiver.reference_port must differ from receiver.port")
	}

	if len(cfg.Processor.Forwards) == 0 {
		return invalid("processor.forwards needs at least one address")
	}
	addrs, err := processor.ParseForwards(cfg.Processor.Forwards)
	if err != nil {
		return err
	}
	cfg.Processor.ForwardAddrs = addrs

	if cfg.Processor.RotateInterval <= 0 {
		return invalid("processor.rotate_interval must be positive")
	}
	if cfg.Stats.ReportInterval <= 0 {
		return invalid("stats.report_interval must be positive")
	}
	if cfg.WatchdogInterval <= 0 {
		return invalid("watchdog_interval must be positive")
	}

	if cfg.Sniffer.Enabled {
		if err := cfg.validateSniffer(); err != nil {
			return err
		}
	}
	return nil
}

func (cfg *Config) validateSniffer() error {
	s := &cfg.Sniffer
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: sniffer: %s", core.ErrConfigInvalid, fmt.Sprintf(format, args...))
	}

	s.Protocol = strings.ToLower(s.Protocol)
	if s.Protocol != "udp" && s.Protocol != "tcp" {
		return invalid("protocol must be udp or tcp, got %q", s.Protocol)
	}
	if s.Port <= 0 || !validPort(s.Port) {
		return invalid("port is required and must be within 1-65535, got %d", s.Port)
	}

	switch s.CaptureType {
	case capture.TypePcap, capture.TypeAFPacket:
		if s.Interface == "" {
			return invalid("interface is required for %s capture", s.CaptureType)
		}
	case capture.TypeFile:
		if s.FilePath == "" {
			return invalid("file_path is required for file capture")
		}
	default:
		return fmt.Errorf("%w: %q", core.ErrUnsupportedCapture, s.CaptureType)
	}

	if s.RotateInterval <= 0 || s.ReportInterval <= 0 {
		return invalid("rotate_interval and report_interval must be positive")
	}

	if len(s.Destinations) > 0 {
		addrs, err := region.ParseStatic(s.Destinations, cfg.Regions.Port)
		if err != nil {
			return err
		}
		s.DestinationAddrs = addrs
		return nil
	}
	if len(cfg.Regions.Hosts) == 0 {
		return fmt.Errorf("%w: sniffer needs destinations or regions.hosts", core.ErrNoDestinations)
	}
	if cfg.Regions.Nearest <= 0 {
		return invalid("regions.nearest must be positive")
	}
	return nil
}

func validPort(p int) bool {
	return p >= 0 && p <= 65535
}
