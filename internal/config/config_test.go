package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/shredrelay/internal/capture"
	"firestige.xyz/shredrelay/internal/core"
	"firestige.xyz/shredrelay/internal/log"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shredrelay.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const fullConfig = `
shredrelay:
  log:
    level: debug
  metrics:
    listen: "127.0.0.1:9999"
  receiver:
    port: 18888
    reference_port: 18889
  processor:
    forwards:
      - "127.0.0.1:8001"
      - "127.0.0.1:8002"
    rotate_interval: 20s
  sniffer:
    interface: eth0
    port: 8001
    protocol: UDP
    capture_type: afpacket
    destinations:
      - "10.1.1.1"
      - "10.1.1.2:9000"
  pid_file: /tmp/shredrelay-test.pid
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, fullConfig), nil)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:9999", cfg.Metrics.Listen)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 18888, cfg.Receiver.Port)
	assert.Equal(t, 18889, cfg.Receiver.ReferencePort)
	assert.Equal(t, 20*time.Second, cfg.Processor.RotateInterval)
	require.Len(t, cfg.Processor.ForwardAddrs, 2)
	assert.Equal(t, "127.0.0.1:8002", cfg.Processor.ForwardAddrs[1].String())

	assert.Equal(t, "udp", cfg.Sniffer.Protocol)
	assert.Equal(t, capture.TypeAFPacket, cfg.Sniffer.CaptureType)
	require.Len(t, cfg.Sniffer.DestinationAddrs, 2)
	assert.Equal(t, "10.1.1.1:8002", cfg.Sniffer.DestinationAddrs[0].String())
	assert.Equal(t, "10.1.1.2:9000", cfg.Sniffer.DestinationAddrs[1].String())
	assert.Equal(t, "/tmp/shredrelay-test.pid", cfg.PIDFile)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, fullConfig), nil)
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.Sniffer.RotateInterval)
	assert.Equal(t, 60*time.Second, cfg.Sniffer.ReportInterval)
	assert.Equal(t, 10*time.Second, cfg.Stats.ReportInterval)
	assert.Equal(t, 3*time.Second, cfg.WatchdogInterval)
	assert.Equal(t, capture.DefaultSnapLen, cfg.Sniffer.SnapLen)
	assert.Equal(t, 100*time.Millisecond, cfg.Sniffer.Timeout)
	assert.Equal(t, 8002, cfg.Regions.Port)
	assert.Equal(t, 3, cfg.Regions.Nearest)
	assert.Equal(t, 4, cfg.Regions.ProbeCount)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SHREDRELAY_RECEIVER_PORT", "20000")
	t.Setenv("SHREDRELAY_LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, fullConfig), nil)
	require.NoError(t, err)
	assert.Equal(t, 20000, cfg.Receiver.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func newFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("port", 0, "")
	fs.Int("reference", 0, "")
	fs.StringSlice("forwards", nil, "")
	fs.String("interface", "", "")
	fs.Int("sniffer-port", 0, "")
	fs.String("protocol", "udp", "")
	return fs
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	fs := newFlags()
	require.NoError(t, fs.Parse([]string{"--port", "30000", "--forwards", "127.0.0.1:7000,127.0.0.1:7001", "--protocol", "tcp"}))

	cfg, err := Load(writeConfig(t, fullConfig), fs)
	require.NoError(t, err)
	assert.Equal(t, 30000, cfg.Receiver.Port)
	assert.Equal(t, 18889, cfg.Receiver.ReferencePort)
	require.Len(t, cfg.Processor.ForwardAddrs, 2)
	assert.Equal(t, 7000, cfg.Processor.ForwardAddrs[0].Port)
	assert.Equal(t, "tcp", cfg.Sniffer.Protocol)
	assert.Equal(t, "eth0", cfg.Sniffer.Interface)
}

func TestLoadFlagsWithoutFile(t *testing.T) {
	fs := newFlags()
	require.NoError(t, fs.Parse([]string{
		"--port", "18888", "--forwards", "127.0.0.1:8001",
		"--interface", "lo", "--sniffer-port", "8001",
	}))
	t.Setenv("SHREDRELAY_SNIFFER_DESTINATIONS", "127.0.0.1:9000")

	cfg, err := Load("", fs)
	require.NoError(t, err)
	assert.Equal(t, "lo", cfg.Sniffer.Interface)
	assert.Equal(t, 8001, cfg.Sniffer.Port)
	assert.Equal(t, 0, cfg.Receiver.ReferencePort)
	require.Len(t, cfg.Sniffer.DestinationAddrs, 1)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"), nil)
	assert.Error(t, err)
}

func validConfig() *Config {
	return &Config{
		Log:              logConfig("info"),
		Receiver:         ReceiverConfig{Port: 18888},
		Processor:        ProcessorConfig{Forwards: []string{"127.0.0.1:8001"}, RotateInterval: 15 * time.Second},
		Stats:            StatsConfig{ReportInterval: 10 * time.Second},
		WatchdogInterval: 3 * time.Second,
		Sniffer: SnifferConfig{
			Enabled:        true,
			Interface:      "lo",
			Port:           8001,
			Protocol:       "udp",
			CaptureType:    capture.TypePcap,
			RotateInterval: 15 * time.Second,
			ReportInterval: time.Minute,
		},
		Regions: RegionsConfig{
			Hosts:   map[string]string{"fra": "fra.relay.test"},
			Port:    8002,
			Nearest: 3,
		},
	}
}

func TestValidateAndApplyDefaults(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{"valid", func(c *Config) {}, nil},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, core.ErrConfigInvalid},
		{"missing port", func(c *Config) { c.Receiver.Port = 0 }, core.ErrConfigInvalid},
		{"port out of range", func(c *Config) { c.Receiver.Port = 70000 }, core.ErrConfigInvalid},
		{"reference equals port", func(c *Config) { c.Receiver.ReferencePort = 18888 }, core.ErrConfigInvalid},
		{"no forwards", func(c *Config) { c.Processor.Forwards = nil }, core.ErrConfigInvalid},
		{"bad forward", func(c *Config) { c.Processor.Forwards = []string{"nope"} }, core.ErrConfigInvalid},
		{"zero rotation", func(c *Config) { c.Processor.RotateInterval = 0 }, core.ErrConfigInvalid},
		{"bad protocol", func(c *Config) { c.Sniffer.Protocol = "sctp" }, core.ErrConfigInvalid},
		{"missing sniffer port", func(c *Config) { c.Sniffer.Port = 0 }, core.ErrConfigInvalid},
		{"missing interface", func(c *Config) { c.Sniffer.Interface = "" }, core.ErrConfigInvalid},
		{"file without path", func(c *Config) { c.Sniffer.CaptureType = capture.TypeFile }, core.ErrConfigInvalid},
		{"unknown capture", func(c *Config) { c.Sniffer.CaptureType = "dpdk" }, core.ErrUnsupportedCapture},
		{"no destinations", func(c *Config) { c.Regions.Hosts = nil }, core.ErrNoDestinations},
		{"sniffer disabled", func(c *Config) {
			c.Sniffer = SnifferConfig{}
			c.Regions = RegionsConfig{}
		}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.ValidateAndApplyDefaults()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCaptureOptions(t *testing.T) {
	cfg := validConfig()
	cfg.Sniffer.SnapLen = 2048
	opts := cfg.Sniffer.CaptureOptions()
	assert.Equal(t, "udp dst port 8001", opts.Filter())
	assert.Equal(t, "lo", opts.Interface)
	assert.Equal(t, 2048, opts.SnapLen)
}

func logConfig(level string) log.LoggerConfig {
	return log.LoggerConfig{Level: level}
}
