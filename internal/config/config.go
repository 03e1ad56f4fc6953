// Package config loads the vplink YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sebastianm/vplink/internal/transport"
	"github.com/sebastianm/vplink/internal/transport/logwatch"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "VPLINK_CONFIG"

// DefaultPath is used when neither a flag nor EnvVar names a file.
const DefaultPath = "vplink.yaml"

// SimulatorConfig describes how to launch the virtual prototype.
type SimulatorConfig struct {
	// Script is the run script of the virtual prototype.
	Script string `yaml:"script"`
	// Binary is the first argument passed to Script, the program to run.
	Binary string `yaml:"binary"`
	// Args follow Binary on the command line.
	Args []string `yaml:"args"`
	// EtissPath is exported to the simulator as ETISS_DIR.
	EtissPath string `yaml:"etiss_path"`
	// BuildDir is the simulator's working directory.
	BuildDir string            `yaml:"build_dir"`
	Env      map[string]string `yaml:"env"`
}

// MarkersConfig overrides the lines that announce lifecycle transitions.
type MarkersConfig struct {
	Start   string `yaml:"start"`
	End     string `yaml:"end"`
	Failure string `yaml:"failure"`
}

// TransportConfig tunes the transport session.
type TransportConfig struct {
	Variant          string              `yaml:"variant"`
	FIFO             transport.FIFONames `yaml:"fifo"`
	ScratchRoot      string              `yaml:"scratch_root"`
	SetupTimeout     time.Duration       `yaml:"setup_timeout"`
	GracePeriod      time.Duration       `yaml:"grace_period"`
	PipePollInterval time.Duration       `yaml:"pipe_poll_interval"`
	Markers          MarkersConfig       `yaml:"markers"`
	FailOnBuildError bool                `yaml:"fail_on_build_error"`
	Timeouts         transport.Timeouts  `yaml:"timeouts"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// JournalConfig locates the session journal. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig exposes Prometheus metrics when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// FlashConfig controls the flash command.
type FlashConfig struct {
	// Skip makes flash a no-op because open launches the simulator.
	Skip    bool          `yaml:"skip"`
	Timeout time.Duration `yaml:"timeout"`
}

// Config is the top-level configuration.
type Config struct {
	Simulator SimulatorConfig `yaml:"simulator"`
	Transport TransportConfig `yaml:"transport"`
	Log       LogConfig       `yaml:"log"`
	Journal   JournalConfig   `yaml:"journal"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Flash     FlashConfig     `yaml:"flash"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() *Config {
	return &Config{
		Simulator: SimulatorConfig{Binary: "app"},
		Transport: TransportConfig{
			Variant:          string(transport.VariantFIFO),
			FIFO:             transport.DefaultFIFONames(),
			SetupTimeout:     transport.DefaultSetupTimeout,
			GracePeriod:      transport.DefaultGracePeriod,
			PipePollInterval: transport.DefaultPipePollInterval,
			Markers: MarkersConfig{
				Start:   logwatch.DefaultStartMarker,
				End:     logwatch.DefaultEndMarker,
				Failure: logwatch.DefaultFailurePattern,
			},
			Timeouts: transport.DefaultTimeouts(),
		},
		Log:   LogConfig{Level: "info", Format: "text"},
		Flash: FlashConfig{Timeout: 2 * time.Minute},
	}
}

// Path picks the config file: the explicit flag value, then EnvVar, then
// DefaultPath.
func Path(flag string) string {
	if p := strings.TrimSpace(flag); p != "" {
		return p
	}
	if p := os.Getenv(EnvVar); p != "" {
		return p
	}
	return DefaultPath
}

// Load decodes the file at path over Default. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	expanded, err := expandPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", expanded, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", expanded, err)
	}
	return cfg, nil
}

// TransportOptions converts the configuration into session options.
func (c *Config) TransportOptions(log *slog.Logger) (transport.Options, error) {
	markers := logwatch.Markers{
		Start: c.Transport.Markers.Start,
		End:   c.Transport.Markers.End,
	}
	if p := c.Transport.Markers.Failure; p != "" {
		re, err := regexp.Compile(p)
		if err != nil {
			return transport.Options{}, fmt.Errorf("compiling failure marker %q: %w", p, err)
		}
		markers.Failure = re
	}

	var args []string
	if c.Simulator.Binary != "" {
		args = append(args, c.Simulator.Binary)
	}
	args = append(args, c.Simulator.Args...)

	opts := transport.Options{
		Variant:          transport.Variant(c.Transport.Variant),
		Args:             args,
		Env:              c.Simulator.Env,
		FIFO:             c.Transport.FIFO,
		SetupTimeout:     c.Transport.SetupTimeout,
		GracePeriod:      c.Transport.GracePeriod,
		PipePollInterval: c.Transport.PipePollInterval,
		Markers:          markers,
		FailOnBuildError: c.Transport.FailOnBuildError,
		Timeouts:         c.Transport.Timeouts,
		Logger:           log,
	}

	for _, p := range []struct {
		dst *string
		src string
	}{
		{&opts.Command, c.Simulator.Script},
		{&opts.ToolchainRoot, c.Simulator.EtissPath},
		{&opts.Dir, c.Simulator.BuildDir},
		{&opts.ScratchRoot, c.Transport.ScratchRoot},
	} {
		if p.src == "" {
			continue
		}
		expanded, err := expandPath(p.src)
		if err != nil {
			return transport.Options{}, err
		}
		*p.dst = expanded
	}
	return opts, nil
}

// JournalPath returns the expanded journal path, or "" when disabled.
func (c *Config) JournalPath() (string, error) {
	if strings.TrimSpace(c.Journal.Path) == "" {
		return "", nil
	}
	return expandPath(c.Journal.Path)
}

// NewLogger builds the slog logger described by the log section.
func (c *Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if c.Log.Level != "" {
		if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
			return nil, fmt.Errorf("parsing log level: %w", err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(c.Log.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Log.Format)
	}
}

func expandPath(path string) (string, error) {
	switch {
	case strings.HasPrefix(path, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	case path == "~":
		return os.UserHomeDir()
	case filepath.IsAbs(path):
		return path, nil
	default:
		return filepath.Abs(path)
	}
}
