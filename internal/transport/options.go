package transport

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sebastianm/vplink/internal/transport/logwatch"
)

// Variant selects how the session's data endpoints are obtained.
type Variant string

const (
	// VariantFIFO talks to the simulator over two named FIFOs that the
	// simulator creates in the session's scratch directory.
	VariantFIFO Variant = "fifo"
	// VariantLoopback talks to the simulator over its own stdin and stdout.
	VariantLoopback Variant = "loopback"
)

// PipeDirEnv tells a FIFO simulator where to create its FIFOs.
const PipeDirEnv = "VPLINK_PIPE_DIR"

// ToolchainEnv carries the toolchain root into the simulator environment.
const ToolchainEnv = "ETISS_DIR"

// FIFONames are the file names, relative to the scratch directory, of the
// FIFOs the simulator creates. In carries bytes into the device, Out carries
// bytes back.
type FIFONames struct {
	In  string `yaml:"in"`
	Out string `yaml:"out"`
}

// Options configure a Session.
type Options struct {
	Variant Variant

	// Command and Args launch the simulator.
	Command string
	Args    []string
	// Dir is the simulator's working directory. Defaults to the scratch
	// directory.
	Dir string
	// Env overrides entries of the inherited environment.
	Env map[string]string
	// ToolchainRoot is exported as ETISS_DIR. Required for VariantFIFO.
	ToolchainRoot string

	FIFO FIFONames
	// ScratchRoot is where per-session scratch directories are created.
	// Defaults to os.TempDir().
	ScratchRoot string

	// SetupTimeout bounds the FIFO wait and the readiness wait together.
	// A negative value waits indefinitely.
	SetupTimeout     time.Duration
	GracePeriod      time.Duration
	PipePollInterval time.Duration

	Markers logwatch.Markers
	// FailOnBuildError ends the readiness wait early on a failed build or
	// a simulator that exits before announcing itself.
	FailOnBuildError bool

	Timeouts Timeouts

	Logger *slog.Logger
	// Observer, if set, sees every lifecycle event of the session. It is
	// called from the log watcher goroutine.
	Observer func(sessionID string, ev logwatch.Event)
}

const (
	DefaultSetupTimeout     = 120 * time.Second
	DefaultGracePeriod      = 1 * time.Second
	DefaultPipePollInterval = 1 * time.Second
)

// DefaultFIFONames returns the FIFO names used by the ETISS UART device.
func DefaultFIFONames() FIFONames {
	return FIFONames{In: "uartdevicefifoin", Out: "uartdevicefifoout"}
}

// WithDefaults returns a copy of o with every unset field filled in.
func (o Options) WithDefaults() Options {
	if o.Variant == "" {
		o.Variant = VariantFIFO
	}
	if o.FIFO.In == "" {
		o.FIFO.In = DefaultFIFONames().In
	}
	if o.FIFO.Out == "" {
		o.FIFO.Out = DefaultFIFONames().Out
	}
	if o.SetupTimeout == 0 {
		o.SetupTimeout = DefaultSetupTimeout
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.PipePollInterval <= 0 {
		o.PipePollInterval = DefaultPipePollInterval
	}
	if o.Markers.Start == "" && o.Markers.End == "" && o.Markers.Failure == nil {
		o.Markers = logwatch.DefaultMarkers()
	}
	if o.Timeouts == (Timeouts{}) {
		o.Timeouts = DefaultTimeouts()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o Options) validate() error {
	if o.Command == "" {
		return fmt.Errorf("simulator command is not configured: %w", ErrLaunchFailure)
	}
	switch o.Variant {
	case VariantFIFO:
		if o.ToolchainRoot == "" {
			return fmt.Errorf("toolchain root (%s) is not configured: %w", ToolchainEnv, ErrLaunchFailure)
		}
		if o.FIFO.In == o.FIFO.Out {
			return fmt.Errorf("fifo names must differ, both are %q: %w", o.FIFO.In, ErrLaunchFailure)
		}
	case VariantLoopback:
	default:
		return fmt.Errorf("unknown transport variant %q: %w", o.Variant, ErrLaunchFailure)
	}
	return nil
}
