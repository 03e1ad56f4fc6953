package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastianm/vplink/internal/transport"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vplink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestPath(t *testing.T) {
	t.Run("flag wins", func(t *testing.T) {
		t.Setenv(EnvVar, "/env.yaml")
		assert.Equal(t, "/flag.yaml", Path("/flag.yaml"))
	})

	t.Run("env var next", func(t *testing.T) {
		t.Setenv(EnvVar, "/env.yaml")
		assert.Equal(t, "/env.yaml", Path(""))
	})

	t.Run("default last", func(t *testing.T) {
		t.Setenv(EnvVar, "")
		assert.Equal(t, DefaultPath, Path("  "))
	})
}

func TestLoad(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("overrides keep unrelated defaults", func(t *testing.T) {
		path := writeConfig(t, `
simulator:
  script: /opt/vp/run.sh
  args: ["--trace", "-v"]
  etiss_path: /opt/etiss
  env:
    EXTRA: "1"
transport:
  setup_timeout: 30s
  fail_on_build_error: true
  fifo:
    in: uart_in
  timeouts:
    session_start: 20s
journal:
  path: /var/lib/vplink/journal.db
metrics:
  listen_addr: ":9102"
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "/opt/vp/run.sh", cfg.Simulator.Script)
		assert.Equal(t, "app", cfg.Simulator.Binary)
		assert.Equal(t, []string{"--trace", "-v"}, cfg.Simulator.Args)
		assert.Equal(t, map[string]string{"EXTRA": "1"}, cfg.Simulator.Env)
		assert.Equal(t, 30*time.Second, cfg.Transport.SetupTimeout)
		assert.Equal(t, transport.DefaultGracePeriod, cfg.Transport.GracePeriod)
		assert.True(t, cfg.Transport.FailOnBuildError)
		assert.Equal(t, "uart_in", cfg.Transport.FIFO.In)
		assert.Equal(t, "uartdevicefifoout", cfg.Transport.FIFO.Out)
		assert.Equal(t, 20*time.Second, cfg.Transport.Timeouts.SessionStart)
		assert.Equal(t, time.Second, cfg.Transport.Timeouts.SessionStartRetry)
		assert.Equal(t, "/var/lib/vplink/journal.db", cfg.Journal.Path)
		assert.Equal(t, ":9102", cfg.Metrics.ListenAddr)
		assert.Equal(t, "info", cfg.Log.Level)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "simulator: [unclosed"))
		assert.Error(t, err)
	})

	t.Run("invalid duration", func(t *testing.T) {
		_, err := Load(writeConfig(t, "transport:\n  setup_timeout: soon\n"))
		assert.Error(t, err)
	})
}

func TestTransportOptions(t *testing.T) {
	t.Run("builds the simulator command line", func(t *testing.T) {
		cfg := Default()
		cfg.Simulator.Script = "/opt/vp/run.sh"
		cfg.Simulator.Args = []string{"-v"}
		cfg.Simulator.EtissPath = "/opt/etiss"
		cfg.Simulator.BuildDir = "/work/build"

		opts, err := cfg.TransportOptions(nil)
		require.NoError(t, err)
		assert.Equal(t, transport.VariantFIFO, opts.Variant)
		assert.Equal(t, "/opt/vp/run.sh", opts.Command)
		assert.Equal(t, []string{"app", "-v"}, opts.Args)
		assert.Equal(t, "/opt/etiss", opts.ToolchainRoot)
		assert.Equal(t, "/work/build", opts.Dir)
		assert.Equal(t, transport.DefaultSetupTimeout, opts.SetupTimeout)
		require.NotNil(t, opts.Markers.Failure)
		assert.True(t, opts.Markers.Failure.MatchString("RECIPE FOR TARGET run FAILED"))
	})

	t.Run("relative paths become absolute", func(t *testing.T) {
		cfg := Default()
		cfg.Simulator.Script = "run.sh"

		opts, err := cfg.TransportOptions(nil)
		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(opts.Command))
	})

	t.Run("empty binary is omitted", func(t *testing.T) {
		cfg := Default()
		cfg.Simulator.Script = "/bin/cat"
		cfg.Simulator.Binary = ""

		opts, err := cfg.TransportOptions(nil)
		require.NoError(t, err)
		assert.Empty(t, opts.Args)
	})

	t.Run("invalid failure pattern", func(t *testing.T) {
		cfg := Default()
		cfg.Transport.Markers.Failure = "("

		_, err := cfg.TransportOptions(nil)
		assert.Error(t, err)
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("json format", func(t *testing.T) {
		cfg := Default()
		cfg.Log.Format = "json"
		var buf bytes.Buffer

		log, err := cfg.NewLogger(&buf)
		require.NoError(t, err)
		log.Info("hello", "k", "v")
		assert.Contains(t, buf.String(), `"msg":"hello"`)
	})

	t.Run("level filters", func(t *testing.T) {
		cfg := Default()
		cfg.Log.Level = "warn"
		var buf bytes.Buffer

		log, err := cfg.NewLogger(&buf)
		require.NoError(t, err)
		log.Info("quiet")
		assert.Empty(t, buf.String())
	})

	t.Run("unknown format", func(t *testing.T) {
		cfg := Default()
		cfg.Log.Format = "xml"
		_, err := cfg.NewLogger(&bytes.Buffer{})
		assert.Error(t, err)
	})

	t.Run("unknown level", func(t *testing.T) {
		cfg := Default()
		cfg.Log.Level = "loud"
		_, err := cfg.NewLogger(&bytes.Buffer{})
		assert.Error(t, err)
	})
}

func TestJournalPath(t *testing.T) {
	cfg := Default()
	p, err := cfg.JournalPath()
	require.NoError(t, err)
	assert.Empty(t, p)

	cfg.Journal.Path = "~/vplink.db"
	p, err = cfg.JournalPath()
	require.NoError(t, err)
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "vplink.db"), p)
}
