package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vplink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// loopbackConfig runs cat as the simulator; everything written comes back.
func loopbackConfig(t *testing.T, extra string) string {
	t.Helper()
	return writeConfig(t, `
simulator:
  script: /bin/cat
  binary: ""
transport:
  variant: loopback
  setup_timeout: 5s
  grace_period: 100ms
  timeouts:
    session_start: 3s
log:
  level: error
`+extra)
}

func execute(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	if stdin != nil {
		cmd.SetIn(stdin)
	}
	err := cmd.Execute()
	return out.String(), err
}

func TestProbePrintsTimeouts(t *testing.T) {
	out, err := execute(t, nil, "--config", loopbackConfig(t, ""), "probe")
	require.NoError(t, err)

	var got timeoutsJSON
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, timeoutsJSON{
		SessionStartRetryTimeoutSec:  1,
		SessionStartTimeoutSec:       3,
		SessionEstablishedTimeoutSec: 10,
	}, got)
}

func TestProbeLaunchFailure(t *testing.T) {
	path := writeConfig(t, `
simulator:
  script: /nonexistent/vp-run
transport:
  variant: loopback
log:
  level: error
`)
	_, err := execute(t, nil, "--config", path, "probe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening transport")
}

func TestRunBridgesStdio(t *testing.T) {
	in := strings.NewReader("hello device\nsecond line\n")
	out, err := execute(t, in, "--config", loopbackConfig(t, ""), "run", "--drain", "300ms")
	require.NoError(t, err)
	assert.Equal(t, "hello device\nsecond line\n", out)
}

func TestRunStopsWhenDeviceExits(t *testing.T) {
	path := writeConfig(t, `
simulator:
  script: /bin/sh
  binary: ""
  args: ["-c", "echo bye"]
transport:
  variant: loopback
  grace_period: 100ms
log:
  level: error
`)
	start := time.Now()
	out, err := execute(t, strings.NewReader(""), "--config", path, "run", "--drain", "10s")
	require.NoError(t, err)
	assert.Equal(t, "bye\n", out)
	assert.Less(t, time.Since(start), 5*time.Second, "closed channel must end the bridge before the drain period")
}

func TestFlash(t *testing.T) {
	t.Run("skip does not launch", func(t *testing.T) {
		path := writeConfig(t, `
simulator:
  script: /nonexistent/vp-run
log:
  level: error
`)
		_, err := execute(t, nil, "--config", path, "flash", "--skip")
		require.NoError(t, err)
	})

	t.Run("waits for end marker", func(t *testing.T) {
		path := writeConfig(t, `
simulator:
  script: /bin/sh
  binary: ""
  args: ["-c", "echo '=== Simulation end ===' >&2; cat"]
transport:
  variant: loopback
  grace_period: 100ms
flash:
  timeout: 5s
log:
  level: error
`)
		_, err := execute(t, nil, "--config", path, "flash")
		require.NoError(t, err)
	})
}

func TestSessions(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	path := loopbackConfig(t, "journal:\n  path: "+dbPath+"\n")

	_, err := execute(t, nil, "--config", path, "probe")
	require.NoError(t, err)

	out, err := execute(t, nil, "--config", path, "sessions")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "loopback")
	assert.Contains(t, lines[1], "closed")

	id := strings.Fields(lines[1])[0]
	out, err = execute(t, nil, "--config", path, "sessions", "events", id)
	require.NoError(t, err)
	assert.Contains(t, out, "ready")
}

func TestSessionsWithoutJournal(t *testing.T) {
	_, err := execute(t, nil, "--config", loopbackConfig(t, ""), "sessions")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal is disabled")
}

func TestPumpInput(t *testing.T) {
	t.Run("forwards input and closes on eof", func(t *testing.T) {
		chunks := make(chan []byte)
		done := make(chan struct{})
		defer close(done)
		go pumpInput(strings.NewReader("abc"), chunks, done)

		var got []byte
		for c := range chunks {
			got = append(got, c...)
		}
		assert.Equal(t, "abc", string(got))
	})

	t.Run("returns when the bridge stops reading", func(t *testing.T) {
		chunks := make(chan []byte)
		done := make(chan struct{})
		finished := make(chan struct{})
		go func() {
			pumpInput(strings.NewReader("never consumed"), chunks, done)
			close(finished)
		}()

		close(done)
		select {
		case <-finished:
		case <-time.After(time.Second):
			t.Fatal("input pump still blocked after done was closed")
		}
	})
}
