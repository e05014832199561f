package bridge

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeADB = `case "$1" in
  version)
    echo "Android Debug Bridge version 1.0.41"
    echo "Version 34.0.4-10411341"
    ;;
  devices)
    echo "List of devices attached"
    echo "ABC123 device product:p model:Pixel_5 device:redfin transport_id:1"
    ;;
  packages)
    echo "package:com.a"
    echo "package:com.b"
    echo "package:com.c"
    ;;
  partial)
    echo "package:com.a"
    echo "error: device offline" >&2
    exit 1
    ;;
  unauthorized)
    echo "error: device unauthorized." >&2
    exit 1
    ;;
  silent)
    exit 3
    ;;
  slow)
    exec sleep 5
    ;;
  *)
    echo "unknown command $1" >&2
    exit 1
    ;;
esac
`

func newScriptExecutor(t *testing.T, timeout time.Duration) *Executor {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script bridge requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "adb")
	writeScript(t, path, fakeADB)
	return NewExecutor(NewLocator(path, zerolog.Nop()), timeout, timeout, zerolog.Nop())
}

func TestExecutor_RunSuccess(t *testing.T) {
	e := newScriptExecutor(t, 5*time.Second)

	out, err := e.Run(context.Background(), "devices", "-l")
	require.NoError(t, err)
	assert.Contains(t, out, "ABC123 device")
}

func TestExecutor_ClassifiesUnauthorized(t *testing.T) {
	e := newScriptExecutor(t, 5*time.Second)

	_, err := e.Run(context.Background(), "unauthorized")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceUnauthorized)
	assert.NotErrorIs(t, err, ErrCommandFailed)
}

func TestExecutor_EmptyStderrReportsExitStatus(t *testing.T) {
	e := newScriptExecutor(t, 5*time.Second)

	_, err := e.Run(context.Background(), "silent")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.Contains(t, err.Error(), "exit status 3")
}

func TestExecutor_Timeout(t *testing.T) {
	e := newScriptExecutor(t, 200*time.Millisecond)

	start := time.Now()
	_, err := e.Run(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestExecutor_RunAsync(t *testing.T) {
	e := newScriptExecutor(t, 5*time.Second)

	res := <-e.RunAsync(context.Background(), "version")
	require.NoError(t, res.Err)
	assert.Contains(t, res.Output, "1.0.41")
}

func TestExecutor_StreamDeliversLines(t *testing.T) {
	e := newScriptExecutor(t, 5*time.Second)

	var lines []string
	err := e.Stream(context.Background(), func(line string) { lines = append(lines, line) }, "packages")
	require.NoError(t, err)
	assert.Equal(t, []string{"package:com.a", "package:com.b", "package:com.c"}, lines)
}

func TestExecutor_StreamFailureAfterOutput(t *testing.T) {
	e := newScriptExecutor(t, 5*time.Second)

	var lines []string
	err := e.Stream(context.Background(), func(line string) { lines = append(lines, line) }, "partial")
	assert.ErrorIs(t, err, ErrDeviceOffline)
	assert.Equal(t, []string{"package:com.a"}, lines)
}

func TestExecutor_BridgeNotFound(t *testing.T) {
	l := NewLocator("", zerolog.Nop())
	l.lookPath = func(string) (string, error) { return "", assert.AnError }
	l.wellKnown = map[string][]string{}
	l.getenv = func(string) string { return "" }
	e := NewExecutor(l, time.Second, time.Second, zerolog.Nop())

	_, err := e.Run(context.Background(), "version")
	assert.ErrorIs(t, err, ErrBridgeNotFound)
	err = e.Stream(context.Background(), func(string) {}, "version")
	assert.ErrorIs(t, err, ErrBridgeNotFound)
}

func TestShellArgs(t *testing.T) {
	assert.Equal(t, []string{"shell", "df /data"}, ShellArgs("", "df /data"))
	assert.Equal(t, []string{"-s", "ABC", "shell", "df /data"}, ShellArgs("ABC", "df /data"))
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitLines("a\r\n\n  b  \n"))
}
