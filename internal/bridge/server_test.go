package bridge_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benmeehan/debloat-agent/internal/bridge"
	"github.com/benmeehan/debloat-agent/internal/bridge/bridgetest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerControl_Version(t *testing.T) {
	runner := bridgetest.NewFakeRunner().
		On(bridgetest.Response{Output: "Android Debug Bridge version 1.0.41\nVersion 34.0.4-10411341\n"}, "version")
	s := bridge.NewServerControl(runner, zerolog.Nop())

	info, ok, err := s.CheckVersion(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1.0.41", info.Version.String())
}

func TestServerControl_VersionTooOld(t *testing.T) {
	runner := bridgetest.NewFakeRunner().
		On(bridgetest.Response{Output: "Android Debug Bridge version 1.0.31\n"}, "version")
	s := bridge.NewServerControl(runner, zerolog.Nop())

	_, ok, err := s.CheckVersion(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestServerControl_VersionUnparseable(t *testing.T) {
	runner := bridgetest.NewFakeRunner().
		On(bridgetest.Response{Output: "garbage"}, "version")
	s := bridge.NewServerControl(runner, zerolog.Nop())

	_, err := s.Version(context.Background())
	assert.ErrorIs(t, err, bridge.ErrParse)
}

func TestServerControl_ConnectFailureOnStdout(t *testing.T) {
	runner := bridgetest.NewFakeRunner().
		On(bridgetest.Response{Output: "failed to connect to '10.0.0.2:5555': Connection refused\n"}, "connect", "10.0.0.2:5555").
		On(bridgetest.Response{Output: "connected to 10.0.0.3:5555\n"}, "connect", "10.0.0.3:5555")
	s := bridge.NewServerControl(runner, zerolog.Nop())

	_, err := s.Connect(context.Background(), "10.0.0.2", 5555)
	assert.ErrorIs(t, err, bridge.ErrCommandFailed)

	out, err := s.Connect(context.Background(), "10.0.0.3", 5555)
	require.NoError(t, err)
	assert.Equal(t, "connected to 10.0.0.3:5555", out)
}

func TestServerControl_RestartStopsOnKillFailure(t *testing.T) {
	runner := bridgetest.NewFakeRunner().
		On(bridgetest.Response{Err: errors.New("kill failed")}, "kill-server")
	s := bridge.NewServerControl(runner, zerolog.Nop())

	err := s.RestartServer(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, runner.CallCount("start-server"))
}

func TestServerControl_Restart(t *testing.T) {
	runner := bridgetest.NewFakeRunner().
		On(bridgetest.Response{}, "kill-server").
		On(bridgetest.Response{}, "start-server")
	s := bridge.NewServerControl(runner, zerolog.Nop())

	start := time.Now()
	require.NoError(t, s.RestartServer(context.Background()))
	assert.Equal(t, []string{"kill-server", "start-server"}, runner.Calls())
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestParseProperties(t *testing.T) {
	props := bridge.ParseProperties("[ro.product.model]: [Pixel 5]\n[ro.build.version.release]: [14]\ngarbage\n[broken\n")
	assert.Equal(t, map[string]string{
		"ro.product.model":         "Pixel 5",
		"ro.build.version.release": "14",
	}, props)
}

func TestServerControl_Properties(t *testing.T) {
	runner := bridgetest.NewFakeRunner().
		OnShell("ABC", "getprop", bridgetest.Response{Output: "[ro.product.model]: [Pixel 5]\n"})
	s := bridge.NewServerControl(runner, zerolog.Nop())

	props, err := s.Properties(context.Background(), "ABC")
	require.NoError(t, err)
	assert.Equal(t, "Pixel 5", props["ro.product.model"])
}

func TestServerControl_RejectsInvalidEndpoint(t *testing.T) {
	runner := bridgetest.NewFakeRunner()
	s := bridge.NewServerControl(runner, zerolog.Nop())

	for _, tc := range []struct {
		ip   string
		port int
	}{{"", 5555}, {"-s", 5555}, {"10.0.0.2:1", 5555}, {"10.0.0.2", 0}, {"10.0.0.2", 70000}} {
		_, err := s.Connect(context.Background(), tc.ip, tc.port)
		assert.ErrorIs(t, err, bridge.ErrInvalidEndpoint, "%q:%d", tc.ip, tc.port)
	}
	_, err := s.Disconnect(context.Background(), "bad host", 5555)
	assert.ErrorIs(t, err, bridge.ErrInvalidEndpoint)
	assert.Empty(t, runner.Calls())

	endpoint, err := bridge.Endpoint(" 192.168.1.20 ", 5555)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.20:5555", endpoint)
}
