package bridge

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/benmeehan/debloat-agent/internal/constants"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/process"
)

var versionPattern = regexp.MustCompile(`(?i)version\s+(\d+\.\d+\.\d+)`)

// ErrInvalidEndpoint rejects TCP addresses that cannot name a device.
var ErrInvalidEndpoint = errors.New("invalid device address")

// Endpoint formats ip:port after checking both parts.
func Endpoint(ip string, port int) (string, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" || strings.HasPrefix(ip, "-") || strings.ContainsAny(ip, " \t:/") {
		return "", fmt.Errorf("%w: host %q", ErrInvalidEndpoint, ip)
	}
	if port < 1 || port > 65535 {
		return "", fmt.Errorf("%w: port %d", ErrInvalidEndpoint, port)
	}
	return fmt.Sprintf("%s:%d", ip, port), nil
}

// VersionInfo is the parsed output of the version subcommand.
type VersionInfo struct {
	Raw     string          `json:"raw"`
	Version *semver.Version `json:"version,omitempty"`
}

// ServerControl manages the host-side bridge server and TCP connections.
type ServerControl struct {
	runner Runner
	logger zerolog.Logger

	processNames func() ([]string, error)
	pause        func(time.Duration)
}

// NewServerControl creates a ServerControl backed by runner.
func NewServerControl(runner Runner, logger zerolog.Logger) *ServerControl {
	return &ServerControl{
		runner:       runner,
		logger:       logger,
		processNames: hostProcessNames,
		pause:        time.Sleep,
	}
}

// Version runs the version subcommand and parses the bridge version.
func (s *ServerControl) Version(ctx context.Context) (VersionInfo, error) {
	out, err := s.runner.Run(ctx, "version")
	if err != nil {
		return VersionInfo{}, err
	}
	info := VersionInfo{Raw: strings.TrimSpace(out)}

	match := versionPattern.FindStringSubmatch(out)
	if match == nil {
		return info, ParseError("no version number in output")
	}
	v, err := semver.NewVersion(match[1])
	if err != nil {
		return info, ParseError(fmt.Sprintf("invalid version %q: %v", match[1], err))
	}
	info.Version = v
	return info, nil
}

// CheckVersion reports whether the installed bridge satisfies the minimum version.
func (s *ServerControl) CheckVersion(ctx context.Context) (VersionInfo, bool, error) {
	info, err := s.Version(ctx)
	if err != nil {
		return info, false, err
	}
	constraint, err := semver.NewConstraint(constants.MinimumBridgeVersion)
	if err != nil {
		return info, false, err
	}
	return info, constraint.Check(info.Version), nil
}

func (s *ServerControl) StartServer(ctx context.Context) error {
	_, err := s.runner.Run(ctx, "start-server")
	return err
}

func (s *ServerControl) KillServer(ctx context.Context) error {
	_, err := s.runner.Run(ctx, "kill-server")
	return err
}

// RestartServer kills the server, waits briefly and starts it again.
func (s *ServerControl) RestartServer(ctx context.Context) error {
	s.logger.Info().Msg("Restarting ADB server")
	if err := s.KillServer(ctx); err != nil {
		return err
	}
	s.pause(constants.ServerRestartPause)
	return s.StartServer(ctx)
}

// Connect attaches a device over TCP. The bridge reports connection
// failures on stdout with a zero exit status.
func (s *ServerControl) Connect(ctx context.Context, ip string, port int) (string, error) {
	endpoint, err := Endpoint(ip, port)
	if err != nil {
		return "", err
	}
	s.logger.Info().Str("endpoint", endpoint).Msg("Connecting device over TCP")
	out, err := s.runner.Run(ctx, "connect", endpoint)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	lower := strings.ToLower(out)
	if strings.Contains(lower, "failed to connect") || strings.Contains(lower, "unable to connect") {
		return out, CommandFailed(out)
	}
	return out, nil
}

func (s *ServerControl) Disconnect(ctx context.Context, ip string, port int) (string, error) {
	endpoint, err := Endpoint(ip, port)
	if err != nil {
		return "", err
	}
	out, err := s.runner.Run(ctx, "disconnect", endpoint)
	return strings.TrimSpace(out), err
}

// DaemonRunning inspects host processes for a running bridge server.
func (s *ServerControl) DaemonRunning() (bool, error) {
	names, err := s.processNames()
	if err != nil {
		return false, fmt.Errorf("failed to retrieve process list: %w", err)
	}
	for _, name := range names {
		name = strings.ToLower(name)
		if name == "adb" || name == "adb.exe" {
			return true, nil
		}
	}
	return false, nil
}

// Properties returns the device's getprop dump as a map.
func (s *ServerControl) Properties(ctx context.Context, serial string) (map[string]string, error) {
	out, err := Shell(ctx, s.runner, serial, "getprop")
	if err != nil {
		return nil, err
	}
	return ParseProperties(out), nil
}

// ParseProperties parses "[key]: [value]" lines.
func ParseProperties(output string) map[string]string {
	props := make(map[string]string)
	for _, line := range SplitLines(output) {
		if !strings.HasPrefix(line, "[") {
			continue
		}
		keyEnd := strings.Index(line, "]: [")
		if keyEnd < 0 {
			continue
		}
		rest := line[keyEnd+4:]
		valueEnd := strings.Index(rest, "]")
		if valueEnd < 0 {
			continue
		}
		props[line[1:keyEnd]] = rest[:valueEnd]
	}
	return props
}

func hostProcessNames() ([]string, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(procs))
	for _, proc := range procs {
		name, err := proc.Name()
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}
