package bridge

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a class of bridge failure.
type Kind int

const (
	KindCommandFailed Kind = iota
	KindBridgeNotFound
	KindNoDeviceConnected
	KindDeviceOffline
	KindDeviceUnauthorized
	KindServerNotRunning
	KindPermissionDenied
	KindTimeout
	KindParseError
)

var kindNames = map[Kind]string{
	KindCommandFailed:      "command_failed",
	KindBridgeNotFound:     "bridge_not_found",
	KindNoDeviceConnected:  "no_device_connected",
	KindDeviceOffline:      "device_offline",
	KindDeviceUnauthorized: "device_unauthorized",
	KindServerNotRunning:   "server_not_running",
	KindPermissionDenied:   "permission_denied",
	KindTimeout:            "timeout",
	KindParseError:         "parse_error",
}

// String returns the snake_case identifier used in API payloads.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error is the single error type produced by the bridge layer.
type Error struct {
	Kind   Kind
	Detail string
}

// Sentinels for errors.Is comparisons. Matching is by Kind only.
var (
	ErrBridgeNotFound     = &Error{Kind: KindBridgeNotFound}
	ErrNoDeviceConnected  = &Error{Kind: KindNoDeviceConnected}
	ErrDeviceOffline      = &Error{Kind: KindDeviceOffline}
	ErrDeviceUnauthorized = &Error{Kind: KindDeviceUnauthorized}
	ErrServerNotRunning   = &Error{Kind: KindServerNotRunning}
	ErrPermissionDenied   = &Error{Kind: KindPermissionDenied}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrCommandFailed      = &Error{Kind: KindCommandFailed}
	ErrParse              = &Error{Kind: KindParseError}
)

func (e *Error) Error() string {
	switch e.Kind {
	case KindNoDeviceConnected:
		return "No Android device connected. Please connect a device via USB or TCP."
	case KindBridgeNotFound:
		return "ADB (Android Debug Bridge) not found. Please install Android SDK Platform Tools."
	case KindServerNotRunning:
		return "ADB server is not running. Try running 'adb start-server'."
	case KindDeviceOffline:
		return "Device is offline. Please check the USB connection or reconnect the device."
	case KindDeviceUnauthorized:
		return "Device is unauthorized. Please check the device screen for USB debugging authorization prompt."
	case KindPermissionDenied:
		return "Permission denied. Try running the application with elevated privileges."
	case KindTimeout:
		return "ADB command timed out. Please check your device connection."
	case KindParseError:
		return fmt.Sprintf("Failed to parse ADB output: %s", e.Detail)
	default:
		return fmt.Sprintf("ADB command failed: %s", e.Detail)
	}
}

// Is reports whether target is a bridge error of the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// CommandFailed builds a KindCommandFailed error with the given detail.
func CommandFailed(detail string) *Error {
	return &Error{Kind: KindCommandFailed, Detail: detail}
}

// ParseError builds a KindParseError error with the given detail.
func ParseError(detail string) *Error {
	return &Error{Kind: KindParseError, Detail: detail}
}

// KindOf extracts the Kind of a bridge error anywhere in err's chain.
// Non-bridge errors report KindCommandFailed.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindCommandFailed
}

// classifyStderr maps the stderr of a failed invocation onto the taxonomy.
// Order matters: the first matching pattern wins.
func classifyStderr(stderr string, exitDetail string) *Error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "no devices/emulators found"), strings.Contains(lower, "device not found"),
		strings.Contains(lower, "device '") && strings.Contains(lower, "' not found"):
		return &Error{Kind: KindNoDeviceConnected}
	case strings.Contains(lower, "device offline"):
		return &Error{Kind: KindDeviceOffline}
	case strings.Contains(lower, "device unauthorized"):
		return &Error{Kind: KindDeviceUnauthorized}
	case strings.Contains(lower, "daemon not running"), strings.Contains(lower, "cannot connect"):
		return &Error{Kind: KindServerNotRunning}
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "access denied"):
		return &Error{Kind: KindPermissionDenied}
	}

	if msg == "" {
		msg = exitDetail
	}
	return CommandFailed(msg)
}
