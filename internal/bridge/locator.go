package bridge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/benmeehan/debloat-agent/internal/constants"
	"github.com/rs/zerolog"
)

// Executable is a resolved bridge binary.
type Executable struct {
	Path           string `json:"path"`
	FromSearchPath bool   `json:"fromSearchPath"`
}

var wellKnownDirs = map[string][]string{
	"windows": {
		`C:\platform-tools`,
		`C:\Program Files (x86)\Android\android-sdk\platform-tools`,
		`C:\Android\sdk\platform-tools`,
	},
	"darwin": {"/usr/local/bin", "/opt/homebrew/bin"},
	"linux":  {"/usr/bin", "/usr/local/bin"},
}

// Locator finds the bridge executable once and memoizes the outcome,
// including a not-found outcome, until Invalidate is called.
type Locator struct {
	explicitPath string
	logger       zerolog.Logger

	goos     string
	getenv   func(string) string
	lookPath func(string) (string, error)
	verify   func(ctx context.Context, path string) bool

	wellKnown map[string][]string

	mu       sync.Mutex
	resolved bool
	exe      Executable
	err      error
}

// NewLocator creates a Locator. explicitPath, when non-empty, is probed first.
func NewLocator(explicitPath string, logger zerolog.Logger) *Locator {
	return &Locator{
		explicitPath: explicitPath,
		logger:       logger,
		goos:         runtime.GOOS,
		getenv:       os.Getenv,
		lookPath:     exec.LookPath,
		verify:       verifyVersion,
		wellKnown:    wellKnownDirs,
	}
}

// Resolve returns the memoized executable, probing on first use.
func (l *Locator) Resolve(ctx context.Context) (Executable, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.resolved {
		return l.exe, l.err
	}

	l.exe, l.err = l.probe(ctx)
	l.resolved = true

	if l.err != nil {
		l.logger.Warn().Msg("ADB executable not found in any known location")
	} else {
		l.logger.Info().Str("path", l.exe.Path).Bool("from_search_path", l.exe.FromSearchPath).Msg("Resolved ADB executable")
	}
	return l.exe, l.err
}

// Invalidate drops the memoized result so the next Resolve probes again.
func (l *Locator) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resolved = false
	l.exe = Executable{}
	l.err = nil
}

func (l *Locator) probe(ctx context.Context) (Executable, error) {
	if l.explicitPath != "" {
		if isExecutable(l.explicitPath, l.goos) {
			return Executable{Path: l.explicitPath}, nil
		}
		l.logger.Warn().Str("path", l.explicitPath).Msg("Configured ADB path is not an executable file, falling back to search")
	}

	if found, err := l.lookPath(l.binaryName()); err == nil && l.verify(ctx, found) {
		return Executable{Path: found, FromSearchPath: true}, nil
	}

	for _, candidate := range l.candidates() {
		if isExecutable(candidate, l.goos) {
			return Executable{Path: candidate}, nil
		}
	}

	return Executable{}, &Error{Kind: KindBridgeNotFound}
}

func (l *Locator) binaryName() string {
	if l.goos == "windows" {
		return "adb.exe"
	}
	return "adb"
}

// candidates lists the well-known install directories followed by the
// environment-derived SDK locations for the current platform.
func (l *Locator) candidates() []string {
	name := l.binaryName()
	dirs, ok := l.wellKnown[l.goos]
	if !ok {
		dirs = l.wellKnown["linux"]
	}
	dirs = append([]string(nil), dirs...)

	if l.goos == "windows" {
		if p := l.getenv("LOCALAPPDATA"); p != "" {
			dirs = append(dirs, filepath.Join(p, "Android", "Sdk", "platform-tools"))
		}
		if p := l.getenv("USERPROFILE"); p != "" {
			dirs = append(dirs, filepath.Join(p, "AppData", "Local", "Android", "Sdk", "platform-tools"))
		}
	}
	for _, key := range []string{"ANDROID_HOME", "ANDROID_SDK_ROOT"} {
		if p := l.getenv(key); p != "" {
			dirs = append(dirs, filepath.Join(p, "platform-tools"))
		}
	}
	if home := l.getenv("HOME"); home != "" {
		switch l.goos {
		case "darwin":
			dirs = append(dirs, filepath.Join(home, "Library", "Android", "sdk", "platform-tools"))
		case "windows":
		default:
			dirs = append(dirs, filepath.Join(home, "Android", "Sdk", "platform-tools"))
		}
	}

	out := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		out = append(out, filepath.Join(dir, name))
	}
	return out
}

func isExecutable(path, goos string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if goos == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}

func verifyVersion(ctx context.Context, path string) bool {
	ctx, cancel := context.WithTimeout(ctx, constants.LocatorProbeTimeout*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, path, "version").Run() == nil
}
