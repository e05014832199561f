// Package bridgetest provides a scripted bridge.Runner for tests.
package bridgetest

import (
	"context"
	"strings"
	"sync"

	"github.com/benmeehan/debloat-agent/internal/bridge"
)

// Response is the canned outcome of one command.
type Response struct {
	Output string
	Err    error
	// Lines, when set, are delivered one by one by Stream. Output is used otherwise.
	Lines []string
	// OnLine is invoked after each streamed line, letting tests observe progress.
	OnLine func(index int)
}

// FakeRunner answers commands from a script keyed on the space-joined args.
type FakeRunner struct {
	mu        sync.Mutex
	responses map[string]Response
	calls     []string
	fallback  *Response
}

// NewFakeRunner returns an empty FakeRunner. Unscripted commands fail with
// a CommandFailed error.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{responses: make(map[string]Response)}
}

// On scripts the response for the given args.
func (f *FakeRunner) On(resp Response, args ...string) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[strings.Join(args, " ")] = resp
	return f
}

// OnShell scripts the response for a shell command on serial.
func (f *FakeRunner) OnShell(serial, command string, resp Response) *FakeRunner {
	return f.On(resp, bridge.ShellArgs(serial, command)...)
}

// Otherwise scripts the response for any unscripted command.
func (f *FakeRunner) Otherwise(resp Response) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = &resp
	return f
}

func (f *FakeRunner) lookup(args []string) Response {
	key := strings.Join(args, " ")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	if resp, ok := f.responses[key]; ok {
		return resp
	}
	if f.fallback != nil {
		return *f.fallback
	}
	return Response{Err: bridge.CommandFailed("unscripted command: " + key)}
}

func (f *FakeRunner) Run(ctx context.Context, args ...string) (string, error) {
	resp := f.lookup(args)
	if resp.Err != nil {
		return "", resp.Err
	}
	if resp.Lines != nil {
		return strings.Join(resp.Lines, "\n") + "\n", nil
	}
	return resp.Output, nil
}

// Stream delivers the scripted lines and then returns the scripted error,
// mirroring a process that wrote output before exiting non-zero.
func (f *FakeRunner) Stream(ctx context.Context, onLine func(string), args ...string) error {
	resp := f.lookup(args)
	lines := resp.Lines
	if lines == nil && resp.Output != "" {
		lines = strings.Split(strings.TrimRight(resp.Output, "\n"), "\n")
	}
	for i, line := range lines {
		onLine(line)
		if resp.OnLine != nil {
			resp.OnLine(i)
		}
	}
	return resp.Err
}

// Calls returns every invocation so far, in order.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount reports how many times args were invoked.
func (f *FakeRunner) CallCount(args ...string) int {
	key := strings.Join(args, " ")
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == key {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls but keeps the script.
func (f *FakeRunner) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}
