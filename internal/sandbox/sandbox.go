// Package sandbox runs agent scripts in isolated JavaScript runtimes.
//
// Each launched script gets its own goja runtime owned by a single event-loop
// goroutine. The global scope holds the ECMAScript built-ins plus exactly the
// capability set installed by bind: async, log, nitrogen, params, session,
// setTimeout and setInterval.
package sandbox

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dop251/goja"

	"github.com/Strob0t/reactor/internal/domain"
	"github.com/Strob0t/reactor/internal/port/platform"
)

//go:embed async.js
var asyncSource string

var asyncPrelude = goja.MustCompile("async.js", asyncSource, false)

// Script is a compiled agent action. A Script is immutable and may be run
// in any number of runtimes.
type Script struct {
	name    string
	program *goja.Program
}

// Name returns the name the script was compiled under.
func (s *Script) Name() string { return s.name }

// Compile parses src once. Syntax errors wrap domain.ErrScriptExecution.
func Compile(name, src string) (*Script, error) {
	prog, err := goja.Compile(name, src, false)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w: %w", name, domain.ErrScriptExecution, err)
	}
	return &Script{name: name, program: prog}, nil
}

// Capabilities is everything a script can reach.
type Capabilities struct {
	Logger  *slog.Logger
	Session platform.Session
	Params  json.RawMessage
}

// Launch starts script in a fresh runtime bound to caps. The top-level code
// runs once on the task's event loop; Started is closed when it returns.
// The task runs until ctx is cancelled or Stop is called.
func Launch(ctx context.Context, script *Script, caps Capabilities) *Task {
	if caps.Logger == nil {
		caps.Logger = slog.Default()
	}
	t := newTask(ctx, script.name, caps)

	t.enqueue(func(vm *goja.Runtime) error {
		defer close(t.started)
		err := protect(func() error {
			if err := t.bind(vm); err != nil {
				return err
			}
			_, err := vm.RunProgram(script.program)
			return err
		})
		if err != nil {
			t.err = fmt.Errorf("run %s: %w: %w", script.name, domain.ErrScriptExecution, err)
			t.log.Error("agent script fault", "error", err.Error(), "stack", stackOf(err))
		}
		return nil
	})

	go t.run()
	return t
}

// protect runs fn, converting a host panic into an error.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// stackOf returns the JavaScript stack of err when it is a script exception.
func stackOf(err error) string {
	if ex, ok := err.(*goja.Exception); ok { //nolint:errorlint // goja returns *Exception unwrapped
		return ex.String()
	}
	return ""
}
