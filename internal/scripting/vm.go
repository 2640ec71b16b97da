package scripting

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// ErrScriptTimeout is returned when a script call runs past its deadline.
var ErrScriptTimeout = errors.New("script timed out")

const (
	scriptInitTimeout = 2 * time.Second
	scriptCallTimeout = 1 * time.Second
	maxLogEntries     = 500
)

// LogEntry is one log() line from the script.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// VM is a sandboxed goja runtime. A goja runtime is not safe for concurrent
// use, so every call into it goes through mu.
type VM struct {
	runtime *goja.Runtime
	mu      sync.Mutex

	logMu  sync.Mutex
	logs   []LogEntry
	onLog  func(LogEntry)
	pickFn func() int

	stopRequested  bool
	resetRequested bool
	sleepMillis    int
}

// NewVM builds a runtime with the autoplay globals installed. pick backs
// randomcell() and onLog, when set, sees every log line.
func NewVM(gridSide int, pick func() int, onLog func(LogEntry)) *VM {
	vm := &VM{
		runtime: goja.New(),
		pickFn:  pick,
		onLog:   onLog,
	}
	vm.injectGlobalFunctions()
	injectConstants(vm.runtime, gridSide)
	return vm
}

func (vm *VM) injectGlobalFunctions() {
	rt := vm.runtime

	logFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		vm.appendLog(LogEntry{Time: time.Now(), Message: strings.Join(parts, " ")})
		return goja.Undefined()
	}
	rt.Set("log", logFn)
	console := rt.NewObject()
	console.Set("log", logFn)
	rt.Set("console", console)

	// Script callbacks run with mu held, so these only touch plain fields.
	rt.Set("stop", func(goja.FunctionCall) goja.Value {
		vm.stopRequested = true
		rt.Set("running", false)
		return goja.Undefined()
	})
	rt.Set("sleep", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			vm.sleepMillis = int(call.Argument(0).ToInteger())
		}
		return goja.Undefined()
	})
	rt.Set("resetstats", func(goja.FunctionCall) goja.Value {
		vm.resetRequested = true
		return goja.Undefined()
	})
	rt.Set("randomcell", func(goja.FunctionCall) goja.Value {
		if vm.pickFn == nil {
			return goja.Undefined()
		}
		return rt.ToValue(vm.pickFn())
	})

	for _, name := range []string{"require", "fetch", "XMLHttpRequest", "eval", "Function"} {
		rt.Set(name, goja.Undefined())
	}
}

func (vm *VM) appendLog(e LogEntry) {
	vm.logMu.Lock()
	if len(vm.logs) >= maxLogEntries {
		vm.logs = vm.logs[1:]
	}
	vm.logs = append(vm.logs, e)
	vm.logMu.Unlock()
	if vm.onLog != nil {
		vm.onLog(e)
	}
}

// withDeadline runs fn and interrupts the runtime if it is still busy after d.
// Caller holds mu.
func (vm *VM) withDeadline(d time.Duration, fn func() error) error {
	timer := time.AfterFunc(d, func() { vm.runtime.Interrupt(ErrScriptTimeout) })
	defer func() {
		timer.Stop()
		vm.runtime.ClearInterrupt()
	}()
	err := fn()
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("%w after %s", ErrScriptTimeout, d)
	}
	return err
}

// Interrupt aborts whatever the script is running right now.
func (vm *VM) Interrupt() {
	vm.runtime.Interrupt(errors.New("script stopped"))
}

// Execute runs the script source once so it can define dobet() and round().
func (vm *VM) Execute(source string) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.withDeadline(scriptInitTimeout, func() error {
		if _, err := vm.runtime.RunString(source); err != nil {
			return fmt.Errorf("script execution error: %w", err)
		}
		return nil
	})
}

func (vm *VM) function(name string) (goja.Callable, bool) {
	fn, ok := goja.AssertFunction(vm.runtime.Get(name))
	return fn, ok
}

// HasFunction reports whether the script defined a global function name.
func (vm *VM) HasFunction(name string) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	_, ok := vm.function(name)
	return ok
}

// Call invokes a global script function and returns its exported result.
func (vm *VM) Call(name string) (any, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	fn, ok := vm.function(name)
	if !ok {
		return nil, fmt.Errorf("%s() function is not defined", name)
	}
	var out goja.Value
	err := vm.withDeadline(scriptCallTimeout, func() error {
		v, err := fn(goja.Undefined())
		out = v
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s(): %w", name, err)
	}
	if isNullish(out) {
		return nil, nil
	}
	return out.Export(), nil
}

// SetVariables pushes vars into the runtime.
func (vm *VM) SetVariables(vars *Variables) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	injectVariables(vm.runtime, vars)
}

// SyncVariables reads the writable variables back out of the runtime.
func (vm *VM) SyncVariables(vars *Variables) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	syncFromVM(vm.runtime, vars)
}

// StopRequested reports whether the script called stop().
func (vm *VM) StopRequested() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.stopRequested
}

// TakeResetRequest reports and clears a pending resetstats().
func (vm *VM) TakeResetRequest() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	r := vm.resetRequested
	vm.resetRequested = false
	return r
}

// TakeSleep returns the delay requested by sleep() or the sleeptime
// variable, and clears both.
func (vm *VM) TakeSleep() time.Duration {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	ms := vm.sleepMillis
	if v := toInt(vm.runtime.Get("sleeptime")); v > ms {
		ms = v
	}
	vm.sleepMillis = 0
	vm.runtime.Set("sleeptime", 0)
	return time.Duration(ms) * time.Millisecond
}

// Logs returns a copy of the log buffer.
func (vm *VM) Logs() []LogEntry {
	vm.logMu.Lock()
	defer vm.logMu.Unlock()
	return append([]LogEntry(nil), vm.logs...)
}

// ClearLogs empties the log buffer.
func (vm *VM) ClearLogs() {
	vm.logMu.Lock()
	defer vm.logMu.Unlock()
	vm.logs = vm.logs[:0]
}
