package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

var (
	ErrClosed  = errors.New("sandbox runtime is closed")
	ErrTimeout = errors.New("sandbox execution timeout")
)

// RuntimeAPI is the object content discovers as window.API. scorm.API
// satisfies it.
type RuntimeAPI interface {
	LMSInitialize(string) string
	LMSFinish(string) string
	LMSGetValue(string) string
	LMSSetValue(string, string) string
	LMSCommit(string) string
	LMSGetLastError() string
	LMSGetErrorString(string) string
	LMSGetDiagnostic(string) string
}

// Runtime wraps goja VM with security controls. goja is not goroutine safe;
// every entry into the VM holds mu.
type Runtime struct {
	vm     *goja.Runtime
	config Config
	logger *zap.Logger
	mu     sync.Mutex

	// Console output
	console   []LogEntry
	consoleMu sync.Mutex

	timers    []goja.Callable
	listeners map[string][]goja.Callable
	location  string
	closed    bool
}

// New creates a new sandboxed runtime
func New(config Config, logger *zap.Logger) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runtime{
		config: config,
		logger: logger,
	}
	if err := r.reset(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runtime) reset() error {
	r.vm = goja.New()
	if r.config.MaxCallStack > 0 {
		r.vm.SetMaxCallStackSize(r.config.MaxCallStack)
	}
	r.console = nil
	r.timers = nil
	r.listeners = make(map[string][]goja.Callable)
	r.location = "about:blank"
	return r.setupGlobals()
}

// setupGlobals configures global objects and security
func (r *Runtime) setupGlobals() error {
	vm := r.vm

	// Remove dangerous globals
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	// SCORM content looks for API on window, parent, top and opener.
	global := vm.GlobalObject()
	for _, name := range []string{"window", "self", "parent", "top"} {
		if err := global.Set(name, global); err != nil {
			return err
		}
	}
	_ = global.Set("opener", goja.Null())

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		_ = console.Set(level, r.makeConsoleFunc(level))
	}
	_ = global.Set("console", console)

	// setTimeout callbacks run after the page scripts, in order, ignoring the
	// delay. Intervals never fire.
	_ = global.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(call.Argument(0)); ok {
			r.timers = append(r.timers, fn)
			return vm.ToValue(len(r.timers))
		}
		return vm.ToValue(0)
	})
	_ = global.Set("setInterval", func(goja.FunctionCall) goja.Value { return vm.ToValue(0) })
	_ = global.Set("clearTimeout", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	_ = global.Set("clearInterval", func(goja.FunctionCall) goja.Value { return goja.Undefined() })

	_ = global.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		event := call.Argument(0).String()
		if fn, ok := goja.AssertFunction(call.Argument(1)); ok {
			r.listeners[event] = append(r.listeners[event], fn)
		}
		return goja.Undefined()
	})
	_ = global.Set("removeEventListener", func(goja.FunctionCall) goja.Value { return goja.Undefined() })

	navigator := vm.NewObject()
	_ = navigator.Set("userAgent", "ScormHost/1.0 (headless)")
	_ = global.Set("navigator", navigator)

	return nil
}

// makeConsoleFunc creates a console function
func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		r.logger.Debug("content console", zap.String("level", level), zap.String("message", msg))
		if !r.config.EnableConsole {
			return goja.Undefined()
		}

		r.consoleMu.Lock()
		r.console = append(r.console, LogEntry{
			Level:   level,
			Message: msg,
			Time:    time.Now(),
		})
		r.consoleMu.Unlock()

		return goja.Undefined()
	}
}

// BindAPI exposes api as window.API and window.API_1484_11. The same object
// answers both the SCORM 1.2 and 2004 method names.
func (r *Runtime) BindAPI(api RuntimeAPI) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	vm := r.vm
	obj := vm.NewObject()

	unary := func(fn func(string) string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(fn(argString(call, 0)))
		}
	}
	nullary := func(fn func() string) func(goja.FunctionCall) goja.Value {
		return func(goja.FunctionCall) goja.Value {
			return vm.ToValue(fn())
		}
	}
	setValue := func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(api.LMSSetValue(argString(call, 0), argString(call, 1)))
	}

	methods := map[string]func(goja.FunctionCall) goja.Value{
		"LMSInitialize":     unary(api.LMSInitialize),
		"LMSFinish":         unary(api.LMSFinish),
		"LMSGetValue":       unary(api.LMSGetValue),
		"LMSSetValue":       setValue,
		"LMSCommit":         unary(api.LMSCommit),
		"LMSGetLastError":   nullary(api.LMSGetLastError),
		"LMSGetErrorString": unary(api.LMSGetErrorString),
		"LMSGetDiagnostic":  unary(api.LMSGetDiagnostic),
		"Initialize":        unary(api.LMSInitialize),
		"Terminate":         unary(api.LMSFinish),
		"GetValue":          unary(api.LMSGetValue),
		"SetValue":          setValue,
		"Commit":            unary(api.LMSCommit),
		"GetLastError":      nullary(api.LMSGetLastError),
		"GetErrorString":    unary(api.LMSGetErrorString),
		"GetDiagnostic":     unary(api.LMSGetDiagnostic),
	}
	for name, fn := range methods {
		if err := obj.Set(name, fn); err != nil {
			return fmt.Errorf("bind %s: %w", name, err)
		}
	}

	global := vm.GlobalObject()
	if err := global.Set("API", obj); err != nil {
		return err
	}
	return global.Set("API_1484_11", obj)
}

// argString converts argument i the way the browser's String() would, with
// undefined mapped to "".
func argString(call goja.FunctionCall, i int) string {
	v := call.Argument(i)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

// SetLocation sets window.location for the loaded page.
func (r *Runtime) SetLocation(href string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.location = href
	loc := r.vm.NewObject()
	_ = loc.Set("href", href)
	_ = loc.Set("toString", func(goja.FunctionCall) goja.Value { return r.vm.ToValue(href) })
	_ = r.vm.GlobalObject().Set("location", loc)
}

// AttachDOM exposes dom as document.
func (r *Runtime) AttachDOM(dom *DOM) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if dom == nil || !r.config.EnableDOM {
		return nil
	}
	return r.injectDOM(dom)
}

// injectDOM injects DOM proxy into runtime
func (r *Runtime) injectDOM(dom *DOM) error {
	vm := r.vm
	document := vm.NewObject()

	first := func(call goja.FunctionCall) goja.Value {
		elements := dom.Query(call.Argument(0).String())
		if len(elements) == 0 {
			return goja.Null()
		}
		return vm.ToValue(r.createElementProxy(elements[0]))
	}
	all := func(prefix string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			elements := dom.Query(prefix + call.Argument(0).String())
			proxies := make([]interface{}, len(elements))
			for i, e := range elements {
				proxies[i] = r.createElementProxy(e)
			}
			return vm.ToValue(proxies)
		}
	}

	_ = document.Set("querySelector", first)
	_ = document.Set("querySelectorAll", all(""))
	_ = document.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		elements := dom.Query("#" + call.Argument(0).String())
		if len(elements) == 0 {
			return goja.Null()
		}
		return vm.ToValue(r.createElementProxy(elements[0]))
	})
	_ = document.Set("getElementsByClassName", all("."))
	_ = document.Set("getElementsByTagName", all(""))
	_ = document.Set("addEventListener", vm.GlobalObject().Get("addEventListener"))
	if err := document.DefineAccessorProperty("title",
		vm.ToValue(func(goja.FunctionCall) goja.Value { return vm.ToValue(dom.Title()) }),
		vm.ToValue(func(call goja.FunctionCall) goja.Value {
			dom.SetTitle(call.Argument(0).String())
			return goja.Undefined()
		}),
		goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
		return err
	}

	return vm.Set("document", document)
}

// createElementProxy creates a proxy for DOM element
func (r *Runtime) createElementProxy(elem *Element) map[string]interface{} {
	return map[string]interface{}{
		"tagName":     elem.TagName,
		"id":          elem.ID,
		"className":   elem.ClassName,
		"textContent": elem.TextContent,
		"getAttribute": func(name string) string {
			return elem.GetAttribute(name)
		},
		"setAttribute": func(name, value string) {
			elem.SetAttribute(name, value)
		},
		"setText": func(text string) {
			elem.SetText(text)
		},
	}
}

// Execute runs JavaScript code with timeout and resource limits
func (r *Runtime) Execute(ctx context.Context, script string) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	return r.run(ctx, func(vm *goja.Runtime) (goja.Value, error) {
		return vm.RunString(script)
	})
}

// ExecuteNamed runs a script with a source name used in stack traces.
func (r *Runtime) ExecuteNamed(ctx context.Context, name, script string) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	return r.run(ctx, func(vm *goja.Runtime) (goja.Value, error) {
		return vm.RunScript(name, script)
	})
}

// run must be called with mu held.
func (r *Runtime) run(ctx context.Context, fn func(*goja.Runtime) (goja.Value, error)) (*Result, error) {
	start := time.Now()
	result := &Result{}

	timeout := r.config.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	done := make(chan struct{})
	exited := make(chan struct{})
	vm := r.vm
	// Only this run's own timer and ctx may interrupt it.
	vm.ClearInterrupt()
	go func() {
		defer close(exited)
		select {
		case <-timer.C:
			vm.Interrupt(ErrTimeout)
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	r.consoleMu.Lock()
	mark := len(r.console)
	r.consoleMu.Unlock()

	val, err := fn(vm)
	close(done)
	<-exited
	vm.ClearInterrupt()

	result.Duration = time.Since(start)

	r.consoleMu.Lock()
	result.Console = append([]LogEntry{}, r.console[mark:]...)
	r.consoleMu.Unlock()

	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if cause, ok := interrupted.Value().(error); ok {
				err = fmt.Errorf("%w: %v", cause, interrupted)
			}
		}
		result.Error = err
		return result, err
	}

	result.Value = exportValue(val)
	return result, nil
}

// Dispatch invokes the listeners registered for event, then any timers they
// queued.
func (r *Runtime) Dispatch(ctx context.Context, event string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	var errs []error
	for _, fn := range r.listeners[event] {
		if _, err := r.call(ctx, fn); err != nil {
			errs = append(errs, err)
		}
	}
	if handler, ok := goja.AssertFunction(r.vm.GlobalObject().Get("on" + event)); ok {
		if _, err := r.call(ctx, handler); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.drainTimers(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *Runtime) drainTimers(ctx context.Context) error {
	limit := r.config.MaxTimerTicks
	if limit <= 0 {
		limit = DefaultConfig().MaxTimerTicks
	}

	var errs []error
	for ticks := 0; len(r.timers) > 0 && ticks < limit; ticks++ {
		fn := r.timers[0]
		r.timers = r.timers[1:]
		if _, err := r.call(ctx, fn); err != nil {
			errs = append(errs, err)
		}
	}
	if len(r.timers) > 0 {
		r.logger.Debug("timer budget exhausted", zap.Int("pending", len(r.timers)))
		r.timers = nil
	}
	return errors.Join(errs...)
}

func (r *Runtime) call(ctx context.Context, fn goja.Callable) (*Result, error) {
	return r.run(ctx, func(vm *goja.Runtime) (goja.Value, error) {
		return fn(goja.Undefined())
	})
}

// Console returns all console output captured since the last reset.
func (r *Runtime) Console() []LogEntry {
	r.consoleMu.Lock()
	defer r.consoleMu.Unlock()
	return append([]LogEntry{}, r.console...)
}

// exportValue converts goja value to Go value
func exportValue(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}

// Reset clears the runtime state
func (r *Runtime) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	return r.reset()
}

// Close releases resources
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.timers = nil
	r.listeners = nil
	r.console = nil
	return nil
}
