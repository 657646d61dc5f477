// Package session holds the state of one interactive rerequire session: the
// bound directory, the binding registry, the module loader, the file watcher
// and the goja runtime the shell evaluates against.
//
// Everything that touches the runtime runs on the session loop, one job at a
// time. Exported methods submit work to the loop and wait for it, so they
// must not be called from JS callbacks, which already run there.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/itsmostafa/rerequire/internal/logging"
	"github.com/itsmostafa/rerequire/internal/modules"
	"github.com/itsmostafa/rerequire/internal/resolve"
	"github.com/itsmostafa/rerequire/internal/ui"
	"github.com/itsmostafa/rerequire/internal/watcher"
)

// DefaultSettle is the delay between an admitted change event and the reload.
// A truncating write reports its first modification before the new content
// is written.
const DefaultSettle = 50 * time.Millisecond

// Options configures a Session.
type Options struct {
	// BoundDir defaults to the working directory at the time New is called
	BoundDir string

	// GlobalPaths defaults to resolve.GlobalPaths()
	GlobalPaths []string

	// Debounce defaults to watcher.DefaultDebounce
	Debounce time.Duration

	// Settle delays a reload after an admitted change so the writer can
	// finish the save (default DefaultSettle, negative for none)
	Settle time.Duration

	// Policy defaults to modules.EvictDependencies
	Policy modules.Policy

	// Output receives diagnostics and print() output (default os.Stdout)
	Output io.Writer

	Logger *slog.Logger
}

// Session is one interactive session.
type Session struct {
	id       string
	vm       *goja.Runtime
	resolver *resolve.Resolver
	registry *Registry
	loader   *modules.Loader
	watcher  *watcher.Watcher
	loop     *loop
	handles  map[resolve.Key]watcher.Handle
	settle   time.Duration
	out      io.Writer
	logger   *slog.Logger
}

// New creates a session and starts its loop.
func New(opts Options) (*Session, error) {
	boundDir := opts.BoundDir
	if boundDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		boundDir = wd
	}
	globalPaths := opts.GlobalPaths
	if globalPaths == nil {
		globalPaths = resolve.GlobalPaths()
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	logger := opts.Logger
	watcherLogger, loaderLogger := logger, logger
	if logger == nil {
		logger = logging.NewModuleLogger("session", "host")
		watcherLogger = logging.NewModuleLogger("watcher", "fsnotify")
		loaderLogger = logging.NewModuleLogger("modules", "loader")
	}
	// Log lines from concurrent shells sharing one log sink stay separable.
	id := uuid.NewString()
	logger = logger.With("session_id", id)
	watcherLogger = watcherLogger.With("session_id", id)
	loaderLogger = loaderLogger.With("session_id", id)

	settle := opts.Settle
	switch {
	case settle == 0:
		settle = DefaultSettle
	case settle < 0:
		settle = 0
	}

	resolver, err := resolve.New(boundDir, globalPaths)
	if err != nil {
		return nil, err
	}

	fileWatcher, err := watcher.New(watcher.Options{
		Debounce: opts.Debounce,
		Logger:   watcherLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start file watcher: %w", err)
	}

	vm := goja.New()
	s := &Session{
		id:       id,
		vm:       vm,
		resolver: resolver,
		registry: NewRegistry(),
		loader: modules.NewLoader(vm, resolver, modules.Options{
			Policy: opts.Policy,
			Logger: loaderLogger,
		}),
		watcher: fileWatcher,
		loop:    newLoop(logger),
		handles: make(map[resolve.Key]watcher.Handle),
		settle:  settle,
		out:     out,
		logger:  logger,
	}

	if err := s.setupGlobals(); err != nil {
		_ = fileWatcher.Close()
		return nil, fmt.Errorf("failed to setup globals: %w", err)
	}

	s.loop.start()
	return s, nil
}

// ID identifies the session in log output.
func (s *Session) ID() string {
	return s.id
}

// BoundDir returns the directory relative identifiers resolve against.
func (s *Session) BoundDir() string {
	return s.resolver.BoundDir()
}

// Debounce returns the watcher's debounce window.
func (s *Session) Debounce() time.Duration {
	return s.watcher.Debounce()
}

// Policy returns the eviction policy.
func (s *Session) Policy() modules.Policy {
	return s.loader.Policy()
}

// Reload binds the module named by identifier to global and watches it. It
// reports false, leaving all state unchanged, when the module is already
// bound.
func (s *Session) Reload(ctx context.Context, identifier, global string) (bool, error) {
	var bound bool
	err := s.loop.do(ctx, func() error {
		var err error
		bound, err = s.reload(identifier, global)
		return err
	})
	return bound, err
}

// Unwatch stops watching the module named by identifier and releases its
// binding so it can be bound again. The global keeps its last value.
func (s *Session) Unwatch(ctx context.Context, identifier string) (bool, error) {
	var released bool
	err := s.loop.do(ctx, func() error {
		var err error
		released, err = s.unwatch(identifier)
		return err
	})
	return released, err
}

// Do runs fn on the session loop with exclusive access to the runtime.
func (s *Session) Do(ctx context.Context, fn func(vm *goja.Runtime) error) error {
	return s.loop.do(ctx, func() error {
		return fn(s.vm)
	})
}

// Global returns the exported Go value of a global, or nil if it is unset.
func (s *Session) Global(ctx context.Context, name string) (any, error) {
	var value any
	err := s.Do(ctx, func(vm *goja.Runtime) error {
		if v := vm.Get(name); v != nil {
			value = v.Export()
		}
		return nil
	})
	return value, err
}

// Bindings returns the registry contents sorted by key.
func (s *Session) Bindings(ctx context.Context) ([]Binding, error) {
	var bindings []Binding
	err := s.loop.do(ctx, func() error {
		bindings = s.registry.Bindings()
		return nil
	})
	return bindings, err
}

// Stats is a snapshot of session counters.
type Stats struct {
	Bindings int
	Modules  int
	Watcher  watcher.Metrics
}

// Stats returns binding, cache and watcher counters.
func (s *Session) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.loop.do(ctx, func() error {
		stats = Stats{
			Bindings: s.registry.Len(),
			Modules:  s.loader.Len(),
			Watcher:  s.watcher.Metrics(),
		}
		return nil
	})
	return stats, err
}

// Graph returns a snapshot of the module dependency graph.
func (s *Session) Graph(ctx context.Context) (modules.Graph, error) {
	var graph modules.Graph
	err := s.loop.do(ctx, func() error {
		graph = s.loader.Graph()
		return nil
	})
	return graph, err
}

// Interrupt aborts the JS code currently running on the loop. It may be
// called from any goroutine.
func (s *Session) Interrupt(reason string) {
	s.vm.Interrupt(reason)
}

// Close stops the loop and every watch.
func (s *Session) Close() error {
	s.loop.stop()
	return s.watcher.Close()
}

func (s *Session) reload(identifier, global string) (bool, error) {
	key, err := s.resolver.Resolve(identifier)
	if err != nil {
		return false, err
	}

	if !s.registry.TryBind(key, global) {
		existing, _ := s.registry.Lookup(key)
		ui.FormatAlreadyBound(s.out, identifier, existing)
		return false, nil
	}

	value, err := s.loader.Load(key)
	if err != nil {
		s.registry.Release(key)
		return false, err
	}
	previous := s.vm.Get(global)
	if err := s.vm.Set(global, value); err != nil {
		s.rollback(key, global, previous)
		return false, fmt.Errorf("failed to bind global %s: %w", global, err)
	}

	handle, err := s.watcher.Watch(key.String(), func(watcher.Event) {
		time.AfterFunc(s.settle, func() {
			s.loop.post(func() { s.refresh(key) })
		})
	})
	if err != nil {
		s.rollback(key, global, previous)
		return false, err
	}
	s.handles[key] = handle

	s.logger.Info("module bound", "key", key.String(), "global", global)
	ui.FormatBound(s.out, identifier, global)
	return true, nil
}

// rollback undoes a partial reload: the binding, the cached module and the
// global's value. A nil previous means the global did not exist.
func (s *Session) rollback(key resolve.Key, global string, previous goja.Value) {
	s.registry.Release(key)
	s.loader.Evict(key)
	var err error
	if previous == nil {
		err = s.vm.GlobalObject().Delete(global)
	} else {
		err = s.vm.Set(global, previous)
	}
	if err != nil {
		s.logger.Warn("failed to restore global", "global", global, "error", err)
	}
}

// refresh evicts and reloads a bound module after its file changed. Failures
// are reported and leave the previous value bound.
func (s *Session) refresh(key resolve.Key) {
	global, ok := s.registry.Lookup(key)
	if !ok {
		return
	}
	// A stale interrupt aimed at an earlier shell evaluation must not abort
	// the reload.
	s.vm.ClearInterrupt()

	s.loader.Evict(key)
	value, err := s.loader.Load(key)
	if err == nil {
		err = s.vm.Set(global, value)
	}
	if err != nil {
		s.logger.Warn("reload failed", "key", key.String(), "global", global, "error", err)
		ui.FormatReloadFailed(s.out, key.String(), global, err)
		return
	}

	s.logger.Info("module reloaded", "key", key.String(), "global", global)
	ui.FormatReloaded(s.out, key.String(), global)
}

func (s *Session) unwatch(identifier string) (bool, error) {
	key, err := s.resolver.Resolve(identifier)
	if err != nil {
		return false, err
	}

	global, ok := s.registry.Lookup(key)
	if !ok {
		ui.FormatNotBound(s.out, identifier)
		return false, nil
	}

	if handle, ok := s.handles[key]; ok {
		if err := handle.Close(); err != nil {
			s.logger.Warn("failed to close watch", "key", key.String(), "error", err)
		}
		delete(s.handles, key)
	}
	s.registry.Release(key)
	s.loader.Evict(key)

	s.logger.Info("module unwatched", "key", key.String(), "global", global)
	ui.FormatUnwatched(s.out, identifier, global)
	return true, nil
}

// setupGlobals installs the JS globals the shell and modules rely on.
func (s *Session) setupGlobals() error {
	vm := s.vm

	reloadFunc := func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(vm.NewTypeError("rerequire requires 2 arguments: identifier, globalName"))
		}
		bound, err := s.reload(call.Arguments[0].String(), call.Arguments[1].String())
		if err != nil {
			s.throw(err)
		}
		return vm.ToValue(bound)
	}
	if err := vm.Set("rerequire", reloadFunc); err != nil {
		return fmt.Errorf("failed to set rerequire: %w", err)
	}

	unwatchFunc := func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(vm.NewTypeError("unwatch requires 1 argument: identifier"))
		}
		released, err := s.unwatch(call.Arguments[0].String())
		if err != nil {
			s.throw(err)
		}
		return vm.ToValue(released)
	}
	if err := vm.Set("unwatch", unwatchFunc); err != nil {
		return fmt.Errorf("failed to set unwatch: %w", err)
	}

	requireFunc := func(call goja.FunctionCall) goja.Value {
		value, err := s.loader.Require(call.Argument(0).String())
		if err != nil {
			s.throw(err)
		}
		return value
	}
	if err := vm.Set("require", requireFunc); err != nil {
		return fmt.Errorf("failed to set require: %w", err)
	}

	printFunc := func(call goja.FunctionCall) goja.Value {
		args := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.String()
		}
		fmt.Fprintln(s.out, strings.Join(args, " "))
		return goja.Undefined()
	}
	if err := vm.Set("print", printFunc); err != nil {
		return fmt.Errorf("failed to set print: %w", err)
	}

	console := vm.NewObject()
	for _, name := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(name, printFunc); err != nil {
			return fmt.Errorf("failed to set console.%s: %w", name, err)
		}
	}
	if err := vm.Set("console", console); err != nil {
		return fmt.Errorf("failed to set console: %w", err)
	}

	return nil
}

// throw raises err in the calling JS code as a GoError, so the message keeps
// the module key and the original error stays reachable through Unwrap.
func (s *Session) throw(err error) {
	panic(s.vm.NewGoError(err))
}
