// Package modules implements a CommonJS module loader on top of goja.
//
// The loader owns its cache and dependency graph. Each cached Module records
// the modules it required (Children), and a synthetic session root records the
// modules required directly from the shell. Evict walks that graph to drop a
// module and its dependency subtree so the next Load re-executes the source.
//
// A Loader is not safe for concurrent use. All calls must happen on the
// goroutine that owns the goja runtime.
package modules

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dop251/goja"

	"github.com/itsmostafa/rerequire/internal/logging"
	"github.com/itsmostafa/rerequire/internal/resolve"
)

// RootKey identifies the session root in the graph.
const RootKey resolve.Key = "<session>"

// Module is one cached module.
type Module struct {
	Key resolve.Key

	// Children are the direct dependencies in first-require order.
	Children []resolve.Key

	// Loaded is false while the module body is still executing.
	Loaded bool

	object *goja.Object
}

// Exports returns module.exports, or undefined for the session root.
func (m *Module) Exports() goja.Value {
	if m.object == nil {
		return goja.Undefined()
	}
	return m.object.Get("exports")
}

func (m *Module) addChild(key resolve.Key) {
	for _, child := range m.Children {
		if child == key {
			return
		}
	}
	m.Children = append(m.Children, key)
}

// removeChild drops the first occurrence of key only.
func (m *Module) removeChild(key resolve.Key) bool {
	for i, child := range m.Children {
		if child == key {
			m.Children = append(m.Children[:i], m.Children[i+1:]...)
			return true
		}
	}
	return false
}

// LoadError wraps a failure to read or execute a module.
type LoadError struct {
	Key resolve.Key
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load module %s: %v", e.Key, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Options configures a Loader.
type Options struct {
	// Policy selects the eviction direction (default EvictDependencies)
	Policy Policy

	Logger *slog.Logger
}

// Loader loads modules into a goja runtime and memoizes them by key.
type Loader struct {
	vm       *goja.Runtime
	resolver *resolve.Resolver
	cache    map[resolve.Key]*Module
	root     *Module
	policy   Policy
	logger   *slog.Logger
}

// NewLoader creates a loader executing modules in vm.
func NewLoader(vm *goja.Runtime, resolver *resolve.Resolver, opts Options) *Loader {
	policy := opts.Policy
	if policy == "" {
		policy = EvictDependencies
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewModuleLogger("modules", "loader")
	}
	return &Loader{
		vm:       vm,
		resolver: resolver,
		cache:    make(map[resolve.Key]*Module),
		root:     &Module{Key: RootKey, Loaded: true},
		policy:   policy,
		logger:   logger,
	}
}

// Policy returns the eviction policy in effect.
func (l *Loader) Policy() Policy {
	return l.policy
}

// Load returns the exports of key, executing the module if it is not cached.
// The module is recorded as a direct child of the session root.
func (l *Loader) Load(key resolve.Key) (goja.Value, error) {
	return l.loadFrom(key, l.root)
}

// Require resolves identifier from the bound directory and loads it, like
// require() typed at the shell prompt.
func (l *Loader) Require(identifier string) (goja.Value, error) {
	key, err := l.resolver.Resolve(identifier)
	if err != nil {
		return nil, err
	}
	return l.Load(key)
}

// Cached reports whether key has a cache entry.
func (l *Loader) Cached(key resolve.Key) bool {
	_, ok := l.cache[key]
	return ok
}

// Len returns the number of cached modules.
func (l *Loader) Len() int {
	return len(l.cache)
}

// Module returns the cache entry for key.
func (l *Loader) Module(key resolve.Key) (*Module, bool) {
	if key == RootKey {
		return l.root, true
	}
	m, ok := l.cache[key]
	return m, ok
}

func (l *Loader) loadFrom(key resolve.Key, parent *Module) (goja.Value, error) {
	parent.addChild(key)

	if m, ok := l.cache[key]; ok {
		return m.Exports(), nil
	}

	m := &Module{Key: key}
	// Cached before execution so cyclic requires see the partial exports.
	l.cache[key] = m

	if err := l.execute(m); err != nil {
		delete(l.cache, key)
		parent.removeChild(key)
		return nil, &LoadError{Key: key, Err: err}
	}
	m.Loaded = true
	if m.object != nil {
		_ = m.object.Set("loaded", true)
	}

	l.logger.Debug("module loaded", "key", key.String(), "children", len(m.Children))
	return m.Exports(), nil
}

func (l *Loader) execute(m *Module) error {
	source, err := os.ReadFile(m.Key.String())
	if err != nil {
		return err
	}

	m.object = l.vm.NewObject()
	if err := m.object.Set("id", m.Key.String()); err != nil {
		return err
	}
	if err := m.object.Set("filename", m.Key.String()); err != nil {
		return err
	}
	if err := m.object.Set("loaded", false); err != nil {
		return err
	}

	if m.Key.Ext() == ".json" {
		return l.executeJSON(m, source)
	}
	return l.executeScript(m, source)
}

func (l *Loader) executeJSON(m *Module, source []byte) error {
	parse, ok := goja.AssertFunction(l.vm.Get("JSON").ToObject(l.vm).Get("parse"))
	if !ok {
		return errors.New("JSON.parse is not available")
	}
	value, err := parse(goja.Undefined(), l.vm.ToValue(string(source)))
	if err != nil {
		return err
	}
	return m.object.Set("exports", value)
}

func (l *Loader) executeScript(m *Module, source []byte) error {
	exports := l.vm.NewObject()
	if err := m.object.Set("exports", exports); err != nil {
		return err
	}

	wrapped := "(function (exports, require, module, __filename, __dirname) {" +
		stripShebang(string(source)) +
		"\n})"
	program, err := goja.Compile(m.Key.String(), wrapped, false)
	if err != nil {
		return err
	}
	fnValue, err := l.vm.RunProgram(program)
	if err != nil {
		return err
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return errors.New("module wrapper did not evaluate to a function")
	}

	_, err = fn(exports,
		exports,
		l.requireFunc(m),
		m.object,
		l.vm.ToValue(m.Key.String()),
		l.vm.ToValue(m.Key.Dir()),
	)
	return err
}

// stripShebang blanks a leading "#!" line. The newline stays so reported line
// numbers match the file.
func stripShebang(source string) string {
	if !strings.HasPrefix(source, "#!") {
		return source
	}
	if i := strings.IndexByte(source, '\n'); i >= 0 {
		return source[i:]
	}
	return ""
}

// requireFunc builds the require function handed to module m. Failures are
// thrown into the calling module's JS code.
func (l *Loader) requireFunc(m *Module) goja.Value {
	requireFn := l.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		identifier := call.Argument(0).String()
		key, err := l.resolver.ResolveFrom(identifier, m.Key.Dir())
		if err != nil {
			panic(l.vm.NewGoError(err))
		}
		value, err := l.loadFrom(key, m)
		if err != nil {
			l.throw(err)
		}
		return value
	})

	resolveFn := func(call goja.FunctionCall) goja.Value {
		key, err := l.resolver.ResolveFrom(call.Argument(0).String(), m.Key.Dir())
		if err != nil {
			panic(l.vm.NewGoError(err))
		}
		return l.vm.ToValue(key.String())
	}
	if obj, ok := requireFn.(*goja.Object); ok {
		_ = obj.Set("resolve", resolveFn)
	}
	return requireFn
}

// throw rethrows a nested load failure, keeping the original JS value when
// the failure was a JS exception.
func (l *Loader) throw(err error) {
	var exception *goja.Exception
	if errors.As(err, &exception) {
		panic(exception.Value())
	}
	panic(l.vm.NewGoError(err))
}
