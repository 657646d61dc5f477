package modules

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsmostafa/rerequire/internal/logging"
	"github.com/itsmostafa/rerequire/internal/resolve"
)

type fixture struct {
	dir    string
	vm     *goja.Runtime
	loader *Loader
}

func newFixture(t *testing.T, policy Policy, files map[string]string) *fixture {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	resolver, err := resolve.New(dir, nil)
	require.NoError(t, err)

	vm := goja.New()
	return &fixture{
		dir:    dir,
		vm:     vm,
		loader: NewLoader(vm, resolver, Options{Policy: policy, Logger: logging.Discard()}),
	}
}

func (f *fixture) key(name string) resolve.Key {
	return resolve.Key(filepath.Join(f.dir, name))
}

func (f *fixture) counter(name string) int64 {
	v := f.vm.Get(name)
	if v == nil || goja.IsUndefined(v) {
		return 0
	}
	return v.ToInteger()
}

// Each module bumps a global counter named after itself when it executes.
var chain = map[string]string{
	"a.js": `globalThis.runsA = (globalThis.runsA || 0) + 1; module.exports = require('./b') + 100;`,
	"b.js": `globalThis.runsB = (globalThis.runsB || 0) + 1; module.exports = require('./c') + 10;`,
	"c.js": `globalThis.runsC = (globalThis.runsC || 0) + 1; module.exports = 1;`,
}

func TestLoader_LoadCaches(t *testing.T) {
	f := newFixture(t, EvictDependencies, chain)

	v, err := f.loader.Load(f.key("a.js"))
	require.NoError(t, err)
	assert.Equal(t, int64(111), v.ToInteger())

	v, err = f.loader.Load(f.key("a.js"))
	require.NoError(t, err)
	assert.Equal(t, int64(111), v.ToInteger())

	assert.Equal(t, int64(1), f.counter("runsA"))
	assert.Equal(t, int64(1), f.counter("runsB"))
	assert.Equal(t, int64(1), f.counter("runsC"))
	assert.Equal(t, 3, f.loader.Len())

	m, ok := f.loader.Module(f.key("a.js"))
	require.True(t, ok)
	assert.True(t, m.Loaded)
	assert.Equal(t, []resolve.Key{f.key("b.js")}, m.Children)

	root, _ := f.loader.Module(RootKey)
	assert.Equal(t, []resolve.Key{f.key("a.js")}, root.Children)
}

func TestLoader_EvictThenLoadReexecutes(t *testing.T) {
	f := newFixture(t, EvictDependencies, chain)
	key := f.key("a.js")

	_, err := f.loader.Load(key)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(f.dir+"/c.js", []byte(`module.exports = 2;`), 0644))
	f.loader.Evict(key)

	v, err := f.loader.Load(key)
	require.NoError(t, err)
	assert.Equal(t, int64(112), v.ToInteger())
	assert.Equal(t, int64(2), f.counter("runsA"))
	assert.Equal(t, int64(2), f.counter("runsB"))
}

// The default policy walks dependency lists: evicting a key purges what it
// requires, not what requires it.
func TestEvict_DependenciesDirection(t *testing.T) {
	f := newFixture(t, EvictDependencies, chain)
	_, err := f.loader.Load(f.key("a.js"))
	require.NoError(t, err)

	evicted := f.loader.Evict(f.key("c.js"))
	assert.Equal(t, []resolve.Key{f.key("c.js")}, evicted)
	assert.True(t, f.loader.Cached(f.key("a.js")))
	assert.True(t, f.loader.Cached(f.key("b.js")))
	assert.False(t, f.loader.Cached(f.key("c.js")))

	evicted = f.loader.Evict(f.key("a.js"))
	// c.js is already gone, so only b.js and a.js remain to purge.
	assert.Equal(t, []resolve.Key{f.key("b.js"), f.key("a.js")}, evicted)
	assert.Empty(t, f.loader.Graph().Nodes)
}

func TestEvict_WholeSubtreeFromTop(t *testing.T) {
	f := newFixture(t, EvictDependencies, chain)
	_, err := f.loader.Load(f.key("a.js"))
	require.NoError(t, err)

	evicted := f.loader.Evict(f.key("a.js"))
	assert.Equal(t, []resolve.Key{f.key("c.js"), f.key("b.js"), f.key("a.js")}, evicted)
}

// The "both" policy also purges modules that transitively depend on the key.
func TestEvict_BothDirections(t *testing.T) {
	f := newFixture(t, EvictBoth, chain)
	_, err := f.loader.Load(f.key("a.js"))
	require.NoError(t, err)

	evicted := f.loader.Evict(f.key("c.js"))
	assert.ElementsMatch(t, []resolve.Key{f.key("a.js"), f.key("b.js"), f.key("c.js")}, evicted)
	assert.Empty(t, f.loader.Graph().Nodes)
}

func TestEvict_SiblingOverEviction(t *testing.T) {
	f := newFixture(t, EvictDependencies, map[string]string{
		"main.js":   `module.exports = require('./shared').n;`,
		"other.js":  `module.exports = require('./shared').n;`,
		"shared.js": `module.exports = { n: 1 };`,
	})
	_, err := f.loader.Load(f.key("main.js"))
	require.NoError(t, err)
	_, err = f.loader.Load(f.key("other.js"))
	require.NoError(t, err)

	f.loader.Evict(f.key("main.js"))
	assert.False(t, f.loader.Cached(f.key("shared.js")))
	assert.True(t, f.loader.Cached(f.key("other.js")))
}

func TestEvict_NoCacheEntry(t *testing.T) {
	f := newFixture(t, EvictDependencies, chain)

	assert.NotPanics(t, func() {
		assert.Nil(t, f.loader.Evict(f.key("a.js")))
		assert.Nil(t, f.loader.Evict(f.key("a.js")))
	})
}

func TestEvict_RemovesFirstRootReferenceOnly(t *testing.T) {
	f := newFixture(t, EvictDependencies, chain)
	root, _ := f.loader.Module(RootKey)
	// A duplicate reference can only be planted by hand; addChild deduplicates.
	root.Children = []resolve.Key{f.key("c.js"), f.key("b.js"), f.key("c.js")}

	f.loader.Evict(f.key("c.js"))
	assert.Equal(t, []resolve.Key{f.key("b.js"), f.key("c.js")}, root.Children)
}

func TestEvict_Cycle(t *testing.T) {
	f := newFixture(t, EvictDependencies, map[string]string{
		"a.js": `exports.early = 1; const b = require('./b'); exports.fromB = b.sawEarly;`,
		"b.js": `const a = require('./a'); exports.sawEarly = a.early;`,
	})

	v, err := f.loader.Load(f.key("a.js"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.ToObject(f.vm).Get("fromB").ToInteger())

	evicted := f.loader.Evict(f.key("b.js"))
	assert.ElementsMatch(t, []resolve.Key{f.key("a.js"), f.key("b.js")}, evicted)
}

func TestLoader_JSONModule(t *testing.T) {
	f := newFixture(t, EvictDependencies, map[string]string{
		"config.json": `{"port": 8080, "tags": ["a", "b"]}`,
		"main.js":     `module.exports = require('./config').port + 1;`,
	})

	v, err := f.loader.Load(f.key("main.js"))
	require.NoError(t, err)
	assert.Equal(t, int64(8081), v.ToInteger())

	v, err = f.loader.Load(f.key("config.json"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.ToObject(f.vm).Get("tags").ToObject(f.vm).Get("length").ToInteger())
}

func TestLoader_ModuleGlobals(t *testing.T) {
	f := newFixture(t, EvictDependencies, map[string]string{
		"lib/info.js": `module.exports = { file: __filename, dir: __dirname, id: module.id, dep: require.resolve('../dep') };`,
		"dep.js":      ``,
	})

	v, err := f.loader.Load(f.key("lib/info.js"))
	require.NoError(t, err)
	obj := v.ToObject(f.vm)
	assert.Equal(t, f.key("lib/info.js").String(), obj.Get("file").String())
	assert.Equal(t, filepath.Join(f.dir, "lib"), obj.Get("dir").String())
	assert.Equal(t, f.key("lib/info.js").String(), obj.Get("id").String())
	assert.Equal(t, f.key("dep.js").String(), obj.Get("dep").String())
}

func TestLoader_Shebang(t *testing.T) {
	f := newFixture(t, EvictDependencies, map[string]string{
		"cli.js":   "#!/usr/bin/env node\nmodule.exports = 7;",
		"bare.js":  "#!/usr/bin/env node",
		"lines.js": "#!/usr/bin/env node\nthrow new Error('second line');",
	})

	v, err := f.loader.Load(f.key("cli.js"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.ToInteger())

	v, err = f.loader.Load(f.key("bare.js"))
	require.NoError(t, err)
	assert.Equal(t, "[object Object]", v.String())

	_, err = f.loader.Load(f.key("lines.js"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lines.js:2:")
}

func TestStripShebang(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"#!/usr/bin/env node\nx = 1;", "\nx = 1;"},
		{"#!/usr/bin/env node", ""},
		{"x = 1; // #!", "x = 1; // #!"},
		{" #!/not/first", " #!/not/first"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, stripShebang(tt.source))
	}
}

func TestLoader_Require(t *testing.T) {
	f := newFixture(t, EvictDependencies, chain)

	v, err := f.loader.Require("./b")
	require.NoError(t, err)
	assert.Equal(t, int64(11), v.ToInteger())

	_, err = f.loader.Require("./nope")
	var resErr *resolve.ResolutionError
	assert.True(t, errors.As(err, &resErr))
}

func TestLoader_Errors(t *testing.T) {
	f := newFixture(t, EvictDependencies, map[string]string{
		"syntax.js":  `module.exports = {;`,
		"throws.js":  `throw new Error("boom");`,
		"nested.js":  `module.exports = require('./throws');`,
		"missing.js": `module.exports = require('./not-there');`,
	})

	tests := []struct {
		name string
		file string
		want string
	}{
		{"syntax error", "syntax.js", "syntax.js"},
		{"thrown error", "throws.js", "boom"},
		{"nested thrown error", "nested.js", "boom"},
		{"missing dependency", "missing.js", "not-there"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := f.key(tt.file)
			_, err := f.loader.Load(key)
			require.Error(t, err)

			var loadErr *LoadError
			require.True(t, errors.As(err, &loadErr))
			assert.Equal(t, key, loadErr.Key)
			assert.True(t, strings.Contains(err.Error(), tt.want), "error %q should mention %q", err, tt.want)
			assert.False(t, f.loader.Cached(key))
		})
	}

	root, _ := f.loader.Module(RootKey)
	assert.Empty(t, root.Children)
	assert.Empty(t, f.loader.Graph().Nodes)
}

func TestLoader_RetryAfterFailure(t *testing.T) {
	f := newFixture(t, EvictDependencies, map[string]string{
		"flaky.js": `throw new Error("not yet");`,
	})
	key := f.key("flaky.js")

	_, err := f.loader.Load(key)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(key.String(), []byte(`module.exports = "ok";`), 0644))
	v, err := f.loader.Load(key)
	require.NoError(t, err)
	assert.Equal(t, "ok", v.String())
}

func TestGraph_DOT(t *testing.T) {
	f := newFixture(t, EvictDependencies, chain)
	_, err := f.loader.Load(f.key("a.js"))
	require.NoError(t, err)

	g := f.loader.Graph()
	assert.Equal(t, []resolve.Key{f.key("a.js"), f.key("b.js"), f.key("c.js")}, g.Nodes)
	assert.Equal(t, []GraphEdge{
		{From: RootKey, To: f.key("a.js")},
		{From: f.key("a.js"), To: f.key("b.js")},
		{From: f.key("b.js"), To: f.key("c.js")},
	}, g.Edges)

	dot := g.DOT()
	assert.True(t, strings.HasPrefix(dot, "digraph rerequire {\n"))
	assert.Contains(t, dot, "root -> n0;")
	assert.Contains(t, dot, "n0 -> n1;")
	assert.Contains(t, dot, "n1 -> n2;")
}

func TestParsePolicy(t *testing.T) {
	for _, tt := range []struct {
		input string
		want  Policy
	}{
		{"", EvictDependencies},
		{"dependencies", EvictDependencies},
		{"both", EvictBoth},
	} {
		got, err := ParsePolicy(tt.input)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParsePolicy("dependents")
	assert.Error(t, err)
}
