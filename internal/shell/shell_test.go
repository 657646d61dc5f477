package shell

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chzyer/readline"
	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsmostafa/rerequire/internal/logging"
	"github.com/itsmostafa/rerequire/internal/session"
)

// interruptLine makes fakeReader return readline.ErrInterrupt.
const interruptLine = "\x03"

type fakeReader struct {
	lines   []string
	prompts []string
	closed  bool
}

func (f *fakeReader) Readline() (string, error) {
	if len(f.lines) == 0 {
		return "", io.EOF
	}
	line := f.lines[0]
	f.lines = f.lines[1:]
	if line == interruptLine {
		return "", readline.ErrInterrupt
	}
	return line, nil
}

func (f *fakeReader) SetPrompt(prompt string) {
	f.prompts = append(f.prompts, prompt)
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

type fixture struct {
	dir    string
	out    *bytes.Buffer
	reader *fakeReader
	shell  *Shell
}

func newFixture(t *testing.T, lines ...string) *fixture {
	t.Helper()
	dir := t.TempDir()
	out := &bytes.Buffer{}
	sess, err := session.New(session.Options{
		BoundDir:    dir,
		GlobalPaths: []string{},
		Output:      out,
		Logger:      logging.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	reader := &fakeReader{lines: lines}
	return &fixture{
		dir:    dir,
		out:    out,
		reader: reader,
		shell:  New(sess, reader, Options{Output: out, Logger: logging.Discard()}),
	}
}

func (f *fixture) run(t *testing.T) string {
	t.Helper()
	require.NoError(t, f.shell.Run(context.Background()))
	return f.out.String()
}

func TestShell_EvaluatesExpressions(t *testing.T) {
	f := newFixture(t, "1 + 2", "var x = 5", "x * 2", "")
	out := f.run(t)

	assert.Contains(t, out, "=> 3\n")
	assert.Contains(t, out, "=> 10\n")
	// Declarations evaluate to undefined and print nothing.
	assert.Equal(t, 2, strings.Count(out, "=>"))
}

func TestShell_MultiLineInput(t *testing.T) {
	f := newFixture(t, "function f() {", "  return 41 + 1", "}", "f()")
	out := f.run(t)

	assert.Contains(t, out, "=> 42\n")
	assert.NotContains(t, out, "Uncaught")
	assert.Equal(t, []string{Prompt, ContinuePrompt, ContinuePrompt, Prompt, Prompt}, f.reader.prompts)
}

func TestShell_ClearDropsPendingInput(t *testing.T) {
	f := newFixture(t, "if (true) {", ".clear", "7")
	out := f.run(t)

	assert.Contains(t, out, "=> 7\n")
	assert.NotContains(t, out, "Uncaught")
}

func TestShell_ErrorsDoNotStopTheLoop(t *testing.T) {
	f := newFixture(t, "throw new Error('boom')", "1 +* 2", "'still here'")
	out := f.run(t)

	assert.Contains(t, out, "Uncaught Error: boom")
	assert.Contains(t, out, "Uncaught SyntaxError")
	assert.Contains(t, out, `=> "still here"`)
}

func TestShell_Exit(t *testing.T) {
	f := newFixture(t, ".exit", "1 + 1")
	out := f.run(t)

	assert.NotContains(t, out, "=> 2")
	assert.Equal(t, []string{"1 + 1"}, f.reader.lines)
}

func TestShell_Interrupt(t *testing.T) {
	// Ctrl-C with pending input clears it; on an empty prompt it exits.
	f := newFixture(t, "[1,", interruptLine, "2", interruptLine, "3")
	out := f.run(t)

	assert.Contains(t, out, "=> 2\n")
	assert.NotContains(t, out, "=> 3")
	assert.Equal(t, []string{"3"}, f.reader.lines)
}

func TestShell_InterruptAbortsEvaluation(t *testing.T) {
	f := newFixture(t, "while (true) {}", "'after'")
	f.shell.notify = func(ctx context.Context) (context.Context, context.CancelFunc) {
		return context.WithTimeout(ctx, 50*time.Millisecond)
	}
	out := f.run(t)

	assert.Contains(t, out, "Uncaught")
	assert.Contains(t, out, "interrupted")
	assert.Contains(t, out, `=> "after"`)
}

func TestShell_Commands(t *testing.T) {
	f := newFixture(t, ".bindings", ".help", ".nope")
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "dep.js"), []byte(`module.exports = 2;`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "m.js"), []byte(`module.exports = require('./dep') * 3;`), 0644))
	f.reader.lines = append(f.reader.lines, "rerequire('./m', 'm')", "m", ".bindings", ".graph", ".stats")
	out := f.run(t)

	assert.Contains(t, out, "no bindings")
	assert.Contains(t, out, ".bindings")
	assert.Contains(t, out, "unknown command .nope")
	assert.Contains(t, out, "=> true\n")
	assert.Contains(t, out, "=> 6\n")
	assert.Contains(t, out, filepath.Join(f.dir, "m.js"))
	assert.Contains(t, out, "digraph rerequire {")
	assert.Contains(t, out, "n1 -> n0;")
	assert.Contains(t, out, "cached modules")
	assert.Contains(t, out, "active watches")
}

func TestFormatValue(t *testing.T) {
	vm := goja.New()
	tests := []struct {
		name string
		code string
		want string
	}{
		{"undefined", `undefined`, ""},
		{"null", `null`, "null"},
		{"number", `1.5`, "1.5"},
		{"boolean", `true`, "true"},
		{"string", `"hi"`, `"hi"`},
		{"object", `({a: 1, b: "x"})`, `{"a":1,"b":"x"}`},
		{"array", `[1, "a", undefined, null]`, `[1, "a", undefined, null]`},
		{"empty array", `[]`, "[]"},
		{"named function", `(function add(a, b) { return a + b; })`, "[Function: add]"},
		{"anonymous function", `(() => 1)`, "[Function (anonymous)]"},
		{"nested", `[{a: [1]}]`, `[{"a":[1]}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val, err := vm.RunString(tt.code)
			require.NoError(t, err)
			assert.Equal(t, tt.want, formatValue(vm, val))
		})
	}
}

func TestFormatValue_Truncates(t *testing.T) {
	vm := goja.New()

	val, err := vm.RunString(`"x".repeat(1500)`)
	require.NoError(t, err)
	assert.Contains(t, formatValue(vm, val), "(truncated, total 1500 chars)")

	val, err = vm.RunString(`"é".repeat(1500)`)
	require.NoError(t, err)
	got := formatValue(vm, val)
	assert.True(t, strings.HasPrefix(got, `"`+strings.Repeat("é", maxStringLen)+`"...`))
	assert.NotContains(t, got, `\x`)
	assert.Contains(t, got, "(truncated, total 1500 chars)")

	val, err = vm.RunString(`Array.from({length: 25}, (_, i) => i)`)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(formatValue(vm, val), "19, ... (5 more items)]"))

	val, err = vm.RunString(`var o = {}; o.self = o; o`)
	require.NoError(t, err)
	assert.Equal(t, "[object Object]", formatValue(vm, val))
}
