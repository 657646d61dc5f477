// Package shell is the interactive front end of a rerequire session. It reads
// lines, evaluates them on the session loop and prints results.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dop251/goja"

	"github.com/itsmostafa/rerequire/internal/logging"
	"github.com/itsmostafa/rerequire/internal/session"
	"github.com/itsmostafa/rerequire/internal/ui"
)

const (
	Prompt         = "> "
	ContinuePrompt = "... "

	// sourceName labels shell input in stack traces
	sourceName = "<repl>"
)

var commandPattern = regexp.MustCompile(`^\.[a-z]+$`)

// LineReader is the subset of *readline.Instance the shell uses.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
	Close() error
}

// Shell reads and evaluates input against a session.
type Shell struct {
	session *session.Session
	reader  LineReader
	out     io.Writer
	logger  *slog.Logger
	pending strings.Builder

	// notify derives the context an evaluation is interrupted through
	notify func(context.Context) (context.Context, context.CancelFunc)
}

// Options configures a Shell.
type Options struct {
	// Output defaults to os.Stdout
	Output io.Writer
	Logger *slog.Logger
}

// New creates a shell over sess that reads from reader.
func New(sess *session.Session, reader LineReader, opts Options) *Shell {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewModuleLogger("shell", "repl")
	}
	return &Shell{
		session: sess,
		reader:  reader,
		out:     out,
		logger:  logger,
		notify: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt)
		},
	}
}

// Run reads until EOF, .exit, Ctrl-C on an empty prompt or ctx is done.
func (sh *Shell) Run(ctx context.Context) error {
	for {
		if sh.pending.Len() > 0 {
			sh.reader.SetPrompt(ContinuePrompt)
		} else {
			sh.reader.SetPrompt(Prompt)
		}

		line, err := sh.reader.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if sh.pending.Len() == 0 && line == "" {
				return nil
			}
			sh.pending.Reset()
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return fmt.Errorf("failed to read input: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}

		if sh.handleLine(ctx, line) {
			return nil
		}
	}
}

// handleLine processes one line of input and reports whether the shell
// should exit.
func (sh *Shell) handleLine(ctx context.Context, line string) bool {
	trimmed := strings.TrimSpace(line)
	if commandPattern.MatchString(trimmed) {
		return sh.runCommand(ctx, trimmed)
	}
	if trimmed == "" && sh.pending.Len() == 0 {
		return false
	}

	if sh.pending.Len() > 0 {
		sh.pending.WriteString("\n")
	}
	sh.pending.WriteString(line)
	source := sh.pending.String()

	program, err := goja.Compile(sourceName, source, false)
	if err != nil {
		if incomplete(err) {
			return false
		}
		sh.pending.Reset()
		ui.FormatError(sh.out, err)
		return false
	}
	sh.pending.Reset()

	sh.eval(ctx, program)
	return false
}

// eval runs program on the session loop. An interrupt signal during the run
// aborts the JS code.
func (sh *Shell) eval(ctx context.Context, program *goja.Program) {
	evalCtx, stop := sh.notify(ctx)
	defer stop()
	stopInterrupt := context.AfterFunc(evalCtx, func() {
		sh.session.Interrupt("interrupted")
	})
	defer stopInterrupt()

	var result string
	err := sh.session.Do(ctx, func(vm *goja.Runtime) error {
		vm.ClearInterrupt()
		val, err := vm.RunProgram(program)
		if err != nil {
			return err
		}
		result = formatValue(vm, val)
		return nil
	})
	if err != nil {
		sh.logger.Debug("evaluation failed", "error", err)
		ui.FormatError(sh.out, errors.New(errorMessage(err)))
		return
	}
	if result != "" {
		ui.FormatResult(sh.out, result)
	}
}

func (sh *Shell) runCommand(ctx context.Context, command string) bool {
	switch command {
	case ".exit":
		return true
	case ".help":
		ui.FormatHelp(sh.out)
	case ".clear":
		sh.pending.Reset()
	case ".bindings":
		bindings, err := sh.session.Bindings(ctx)
		if err != nil {
			ui.FormatError(sh.out, err)
			return false
		}
		rows := make([]ui.Binding, len(bindings))
		for i, b := range bindings {
			rows[i] = ui.Binding{Key: b.Key.String(), Global: b.Global}
		}
		ui.FormatBindings(sh.out, rows)
	case ".graph":
		graph, err := sh.session.Graph(ctx)
		if err != nil {
			ui.FormatError(sh.out, err)
			return false
		}
		fmt.Fprint(sh.out, graph.DOT())
	case ".stats":
		stats, err := sh.session.Stats(ctx)
		if err != nil {
			ui.FormatError(sh.out, err)
			return false
		}
		ui.FormatStats(sh.out, ui.Stats{
			Bindings:        stats.Bindings,
			Modules:         stats.Modules,
			ActiveWatches:   stats.Watcher.ActiveWatches,
			EventsDelivered: stats.Watcher.EventsDelivered,
			EventsDropped:   stats.Watcher.EventsDropped,
			WatchErrors:     stats.Watcher.Errors,
		})
	default:
		ui.FormatUnknownCommand(sh.out, command)
	}
	return false
}

// incomplete reports whether a compile error means the input stopped in the
// middle of an expression or block.
func incomplete(err error) bool {
	return strings.Contains(err.Error(), "Unexpected end of input")
}
