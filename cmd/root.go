package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/itsmostafa/rerequire/internal/config"
	"github.com/itsmostafa/rerequire/internal/logging"
	"github.com/itsmostafa/rerequire/internal/modules"
	"github.com/itsmostafa/rerequire/internal/session"
	"github.com/itsmostafa/rerequire/internal/shell"
	"github.com/itsmostafa/rerequire/internal/ui"
	"github.com/itsmostafa/rerequire/internal/version"
)

var (
	debounce    time.Duration
	evictPolicy string
	preloadFile string
	historyFile string
	logLevel    string
	logFormat   string
	noColor     bool
)

var rootCmd = &cobra.Command{
	Use:   "rerequire",
	Short: "JavaScript REPL that reloads required modules when they change",
	Long: `rerequire starts an interactive JavaScript shell with one extra global,
rerequire(identifier, globalName). It loads a CommonJS module into a global
and reloads it, together with its dependencies, whenever the file changes.

  > rerequire('./lib/math', 'math')
  > math.add(1, 2)`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.DefaultConfig()
		cfg.Debounce = debounce
		cfg.Evict = evictPolicy
		cfg.Preload = preloadFile
		cfg.HistoryFile = historyFile
		cfg.LogLevel = logLevel
		cfg.LogFormat = logFormat
		cfg.Color = !noColor
		return runShell(cmd, cfg)
	},
}

func init() {
	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(fmt.Sprintf("rerequire %s\n", version.String()))

	defaults := config.DefaultConfig()

	// Flags with env var fallback
	defaultDebounce := defaults.Debounce
	if env := os.Getenv("REREQUIRE_DEBOUNCE"); env != "" {
		if d, err := time.ParseDuration(env); err == nil {
			defaultDebounce = d
		}
	}
	rootCmd.Flags().DurationVar(&debounce, "debounce", defaultDebounce, "Ignore further changes to a file for this long after a reload")

	defaultEvict := defaults.Evict
	if env := os.Getenv("REREQUIRE_EVICT"); env != "" {
		defaultEvict = env
	}
	rootCmd.Flags().StringVar(&evictPolicy, "evict", defaultEvict, "Modules to evict on change (dependencies, both)")

	defaultLogLevel := defaults.LogLevel
	if env := os.Getenv("REREQUIRE_LOG_LEVEL"); env != "" {
		defaultLogLevel = env
	}
	rootCmd.Flags().StringVar(&logLevel, "log-level", defaultLogLevel, "Log level (debug, info, warn, error)")

	defaultLogFormat := defaults.LogFormat
	if env := os.Getenv("REREQUIRE_LOG_FORMAT"); env != "" {
		defaultLogFormat = env
	}
	rootCmd.Flags().StringVar(&logFormat, "log-format", defaultLogFormat, "Log format (text, json)")

	rootCmd.Flags().StringVar(&preloadFile, "preload", "", "YAML manifest of modules to bind at startup")
	rootCmd.Flags().StringVar(&historyFile, "history", defaults.HistoryFile, "Shell history file (empty to disable)")
	rootCmd.Flags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "Disable styled output")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runShell(cmd *cobra.Command, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	policy, err := modules.ParsePolicy(cfg.Evict)
	if err != nil {
		return err
	}

	logging.Init(&logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cmd.ErrOrStderr(),
	})
	if !cfg.Color {
		ui.DisableColor()
	}

	var manifest *config.Manifest
	if cfg.Preload != "" {
		manifest, err = config.LoadManifest(cfg.Preload)
		if err != nil {
			return err
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          shell.Prompt,
		HistoryFile:     cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       ".exit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize line editor: %w", err)
	}
	defer rl.Close()

	// Reload diagnostics arrive while the prompt is showing; readline's
	// stdout redraws the prompt after them.
	out := rl.Stdout()

	sess, err := session.New(session.Options{
		Debounce: cfg.Debounce,
		Policy:   policy,
		Output:   out,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	ui.FormatHeader(out, version.Version, sess.BoundDir(), sess.Debounce(), string(sess.Policy()))
	if manifest != nil {
		preload(cmd, sess, manifest, out)
	}

	return shell.New(sess, rl, shell.Options{Output: out}).Run(cmd.Context())
}

// preload binds every manifest entry. A failing entry is reported and the
// rest are still bound.
func preload(cmd *cobra.Command, sess *session.Session, manifest *config.Manifest, out io.Writer) {
	for _, b := range manifest.Bindings {
		if _, err := sess.Reload(cmd.Context(), b.Module, b.Global); err != nil {
			ui.FormatPreloadFailed(out, b.Module, b.Global, err)
		}
	}
}
