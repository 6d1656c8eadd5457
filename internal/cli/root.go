package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/entmap/internal/engine"
)

// RootOptions holds global flags for all commands. Runtime settings live in
// Settings so ENTMAP_* environment variables can override the flags.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Settings *viper.Viper

	// EngineOptions are appended to the options built from settings (for
	// testing).
	EngineOptions []engine.EngineOption
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Setting keys. Each is bound to the flag of the same name with dashes and
// to ENTMAP_<KEY>.
const (
	SettingWorkers         = "workers"
	SettingRuleParallelism = "rule_parallelism"
	SettingLogLevel        = "log_level"
	SettingLogFormat       = "log_format"
	SettingDB              = "db"
)

// NewRootCommand creates the root command for the entmap CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Settings: newSettings()}

	cmd := &cobra.Command{
		Use:   "entmap",
		Short: "entmap - map flat records into validated, linked entities",
		Long: `entmap compiles a declaration document of entity types, field mappings,
validation rules, and relationships, then maps batches of flat records
into validated entities with resolved relationship edges.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return setupLogging(cmd.ErrOrStderr(), opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logging)")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.Int("workers", engine.DefaultWorkers, "records processed concurrently")
	flags.Int("rule-parallelism", 1, "rules run concurrently within one record")
	flags.String("log-level", "warn", "log level (debug|info|warn|error)")
	flags.String("log-format", "text", "log format (text|json)")
	flags.String("db", "entmap.db", "path to SQLite database")
	bindFlags(opts.Settings, cmd)

	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

func newSettings() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("ENTMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) {
	for _, key := range []string{SettingWorkers, SettingRuleParallelism, SettingLogLevel, SettingLogFormat, SettingDB} {
		_ = v.BindPFlag(key, cmd.PersistentFlags().Lookup(strings.ReplaceAll(key, "_", "-")))
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// setupLogging installs the default slog handler on w.
func setupLogging(w io.Writer, opts *RootOptions) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.Settings.GetString(SettingLogLevel))); err != nil {
		return fmt.Errorf("invalid log level %q", opts.Settings.GetString(SettingLogLevel))
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format := opts.Settings.GetString(SettingLogFormat); format {
	case "text":
		handler = slog.NewTextHandler(w, handlerOpts)
	case "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	default:
		return fmt.Errorf("invalid log format %q: must be text or json", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// engineOptions builds engine options from the runtime settings.
func (o *RootOptions) engineOptions() []engine.EngineOption {
	opts := []engine.EngineOption{
		engine.WithWorkers(o.Settings.GetInt(SettingWorkers)),
		engine.WithRuleParallelism(o.Settings.GetInt(SettingRuleParallelism)),
	}
	return append(opts, o.EngineOptions...)
}
