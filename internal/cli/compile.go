package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/entmap/internal/compiler"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <config>",
		Short: "Compile a declaration document and print its plans",
		Long: `Compile a declaration document (.yaml, .json, or .cue) into validation
plans and mapping specs.

Every configuration error is reported, including circular rule
dependencies with their cycle path.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the compiled plans as JSON to this file")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	formatter.VerboseLog("Compiling %s", path)
	compiled, errs := compileDocument(path)
	if len(errs) > 0 {
		return reportLoadErrors(formatter, errs)
	}

	if opts.Output != "" {
		if err := writeCompiled(compiled, opts.Output); err != nil {
			return formatter.commandError(ExitCommandError, ErrCodeWriteFailed, "writing output file", err)
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(compiled)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %d entity type(s), digest %s\n\n", len(compiled.EntityTypes), compiled.Digest)

	rows := make([]table.Row, 0, len(compiled.EntityTypes))
	for _, name := range compiled.EntityTypes {
		spec, plan := compiled.Specs[name], compiled.Plans[name]
		rows = append(rows, table.Row{name, strings.Join(spec.Key, ", "), len(spec.Operations), len(plan.Rules), len(plan.Waves)})
	}
	formatter.Table("Entity types", table.Row{"Entity", "Key", "Mappings", "Rules", "Waves"}, rows)

	rows = rows[:0]
	for _, name := range compiled.EntityTypes {
		plan := compiled.Plans[name]
		for _, r := range plan.Rules {
			deps := make([]string, len(r.DependsOn))
			for i, pos := range r.DependsOn {
				deps[i] = plan.Rules[pos].ID
			}
			rows = append(rows, table.Row{name, r.ID, r.Severity, r.Wave, strings.Join(deps, ", ")})
		}
	}
	if len(rows) > 0 {
		fmt.Fprintln(formatter.Writer)
		formatter.Table("Validation plan", table.Row{"Entity", "Rule", "Severity", "Wave", "Depends on"}, rows)
	}

	if opts.Output != "" {
		fmt.Fprintf(formatter.Writer, "\nWrote compiled plans to %s\n", opts.Output)
	}
	return nil
}

// writeCompiled writes the compiled configuration as indented JSON.
func writeCompiled(compiled *compiler.Compiled, filename string) error {
	data, err := json.MarshalIndent(compiled, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling plans: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
