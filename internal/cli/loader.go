package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/roach88/entmap/internal/compiler"
	"github.com/roach88/entmap/internal/config"
	"github.com/roach88/entmap/internal/engine"
	"github.com/roach88/entmap/internal/source"
)

// LoadError is a failure to read or decode an input file.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// loadDocument reads a declaration document, mapping a missing file to
// ErrCodeNotFound.
func loadDocument(path string) (*config.Document, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config not found: %s", path)}
		}
		return nil, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("error accessing config: %v", err)}
	}
	doc, err := config.Load(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
	}
	return doc, nil
}

// compileDocument loads and compiles a declaration document. The returned
// errors are LoadErrors or ConfigErrors, all of them collected.
func compileDocument(path string) (*compiler.Compiled, []error) {
	doc, err := loadDocument(path)
	if err != nil {
		return nil, []error{err}
	}
	compiled, err := compiler.Compile(doc)
	if err != nil {
		return nil, configErrors(err)
	}
	return compiled, nil
}

// newEngine loads the document at path into a fresh engine built from the
// runtime settings.
func newEngine(opts *RootOptions, path string) (*engine.Engine, []error) {
	doc, err := loadDocument(path)
	if err != nil {
		return nil, []error{err}
	}
	eng := engine.New(opts.engineOptions()...)
	if _, err := eng.Reload(doc); err != nil {
		return nil, configErrors(err)
	}
	return eng, nil
}

func configErrors(err error) []error {
	var errs []error
	for _, ce := range compiler.ConfigErrors(err) {
		errs = append(errs, ce)
	}
	if len(errs) == 0 {
		errs = []error{err}
	}
	return errs
}

// openCSV opens a CSV record source. The caller closes the file.
func openCSV(path string) (engine.RecordSource, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("input not found: %s", path)}
		}
		return nil, nil, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("open input: %v", err)}
	}
	return source.NewCSV(f), f, nil
}

// errorCode extracts the display code of a load or configuration error.
func errorCode(err error) (string, string) {
	var ce *compiler.ConfigError
	if errors.As(err, &ce) {
		return ce.Code, strings.TrimPrefix(ce.Error(), "["+ce.Code+"] ")
	}
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code, le.Message
	}
	return ErrCodeGeneric, err.Error()
}

// reportLoadErrors prints every load or configuration error and returns
// an ExitCommandError.
func reportLoadErrors(f *OutputFormatter, errs []error) error {
	cliErrors := make([]CLIError, len(errs))
	for i, err := range errs {
		code, message := errorCode(err)
		cliErrors[i] = CLIError{Code: code, Message: message}
	}

	if f.Format == "json" {
		_ = f.Error(cliErrors[0].Code, cliErrors[0].Message, cliErrors)
	} else {
		fmt.Fprintln(f.Writer, "✗ Configuration failed")
		for _, e := range cliErrors {
			fmt.Fprintf(f.Writer, "  %s: %s\n", e.Code, e.Message)
		}
	}
	return NewExitError(ExitCommandError, fmt.Sprintf("configuration failed with %d error(s)", len(errs)))
}
