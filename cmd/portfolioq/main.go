// Command portfolioq runs query documents against the portfolio data model
// and manages its database schema.
//
// Usage:
//
//	portfolioq [flags] query <file|->
//	portfolioq [flags] migrate up|down|version
//	portfolioq [flags] check-schema
//	portfolioq version
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"portfolio-query/internal/app"
	"portfolio-query/internal/config"
	"portfolio-query/internal/querydoc"

	"github.com/spf13/pflag"
	"golang.org/x/term"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

const shutdownTimeout = 10 * time.Second

var errUsage = errors.New("usage: portfolioq [flags] query <file|-> | migrate up|down|version | check-schema | version")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		slog.Error("portfolioq failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

type commandOptions struct {
	variables     string
	variablesFile string
	operation     string
	pretty        bool
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("portfolioq", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	config.DefineFlags(fs)

	var opts commandOptions
	fs.StringVar(&opts.variables, "variables", "", "GraphQL variables as a JSON object")
	fs.StringVar(&opts.variablesFile, "variables-file", "", "Path to a JSON file of GraphQL variables")
	fs.StringVar(&opts.operation, "operation", "", "Operation to run when the document defines several")
	fs.BoolVar(&opts.pretty, "pretty", false, "Indent JSON output even when stdout is not a terminal")
	fs.Usage = func() {
		_, _ = fmt.Fprintln(stderr, errUsage.Error())
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return errUsage
	}
	command, commandArgs := rest[0], rest[1:]
	if err := checkArgs(command, commandArgs); err != nil {
		return err
	}
	if command == "version" {
		_, err := fmt.Fprintf(stdout, "portfolioq %s (%s)\n", Version, Commit)
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}

	validationResult := cfg.Validate()
	for _, warn := range validationResult.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if validationResult.HasErrors() {
		for _, err := range validationResult.Errors {
			slog.Error("configuration error",
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.String("hint", err.Hint),
			)
		}
		return fmt.Errorf("configuration validation failed")
	}

	logger, loggerProvider, err := app.InitLogger(ctx, cfg, stderr)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		return err
	}
	a.AttachLoggerProvider(loggerProvider)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = a.Shutdown(shutdownCtx)
	}()
	if err := a.Init(ctx); err != nil {
		return err
	}

	switch command {
	case "query":
		return runQuery(ctx, a, commandArgs[0], opts, stdin, stdout)
	case "migrate":
		return runMigrate(ctx, a, commandArgs[0], stdout)
	default:
		return runCheckSchema(ctx, a, stdout)
	}
}

func checkArgs(command string, args []string) error {
	switch command {
	case "version", "check-schema":
		if len(args) != 0 {
			return fmt.Errorf("%s takes no arguments", command)
		}
	case "query":
		if len(args) != 1 {
			return fmt.Errorf("query takes one document path, or - for stdin")
		}
	case "migrate":
		if len(args) != 1 {
			return fmt.Errorf("migrate takes one of up, down, version")
		}
		switch args[0] {
		case "up", "down", "version":
		default:
			return fmt.Errorf("unknown migrate command %q", args[0])
		}
	default:
		return fmt.Errorf("unknown command %q: %w", command, errUsage)
	}
	return nil
}

func runQuery(ctx context.Context, a *app.App, path string, opts commandOptions, stdin io.Reader, stdout io.Writer) error {
	src, err := readInput(path, stdin)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	rawVars := []byte(opts.variables)
	if opts.variablesFile != "" {
		if opts.variables != "" {
			return fmt.Errorf("only one of --variables and --variables-file may be set")
		}
		rawVars, err = os.ReadFile(opts.variablesFile)
		if err != nil {
			return fmt.Errorf("failed to read variables: %w", err)
		}
	}
	vars, err := querydoc.DecodeVariables(rawVars)
	if err != nil {
		return err
	}

	doc, err := querydoc.Parse(src, querydoc.Options{OperationName: opts.operation, Variables: vars})
	if err != nil {
		return err
	}
	resp, err := querydoc.Run(ctx, a.Client(), doc)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	if opts.pretty || isTerminal(stdout) {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(resp)
}

func runMigrate(ctx context.Context, a *app.App, action string, stdout io.Writer) error {
	m, err := a.Migrator()
	if err != nil {
		return err
	}
	switch action {
	case "up":
		if err := m.Up(ctx); err != nil {
			return err
		}
	case "down":
		if err := m.Down(ctx); err != nil {
			return err
		}
	}
	version, err := m.Version(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "schema version %d\n", version)
	return err
}

func runCheckSchema(ctx context.Context, a *app.App, stdout io.Writer) error {
	report, err := a.CheckSchema(ctx)
	if err != nil {
		return err
	}
	for _, p := range report.Problems {
		if _, err := fmt.Fprintln(stdout, p.String()); err != nil {
			return err
		}
	}
	if report.OK() {
		_, err := fmt.Fprintf(stdout, "schema matches %d models\n", len(a.Registry().Models()))
		return err
	}
	return report.Err()
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
