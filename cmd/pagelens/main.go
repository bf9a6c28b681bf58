// Package main provides the pagelens CLI: it opens a page in a headless
// browser, runs the configured diagnostics against it, and prints a
// styled summary plus an optional YAML report.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/entrhq/pagelens/pkg/config"
	"github.com/entrhq/pagelens/pkg/diagnostics"
	pwdriver "github.com/entrhq/pagelens/pkg/driver/playwright"
	"github.com/entrhq/pagelens/pkg/logging"
)

const version = "0.1.0"

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	URL         string
	Level       string
	ConfigFile  string
	OutputFile  string
	Headed      bool
	Timeout     time.Duration
	ShowVersion bool
}

func main() {
	cliConfig := parseFlags()

	if cliConfig.ShowVersion {
		fmt.Printf("pagelens v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
	}()

	if err := run(ctx, cliConfig); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "pagelens: %v\n", err)
		os.Exit(1)
	}
	cancel()
}

// parseFlags parses command line flags.
func parseFlags() *CLIConfig {
	cliConfig := &CLIConfig{}

	flag.StringVar(&cliConfig.URL, "url", "", "Page URL to diagnose (required)")
	flag.StringVar(&cliConfig.Level, "level", "", "Diagnostic level: none, basic, standard, detailed, full")
	flag.StringVar(&cliConfig.ConfigFile, "config", "", "Path to configuration file (YAML, default ~/.pagelens/config.yaml)")
	flag.StringVar(&cliConfig.OutputFile, "output", "", "Write the full report as YAML to this file")
	flag.BoolVar(&cliConfig.Headed, "headed", false, "Run the browser with a visible window")
	flag.DurationVar(&cliConfig.Timeout, "timeout", 2*time.Minute, "Overall run timeout")
	flag.BoolVar(&cliConfig.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "pagelens - Page diagnostics for browser automation\n\n")
		fmt.Fprintf(os.Stderr, "Usage: pagelens [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Standard diagnostics\n")
		fmt.Fprintf(os.Stderr, "  pagelens -url https://example.com\n\n")
		fmt.Fprintf(os.Stderr, "  # Full diagnostics with a YAML report\n")
		fmt.Fprintf(os.Stderr, "  pagelens -url https://example.com -level full -output report.yaml\n\n")
	}

	flag.Parse()
	return cliConfig
}

// run opens the page and executes diagnostics.
func run(ctx context.Context, cliConfig *CLIConfig) error {
	if cliConfig.URL == "" {
		return fmt.Errorf("-url is required")
	}

	cfg, err := loadConfig(cliConfig)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger("cli")
	if err != nil {
		// NewLogger already fell back to stderr; just surface it once.
		fmt.Fprintf(os.Stderr, "warning: file logging unavailable: %v\n", err)
	}
	defer func() { _ = logger.Close() }()

	if cliConfig.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cliConfig.Timeout)
		defer cancel()
	}

	session, err := pwdriver.StartSession(pwdriver.SessionOptions{
		Headless: !cliConfig.Headed,
	})
	if err != nil {
		return fmt.Errorf("failed to start browser session: %w", err)
	}
	defer func() { _ = session.Close() }()

	logger.Infof("navigating to %s", cliConfig.URL)
	if err := session.Navigate(cliConfig.URL); err != nil {
		return err
	}

	diag := diagnostics.New(session.Driver(), cfg, logger)
	defer diag.Dispose()

	result, err := diag.RunDiagnostics(ctx, config.DiagnosticConfig{})
	if err != nil {
		return err
	}

	printSummary(os.Stdout, cliConfig.URL, result)

	if cliConfig.OutputFile != "" {
		if err := writeReport(cliConfig.OutputFile, cliConfig.URL, result); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Printf("Report written to %s\n", cliConfig.OutputFile)
	}
	return nil
}

// loadConfig resolves the effective configuration: file store values with
// the CLI level applied on top.
func loadConfig(cliConfig *CLIConfig) (config.DiagnosticConfig, error) {
	store, err := config.NewFileStore(cliConfig.ConfigFile)
	if err != nil {
		return config.DiagnosticConfig{}, err
	}

	cfg := store.Get()
	if cliConfig.Level != "" {
		level, err := config.ParseLevel(cliConfig.Level)
		if err != nil {
			return config.DiagnosticConfig{}, err
		}
		cfg = cfg.Merge(config.DiagnosticConfig{Level: level})
	}
	return cfg, nil
}
