package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"tugboat-agent/internal/agent"
	"tugboat-agent/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var logLevel string
	var showVersion bool

	flagSet := pflag.NewFlagSet("tugboat-agent", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default: $TUGBOAT_CONFIG)")
	flagSet.StringVar(&logLevel, "log-level", "", "override the log level (debug, info, warn, error)")
	flagSet.BoolVar(&showVersion, "version", false, "print the agent version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Println("tugboat-agent", config.HardcodedVersion)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = strings.ToLower(logLevel)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger := agent.BuildLogger(cfg)
	a, err := agent.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("agent initialization: %w", err)
	}
	return a.Run(context.Background())
}
