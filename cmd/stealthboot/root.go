// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/stealthboot/cmd/stealthboot/config"
	"github.com/AleutianAI/stealthboot/pkg/logging"
	"github.com/AleutianAI/stealthboot/services/bootstrap/telemetry"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// app carries the state shared by every command of one invocation.
type app struct {
	configPath string
	logLevel   string
	jsonLogs   bool
	logDir     string

	cfg      *config.File
	logger   *logging.Logger
	shutdown func(context.Context) error

	stdout io.Writer
	stderr io.Writer
}

func (a *app) log() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger.Slog()
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr}
}

// execute runs the command line args and releases logging and telemetry
// afterwards, whether or not the command failed.
func (a *app) execute(ctx context.Context, args []string, stdin io.Reader) error {
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, a.teardown())
}

// rootCmd builds the command tree.
func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "stealthboot",
		Short:         "Bootstrap estimates through external solver processes",
		Long:          "stealthboot computes stealth sampling weights and Wasserstein distances by\nrunning batches of solver processes over bootstrap subsamples.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.setup(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", os.Getenv("STEALTHBOOT_CONFIG"), "YAML configuration file")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&a.jsonLogs, "json-logs", false, "write logs as JSON")
	pf.StringVar(&a.logDir, "log-dir", "", "also write JSON logs to this directory")

	root.AddCommand(
		newWeightsCmd(a),
		newWassersteinCmd(a),
		newServeCmd(a),
		newConfigCmd(a),
		newVersionCmd(a),
	)
	return root
}

// setup loads configuration and starts logging and telemetry.
func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.jsonLogs {
		cfg.Logging.JSON = true
	}
	if a.logDir != "" {
		cfg.Logging.Dir = a.logDir
	}
	a.cfg = cfg

	logCfg, err := cfg.Logger("stealthboot")
	if err != nil {
		return err
	}
	logCfg.Output = a.stderr
	logger, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	a.logger = logger
	slog.SetDefault(logger.Slog())

	tel := cfg.Telemetry
	tel.ServiceVersion = Version
	tel.Output = a.stderr
	shutdown, err := telemetry.Init(ctx, tel)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.shutdown = shutdown
	return nil
}

func (a *app) teardown() error {
	var errs []error
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(context.Background()))
		a.shutdown = nil
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
		a.logger = nil
	}
	return errors.Join(errs...)
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(a.stdout, "stealthboot %s\n", Version)
			return err
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.Write(a.stdout, a.cfg)
		},
	})
	return cmd
}
