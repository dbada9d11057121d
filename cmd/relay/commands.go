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
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRelay/pkg/apperrors"
	"github.com/AleutianAI/AleutianRelay/pkg/logging"
	"github.com/AleutianAI/AleutianRelay/services/relay"
	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
)

// defaultEnvFile is loaded when present; a missing file is not an error
// unless --env-file was given explicitly.
const defaultEnvFile = ".env"

type serveOptions struct {
	configPath string
	envFile    string
	port       int
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Streams Gemini chat replies to a browser client",
		Long: `relay serves a small chat web client and relays each prompt, with its
history, personality, and optional image, to the Gemini API, streaming the
reply back as plain text while it is generated.`,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newServeCmd(), newPersonalitiesCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the relay HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	serveCmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file.")
	serveCmd.Flags().StringVar(&opts.envFile, "env-file", defaultEnvFile, "Path to a .env file loaded into the environment.")
	serveCmd.Flags().IntVarP(&opts.port, "port", "p", 0, "Listen port (overrides PORT and the config file).")
	return serveCmd
}

func newPersonalitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "personalities",
		Short: "Lists the accepted personality values and their priming turns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printPersonalities(cmd.OutOrStdout())
		},
	}
}

// runServe loads configuration, installs the logger, and runs the service
// until SIGINT or SIGTERM.
func runServe(cmd *cobra.Command, opts *serveOptions) error {
	if err := loadEnvFile(opts.envFile, cmd.Flags().Changed("env-file")); err != nil {
		return err
	}

	cfg, err := loadServeConfig(cmd, opts)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return apperrors.Configuration("invalid LOG_LEVEL", err)
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.LogDir,
		Service: "relay",
		JSON:    cfg.LogJSON,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	log := logger.With("command", "serve")
	log.Debug("Configuration loaded",
		"config", opts.configPath,
		"port", cfg.Port,
		"model", cfg.Model,
		"trace_exporter", cfg.TraceExporter,
	)
	if cfg.APIKey == "" && cfg.APIKeySSMParameter == "" {
		log.Warn("GOOGLE_API_KEY is not set, falling back to the secret file",
			"path", cfg.APIKeyFile)
	}

	svc, err := relay.New(cfg, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		return err
	}
	log.Info("Relay stopped")
	return nil
}

// loadServeConfig merges the config file, the environment, and flags.
func loadServeConfig(cmd *cobra.Command, opts *serveOptions) (relay.Config, error) {
	cfg, err := relay.LoadConfig(opts.configPath)
	if err != nil {
		return relay.Config{}, err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = opts.port
	}
	return cfg, nil
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return apperrors.Configuration(fmt.Sprintf("failed to load env file %s", path), err)
	}
	return nil
}

// printPersonalities writes each personality and its priming exchange.
func printPersonalities(w io.Writer) error {
	for _, p := range datatypes.Personalities() {
		if _, err := fmt.Fprintf(w, "%s\n", p); err != nil {
			return err
		}
		preset := p.Preset()
		if len(preset) == 0 {
			if _, err := fmt.Fprintln(w, "  (no priming turns)"); err != nil {
				return err
			}
			continue
		}
		for _, turn := range preset {
			for _, part := range turn.Parts {
				if _, err := fmt.Fprintf(w, "  %-5s %s\n", turn.Role+":", part.Text); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
