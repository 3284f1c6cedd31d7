// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package main provides the auxrec command line.
//
// Usage:
//
//	auxrec <command> [options]
//
// Exit codes:
//   - 0: success
//   - 1: invalid input or a file that failed to decode
//   - 2: session built, but some streams could not be aligned (align --strict)
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/oklog/ulid/v2"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/OpenPSG/auxrec/internal/config"
	"github.com/OpenPSG/auxrec/internal/log"
	"github.com/OpenPSG/auxrec/session"
)

// version is set via ldflags at build time.
var version = "dev"

func main() {
	app := newApp()
	app.ExitErrHandler = exitErrHandler
	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "auxrec",
		Usage:   "Decode auxiliary recordings and align them on shared triggers",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level: debug, info, warn, error",
				Value:   "warn",
				EnvVars: []string{"AUXREC_LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			infoCommand(),
			eventsCommand(),
			alignCommand(),
			historyCommand(),
			exportIndexCommand(),
			synthCommand(),
		},
	}
}

// exitErrHandler preserves exit codes from cli.Exit.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Session file",
		Value:   "session.yaml",
	}

	formatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: text, json, yaml",
		Value:   "text",
	}
)

// loadConfig reads and validates the session file, applying flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	for flag, field := range map[string]*string{
		"reference": &cfg.Reference,
		"sync-kind": &cfg.SyncKind,
		"catalog":   &cfg.Catalog,
		"metrics":   &cfg.Metrics,
	} {
		if c.IsSet(flag) {
			*field = c.String(flag)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session file %s: %w", c.String("config"), err)
	}
	return cfg, nil
}

func sources(cfg *config.Config) ([]session.Source, error) {
	out := make([]session.Source, 0, len(cfg.Streams))
	for _, s := range cfg.Streams {
		kind, err := s.Kind()
		if err != nil {
			return nil, err
		}
		layout, err := s.Layout()
		if err != nil {
			return nil, err
		}
		out = append(out, session.Source{ID: s.ID, Path: s.Path, Kind: kind, Layout: layout})
	}
	return out, nil
}

// sessionID names the run in logs and the catalog. Unnamed sessions get a fresh ULID, which
// is stored back on the config so every consumer sees the same id.
func sessionID(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	if cfg.Session == "" {
		cfg.Session = ulid.Make().String()
	}
	return cfg.Session
}

// newLogger logs to the app's error writer. The --log-level flag wins over the session file.
func newLogger(c *cli.Context, cfg *config.Config) (*log.Logger, error) {
	levelName := c.String("log-level")
	if cfg != nil && cfg.LogLevel != "" && !c.IsSet("log-level") {
		levelName = cfg.LogLevel
	}
	level, err := log.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	return log.NewLoggerWithWriter(sessionID(cfg), level, c.App.ErrWriter), nil
}

// render writes v as JSON or YAML, or calls text for the human readable form.
func render(w io.Writer, format string, v any, text func(io.Writer) error) error {
	switch format {
	case "", "text":
		return text(w)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return cli.Exit(fmt.Sprintf("unknown output format %q", format), 1)
	}
}
