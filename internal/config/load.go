// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML session file, expands environment variables, and unmarshals it into a
// Config. Relative stream paths are resolved against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	for i := range cfg.Streams {
		if p := cfg.Streams[i].Path; p != "" && !filepath.IsAbs(p) {
			cfg.Streams[i].Path = filepath.Join(dir, p)
		}
	}

	return &cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} patterns with environment values.
// Unset variables without a default expand to the empty string.
func ExpandEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(groups[1]); ok && value != "" {
			return value
		}
		return groups[2]
	})
}

// Validate checks the session file for mistakes that would only surface mid-build.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Streams) == 0 {
		errs = append(errs, errors.New("no streams configured"))
	}

	seen := make(map[string]bool, len(c.Streams))
	for i, s := range c.Streams {
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("stream %d: missing id", i))
			continue
		}
		if seen[s.ID] {
			errs = append(errs, fmt.Errorf("stream %q: duplicate id", s.ID))
		}
		seen[s.ID] = true

		if s.Path == "" {
			errs = append(errs, fmt.Errorf("stream %q: missing path", s.ID))
		} else if _, err := s.Kind(); err != nil {
			errs = append(errs, fmt.Errorf("stream %q: %w", s.ID, err))
		}
		if _, err := s.Layout(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Reference != "" && !seen[c.Reference] {
		errs = append(errs, fmt.Errorf("reference stream %q is not configured", c.Reference))
	}
	if _, err := c.Kind(); err != nil {
		errs = append(errs, err)
	}
	if c.Sync.ScaleTolerance < 0 {
		errs = append(errs, errors.New("sync.scale_tolerance must not be negative"))
	}
	if c.Sync.ResidualTolerance.Duration < 0 {
		errs = append(errs, errors.New("sync.residual_tolerance must not be negative"))
	}
	if c.Sync.MaxDrops != nil && *c.Sync.MaxDrops < 0 {
		errs = append(errs, errors.New("sync.max_drops must not be negative"))
	}
	if c.Sync.MaxLag != nil && *c.Sync.MaxLag < 0 {
		errs = append(errs, errors.New("sync.max_lag must not be negative"))
	}
	if c.Extract.Refractory.Duration < 0 {
		errs = append(errs, errors.New("extract.refractory must not be negative"))
	}

	return errors.Join(errs...)
}

// ReferenceID returns the reference stream, defaulting to the first configured stream.
func (c *Config) ReferenceID() string {
	if c.Reference != "" || len(c.Streams) == 0 {
		return c.Reference
	}
	return c.Streams[0].ID
}
