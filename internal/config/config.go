// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package config handles YAML session files for the auxrec command.
package config

import (
	"fmt"
	"time"

	"github.com/OpenPSG/auxrec"
	"github.com/OpenPSG/auxrec/events"
	"github.com/OpenPSG/auxrec/timesync"
)

// Config represents an auxrec session file.
// All values except the stream list are optional; CLI flags override them.
type Config struct {
	Session   string         `yaml:"session"`
	Reference string         `yaml:"reference"`
	SyncKind  string         `yaml:"sync_kind"`
	LogLevel  string         `yaml:"log_level"`
	Streams   []StreamConfig `yaml:"streams"`
	Extract   ExtractConfig  `yaml:"extract"`
	Sync      SyncConfig     `yaml:"sync"`
	Catalog   string         `yaml:"catalog"`
	Metrics   string         `yaml:"metrics"`
}

// StreamConfig names one recorded file of the session.
type StreamConfig struct {
	ID     string `yaml:"id"`
	Path   string `yaml:"path"`
	Format string `yaml:"format,omitempty"` // lvd, eye, vid; defaults to the file extension
	// Preset selects a built-in channel layout. "aux" is the lab's auxiliary recorder wiring.
	Preset   string          `yaml:"preset,omitempty"`
	Channels []ChannelConfig `yaml:"channels,omitempty"`
}

// ChannelConfig describes one column or metadata field.
type ChannelConfig struct {
	Index     int       `yaml:"index"`
	Name      string    `yaml:"name"`
	Unit      string    `yaml:"unit,omitempty"`
	Role      string    `yaml:"role,omitempty"`
	Digital   bool      `yaml:"digital,omitempty"`
	Range     []float64 `yaml:"range,omitempty"`
	Threshold *float64  `yaml:"threshold,omitempty"`
	Levels    int       `yaml:"levels,omitempty"`
	Recode    []float64 `yaml:"recode,omitempty"`
}

// ExtractConfig holds edge detection defaults.
type ExtractConfig struct {
	Threshold  *float64 `yaml:"threshold,omitempty"`
	Refractory Duration `yaml:"refractory,omitempty"`
}

// SyncConfig holds synchronizer tolerances. Zero values keep the defaults.
type SyncConfig struct {
	ScaleTolerance    float64  `yaml:"scale_tolerance,omitempty"`
	ResidualTolerance Duration `yaml:"residual_tolerance,omitempty"`
	MaxDrops          *int     `yaml:"max_drops,omitempty"`
	MaxLag            *int     `yaml:"max_lag,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "5ms", "1.5s").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10ms" or "2s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML writes the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// PresetAux is the wiring of the lab's auxiliary recorder.
const PresetAux = "aux"

// DefaultAuxChannels is the channel table of the auxiliary recorder: 0..5 V lines, with the
// imaging frame clock on 3 and the stimulus onset line on 8.
func DefaultAuxChannels() []ChannelConfig {
	volts := []float64{0, 5}
	return []ChannelConfig{
		{Index: 0, Name: "shutter", Role: string(auxrec.RoleShutter), Range: volts, Levels: 2},
		{Index: 3, Name: "frame", Role: string(auxrec.RoleScanTrigger), Range: volts},
		{Index: 7, Name: "task", Range: volts, Levels: 10},
		{Index: 8, Name: "stimulus", Role: string(auxrec.RoleStimulusTrigger), Range: volts},
		{Index: 9, Name: "leftvalve", Range: volts, Levels: 2},
		{Index: 10, Name: "rightvalve", Range: volts, Levels: 2},
		{Index: 11, Name: "leftlick", Range: volts, Levels: 2, Recode: []float64{1, 0}},
		{Index: 12, Name: "rightlick", Range: volts, Levels: 2, Recode: []float64{1, 0}},
		{Index: 14, Name: "position", Range: volts},
		{Index: 16, Name: "righteye", Range: volts, Levels: 2, Recode: []float64{0, 1}},
		{Index: 17, Name: "lefteye", Range: volts, Levels: 2, Recode: []float64{1, 0}},
	}
}

// AuxChannelCount is the number of columns the auxiliary recorder writes.
const AuxChannelCount = 18

// Kind returns the stream's file format.
func (s StreamConfig) Kind() (auxrec.FormatKind, error) {
	if s.Format != "" {
		return auxrec.ParseFormatKind(s.Format)
	}
	return auxrec.KindForPath(s.Path)
}

// Layout converts the channel table into a decoder layout.
func (s StreamConfig) Layout() (auxrec.Layout, error) {
	channels := s.Channels
	switch s.Preset {
	case "":
	case PresetAux:
		if len(channels) == 0 {
			channels = DefaultAuxChannels()
		}
	default:
		return auxrec.Layout{}, fmt.Errorf("stream %q: unknown preset %q", s.ID, s.Preset)
	}

	layout := auxrec.Layout{Channels: make([]auxrec.ChannelMeta, 0, len(channels))}
	for _, ch := range channels {
		meta := auxrec.ChannelMeta{
			Index:     ch.Index,
			Name:      ch.Name,
			Unit:      ch.Unit,
			Digital:   ch.Digital,
			Role:      auxrec.Role(ch.Role),
			Threshold: ch.Threshold,
			Levels:    ch.Levels,
			Recode:    ch.Recode,
		}
		switch len(ch.Range) {
		case 0:
		case 2:
			meta.Min, meta.Max = ch.Range[0], ch.Range[1]
		default:
			return auxrec.Layout{}, fmt.Errorf("stream %q channel %d: range needs two values", s.ID, ch.Index)
		}
		layout.Channels = append(layout.Channels, meta)
	}
	return layout, nil
}

// Kind returns the configured synchronization event kind, scan onset by default.
func (c *Config) Kind() (events.Kind, error) {
	if c.SyncKind == "" {
		return events.KindScanOnset, nil
	}
	return events.ParseKind(c.SyncKind)
}

// ExtractOptions converts the extraction defaults.
func (c *Config) ExtractOptions() events.Options {
	return events.Options{
		Threshold:  c.Extract.Threshold,
		Refractory: c.Extract.Refractory.Duration,
	}
}

// SyncOptions overlays the configured tolerances on the synchronizer defaults.
func (c *Config) SyncOptions() timesync.Config {
	cfg := timesync.DefaultConfig()
	if c.Sync.ScaleTolerance > 0 {
		cfg.ScaleTolerance = c.Sync.ScaleTolerance
	}
	if c.Sync.ResidualTolerance.Duration > 0 {
		cfg.ResidualTolerance = c.Sync.ResidualTolerance.Seconds()
	}
	if c.Sync.MaxDrops != nil {
		cfg.MaxDrops = *c.Sync.MaxDrops
	}
	if c.Sync.MaxLag != nil {
		cfg.MaxLag = *c.Sync.MaxLag
	}
	return cfg
}
