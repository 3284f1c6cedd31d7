// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package session

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/OpenPSG/auxrec/events"
)

// ConversionIndex gives, for every event of one kind in a source stream, the nearest frame
// of a target stream. With scan onsets on the auxiliary recorder as source it picks one video
// frame per imaging frame.
type ConversionIndex struct {
	Source string      `json:"source" yaml:"source" msgpack:"source"`
	Target string      `json:"target" yaml:"target" msgpack:"target"`
	Kind   events.Kind `json:"kind" yaml:"kind" msgpack:"kind"`
	// Plane and Planes are set when the events were split among the planes of a z-stack.
	Plane  int `json:"plane,omitempty" yaml:"plane,omitempty" msgpack:"plane,omitempty"`
	Planes int `json:"planes,omitempty" yaml:"planes,omitempty" msgpack:"planes,omitempty"`
	// Times are the source events in common time.
	Times []float64 `json:"times" yaml:"times" msgpack:"times"`
	// Frames holds the nearest target frame per event. Events outside the target's span are
	// clamped to its first or last frame and counted in OutOfRange.
	Frames     []int `json:"frames" yaml:"frames" msgpack:"frames"`
	OutOfRange int   `json:"out_of_range" yaml:"out_of_range" msgpack:"out_of_range"`
}

// ConversionIndex maps the events of kind in the source stream onto the target's frames.
// Both streams must be aligned.
func (idx *Index) ConversionIndex(sourceID string, kind events.Kind, targetID string) (*ConversionIndex, error) {
	cis, err := idx.PlaneIndexes(sourceID, kind, targetID, 1)
	if err != nil {
		return nil, err
	}
	return cis[0], nil
}

// PlaneIndexes is ConversionIndex for a fast z-stack of planes imaging planes. Event i belongs
// to plane i mod planes, and every plane gets its own index. A single plane yields one index
// holding every event.
func (idx *Index) PlaneIndexes(sourceID string, kind events.Kind, targetID string, planes int) ([]*ConversionIndex, error) {
	if planes < 1 {
		return nil, fmt.Errorf("plane count must be positive, got %d", planes)
	}

	evs, err := idx.Events(sourceID, kind)
	if err != nil {
		return nil, err
	}
	_, source, err := idx.fit(sourceID)
	if err != nil {
		return nil, err
	}
	target, _, err := idx.fit(targetID)
	if err != nil {
		return nil, err
	}
	if target.Len() == 0 {
		return nil, fmt.Errorf("stream %q has no frames", targetID)
	}

	out := make([]*ConversionIndex, planes)
	for p := range out {
		n := (len(evs) - p + planes - 1) / planes
		out[p] = &ConversionIndex{
			Source: sourceID,
			Target: targetID,
			Kind:   kind,
			Times:  make([]float64, 0, n),
			Frames: make([]int, 0, n),
		}
		if planes > 1 {
			out[p].Plane, out[p].Planes = p, planes
		}
	}

	for i, ev := range evs {
		ci := out[i%planes]
		common := source.Apply(ev.LocalTime)

		lookup, err := idx.CommonToNearest(targetID, common)
		if err != nil {
			return nil, err
		}
		if !lookup.InRange {
			ci.OutOfRange++
			lookup.Index = 0
			if start, _ := target.Span(); lookup.LocalTime > start {
				lookup.Index = target.Len() - 1
			}
		}
		ci.Times = append(ci.Times, common)
		ci.Frames = append(ci.Frames, lookup.Index)
	}
	return out, nil
}

// Export formats for a conversion index.
const (
	FormatMsgpack = "msgpack"
	FormatJSON    = "json"
	FormatYAML    = "yaml"
)

// WriteConversionIndex encodes ci to w. The empty format selects msgpack.
func WriteConversionIndex(w io.Writer, format string, ci *ConversionIndex) error {
	var err error
	switch format {
	case "", FormatMsgpack:
		err = msgpack.NewEncoder(w).Encode(ci)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		err = enc.Encode(ci)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		if err = enc.Encode(ci); err == nil {
			err = enc.Close()
		}
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return fmt.Errorf("error writing conversion index: %w", err)
	}
	return nil
}

// ReadConversionIndex decodes a conversion index written by WriteConversionIndex.
func ReadConversionIndex(r io.Reader, format string) (*ConversionIndex, error) {
	var (
		ci  ConversionIndex
		err error
	)
	switch format {
	case "", FormatMsgpack:
		err = msgpack.NewDecoder(r).Decode(&ci)
	case FormatJSON:
		err = json.NewDecoder(r).Decode(&ci)
	case FormatYAML:
		err = yaml.NewDecoder(r).Decode(&ci)
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading conversion index: %w", err)
	}
	return &ci, nil
}
