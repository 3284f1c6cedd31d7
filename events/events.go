// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package events finds trigger edges in decoded auxiliary streams.
package events

import (
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/OpenPSG/auxrec"
)

// Kind is the physical event an edge marks.
type Kind string

const (
	KindStimulusOnset Kind = "stimulus-onset"
	KindScanOnset     Kind = "scan-onset"
	KindShutterOpen   Kind = "shutter-open"
	KindShutterClose  Kind = "shutter-close"
	KindGenericEdge   Kind = "generic-edge"
)

// Kinds lists every event kind.
var Kinds = []Kind{KindStimulusOnset, KindScanOnset, KindShutterOpen, KindShutterClose, KindGenericEdge}

// ParseKind parses an event kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(s))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown event kind %q", s)
}

// Edge selects which level transition fires an event.
type Edge int

const (
	// EdgeDefault uses the kind's natural polarity.
	EdgeDefault Edge = iota
	EdgeRising
	EdgeFalling
)

// Role returns the channel role scanned for events of this kind.
func (k Kind) Role() auxrec.Role {
	switch k {
	case KindStimulusOnset:
		return auxrec.RoleStimulusTrigger
	case KindScanOnset:
		return auxrec.RoleScanTrigger
	case KindShutterOpen, KindShutterClose:
		return auxrec.RoleShutter
	default:
		return auxrec.RoleTrigger
	}
}

// Edge returns the transition that marks events of this kind.
func (k Kind) Edge() Edge {
	if k == KindShutterClose {
		return EdgeFalling
	}
	return EdgeRising
}

// Event is an edge found in one stream. LocalTime is in the stream's own seconds.
type Event struct {
	Kind      Kind
	LocalTime float64
	StreamID  string
	Index     int // Sample or frame at which the new level is first seen
}

// Options tunes edge detection.
type Options struct {
	// Threshold overrides the channel threshold for analog channels.
	Threshold *float64
	// Refractory suppresses edges closer than this to the previous accepted edge.
	Refractory time.Duration
	// Edge overrides the kind's natural polarity.
	Edge Edge
}

// Extract returns the edges of the given kind in s, in ascending local time. The sequence is
// evaluated lazily and can be ranged over any number of times.
//
// An empty sequence is not an error: the channel exists but never changed level.
//
// A stream without a shutter channel but with a frame-start channel has exactly one
// shutter-open event, at its first sample.
func Extract(s auxrec.Stream, kind Kind, opts Options) (iter.Seq[Event], error) {
	ch, ok := s.Channel(kind.Role())
	if !ok && kind == KindShutterOpen {
		if _, ok := s.Channel(auxrec.RoleFrameStart); ok {
			return frameStart(s, kind), nil
		}
	}
	if !ok {
		return nil, &auxrec.NoDesignatedChannelError{Stream: s.ID(), Role: kind.Role()}
	}

	meta := s.Channels()[ch]
	threshold := meta.EffectiveThreshold()
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	high := func(v float64) bool {
		if meta.Digital {
			return v != 0
		}
		return v >= threshold
	}

	edge := opts.Edge
	if edge == EdgeDefault {
		edge = kind.Edge()
	}
	refractory := opts.Refractory.Seconds()

	return func(yield func(Event) bool) {
		n := s.Len()
		if n == 0 {
			return
		}

		prev := high(s.Value(0, ch))
		accepted := false
		var last float64
		for i := 1; i < n; i++ {
			cur := high(s.Value(i, ch))
			fired := (edge == EdgeRising && !prev && cur) || (edge == EdgeFalling && prev && !cur)
			prev = cur
			if !fired {
				continue
			}

			t := s.Time(i)
			if accepted && refractory > 0 && t-last < refractory {
				continue
			}
			accepted = true
			last = t

			if !yield(Event{Kind: kind, LocalTime: t, StreamID: s.ID(), Index: i}) {
				return
			}
		}
	}, nil
}

func frameStart(s auxrec.Stream, kind Kind) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if s.Len() == 0 {
			return
		}
		yield(Event{Kind: kind, LocalTime: s.Time(0), StreamID: s.ID(), Index: 0})
	}
}

// Collect extracts every edge of the given kind into a slice.
func Collect(s auxrec.Stream, kind Kind, opts Options) ([]Event, error) {
	seq, err := Extract(s, kind, opts)
	if err != nil {
		return nil, err
	}

	var out []Event
	for ev := range seq {
		out = append(out, ev)
	}
	return out, nil
}

// Times returns the local times of evs.
func Times(evs []Event) []float64 {
	out := make([]float64, len(evs))
	for i, ev := range evs {
		out[i] = ev.LocalTime
	}
	return out
}

// MeanInterval returns the average time between consecutive events, or false if there are
// fewer than two.
func MeanInterval(evs []Event) (float64, bool) {
	if len(evs) < 2 {
		return 0, false
	}
	return (evs[len(evs)-1].LocalTime - evs[0].LocalTime) / float64(len(evs)-1), true
}
