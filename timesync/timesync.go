// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package timesync fits the clock mapping between streams that recorded the same trigger.
package timesync

import (
	"fmt"
	"math"

	"github.com/OpenPSG/auxrec"
	"github.com/OpenPSG/auxrec/events"
)

// Config bounds what the synchronizer will accept as a valid fit.
type Config struct {
	ScaleTolerance    float64 // Largest accepted deviation of the fitted scale from 1
	ResidualTolerance float64 // Largest accepted residual after fitting, in seconds
	MaxDrops          int     // Matched pairs that may be discarded as spurious
	MaxLag            int     // Largest index shift tried when matching the sequences
}

// DefaultConfig returns tolerances suited to hardware clocks that share a trigger line.
func DefaultConfig() Config {
	return Config{
		ScaleTolerance:    1e-3,
		ResidualTolerance: 0.010,
		MaxDrops:          3,
		MaxLag:            3,
	}
}

// Mapping converts stream-local time into common session time.
type Mapping struct {
	Offset float64
	Scale  float64
}

// Identity maps local time onto itself; the reference stream always has it.
var Identity = Mapping{Offset: 0, Scale: 1}

// Apply maps a local time into common time.
func (m Mapping) Apply(local float64) float64 {
	return local*m.Scale + m.Offset
}

// Invert maps a common time back into local time.
func (m Mapping) Invert(common float64) float64 {
	return (common - m.Offset) / m.Scale
}

// Fit is a mapping together with the evidence it was fitted from.
type Fit struct {
	Mapping
	Pairs         int     // Matched pairs used in the final fit
	Dropped       int     // Pairs discarded as spurious
	Lag           int     // Index shift applied when matching
	ResidualRMS   float64 // Root mean square residual, in seconds
	MaxResidual   float64 // Largest absolute residual, in seconds
	LowConfidence bool    // Offset-only fit from a single pair
}

// Series is the event sequence of one stream for one event kind.
type Series struct {
	StreamID string
	Kind     events.Kind
	Times    []float64 // Ascending local times
}

// SeriesOf builds a series from extracted events.
func SeriesOf(streamID string, kind events.Kind, evs []events.Event) Series {
	return Series{StreamID: streamID, Kind: kind, Times: events.Times(evs)}
}

// Pair is one matched reference/other event.
type Pair struct {
	Reference float64
	Other     float64
}

// Match pairs the two sequences index by index after shifting other by the lag in
// [-maxLag, maxLag] whose inter-event intervals agree best with the reference. A shift only
// replaces a smaller one if its mean interval mismatch is lower by more than tolerance, so
// with maxLag 0, or with evenly spaced triggers, the first min(len(ref), len(other)) events
// are paired in order.
func Match(ref, other []float64, maxLag int, tolerance float64) ([]Pair, int) {
	bestLag, bestScore := 0, math.Inf(1)
	for _, lag := range lagOrder(maxLag) {
		lo, hi := overlap(len(ref), len(other), lag)
		// Shifted matches need at least two intervals to be judged
		if lag != 0 && hi-lo < 3 {
			continue
		}
		score := intervalMismatch(ref, other, lag, lo, hi)
		if (math.IsInf(bestScore, 1) && score < bestScore) || score+tolerance < bestScore {
			bestLag, bestScore = lag, score
		}
	}

	lo, hi := overlap(len(ref), len(other), bestLag)
	pairs := make([]Pair, 0, max(hi-lo, 0))
	for i := lo; i < hi; i++ {
		pairs = append(pairs, Pair{Reference: ref[i], Other: other[i+bestLag]})
	}
	return pairs, bestLag
}

// lagOrder returns 0, -1, 1, -2, 2, ... so smaller shifts are preferred on ties.
func lagOrder(maxLag int) []int {
	lags := []int{0}
	for k := 1; k <= maxLag; k++ {
		lags = append(lags, -k, k)
	}
	return lags
}

// overlap returns the reference index range paired with other[i+lag].
func overlap(nref, nother, lag int) (int, int) {
	lo := max(0, -lag)
	hi := min(nref, nother-lag)
	return lo, hi
}

func intervalMismatch(ref, other []float64, lag, lo, hi int) float64 {
	if hi-lo < 2 {
		return math.Inf(1)
	}
	var sum float64
	for i := lo + 1; i < hi; i++ {
		sum += math.Abs((ref[i] - ref[i-1]) - (other[i+lag] - other[i+lag-1]))
	}
	return sum / float64(hi-lo-1)
}

// FitPairs is the least squares fit of reference = other*scale + offset.
func FitPairs(pairs []Pair) (Mapping, error) {
	if len(pairs) < 2 {
		return Mapping{}, fmt.Errorf("need at least two pairs, got %d", len(pairs))
	}

	var mx, my float64
	for _, p := range pairs {
		mx += p.Other
		my += p.Reference
	}
	mx /= float64(len(pairs))
	my /= float64(len(pairs))

	var sxx, sxy float64
	for _, p := range pairs {
		dx := p.Other - mx
		sxx += dx * dx
		sxy += dx * (p.Reference - my)
	}
	if sxx == 0 {
		return Mapping{}, fmt.Errorf("matched events all share one local time")
	}

	scale := sxy / sxx
	return Mapping{Offset: my - scale*mx, Scale: scale}, nil
}

// residuals returns the root mean square and largest absolute residual, and where it is.
func residuals(m Mapping, pairs []Pair) (rms, worst float64, at int) {
	for i, p := range pairs {
		r := m.Apply(p.Other) - p.Reference
		rms += r * r
		if math.Abs(r) > worst {
			worst, at = math.Abs(r), i
		}
	}
	return math.Sqrt(rms / float64(len(pairs))), worst, at
}

// Align fits the mapping of other onto ref. Pairs whose residual exceeds the tolerance are
// dropped one at a time, worst first, and the fit repeated, at most cfg.MaxDrops times.
// A zero Config means DefaultConfig.
func Align(ref, other Series, cfg Config) (Fit, error) {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	fail := func(pairs int, scale, residual float64, reason string) error {
		return &auxrec.SynchronizationFailedError{
			Stream:    other.StreamID,
			Reference: ref.StreamID,
			Kind:      string(other.Kind),
			Pairs:     pairs,
			Scale:     scale,
			Residual:  residual,
			Reason:    reason,
		}
	}

	if ref.Kind != other.Kind {
		return Fit{}, fail(0, 0, 0, fmt.Sprintf("reference has %s events", ref.Kind))
	}

	pairs, lag := Match(ref.Times, other.Times, cfg.MaxLag, cfg.ResidualTolerance)
	switch len(pairs) {
	case 0:
		return Fit{}, fail(0, 0, 0, "no matching events")
	case 1:
		m := Mapping{Offset: pairs[0].Reference - pairs[0].Other, Scale: 1}
		return Fit{Mapping: m, Pairs: 1, Lag: lag, LowConfidence: true}, nil
	}

	dropped := 0
	for {
		m, err := FitPairs(pairs)
		if err != nil {
			return Fit{}, fail(len(pairs), 0, 0, err.Error())
		}

		rms, worst, at := residuals(m, pairs)
		if worst > cfg.ResidualTolerance {
			if dropped >= cfg.MaxDrops || len(pairs) <= 2 {
				return Fit{}, fail(len(pairs), m.Scale, worst,
					fmt.Sprintf("residual exceeds %gs after dropping %d pairs", cfg.ResidualTolerance, dropped))
			}
			pairs = append(pairs[:at:at], pairs[at+1:]...)
			dropped++
			continue
		}

		if math.Abs(m.Scale-1) > cfg.ScaleTolerance {
			return Fit{}, fail(len(pairs), m.Scale, worst,
				fmt.Sprintf("scale deviates from 1 by %g, tolerance is %g", math.Abs(m.Scale-1), cfg.ScaleTolerance))
		}

		return Fit{
			Mapping:     m,
			Pairs:       len(pairs),
			Dropped:     dropped,
			Lag:         lag,
			ResidualRMS: rms,
			MaxResidual: worst,
		}, nil
	}
}

// Result is the outcome of synchronizing one stream.
type Result struct {
	Fit Fit
	Err error
}

// Synchronize aligns every series onto ref. The reference gets the identity mapping.
// A failure only affects the stream it belongs to. A zero Config means DefaultConfig.
func Synchronize(ref Series, others []Series, cfg Config) map[string]Result {
	results := make(map[string]Result, len(others)+1)
	results[ref.StreamID] = Result{Fit: Fit{Mapping: Identity, Pairs: len(ref.Times)}}

	for _, other := range others {
		if other.StreamID == ref.StreamID {
			continue
		}
		fit, err := Align(ref, other, cfg)
		results[other.StreamID] = Result{Fit: fit, Err: err}
	}
	return results
}
