// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package timesync_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/OpenPSG/auxrec"
	"github.com/OpenPSG/auxrec/events"
	"github.com/OpenPSG/auxrec/timesync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Irregularly spaced trigger times, so that shifted matches are easy to tell apart.
var triggers = []float64{0, 1.3, 2.9, 4.0, 5.8, 7.1, 8.2, 9.9, 11.0, 12.6, 14.1}

func series(id string, times []float64) timesync.Series {
	return timesync.Series{StreamID: id, Kind: events.KindScanOnset, Times: times}
}

func shifted(times []float64, by float64) []float64 {
	out := make([]float64, len(times))
	for i, t := range times {
		out[i] = t + by
	}
	return out
}

func TestAlignRecoversOffsetUnderNoise(t *testing.T) {
	const offset = 2.345

	rng := rand.New(rand.NewPCG(7, 11))
	ref := make([]float64, 20)
	other := make([]float64, 20)
	for i := range ref {
		ref[i] = float64(i)*1.7 + 0.3*float64(i%4)
		other[i] = ref[i] - offset + rng.NormFloat64()*0.0005
	}

	cfg := timesync.DefaultConfig()
	fit, err := timesync.Align(series("aux", ref), series("eye1", other), cfg)
	require.NoError(t, err)

	assert.InDelta(t, offset, fit.Offset, 0.002)
	assert.InDelta(t, 1.0, fit.Scale, cfg.ScaleTolerance)
	assert.Equal(t, 20, fit.Pairs)
	assert.Equal(t, 0, fit.Dropped)
	assert.Equal(t, 0, fit.Lag)
	assert.False(t, fit.LowConfidence)
	assert.Less(t, fit.MaxResidual, cfg.ResidualTolerance)
}

func TestAlignRejectsClockRateMismatch(t *testing.T) {
	other := make([]float64, len(triggers))
	for i, tr := range triggers {
		other[i] = tr * 1.01
	}

	_, err := timesync.Align(series("aux", triggers), series("vid", other), timesync.DefaultConfig())

	var syncErr *auxrec.SynchronizationFailedError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, "vid", syncErr.Stream)
	assert.Equal(t, "aux", syncErr.Reference)
	assert.Equal(t, string(events.KindScanOnset), syncErr.Kind)
	assert.InDelta(t, 1/1.01, syncErr.Scale, 1e-9)
	assert.Contains(t, syncErr.Reason, "scale")
}

func TestAlignDropsSpuriousEvent(t *testing.T) {
	other := shifted(triggers, -0.5)
	other[len(other)-1] += 0.4 // the last edge is noise, not the trigger

	fit, err := timesync.Align(series("aux", triggers), series("eye1", other), timesync.DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, 1, fit.Dropped)
	assert.Equal(t, len(triggers)-1, fit.Pairs)
	assert.InDelta(t, 0.5, fit.Offset, 1e-9)
	assert.InDelta(t, 1.0, fit.Scale, 1e-9)
}

func TestAlignLateStart(t *testing.T) {
	// The camera started after the first trigger
	other := shifted(triggers[1:8], 0.25)

	fit, err := timesync.Align(series("aux", triggers[:8]), series("vid", other), timesync.DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, -1, fit.Lag)
	assert.Equal(t, 7, fit.Pairs)
	assert.InDelta(t, -0.25, fit.Offset, 1e-9)
}

func TestAlignGivesUpAfterMaxDrops(t *testing.T) {
	ref := []float64{0, 1, 2, 3, 4, 5, 6, 7}
	other := []float64{0, 1, 4, 9, 16, 25, 36, 49}

	cfg := timesync.DefaultConfig()
	cfg.MaxDrops = 1
	_, err := timesync.Align(series("aux", ref), series("vid", other), cfg)

	var syncErr *auxrec.SynchronizationFailedError
	require.ErrorAs(t, err, &syncErr)
	assert.Contains(t, syncErr.Reason, "residual")
	assert.Greater(t, syncErr.Residual, cfg.ResidualTolerance)
}

func TestAlignSinglePair(t *testing.T) {
	fit, err := timesync.Align(series("aux", []float64{2.0}), series("vid", []float64{1.5, 3.0}), timesync.DefaultConfig())
	require.NoError(t, err)

	assert.True(t, fit.LowConfidence)
	assert.Equal(t, 1, fit.Pairs)
	assert.Equal(t, 1.0, fit.Scale)
	assert.InDelta(t, 0.5, fit.Offset, 1e-12)
}

func TestAlignWithoutEvents(t *testing.T) {
	_, err := timesync.Align(series("aux", triggers), series("vid", nil), timesync.DefaultConfig())

	var syncErr *auxrec.SynchronizationFailedError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, 0, syncErr.Pairs)
}

func TestAlignKindMismatch(t *testing.T) {
	other := timesync.Series{StreamID: "vid", Kind: events.KindStimulusOnset, Times: triggers}

	_, err := timesync.Align(series("aux", triggers), other, timesync.DefaultConfig())

	var syncErr *auxrec.SynchronizationFailedError
	require.ErrorAs(t, err, &syncErr)
}

func TestMatchWithoutLag(t *testing.T) {
	pairs, lag := timesync.Match([]float64{1, 2, 3, 4}, []float64{10, 20}, 0, 0.01)
	assert.Equal(t, 0, lag)
	assert.Equal(t, []timesync.Pair{{Reference: 1, Other: 10}, {Reference: 2, Other: 20}}, pairs)
}

func TestMatchPeriodicTriggersKeepsOrder(t *testing.T) {
	ref := []float64{0, 1, 2, 3, 4, 5}
	other := []float64{0.5, 1.5001, 2.4999, 3.5, 4.5, 5.5}

	_, lag := timesync.Match(ref, other, 3, 0.01)
	assert.Equal(t, 0, lag)
}

func TestFitPairs(t *testing.T) {
	pairs := []timesync.Pair{{Reference: 1, Other: 0}, {Reference: 3, Other: 1}, {Reference: 5, Other: 2}}
	m, err := timesync.FitPairs(pairs)
	require.NoError(t, err)
	assert.InDelta(t, 2, m.Scale, 1e-12)
	assert.InDelta(t, 1, m.Offset, 1e-12)

	_, err = timesync.FitPairs([]timesync.Pair{{Reference: 1, Other: 2}, {Reference: 3, Other: 2}})
	assert.Error(t, err)
}

func TestMappingInvert(t *testing.T) {
	m := timesync.Mapping{Offset: -0.05, Scale: 1.0002}
	for _, local := range []float64{0, 1.05, 123.456} {
		assert.InDelta(t, local, m.Invert(m.Apply(local)), 1e-9)
	}
	assert.Equal(t, 3.5, timesync.Identity.Apply(3.5))
}

func TestSynchronize(t *testing.T) {
	ref := series("aux", triggers)
	good := series("eye1", shifted(triggers, 0.05))
	bad := series("vid", nil)

	results := timesync.Synchronize(ref, []timesync.Series{good, bad}, timesync.DefaultConfig())
	require.Len(t, results, 3)

	require.NoError(t, results["aux"].Err)
	assert.Equal(t, timesync.Identity, results["aux"].Fit.Mapping)

	require.NoError(t, results["eye1"].Err)
	assert.InDelta(t, -0.05, results["eye1"].Fit.Offset, 1e-9)

	var syncErr *auxrec.SynchronizationFailedError
	require.ErrorAs(t, results["vid"].Err, &syncErr)
	assert.False(t, math.IsNaN(results["vid"].Fit.Scale))
}

func TestAlignZeroConfigUsesDefaults(t *testing.T) {
	noise := []float64{0.0002, -0.0001, 0.00015, -0.0002, 0.0001}
	ref := triggers[:5]
	other := make([]float64, len(ref))
	for i, r := range ref {
		other[i] = r - 0.05 + noise[i]
	}

	fit, err := timesync.Align(series("aux", ref), series("vid", other), timesync.Config{})
	require.NoError(t, err)
	assert.InDelta(t, 0.05, fit.Offset, 0.001)
	assert.Equal(t, 5, fit.Pairs)

	results := timesync.Synchronize(series("aux", ref), []timesync.Series{series("vid", other)}, timesync.Config{})
	require.NoError(t, results["vid"].Err)
	assert.InDelta(t, fit.Offset, results["vid"].Fit.Offset, 1e-12)
}
