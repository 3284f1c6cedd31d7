// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package events_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/OpenPSG/auxrec"
	"github.com/OpenPSG/auxrec/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func continuous(t *testing.T, sampleRate float64, layout auxrec.Layout, rows [][]float64) *auxrec.Continuous {
	t.Helper()

	var buf bytes.Buffer
	lw, err := auxrec.CreateLVD(&buf, auxrec.LVDHeader{
		SampleRate:   sampleRate,
		ChannelCount: len(rows[0]),
		StartTime:    time.Date(2020, time.July, 17, 9, 0, 0, 0, time.UTC),
		MaxVolts:     5,
	})
	require.NoError(t, err)
	require.NoError(t, lw.WriteSamples(rows))
	require.NoError(t, lw.Close())

	c, err := auxrec.DecodeLVD(bytes.NewReader(buf.Bytes()), "aux", layout)
	require.NoError(t, err)
	return c
}

func TestSquareWaveEdges(t *testing.T) {
	const (
		sampleRate = 1000.0
		period     = 100 // samples
		duration   = 2000
	)

	// 30% duty cycle, low at the start of every period
	rows := make([][]float64, duration)
	for i := range rows {
		v := 0.0
		if i%period >= 70 {
			v = 1
		}
		rows[i] = []float64{v}
	}

	s := continuous(t, sampleRate, auxrec.Layout{Channels: []auxrec.ChannelMeta{
		{Index: 0, Name: "frame", Role: auxrec.RoleScanTrigger, Digital: true},
	}}, rows)

	evs, err := events.Collect(s, events.KindScanOnset, events.Options{})
	require.NoError(t, err)
	require.Len(t, evs, duration/period)

	for i, ev := range evs {
		assert.Equal(t, events.KindScanOnset, ev.Kind)
		assert.Equal(t, "aux", ev.StreamID)
		assert.Equal(t, 70+i*period, ev.Index)
		if i > 0 {
			assert.InDelta(t, 0.1, ev.LocalTime-evs[i-1].LocalTime, 1/sampleRate)
		}
	}

	mean, ok := events.MeanInterval(evs)
	require.True(t, ok)
	assert.InDelta(t, 0.1, mean, 1e-9)
}

func TestAnalogThresholdAndRefractory(t *testing.T) {
	// A noisy crossing at sample 10 that chatters for three samples, then a clean one at 40
	trace := make([]float64, 60)
	for i := range trace {
		switch {
		case i == 10, i == 12, i >= 14 && i < 30:
			trace[i] = 4.2
		case i == 11, i == 13:
			trace[i] = 2.0
		case i >= 40:
			trace[i] = 4.8
		default:
			trace[i] = 0.3
		}
	}
	rows := make([][]float64, len(trace))
	for i, v := range trace {
		rows[i] = []float64{v}
	}
	layout := auxrec.Layout{Channels: []auxrec.ChannelMeta{
		{Index: 0, Name: "stimulus", Role: auxrec.RoleStimulusTrigger, Min: 0, Max: 5},
	}}
	s := continuous(t, 100, layout, rows)

	noisy, err := events.Collect(s, events.KindStimulusOnset, events.Options{})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.12, 0.14, 0.4}, events.Times(noisy))

	debounced, err := events.Collect(s, events.KindStimulusOnset, events.Options{Refractory: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.4}, events.Times(debounced))

	// Raising the threshold above the first pulse leaves only the second
	threshold := 4.5
	high, err := events.Collect(s, events.KindStimulusOnset, events.Options{Threshold: &threshold})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.4}, events.Times(high))
}

func TestShutterEdges(t *testing.T) {
	rows := make([][]float64, 100)
	for i := range rows {
		v := 0.0
		if i >= 20 && i < 80 {
			v = 5
		}
		rows[i] = []float64{0, v}
	}
	s := continuous(t, 10, auxrec.Layout{Channels: []auxrec.ChannelMeta{
		{Index: 1, Name: "shutter", Role: auxrec.RoleShutter, Min: 0, Max: 5, Levels: 2},
	}}, rows)

	open, err := events.Collect(s, events.KindShutterOpen, events.Options{})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 2.0, open[0].LocalTime)

	closed, err := events.Collect(s, events.KindShutterClose, events.Options{})
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, 8.0, closed[0].LocalTime)
	assert.Equal(t, events.KindShutterClose, closed[0].Kind)

	// Explicit polarity override
	falling, err := events.Collect(s, events.KindShutterOpen, events.Options{Edge: events.EdgeFalling})
	require.NoError(t, err)
	assert.Equal(t, []float64{8.0}, events.Times(falling))
}

func TestNoDesignatedChannel(t *testing.T) {
	s := continuous(t, 10, auxrec.Layout{}, [][]float64{{0}, {1}})

	_, err := events.Extract(s, events.KindStimulusOnset, events.Options{})

	var noChan *auxrec.NoDesignatedChannelError
	require.ErrorAs(t, err, &noChan)
	assert.Equal(t, "aux", noChan.Stream)
	assert.Equal(t, auxrec.RoleStimulusTrigger, noChan.Role)
}

func TestFlatChannelYieldsNoEvents(t *testing.T) {
	rows := [][]float64{{5}, {5}, {5}, {5}}
	s := continuous(t, 10, auxrec.Layout{Channels: []auxrec.ChannelMeta{
		{Index: 0, Role: auxrec.RoleTrigger},
	}}, rows)

	evs, err := events.Collect(s, events.KindGenericEdge, events.Options{})
	require.NoError(t, err)
	assert.Empty(t, evs)

	_, ok := events.MeanInterval(evs)
	assert.False(t, ok)
}

func TestExtractIsRestartable(t *testing.T) {
	rows := make([][]float64, 40)
	for i := range rows {
		rows[i] = []float64{float64((i / 5) % 2)}
	}
	s := continuous(t, 10, auxrec.Layout{Channels: []auxrec.ChannelMeta{
		{Index: 0, Role: auxrec.RoleScanTrigger, Digital: true},
	}}, rows)

	seq, err := events.Extract(s, events.KindScanOnset, events.Options{})
	require.NoError(t, err)

	var first, second []events.Event
	for ev := range seq {
		first = append(first, ev)
	}
	for ev := range seq {
		second = append(second, ev)
	}
	require.Len(t, first, 4)
	assert.Equal(t, first, second)

	// Stopping early is honoured
	var taken int
	for range seq {
		taken++
		if taken == 2 {
			break
		}
	}
	assert.Equal(t, 2, taken)
}

func TestFrameStreamEdges(t *testing.T) {
	var buf bytes.Buffer
	fw, err := auxrec.CreateFrames(&buf, auxrec.FrameHeader{Kind: auxrec.KindVideoFrame, XRes: 2, YRes: 2})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, fw.WriteFrame(50+float64(i)*1000, []float64{float64(i % 2)}, nil))
	}
	require.NoError(t, fw.Close())

	s, err := auxrec.DecodeFrames(bytes.NewReader(buf.Bytes()), auxrec.KindVideoFrame, "vid", auxrec.Layout{
		Channels: []auxrec.ChannelMeta{{Index: 1, Name: "strobe", Role: auxrec.RoleTrigger, Digital: true}},
	})
	require.NoError(t, err)

	evs, err := events.Collect(s, events.KindGenericEdge, events.Options{})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 3, 5, 7, 9}, events.Times(evs))
}

func TestParseKind(t *testing.T) {
	k, err := events.ParseKind("Scan-Onset")
	require.NoError(t, err)
	assert.Equal(t, events.KindScanOnset, k)

	_, err = events.ParseKind("lick")
	assert.Error(t, err)
}

func TestFrameStartShutterOpen(t *testing.T) {
	// Camera records carry only a frame counter; the camera starts when the shutter opens
	var buf bytes.Buffer
	fw, err := auxrec.CreateFrames(&buf, auxrec.FrameHeader{Kind: auxrec.KindVideoFrame, XRes: 2, YRes: 2})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, fw.WriteFrame(800+float64(i)*20, []float64{float64(i + 1)}, nil))
	}
	require.NoError(t, fw.Close())

	s, err := auxrec.DecodeFrames(bytes.NewReader(buf.Bytes()), auxrec.KindVideoFrame, "vid", auxrec.Layout{
		Channels: []auxrec.ChannelMeta{{Index: 1, Name: "counter", Role: auxrec.RoleFrameStart}},
	})
	require.NoError(t, err)

	evs, err := events.Collect(s, events.KindShutterOpen, events.Options{})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, events.Event{Kind: events.KindShutterOpen, LocalTime: 0, StreamID: "vid", Index: 0}, evs[0])

	_, err = events.Collect(s, events.KindShutterClose, events.Options{})
	var noChan *auxrec.NoDesignatedChannelError
	require.ErrorAs(t, err, &noChan)
	assert.Equal(t, auxrec.RoleShutter, noChan.Role)
}
