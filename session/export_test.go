// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package session_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenPSG/auxrec"
	"github.com/OpenPSG/auxrec/events"
	"github.com/OpenPSG/auxrec/session"
)

func TestConversionIndex(t *testing.T) {
	idx := buildSession(t)

	ci, err := idx.ConversionIndex("aux", events.KindScanOnset, "vid")
	require.NoError(t, err)
	assert.Equal(t, "aux", ci.Source)
	assert.Equal(t, "vid", ci.Target)
	assert.Equal(t, []int{1, 3, 5, 7, 9}, ci.Frames)
	assert.Equal(t, []float64{1, 3, 5, 7, 9}, ci.Times)
	assert.Zero(t, ci.OutOfRange)

	// The second stimulus comes after the camera stopped
	stimuli, err := idx.ConversionIndex("aux", events.KindStimulusOnset, "vid")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 9}, stimuli.Frames)
	assert.Equal(t, 1, stimuli.OutOfRange)

	_, err = idx.ConversionIndex("aux", events.KindShutterOpen, "vid")
	var noChan *auxrec.NoDesignatedChannelError
	assert.ErrorAs(t, err, &noChan)

	_, err = idx.ConversionIndex("aux", events.KindScanOnset, "eye1")
	var unknown *auxrec.UnknownStreamError
	assert.ErrorAs(t, err, &unknown)
}

func TestPlaneIndexes(t *testing.T) {
	idx := buildSession(t)

	planes, err := idx.PlaneIndexes("aux", events.KindScanOnset, "vid", 2)
	require.NoError(t, err)
	require.Len(t, planes, 2)
	assert.Equal(t, 0, planes[0].Plane)
	assert.Equal(t, 2, planes[0].Planes)
	assert.Equal(t, []float64{1, 5, 9}, planes[0].Times)
	assert.Equal(t, []int{1, 5, 9}, planes[0].Frames)
	assert.Equal(t, 1, planes[1].Plane)
	assert.Equal(t, []int{3, 7}, planes[1].Frames)

	// Out of range events are counted in the plane they belong to
	stimuli, err := idx.PlaneIndexes("aux", events.KindStimulusOnset, "vid", 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, stimuli[0].Frames)
	assert.Zero(t, stimuli[0].OutOfRange)
	assert.Equal(t, []int{9}, stimuli[1].Frames)
	assert.Equal(t, 1, stimuli[1].OutOfRange)

	// More planes than events leaves the last planes empty
	sparse, err := idx.PlaneIndexes("aux", events.KindScanOnset, "vid", 7)
	require.NoError(t, err)
	require.Len(t, sparse, 7)
	assert.Equal(t, []int{9}, sparse[4].Frames)
	assert.Empty(t, sparse[6].Frames)

	single, err := idx.PlaneIndexes("aux", events.KindScanOnset, "vid", 1)
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Zero(t, single[0].Planes)
	assert.Equal(t, []int{1, 3, 5, 7, 9}, single[0].Frames)

	_, err = idx.PlaneIndexes("aux", events.KindScanOnset, "vid", 0)
	assert.ErrorContains(t, err, "plane count must be positive")
}

func TestWriteConversionIndex(t *testing.T) {
	idx := buildSession(t)
	ci, err := idx.ConversionIndex("aux", events.KindStimulusOnset, "vid")
	require.NoError(t, err)

	for _, format := range []string{session.FormatMsgpack, session.FormatJSON, session.FormatYAML} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, session.WriteConversionIndex(&buf, format, ci))

			got, err := session.ReadConversionIndex(&buf, format)
			require.NoError(t, err)
			assert.Equal(t, ci, got)
		})
	}

	var buf bytes.Buffer
	assert.ErrorContains(t, session.WriteConversionIndex(&buf, "npy", ci), `unknown export format "npy"`)
}
