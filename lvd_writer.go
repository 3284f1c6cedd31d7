// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package auxrec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// LVDWriter writes .lvd files.
type LVDWriter struct {
	w       *bufio.Writer
	hdr     LVDHeader
	samples int // Number of samples written so far.
}

// CreateLVD creates a new .lvd writer that writes to the given writer.
func CreateLVD(w io.Writer, hdr LVDHeader) (*LVDWriter, error) {
	if hdr.SampleRate <= 0 || math.IsInf(hdr.SampleRate, 0) {
		return nil, fmt.Errorf("sample rate must be positive, got %g", hdr.SampleRate)
	}
	if hdr.ChannelCount < 1 || hdr.ChannelCount > MaxChannels {
		return nil, fmt.Errorf("channel count must be between 1 and %d, got %d", MaxChannels, hdr.ChannelCount)
	}
	if hdr.MaxVolts <= 0 {
		return nil, fmt.Errorf("max input voltage must be positive, got %g", hdr.MaxVolts)
	}

	lw := &LVDWriter{w: bufio.NewWriter(w), hdr: hdr}

	// Write the header
	for _, v := range []float64{hdr.SampleRate, float64(hdr.ChannelCount), formatLVDTime(hdr.StartTime), hdr.MaxVolts} {
		if err := writeFloat(lw.w, v); err != nil {
			return nil, fmt.Errorf("error writing header: %w", err)
		}
	}

	return lw, nil
}

// WriteSamples appends rows of interleaved samples, one value per channel in each row.
func (lw *LVDWriter) WriteSamples(rows [][]float64) error {
	for i, row := range rows {
		if len(row) != lw.hdr.ChannelCount {
			return fmt.Errorf("row %d: expected %d channels, got %d", i, lw.hdr.ChannelCount, len(row))
		}
		for _, v := range row {
			if err := writeFloat(lw.w, v); err != nil {
				return fmt.Errorf("error writing sample data: %w", err)
			}
		}
		lw.samples++
	}
	return nil
}

// Samples returns the number of samples written so far.
func (lw *LVDWriter) Samples() int {
	return lw.samples
}

// Close flushes all buffered samples to the underlying writer.
func (lw *LVDWriter) Close() error {
	return lw.w.Flush()
}

func writeFloat(w io.Writer, v float64) error {
	var b [SampleWidth]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	_, err := w.Write(b[:])
	return err
}
