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
	"strconv"
	"time"
)

const (
	// LVDHeaderBytes is the size of the fixed .lvd header.
	LVDHeaderBytes = 4 * SampleWidth
	// MaxChannels is the largest channel count the continuous decoder accepts.
	MaxChannels = 1024

	lvdTimeLayout = "20060102150405"
)

// LVDHeader represents the .lvd file header.
type LVDHeader struct {
	SampleRate   float64   // Samples per second, per channel
	ChannelCount int       // Number of interleaved channels
	StartTime    time.Time // Start date and time of the recording
	MaxVolts     float64   // Maximum input voltage of the acquisition card
	Declared     int       // Samples the payload holds, set when decoding
}

// Continuous is a decoded .lvd stream: every channel sampled at a fixed rate.
type Continuous struct {
	id       string
	hdr      LVDHeader
	channels []ChannelMeta
	samples  [][]float64 // [sample][channel]
}

// DecodeLVD decodes a continuous-signal log. The payload is read in a single pass.
func DecodeLVD(r io.ReadSeeker, id string, layout Layout) (*Continuous, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("error seeking to end of file: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("error seeking to start of file: %w", err)
	}
	if size < LVDHeaderBytes {
		return nil, &TruncatedDataError{Offset: 0, Expected: LVDHeaderBytes, Found: size}
	}

	reader := bufio.NewReader(r)

	b := make([]byte, LVDHeaderBytes)
	if _, err := io.ReadFull(reader, b); err != nil {
		return nil, fmt.Errorf("error reading header: %w", err)
	}

	hdr, err := parseLVDHeader(b)
	if err != nil {
		return nil, err
	}

	channels, err := resolveLayout(layout, 0, hdr.ChannelCount)
	if err != nil {
		return nil, err
	}

	// The payload must hold a whole number of interleaved rows
	payload := size - LVDHeaderBytes
	rowBytes := int64(hdr.ChannelCount * SampleWidth)
	if rem := payload % rowBytes; rem != 0 {
		return nil, &TruncatedDataError{
			Offset:   LVDHeaderBytes + payload - rem,
			Expected: rowBytes,
			Found:    rem,
		}
	}

	n := int(payload / rowBytes)
	hdr.Declared = n
	flat := make([]float64, n*hdr.ChannelCount)
	buf := make([]byte, SampleWidth)
	for i := range flat {
		if _, err := io.ReadFull(reader, buf); err != nil {
			return nil, fmt.Errorf("error reading sample data: %w", err)
		}
		flat[i] = math.Float64frombits(binary.BigEndian.Uint64(buf))
	}

	samples := make([][]float64, n)
	for i := range samples {
		samples[i] = flat[i*hdr.ChannelCount : (i+1)*hdr.ChannelCount : (i+1)*hdr.ChannelCount]
	}

	return &Continuous{
		id:       id,
		hdr:      hdr,
		channels: channels,
		samples:  samples,
	}, nil
}

func parseLVDHeader(b []byte) (LVDHeader, error) {
	field := func(i int) float64 {
		return math.Float64frombits(binary.BigEndian.Uint64(b[i*SampleWidth:]))
	}

	var hdr LVDHeader

	sf := field(0)
	if math.IsNaN(sf) || math.IsInf(sf, 0) || sf <= 0 {
		return hdr, &FormatError{Offset: 0, Field: "sample rate", Expected: "a positive rate", Found: formatField(sf)}
	}
	hdr.SampleRate = sf

	nchan := field(1)
	if math.IsNaN(nchan) || math.IsInf(nchan, 0) || nchan != math.Trunc(nchan) {
		return hdr, &FormatError{Offset: SampleWidth, Field: "channel count", Expected: "an integer", Found: formatField(nchan)}
	}
	if nchan < 1 || nchan > MaxChannels {
		return hdr, &UnsupportedChannelLayoutError{
			Channels: int(nchan),
			Width:    SampleWidth,
			Reason:   fmt.Sprintf("channel count must be between 1 and %d", MaxChannels),
		}
	}
	hdr.ChannelCount = int(nchan)

	start, err := parseLVDTime(field(2))
	if err != nil {
		return hdr, &FormatError{Offset: 2 * SampleWidth, Field: "start time", Expected: "a YYYYMMDDhhmmss date", Found: formatField(field(2))}
	}
	hdr.StartTime = start

	maxV := field(3)
	if math.IsNaN(maxV) || math.IsInf(maxV, 0) || maxV <= 0 {
		return hdr, &FormatError{Offset: 3 * SampleWidth, Field: "max input voltage", Expected: "a positive voltage", Found: formatField(maxV)}
	}
	hdr.MaxVolts = maxV

	return hdr, nil
}

func parseLVDTime(v float64) (time.Time, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return time.Time{}, fmt.Errorf("invalid date value %g", v)
	}
	return time.Parse(lvdTimeLayout, strconv.FormatFloat(v, 'f', 0, 64))
}

func formatLVDTime(t time.Time) float64 {
	v, _ := strconv.ParseFloat(t.UTC().Format(lvdTimeLayout), 64)
	return v
}

func formatField(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Header returns the decoded file header.
func (c *Continuous) Header() LVDHeader {
	return c.hdr
}

// SampleRate returns the number of samples per second.
func (c *Continuous) SampleRate() float64 {
	return c.hdr.SampleRate
}

func (c *Continuous) ID() string {
	return c.id
}

func (c *Continuous) Kind() FormatKind {
	return KindContinuous
}

func (c *Continuous) Channels() []ChannelMeta {
	return append([]ChannelMeta(nil), c.channels...)
}

func (c *Continuous) Channel(role Role) (int, bool) {
	return channelForRole(c.channels, role)
}

func (c *Continuous) Len() int {
	return len(c.samples)
}

func (c *Continuous) Time(i int) float64 {
	return float64(i) / c.hdr.SampleRate
}

func (c *Continuous) Value(i, ch int) float64 {
	return c.samples[i][ch]
}

func (c *Continuous) Span() (float64, float64) {
	if len(c.samples) == 0 {
		return 0, 0
	}
	return 0, c.Time(len(c.samples) - 1)
}

func (c *Continuous) Nearest(local float64) (int, bool) {
	n := len(c.samples)
	if n == 0 || math.IsNaN(local) {
		return 0, false
	}
	start, end := c.Span()
	if local < start || local > end {
		return 0, false
	}

	// Round half down so ties go to the earlier sample
	i := int(math.Ceil(local*c.hdr.SampleRate - 0.5))
	return min(max(i, 0), n-1), true
}

// Column returns a copy of every sample of channel ch.
func (c *Continuous) Column(ch int) []float64 {
	col := make([]float64, len(c.samples))
	for i, row := range c.samples {
		col[i] = row[ch]
	}
	return col
}

// Ordinal cleans up channel ch by rescaling its range onto the channel's ordinal levels
// and rounding, then applying the channel's recoding if it has one.
func (c *Continuous) Ordinal(ch int) ([]float64, error) {
	if ch < 0 || ch >= len(c.channels) {
		return nil, fmt.Errorf("channel index out of range")
	}
	meta := c.channels[ch]
	if meta.Levels < 2 {
		return nil, fmt.Errorf("channel %q does not encode ordinal values", meta.Name)
	}
	if meta.Max == meta.Min {
		return nil, fmt.Errorf("channel %q has an empty range", meta.Name)
	}

	out := make([]float64, len(c.samples))
	top := float64(meta.Levels - 1)
	for i, row := range c.samples {
		level := math.Round((row[ch] - meta.Min) / (meta.Max - meta.Min) * top)
		level = min(max(level, 0), top)
		if len(meta.Recode) > 0 {
			out[i] = meta.Recode[int(level)]
		} else {
			out[i] = level
		}
	}
	return out, nil
}
