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
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
)

const (
	// EyeMetadataFields is the number of float64 fields leading each .eye frame record.
	EyeMetadataFields = 9
	// VidMetadataFields is the number of float64 fields leading each .vid frame record.
	VidMetadataFields = 4
	// MaxResolution bounds either image dimension.
	MaxResolution = 1 << 16
)

// FrameHeader describes the record layout of a frame stream. Frame logs have no separate
// header, so it is read from the first frame's metadata.
type FrameHeader struct {
	Kind           FormatKind
	XRes           int     // Image width in pixels
	YRes           int     // Image height in pixels
	X0             float64 // Region of interest origin (.eye only)
	Y0             float64
	MetadataFields int     // Number of float64 fields before the image data
	RecordSize     int64   // Bytes per frame record, metadata and image
	FirstTimestamp float64 // Timestamp of frame 0 in milliseconds
	Declared       int     // Frame records the file holds, set when decoding
}

// FrameRecord is one decoded frame. The image itself is located but not read.
type FrameRecord struct {
	Index       int       // Position of the frame in the file
	Timestamp   float64   // Seconds since frame 0
	Fields      []float64 // Metadata fields following the timestamp
	ImageOffset int64     // Byte offset of the image data
	ImageSize   int       // Bytes of image data
}

// Counter returns the camera's frame counter, the first metadata field after the timestamp.
func (f FrameRecord) Counter() float64 {
	if len(f.Fields) == 0 {
		return 0
	}
	return f.Fields[0]
}

// Frames is a decoded .eye or .vid stream.
type Frames struct {
	id         string
	hdr        FrameHeader
	channels   []ChannelMeta
	frames     []FrameRecord
	truncation *CorruptStreamError
}

func metadataFields(kind FormatKind) (int, error) {
	switch kind {
	case KindEyeFrame:
		return EyeMetadataFields, nil
	case KindVideoFrame:
		return VidMetadataFields, nil
	default:
		return 0, fmt.Errorf("cannot decode %s stream as frames", kind)
	}
}

// DecodeFrames decodes an eye-camera or triggered-video frame log. The channels of a frame
// stream are the metadata fields after the timestamp, numbered from 1.
//
// A timestamp that runs backwards ends the stream: that frame and the rest of the file are
// dropped, and the stream reports the drop through Truncation.
func DecodeFrames(r io.ReadSeeker, kind FormatKind, id string, layout Layout) (*Frames, error) {
	nfields, err := metadataFields(kind)
	if err != nil {
		return nil, err
	}

	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("error seeking to end of file: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("error seeking to start of file: %w", err)
	}

	metaBytes := int64(nfields * SampleWidth)
	if size < metaBytes {
		return nil, &TruncatedDataError{Offset: 0, Expected: metaBytes, Found: size}
	}

	meta := make([]float64, nfields)
	buf := make([]byte, metaBytes)
	if err := readMetadata(r, buf, meta); err != nil {
		return nil, fmt.Errorf("error reading frame header: %w", err)
	}

	hdr, err := parseFrameHeader(kind, meta)
	if err != nil {
		return nil, err
	}

	channels, err := resolveLayout(layout, 1, nfields)
	if err != nil {
		return nil, err
	}

	if rem := size % hdr.RecordSize; rem != 0 {
		return nil, &TruncatedDataError{
			Offset:   size - rem,
			Expected: hdr.RecordSize,
			Found:    rem,
		}
	}

	n := int(size / hdr.RecordSize)
	hdr.Declared = n
	imageSize := hdr.XRes * hdr.YRes
	fs := &Frames{
		id:       id,
		hdr:      hdr,
		channels: channels,
		frames:   make([]FrameRecord, 0, n),
	}

	prev := hdr.FirstTimestamp
	for i := 0; i < n; i++ {
		pos := int64(i) * hdr.RecordSize
		if i > 0 {
			if _, err := r.Seek(pos, io.SeekStart); err != nil {
				return nil, fmt.Errorf("error seeking to frame %d: %w", i, err)
			}
			if err := readMetadata(r, buf, meta); err != nil {
				return nil, fmt.Errorf("error reading frame %d: %w", i, err)
			}
		}

		ts := meta[0]
		if math.IsNaN(ts) || math.IsInf(ts, 0) || ts < prev {
			fs.truncation = &CorruptStreamError{
				Frame:    i,
				Offset:   pos,
				Previous: prev,
				Found:    ts,
				Dropped:  n - i,
			}
			break
		}
		prev = ts

		fs.frames = append(fs.frames, FrameRecord{
			Index:       i,
			Timestamp:   (ts - hdr.FirstTimestamp) / 1000,
			Fields:      append([]float64(nil), meta[1:]...),
			ImageOffset: pos + metaBytes,
			ImageSize:   imageSize,
		})
	}

	return fs, nil
}

func readMetadata(r io.Reader, buf []byte, meta []float64) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	for i := range meta {
		meta[i] = math.Float64frombits(binary.BigEndian.Uint64(buf[i*SampleWidth:]))
	}
	return nil
}

func parseFrameHeader(kind FormatKind, meta []float64) (FrameHeader, error) {
	hdr := FrameHeader{
		Kind:           kind,
		MetadataFields: len(meta),
	}

	ts := meta[0]
	if math.IsNaN(ts) || math.IsInf(ts, 0) {
		return hdr, &FormatError{Offset: 0, Field: "timestamp", Expected: "a finite timestamp", Found: formatField(ts)}
	}
	hdr.FirstTimestamp = ts

	var xres, yres float64
	var xoff, yoff int64
	switch kind {
	case KindEyeFrame:
		hdr.X0, hdr.Y0 = meta[2], meta[3]
		xres, yres = meta[4]-meta[2], meta[5]-meta[3]
		xoff, yoff = 4*SampleWidth, 5*SampleWidth
	default:
		xres, yres = meta[2], meta[3]
		xoff, yoff = 2*SampleWidth, 3*SampleWidth
	}

	if err := checkResolution("x resolution", xoff, xres); err != nil {
		return hdr, err
	}
	if err := checkResolution("y resolution", yoff, yres); err != nil {
		return hdr, err
	}
	hdr.XRes, hdr.YRes = int(xres), int(yres)
	hdr.RecordSize = int64(len(meta)*SampleWidth) + int64(hdr.XRes)*int64(hdr.YRes)

	return hdr, nil
}

func checkResolution(field string, offset int64, v float64) error {
	if math.IsNaN(v) || v != math.Trunc(v) || v < 1 || v > MaxResolution {
		return &FormatError{
			Offset:   offset,
			Field:    field,
			Expected: fmt.Sprintf("an integer between 1 and %d", MaxResolution),
			Found:    formatField(v),
		}
	}
	return nil
}

// Header returns the record layout read from the first frame.
func (fs *Frames) Header() FrameHeader {
	return fs.hdr
}

// Frame returns frame i.
func (fs *Frames) Frame(i int) FrameRecord {
	f := fs.frames[i]
	f.Fields = append([]float64(nil), f.Fields...)
	return f
}

// Truncation reports the corrupt tail dropped during decoding, or nil.
func (fs *Frames) Truncation() *CorruptStreamError {
	return fs.truncation
}

// Image returns a reader over the image data of frame i within the file it was decoded from.
func (fs *Frames) Image(r io.ReaderAt, i int) *io.SectionReader {
	f := fs.frames[i]
	return io.NewSectionReader(r, f.ImageOffset, int64(f.ImageSize))
}

func (fs *Frames) ID() string {
	return fs.id
}

func (fs *Frames) Kind() FormatKind {
	return fs.hdr.Kind
}

func (fs *Frames) Channels() []ChannelMeta {
	return append([]ChannelMeta(nil), fs.channels...)
}

func (fs *Frames) Channel(role Role) (int, bool) {
	return channelForRole(fs.channels, role)
}

func (fs *Frames) Len() int {
	return len(fs.frames)
}

func (fs *Frames) Time(i int) float64 {
	return fs.frames[i].Timestamp
}

func (fs *Frames) Value(i, ch int) float64 {
	return fs.frames[i].Fields[ch]
}

func (fs *Frames) Span() (float64, float64) {
	if len(fs.frames) == 0 {
		return 0, 0
	}
	return fs.frames[0].Timestamp, fs.frames[len(fs.frames)-1].Timestamp
}

func (fs *Frames) Nearest(local float64) (int, bool) {
	n := len(fs.frames)
	if n == 0 || math.IsNaN(local) {
		return 0, false
	}
	start, end := fs.Span()
	if local < start || local > end {
		return 0, false
	}

	j := sort.Search(n, func(i int) bool { return fs.frames[i].Timestamp >= local })
	if j == n {
		j = n - 1
	}
	best := j
	if j > 0 && local-fs.frames[j-1].Timestamp <= fs.frames[j].Timestamp-local {
		best = j - 1
	}

	// Equal timestamps resolve to the first frame carrying them
	t := fs.frames[best].Timestamp
	return sort.Search(n, func(i int) bool { return fs.frames[i].Timestamp >= t }), true
}
