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
	"fmt"
	"io"
)

// FramesWriter writes .eye and .vid frame logs.
type FramesWriter struct {
	w      *bufio.Writer
	hdr    FrameHeader
	frames int // Number of frames written so far.
}

// CreateFrames creates a new frame log writer. Only Kind, XRes, YRes and, for eye logs,
// the region of interest origin are taken from hdr.
func CreateFrames(w io.Writer, hdr FrameHeader) (*FramesWriter, error) {
	nfields, err := metadataFields(hdr.Kind)
	if err != nil {
		return nil, err
	}
	if hdr.XRes < 1 || hdr.YRes < 1 || hdr.XRes > MaxResolution || hdr.YRes > MaxResolution {
		return nil, fmt.Errorf("resolution %dx%d out of range", hdr.XRes, hdr.YRes)
	}

	hdr.MetadataFields = nfields
	hdr.RecordSize = int64(nfields*SampleWidth) + int64(hdr.XRes)*int64(hdr.YRes)

	return &FramesWriter{w: bufio.NewWriter(w), hdr: hdr}, nil
}

// WriteFrame appends one frame record. timestamp is in milliseconds. fields holds the
// metadata following the timestamp; the resolution fields are filled in by the writer and
// missing fields are written as zero. A nil image is written as black.
func (fw *FramesWriter) WriteFrame(timestamp float64, fields []float64, image []byte) error {
	imageSize := fw.hdr.XRes * fw.hdr.YRes
	if image != nil && len(image) != imageSize {
		return fmt.Errorf("expected %d bytes of image data, got %d", imageSize, len(image))
	}
	if len(fields) > fw.hdr.MetadataFields-1 {
		return fmt.Errorf("expected at most %d metadata fields, got %d", fw.hdr.MetadataFields-1, len(fields))
	}

	meta := make([]float64, fw.hdr.MetadataFields)
	meta[0] = timestamp
	copy(meta[1:], fields)
	switch fw.hdr.Kind {
	case KindEyeFrame:
		meta[2], meta[3] = fw.hdr.X0, fw.hdr.Y0
		meta[4], meta[5] = fw.hdr.X0+float64(fw.hdr.XRes), fw.hdr.Y0+float64(fw.hdr.YRes)
	default:
		meta[2], meta[3] = float64(fw.hdr.XRes), float64(fw.hdr.YRes)
	}

	for _, v := range meta {
		if err := writeFloat(fw.w, v); err != nil {
			return fmt.Errorf("error writing frame metadata: %w", err)
		}
	}

	if image == nil {
		image = make([]byte, imageSize)
	}
	if _, err := fw.w.Write(image); err != nil {
		return fmt.Errorf("error writing image data: %w", err)
	}

	fw.frames++
	return nil
}

// Frames returns the number of frames written so far.
func (fw *FramesWriter) Frames() int {
	return fw.frames
}

// Close flushes all buffered frames to the underlying writer.
func (fw *FramesWriter) Close() error {
	return fw.w.Flush()
}
