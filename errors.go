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
	"errors"
	"fmt"
)

// FormatError reports a header that does not describe a valid recording.
type FormatError struct {
	File     string // Path of the file, if known
	Offset   int64  // Byte offset of the offending field
	Field    string // Name of the offending field
	Expected string // What a valid header holds there
	Found    string // What was read instead
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%sinvalid %s at byte %d: expected %s, found %s", filePrefix(e.File), e.Field, e.Offset, e.Expected, e.Found)
}

// TruncatedDataError reports a payload shorter than the header declares.
type TruncatedDataError struct {
	File     string
	Offset   int64 // Byte offset where the incomplete sample or record starts
	Expected int64 // Bytes required to complete it
	Found    int64 // Bytes actually present
}

func (e *TruncatedDataError) Error() string {
	return fmt.Sprintf("%struncated payload at byte %d: expected %d bytes, found %d", filePrefix(e.File), e.Offset, e.Expected, e.Found)
}

// UnsupportedChannelLayoutError reports a channel count or width combination the decoders
// do not recognise.
type UnsupportedChannelLayoutError struct {
	File     string
	Channels int
	Width    int
	Reason   string
}

func (e *UnsupportedChannelLayoutError) Error() string {
	return fmt.Sprintf("%sunsupported channel layout (%d channels, %d byte samples): %s", filePrefix(e.File), e.Channels, e.Width, e.Reason)
}

// CorruptStreamError reports a frame whose timestamp runs backwards. Decoding recovers by
// dropping that frame and everything after it; the error is kept on the stream.
type CorruptStreamError struct {
	File     string
	Frame    int     // First dropped frame
	Offset   int64   // Byte offset of the dropped frame's record
	Previous float64 // Timestamp of the last kept frame (ms)
	Found    float64 // Timestamp of the dropped frame (ms)
	Dropped  int     // Number of frames dropped
}

func (e *CorruptStreamError) Error() string {
	return fmt.Sprintf("%scorrupt stream at frame %d (byte %d): timestamp %g ms follows %g ms, dropped %d frames",
		filePrefix(e.File), e.Frame, e.Offset, e.Found, e.Previous, e.Dropped)
}

// NoDesignatedChannelError reports a stream with no channel bearing the requested role.
type NoDesignatedChannelError struct {
	Stream string
	Role   Role
}

func (e *NoDesignatedChannelError) Error() string {
	return fmt.Sprintf("stream %q has no channel with role %q", e.Stream, e.Role)
}

// SynchronizationFailedError reports a stream that could not be mapped onto the reference.
type SynchronizationFailedError struct {
	Stream    string
	Reference string
	Kind      string  // Event kind the fit was attempted on
	Pairs     int     // Matched event pairs remaining when the fit was given up
	Scale     float64 // Fitted scale, 0 if no fit was made
	Residual  float64 // Largest absolute residual in seconds
	Reason    string
}

func (e *SynchronizationFailedError) Error() string {
	return fmt.Sprintf("cannot align stream %q to %q on %s events (%d pairs, scale %g, max residual %gs): %s",
		e.Stream, e.Reference, e.Kind, e.Pairs, e.Scale, e.Residual, e.Reason)
}

// UnalignedStreamError reports a common-time query against a stream without a mapping.
type UnalignedStreamError struct {
	Stream string
	Err    error // Why the stream could not be aligned, if known
}

func (e *UnalignedStreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stream %q is not aligned: %v", e.Stream, e.Err)
	}
	return fmt.Sprintf("stream %q is not aligned", e.Stream)
}

func (e *UnalignedStreamError) Unwrap() error {
	return e.Err
}

// UnknownStreamError reports a query for a stream the session does not hold.
type UnknownStreamError struct {
	Stream string
}

func (e *UnknownStreamError) Error() string {
	return fmt.Sprintf("unknown stream %q", e.Stream)
}

// withFile stamps path into the decode errors that carry a file name.
func withFile(err error, path string) error {
	var (
		formatErr    *FormatError
		truncatedErr *TruncatedDataError
		layoutErr    *UnsupportedChannelLayoutError
	)
	switch {
	case errors.As(err, &formatErr):
		formatErr.File = path
	case errors.As(err, &truncatedErr):
		truncatedErr.File = path
	case errors.As(err, &layoutErr):
		layoutErr.File = path
	}
	return err
}

func filePrefix(file string) string {
	if file == "" {
		return ""
	}
	return file + ": "
}
