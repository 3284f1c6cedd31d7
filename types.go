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
	"fmt"
	"path/filepath"
	"strings"
)

// FormatKind identifies which of the recording formats a stream was decoded from.
type FormatKind string

const (
	// KindContinuous is a continuous multi-channel analog/digital log (.lvd).
	KindContinuous FormatKind = "continuous"
	// KindEyeFrame is a per-frame record log from an eye-tracking camera (.eye).
	KindEyeFrame FormatKind = "eye-frame"
	// KindVideoFrame is a per-frame record log from a triggered camera (.vid).
	KindVideoFrame FormatKind = "video-frame"
)

// ParseFormatKind parses a format kind, accepting the file extension names as aliases.
func ParseFormatKind(s string) (FormatKind, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "continuous", "lvd":
		return KindContinuous, nil
	case "eye-frame", "eye", "eye1", "eye2":
		return KindEyeFrame, nil
	case "video-frame", "vid":
		return KindVideoFrame, nil
	default:
		return "", fmt.Errorf("unknown format kind %q", s)
	}
}

// KindForPath guesses the format kind from a file extension.
func KindForPath(path string) (FormatKind, error) {
	return ParseFormatKind(filepath.Ext(path))
}

// Role designates what a channel carries, so the event extractor knows which channel to scan.
type Role string

const (
	RoleNone            Role = ""
	RoleStimulusTrigger Role = "stimulus-trigger"
	RoleScanTrigger     Role = "scan-trigger"
	RoleShutter         Role = "shutter"
	RoleTrigger         Role = "trigger"
	// RoleFrameStart marks a stream whose first sample is taken when the shutter opens, as
	// with cameras started by the shutter line. Its level is never read.
	RoleFrameStart Role = "frame-start"
)

// SampleWidth is the width in bytes of every numeric field in all three formats.
const SampleWidth = 8

// ChannelMeta describes one channel of a decoded stream.
type ChannelMeta struct {
	Index     int       // Column in the sample array, or metadata field for frame streams
	Name      string    // Name of the channel (e.g., shutter, frame, stimulus)
	Unit      string    // Physical unit (e.g., V)
	Digital   bool      // Digital channels are high whenever the value is non-zero
	Width     int       // Width of a sample in bytes
	Role      Role      // Designated role, if any
	Min       float64   // Nominal minimum of the encoded range
	Max       float64   // Nominal maximum of the encoded range
	Threshold *float64  // Analog threshold, defaults to the middle of the range
	Levels    int       // Number of ordinal values encoded, 0 if not ordinal
	Recode    []float64 // Optional replacement for each ordinal level
}

// EffectiveThreshold returns the analog high/low threshold for the channel.
func (c ChannelMeta) EffectiveThreshold() float64 {
	if c.Threshold != nil {
		return *c.Threshold
	}
	return (c.Min + c.Max) / 2
}

// Layout names and assigns roles to the channels of a stream. Channels the layout does not
// mention are still decoded and get default metadata.
type Layout struct {
	Channels []ChannelMeta
}

// Stream is the capability set shared by every decoded stream, continuous or framed.
// Index order is time-increasing in local time, and local time is in seconds.
type Stream interface {
	// ID returns the identifier the stream was decoded under.
	ID() string
	// Kind returns the format the stream was decoded from.
	Kind() FormatKind
	// Channels returns the channel metadata, ordered by channel index.
	Channels() []ChannelMeta
	// Channel returns the position in Channels of the channel bearing role.
	Channel(role Role) (int, bool)
	// Len returns the number of samples or frames.
	Len() int
	// Time returns the local time of sample or frame i.
	Time(i int) float64
	// Value returns the value of channel ch at sample or frame i.
	Value(i, ch int) float64
	// Span returns the local times of the first and last sample or frame.
	Span() (start, end float64)
	// Nearest returns the index closest to local, ties going to the earlier index.
	// It returns false if local falls outside the recorded span.
	Nearest(local float64) (int, bool)
}

// resolveLayout expands a layout over n channels, filling in defaults and rejecting
// combinations the decoders do not handle. first is the lowest valid channel index.
func resolveLayout(layout Layout, first, n int) ([]ChannelMeta, error) {
	channels := make([]ChannelMeta, n-first)
	for i := range channels {
		channels[i] = ChannelMeta{
			Index: first + i,
			Name:  fmt.Sprintf("ch%d", first+i),
			Unit:  "V",
			Width: SampleWidth,
			Min:   0,
			Max:   5,
		}
	}

	seen := make(map[int]bool)
	roles := make(map[Role]int)
	for _, ch := range layout.Channels {
		if ch.Index < first || ch.Index >= n {
			return nil, &UnsupportedChannelLayoutError{
				Channels: n,
				Width:    ch.Width,
				Reason:   fmt.Sprintf("channel %q has index %d, stream has channels %d..%d", ch.Name, ch.Index, first, n-1),
			}
		}
		if seen[ch.Index] {
			return nil, &UnsupportedChannelLayoutError{
				Channels: n,
				Width:    ch.Width,
				Reason:   fmt.Sprintf("channel index %d declared twice", ch.Index),
			}
		}
		seen[ch.Index] = true

		if ch.Width == 0 {
			ch.Width = SampleWidth
		}
		if ch.Width != SampleWidth {
			return nil, &UnsupportedChannelLayoutError{
				Channels: n,
				Width:    ch.Width,
				Reason:   fmt.Sprintf("channel %q is %d bytes wide, only %d byte samples are recorded", ch.Name, ch.Width, SampleWidth),
			}
		}
		if ch.Role != RoleNone {
			if prev, ok := roles[ch.Role]; ok {
				return nil, &UnsupportedChannelLayoutError{
					Channels: n,
					Width:    ch.Width,
					Reason:   fmt.Sprintf("role %q assigned to channels %d and %d", ch.Role, prev, ch.Index),
				}
			}
			roles[ch.Role] = ch.Index
		}
		if ch.Levels != 0 && ch.Levels < 2 {
			return nil, &UnsupportedChannelLayoutError{
				Channels: n,
				Width:    ch.Width,
				Reason:   fmt.Sprintf("channel %q encodes %d levels", ch.Name, ch.Levels),
			}
		}
		if len(ch.Recode) != 0 && len(ch.Recode) != ch.Levels {
			return nil, &UnsupportedChannelLayoutError{
				Channels: n,
				Width:    ch.Width,
				Reason:   fmt.Sprintf("channel %q recodes %d values for %d levels", ch.Name, len(ch.Recode), ch.Levels),
			}
		}
		if ch.Name == "" {
			ch.Name = channels[ch.Index-first].Name
		}
		if ch.Unit == "" {
			ch.Unit = channels[ch.Index-first].Unit
		}
		if ch.Min == 0 && ch.Max == 0 {
			ch.Min, ch.Max = 0, 5
		}
		channels[ch.Index-first] = ch
	}

	return channels, nil
}

// channelForRole finds the position of the channel bearing role.
func channelForRole(channels []ChannelMeta, role Role) (int, bool) {
	if role == RoleNone {
		return 0, false
	}
	for i, ch := range channels {
		if ch.Role == role {
			return i, true
		}
	}
	return 0, false
}
