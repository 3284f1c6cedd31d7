// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package session holds the decoded streams of one recording session together with their
// clock mappings, and answers time and sample queries across them.
//
// An Index never changes once built. Rebuilding means building a new Index, so any number
// of goroutines may query one without locking.
package session

import (
	"errors"
	"fmt"
	"slices"

	"github.com/OpenPSG/auxrec"
	"github.com/OpenPSG/auxrec/events"
	"github.com/OpenPSG/auxrec/internal/log"
	"github.com/OpenPSG/auxrec/internal/metrics"
	"github.com/OpenPSG/auxrec/timesync"
)

// spanEpsilon absorbs the rounding of a local → common → local round trip at the span edges.
const spanEpsilon = 1e-9

// Options configures how a session is assembled.
type Options struct {
	// Reference is the stream whose clock defines common time. Defaults to the first stream.
	Reference string
	// SyncKind is the shared trigger used for alignment. Defaults to scan onsets.
	SyncKind events.Kind
	Extract  events.Options
	// Sync holds the fit tolerances. The zero value means timesync.DefaultConfig.
	Sync    timesync.Config
	Logger  *log.Logger
	Metrics *metrics.Collector
}

func (o Options) withDefaults(streams []auxrec.Stream) Options {
	if o.Reference == "" && len(streams) > 0 {
		o.Reference = streams[0].ID()
	}
	if o.SyncKind == "" {
		o.SyncKind = events.KindScanOnset
	}
	if o.Sync == (timesync.Config{}) {
		o.Sync = timesync.DefaultConfig()
	}
	return o
}

type truncated interface {
	Truncation() *auxrec.CorruptStreamError
}

// Index is an immutable, aligned recording session.
type Index struct {
	ids       []string
	streams   map[string]auxrec.Stream
	reference string
	syncKind  events.Kind
	fits      map[string]timesync.Fit
	unaligned map[string]error
	// Only kinds whose role channel exists have an entry
	events map[string]map[events.Kind][]events.Event
}

// Lookup is the result of mapping a common time onto one stream.
type Lookup struct {
	Index     int     // Nearest sample or frame, -1 when out of range
	LocalTime float64 // The common time expressed in the stream's clock
	InRange   bool    // False when the time falls outside the recorded span
}

// New builds an index from streams that are already decoded. Streams whose corrupt tail was
// dropped are logged and counted. Events are extracted for every
// kind the streams carry a channel for, then each stream is aligned onto the reference. A
// stream that cannot be aligned stays in the index, marked unaligned.
func New(streams []auxrec.Stream, opts Options) (*Index, error) {
	if len(streams) == 0 {
		return nil, errors.New("session has no streams")
	}
	opts = opts.withDefaults(streams)
	logger := opts.Logger.With("reference", opts.Reference)

	idx := &Index{
		ids:       make([]string, 0, len(streams)),
		streams:   make(map[string]auxrec.Stream, len(streams)),
		reference: opts.Reference,
		syncKind:  opts.SyncKind,
		fits:      make(map[string]timesync.Fit, len(streams)),
		unaligned: make(map[string]error),
		events:    make(map[string]map[events.Kind][]events.Event, len(streams)),
	}

	for _, s := range streams {
		if _, ok := idx.streams[s.ID()]; ok {
			return nil, fmt.Errorf("duplicate stream id %q", s.ID())
		}
		idx.ids = append(idx.ids, s.ID())
		idx.streams[s.ID()] = s

		if t, ok := s.(truncated); ok {
			if corrupt := t.Truncation(); corrupt != nil {
				logger.Warn("corrupt stream tail truncated", map[string]any{
					"stream":  s.ID(),
					"file":    corrupt.File,
					"frame":   corrupt.Frame,
					"offset":  corrupt.Offset,
					"dropped": corrupt.Dropped,
				})
				opts.Metrics.Truncated(s.ID(), corrupt.Dropped)
			}
		}

		byKind := make(map[events.Kind][]events.Event)
		for _, kind := range events.Kinds {
			evs, err := events.Collect(s, kind, opts.Extract)
			if err != nil {
				var noChan *auxrec.NoDesignatedChannelError
				if errors.As(err, &noChan) {
					continue
				}
				return nil, err
			}
			byKind[kind] = evs
			opts.Metrics.Events(s.ID(), string(kind), len(evs))
		}
		idx.events[s.ID()] = byKind
	}

	if _, ok := idx.streams[opts.Reference]; !ok {
		return nil, &auxrec.UnknownStreamError{Stream: opts.Reference}
	}

	ref := timesync.SeriesOf(opts.Reference, opts.SyncKind, idx.events[opts.Reference][opts.SyncKind])
	others := make([]timesync.Series, 0, len(streams)-1)
	for _, id := range idx.ids {
		if id == opts.Reference {
			continue
		}
		others = append(others, timesync.SeriesOf(id, opts.SyncKind, idx.events[id][opts.SyncKind]))
	}

	for id, result := range timesync.Synchronize(ref, others, opts.Sync) {
		if result.Err != nil {
			idx.unaligned[id] = result.Err
			logger.Warn("stream left unaligned", map[string]any{"stream": id, "error": result.Err.Error()})
			opts.Metrics.Unaligned(id)
			continue
		}
		idx.fits[id] = result.Fit
		if result.Fit.LowConfidence {
			logger.Warn("offset-only alignment from a single event pair", map[string]any{"stream": id})
		}
		logger.Info("stream aligned", map[string]any{
			"stream":       id,
			"offset":       result.Fit.Offset,
			"scale":        result.Fit.Scale,
			"pairs":        result.Fit.Pairs,
			"dropped":      result.Fit.Dropped,
			"max_residual": result.Fit.MaxResidual,
		})
		opts.Metrics.Aligned(id, result.Fit.Offset, result.Fit.Scale, result.Fit.MaxResidual, result.Fit.Dropped)
	}

	return idx, nil
}

// Reference returns the id of the stream that defines common time.
func (idx *Index) Reference() string {
	return idx.reference
}

// SyncKind returns the event kind the streams were aligned on.
func (idx *Index) SyncKind() events.Kind {
	return idx.syncKind
}

// StreamIDs returns the stream ids in the order they were given.
func (idx *Index) StreamIDs() []string {
	return slices.Clone(idx.ids)
}

// Stream returns the decoded stream with the given id.
func (idx *Index) Stream(id string) (auxrec.Stream, error) {
	s, ok := idx.streams[id]
	if !ok {
		return nil, &auxrec.UnknownStreamError{Stream: id}
	}
	return s, nil
}

// Mapping returns the fit of a stream, and false if the stream is unknown or unaligned.
func (idx *Index) Mapping(id string) (timesync.Fit, bool) {
	fit, ok := idx.fits[id]
	return fit, ok
}

// Unaligned returns the streams that could not be aligned and why.
func (idx *Index) Unaligned() map[string]error {
	out := make(map[string]error, len(idx.unaligned))
	for id, err := range idx.unaligned {
		out[id] = err
	}
	return out
}

func (idx *Index) fit(id string) (auxrec.Stream, timesync.Fit, error) {
	s, ok := idx.streams[id]
	if !ok {
		return nil, timesync.Fit{}, &auxrec.UnknownStreamError{Stream: id}
	}
	fit, ok := idx.fits[id]
	if !ok {
		return nil, timesync.Fit{}, &auxrec.UnalignedStreamError{Stream: id, Err: idx.unaligned[id]}
	}
	return s, fit, nil
}

// TimeToCommon maps a stream-local time into common session time.
func (idx *Index) TimeToCommon(id string, local float64) (float64, error) {
	_, fit, err := idx.fit(id)
	if err != nil {
		return 0, err
	}
	return fit.Apply(local), nil
}

// CommonToLocal maps a common session time into a stream's own clock.
func (idx *Index) CommonToLocal(id string, common float64) (float64, error) {
	_, fit, err := idx.fit(id)
	if err != nil {
		return 0, err
	}
	return fit.Invert(common), nil
}

// CommonToNearest returns the sample or frame of a stream nearest to a common time. Ties go
// to the earlier index. A time outside the recorded span is reported with InRange false.
func (idx *Index) CommonToNearest(id string, common float64) (Lookup, error) {
	s, fit, err := idx.fit(id)
	if err != nil {
		return Lookup{}, err
	}

	local := snapToSpan(s, fit.Invert(common))
	i, ok := s.Nearest(local)
	if !ok {
		return Lookup{Index: -1, LocalTime: local}, nil
	}
	return Lookup{Index: i, LocalTime: local, InRange: true}, nil
}

func snapToSpan(s auxrec.Stream, local float64) float64 {
	start, end := s.Span()
	switch {
	case local < start && start-local <= spanEpsilon:
		return start
	case local > end && local-end <= spanEpsilon:
		return end
	default:
		return local
	}
}

// Events returns the events of one kind found in a stream, in ascending local time.
func (idx *Index) Events(id string, kind events.Kind) ([]events.Event, error) {
	byKind, ok := idx.events[id]
	if !ok {
		return nil, &auxrec.UnknownStreamError{Stream: id}
	}
	evs, ok := byKind[kind]
	if !ok {
		return nil, &auxrec.NoDesignatedChannelError{Stream: id, Role: kind.Role()}
	}
	return slices.Clone(evs), nil
}

// StreamSummary describes one stream of the session.
type StreamSummary struct {
	ID        string
	Kind      auxrec.FormatKind
	Len       int
	Start     float64
	End       float64
	Events    map[events.Kind]int
	Aligned   bool
	Fit       timesync.Fit
	Err       error // Why the stream is unaligned
	Reference bool
}

// Summary reports every stream in the order they were given.
func (idx *Index) Summary() []StreamSummary {
	out := make([]StreamSummary, 0, len(idx.ids))
	for _, id := range idx.ids {
		s := idx.streams[id]
		start, end := s.Span()
		sum := StreamSummary{
			ID:        id,
			Kind:      s.Kind(),
			Len:       s.Len(),
			Start:     start,
			End:       end,
			Events:    make(map[events.Kind]int, len(idx.events[id])),
			Reference: id == idx.reference,
		}
		for kind, evs := range idx.events[id] {
			sum.Events[kind] = len(evs)
		}
		sum.Fit, sum.Aligned = idx.fits[id]
		sum.Err = idx.unaligned[id]
		out = append(out, sum)
	}
	return out
}
