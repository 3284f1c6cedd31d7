// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package session

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/OpenPSG/auxrec"
)

// Source is one recording file of a session.
type Source struct {
	ID     string            // Defaults to the file name
	Path   string
	Kind   auxrec.FormatKind // Defaults to the kind implied by the file extension
	Layout auxrec.Layout
}

// Build decodes every source in parallel and assembles the session with New. Any decode
// failure aborts the build.
func Build(ctx context.Context, sources []Source, opts Options) (*Index, error) {
	streams := make([]auxrec.Stream, len(sources))

	g, ctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			id := src.ID
			if id == "" {
				id = filepath.Base(src.Path)
			}
			kind := src.Kind
			if kind == "" {
				var err error
				if kind, err = auxrec.KindForPath(src.Path); err != nil {
					return fmt.Errorf("error decoding stream %q: %w", id, err)
				}
			}

			s, err := auxrec.DecodeFile(src.Path, kind, id, src.Layout)
			if err != nil {
				return fmt.Errorf("error decoding stream %q: %w", id, err)
			}
			streams[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, s := range streams {
		opts.Metrics.Decoded(string(s.Kind()))
		opts.Logger.Debug("stream decoded", map[string]any{"stream": s.ID(), "kind": string(s.Kind()), "len": s.Len()})
	}

	return New(streams, opts)
}
