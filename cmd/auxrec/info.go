// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package main

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/OpenPSG/auxrec"
)

type fileInfo struct {
	Path       string            `json:"path" yaml:"path"`
	Kind       auxrec.FormatKind `json:"kind" yaml:"kind"`
	Len        int               `json:"len" yaml:"len"`
	Declared   int               `json:"declared" yaml:"declared"`
	Start      float64           `json:"start" yaml:"start"`
	End        float64           `json:"end" yaml:"end"`
	Channels   int               `json:"channels" yaml:"channels"`
	SampleRate float64           `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
	StartTime  *time.Time        `json:"start_time,omitempty" yaml:"start_time,omitempty"`
	Resolution string            `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	Truncated  string            `json:"truncated,omitempty" yaml:"truncated,omitempty"`
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "Show the header and extent of recording files",
		ArgsUsage: "<file>...",
		Flags:     []cli.Flag{formatFlag},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("info: at least one file is required", 1)
			}

			infos := make([]fileInfo, 0, c.NArg())
			for _, path := range c.Args().Slice() {
				info, err := describe(path)
				if err != nil {
					return err
				}
				infos = append(infos, info)
			}

			return render(c.App.Writer, c.String("format"), infos, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "FILE\tKIND\tLEN\tSPAN (s)\tCHANNELS\tDETAIL")
				for _, info := range infos {
					detail := info.Resolution
					if info.SampleRate > 0 {
						detail = fmt.Sprintf("%g Hz from %s", info.SampleRate, info.StartTime.Format(time.DateTime))
					}
					if info.Truncated != "" {
						detail += fmt.Sprintf(" (truncated, %d of %d frames kept)", info.Len, info.Declared)
					}
					fmt.Fprintf(tw, "%s\t%s\t%d\t%.3f..%.3f\t%d\t%s\n",
						filepath.Base(info.Path), info.Kind, info.Len, info.Start, info.End, info.Channels, detail)
				}
				return tw.Flush()
			})
		},
	}
}

func describe(path string) (fileInfo, error) {
	kind, err := auxrec.KindForPath(path)
	if err != nil {
		return fileInfo{}, err
	}
	s, err := auxrec.DecodeFile(path, kind, filepath.Base(path), auxrec.Layout{})
	if err != nil {
		return fileInfo{}, err
	}

	start, end := s.Span()
	info := fileInfo{
		Path:     path,
		Kind:     s.Kind(),
		Len:      s.Len(),
		Start:    start,
		End:      end,
		Channels: len(s.Channels()),
	}
	switch s := s.(type) {
	case *auxrec.Continuous:
		hdr := s.Header()
		info.SampleRate = hdr.SampleRate
		info.StartTime = &hdr.StartTime
		info.Declared = hdr.Declared
	case *auxrec.Frames:
		hdr := s.Header()
		info.Resolution = fmt.Sprintf("%dx%d", hdr.XRes, hdr.YRes)
		info.Declared = hdr.Declared
		if t := s.Truncation(); t != nil {
			info.Truncated = t.Error()
		}
	}
	return info, nil
}
