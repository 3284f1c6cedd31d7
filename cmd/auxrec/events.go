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
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/OpenPSG/auxrec"
	"github.com/OpenPSG/auxrec/events"
)

type eventList struct {
	Stream   string        `json:"stream" yaml:"stream"`
	Kind     events.Kind   `json:"kind" yaml:"kind"`
	Interval *float64      `json:"mean_interval,omitempty" yaml:"mean_interval,omitempty"`
	Events   []eventRecord `json:"events" yaml:"events"`
}

type eventRecord struct {
	Index     int     `json:"index" yaml:"index"`
	LocalTime float64 `json:"local_time" yaml:"local_time"`
}

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "List the trigger edges found in one stream of a session",
		Flags: []cli.Flag{
			configFlag,
			formatFlag,
			&cli.StringFlag{Name: "stream", Aliases: []string{"s"}, Usage: "Stream id", Required: true},
			&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "Event kind, defaults to the session's sync kind"},
			&cli.Float64Flag{Name: "threshold", Usage: "Analog threshold override (V)"},
			&cli.DurationFlag{Name: "refractory", Usage: "Minimum spacing between accepted edges"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			kind, err := cfg.Kind()
			if c.IsSet("kind") {
				kind, err = events.ParseKind(c.String("kind"))
			}
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			opts := cfg.ExtractOptions()
			if c.IsSet("threshold") {
				threshold := c.Float64("threshold")
				opts.Threshold = &threshold
			}
			if c.IsSet("refractory") {
				opts.Refractory = c.Duration("refractory")
			}

			srcs, err := sources(cfg)
			if err != nil {
				return err
			}
			id := c.String("stream")
			var s auxrec.Stream
			for _, src := range srcs {
				if src.ID == id {
					if s, err = auxrec.DecodeFile(src.Path, src.Kind, src.ID, src.Layout); err != nil {
						return err
					}
				}
			}
			if s == nil {
				return &auxrec.UnknownStreamError{Stream: id}
			}

			evs, err := events.Collect(s, kind, opts)
			if err != nil {
				return err
			}

			list := eventList{Stream: id, Kind: kind, Events: make([]eventRecord, len(evs))}
			for i, ev := range evs {
				list.Events[i] = eventRecord{Index: ev.Index, LocalTime: ev.LocalTime}
			}
			if mean, ok := events.MeanInterval(evs); ok {
				list.Interval = &mean
			}

			return render(c.App.Writer, c.String("format"), list, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "# %d %s events in %s\n", len(evs), kind, id)
				fmt.Fprintln(tw, "INDEX\tLOCAL (s)")
				for _, ev := range list.Events {
					fmt.Fprintf(tw, "%d\t%.6f\n", ev.Index, ev.LocalTime)
				}
				return tw.Flush()
			})
		},
	}
}
