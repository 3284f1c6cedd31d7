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
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/OpenPSG/auxrec/events"
	"github.com/OpenPSG/auxrec/internal/catalog"
	"github.com/OpenPSG/auxrec/internal/config"
	"github.com/OpenPSG/auxrec/internal/log"
	"github.com/OpenPSG/auxrec/internal/metrics"
	"github.com/OpenPSG/auxrec/session"
)

type alignReport struct {
	Session   string         `json:"session" yaml:"session"`
	Reference string         `json:"reference" yaml:"reference"`
	Kind      events.Kind    `json:"kind" yaml:"kind"`
	Streams   []streamReport `json:"streams" yaml:"streams"`
}

type streamReport struct {
	ID            string         `json:"id" yaml:"id"`
	Kind          string         `json:"kind" yaml:"kind"`
	Len           int            `json:"len" yaml:"len"`
	Start         float64        `json:"start" yaml:"start"`
	End           float64        `json:"end" yaml:"end"`
	Events        map[string]int `json:"events" yaml:"events"`
	Aligned       bool           `json:"aligned" yaml:"aligned"`
	Offset        float64        `json:"offset" yaml:"offset"`
	Scale         float64        `json:"scale" yaml:"scale"`
	Pairs         int            `json:"pairs" yaml:"pairs"`
	Dropped       int            `json:"dropped" yaml:"dropped"`
	Lag           int            `json:"lag" yaml:"lag"`
	ResidualRMS   float64        `json:"residual_rms" yaml:"residual_rms"`
	MaxResidual   float64        `json:"max_residual" yaml:"max_residual"`
	LowConfidence bool           `json:"low_confidence,omitempty" yaml:"low_confidence,omitempty"`
	Error         string         `json:"error,omitempty" yaml:"error,omitempty"`
}

func alignCommand() *cli.Command {
	return &cli.Command{
		Name:  "align",
		Usage: "Decode a session and fit every stream's clock onto the reference",
		Flags: []cli.Flag{
			configFlag,
			formatFlag,
			&cli.StringFlag{Name: "reference", Aliases: []string{"r"}, Usage: "Reference stream id"},
			&cli.StringFlag{Name: "sync-kind", Usage: "Event kind shared by all streams"},
			&cli.StringFlag{Name: "catalog", Usage: "SQLite catalog to record the alignment in"},
			&cli.StringFlag{Name: "metrics", Usage: "Write metrics to this node exporter textfile"},
			&cli.BoolFlag{Name: "strict", Usage: "Exit with status 2 when any stream is left unaligned"},
		},
		Action: alignAction,
	}
}

func alignAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(c, cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	idx, err := buildSession(c, cfg, logger)
	if err != nil {
		return err
	}
	report := reportOf(cfg.Session, idx)

	if cfg.Catalog != "" {
		if err := recordAlignment(c, cfg.Catalog, report); err != nil {
			return err
		}
	}

	if err := render(c.App.Writer, c.String("format"), report, report.writeText); err != nil {
		return err
	}

	if unaligned := idx.Unaligned(); c.Bool("strict") && len(unaligned) > 0 {
		ids := make([]string, 0, len(unaligned))
		for id := range unaligned {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return cli.Exit(fmt.Sprintf("unaligned streams: %s", strings.Join(ids, ", ")), 2)
	}
	return nil
}

func reportOf(sessionID string, idx *session.Index) alignReport {
	report := alignReport{Session: sessionID, Reference: idx.Reference(), Kind: idx.SyncKind()}
	for _, sum := range idx.Summary() {
		r := streamReport{
			ID:      sum.ID,
			Kind:    string(sum.Kind),
			Len:     sum.Len,
			Start:   sum.Start,
			End:     sum.End,
			Events:  make(map[string]int, len(sum.Events)),
			Aligned: sum.Aligned,
		}
		for kind, n := range sum.Events {
			r.Events[string(kind)] = n
		}
		if sum.Aligned {
			r.Offset, r.Scale = sum.Fit.Offset, sum.Fit.Scale
			r.Pairs, r.Dropped, r.Lag = sum.Fit.Pairs, sum.Fit.Dropped, sum.Fit.Lag
			r.ResidualRMS, r.MaxResidual = sum.Fit.ResidualRMS, sum.Fit.MaxResidual
			r.LowConfidence = sum.Fit.LowConfidence
		}
		if sum.Err != nil {
			r.Error = sum.Err.Error()
		}
		report.Streams = append(report.Streams, r)
	}
	return report
}

func (r alignReport) writeText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "# session %s, aligned on %s events of %s\n", r.Session, r.Kind, r.Reference)
	fmt.Fprintln(tw, "STREAM\tKIND\tLEN\tOFFSET (s)\tSCALE\tPAIRS\tDROPPED\tMAX RESIDUAL (s)\tSTATUS")
	for _, s := range r.Streams {
		status := "aligned"
		switch {
		case s.ID == r.Reference:
			status = "reference"
		case !s.Aligned:
			status = s.Error
		case s.LowConfidence:
			status = "low confidence"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%+.6f\t%.6f\t%d\t%d\t%.6f\t%s\n",
			s.ID, s.Kind, s.Len, s.Offset, s.Scale, s.Pairs, s.Dropped, s.MaxResidual, status)
	}
	return tw.Flush()
}

func recordAlignment(c *cli.Context, path string, report alignReport) error {
	cat, err := catalog.Open(path)
	if err != nil {
		return err
	}
	defer cat.Close()

	rows := make([]catalog.Alignment, 0, len(report.Streams))
	for _, s := range report.Streams {
		rows = append(rows, catalog.Alignment{
			Session:       report.Session,
			Stream:        s.ID,
			Reference:     report.Reference,
			Kind:          string(report.Kind),
			Offset:        s.Offset,
			Scale:         s.Scale,
			Pairs:         s.Pairs,
			Dropped:       s.Dropped,
			Lag:           s.Lag,
			ResidualRMS:   s.ResidualRMS,
			MaxResidual:   s.MaxResidual,
			LowConfidence: s.LowConfidence,
			Error:         s.Error,
		})
	}
	_, err = cat.Record(c.Context, rows)
	return err
}

// buildSession decodes and aligns the configured streams, flushing metrics when asked to.
func buildSession(c *cli.Context, cfg *config.Config, logger *log.Logger) (*session.Index, error) {
	srcs, err := sources(cfg)
	if err != nil {
		return nil, err
	}
	kind, err := cfg.Kind()
	if err != nil {
		return nil, err
	}

	var collector *metrics.Collector
	if cfg.Metrics != "" {
		collector = metrics.New()
	}

	idx, err := session.Build(c.Context, srcs, session.Options{
		Reference: cfg.ReferenceID(),
		SyncKind:  kind,
		Extract:   cfg.ExtractOptions(),
		Sync:      cfg.SyncOptions(),
		Logger:    logger,
		Metrics:   collector,
	})
	if err != nil {
		return nil, err
	}

	if collector != nil {
		if err := collector.WriteTextfile(cfg.Metrics); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List alignments recorded in a catalog",
		Flags: []cli.Flag{
			formatFlag,
			&cli.StringFlag{Name: "catalog", Usage: "SQLite catalog", Required: true},
			&cli.StringFlag{Name: "session", Usage: "Only this session"},
			&cli.StringFlag{Name: "stream", Aliases: []string{"s"}, Usage: "Only this stream"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Maximum number of rows", Value: 50},
		},
		Action: func(c *cli.Context) error {
			cat, err := catalog.Open(c.String("catalog"))
			if err != nil {
				return err
			}
			defer cat.Close()

			rows, err := cat.List(c.Context, catalog.ListParams{
				Session: c.String("session"),
				Stream:  c.String("stream"),
				Limit:   c.Int("limit"),
			})
			if err != nil {
				return err
			}

			return render(c.App.Writer, c.String("format"), rows, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RECORDED\tSESSION\tSTREAM\tREFERENCE\tOFFSET (s)\tSCALE\tPAIRS\tERROR")
				for _, a := range rows {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%+.6f\t%.6f\t%d\t%s\n",
						a.CreatedAt.Format("2006-01-02 15:04:05"), a.Session, a.Stream, a.Reference, a.Offset, a.Scale, a.Pairs, a.Error)
				}
				return tw.Flush()
			})
		},
	}
}
