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
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/OpenPSG/auxrec/events"
	"github.com/OpenPSG/auxrec/session"
)

func exportIndexCommand() *cli.Command {
	return &cli.Command{
		Name:  "export-index",
		Usage: "Write the nearest target frame for every source event, e.g. one video frame per imaging frame",
		Flags: []cli.Flag{
			configFlag,
			&cli.StringFlag{Name: "target", Aliases: []string{"t"}, Usage: "Stream whose frames are indexed", Required: true},
			&cli.StringFlag{Name: "source", Usage: "Stream whose events are mapped, defaults to the reference"},
			&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "Source event kind, defaults to the sync kind"},
			&cli.StringFlag{Name: "encoding", Aliases: []string{"e"}, Usage: "File encoding: msgpack, json, yaml", Value: session.FormatMsgpack},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file, defaults to <target>-<ext>-ix.<encoding> next to the target"},
			&cli.BoolFlag{Name: "overwrite", Usage: "Replace an existing output file"},
			&cli.IntFlag{Name: "planes", Aliases: []string{"n"}, Usage: "Imaging planes in a fast z-stack, each written to its own file", Value: 1},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger, err := newLogger(c, cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			kind, err := cfg.Kind()
			if c.IsSet("kind") {
				kind, err = events.ParseKind(c.String("kind"))
			}
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			switch enc := c.String("encoding"); enc {
			case session.FormatMsgpack, session.FormatJSON, session.FormatYAML:
			default:
				return cli.Exit(fmt.Sprintf("unknown encoding %q", enc), 1)
			}
			planes := c.Int("planes")
			if planes < 1 {
				return cli.Exit(fmt.Sprintf("--planes must be positive, got %d", planes), 1)
			}

			idx, err := buildSession(c, cfg, logger)
			if err != nil {
				return err
			}

			source := c.String("source")
			if source == "" {
				source = idx.Reference()
			}
			target := c.String("target")
			cis, err := idx.PlaneIndexes(source, kind, target, planes)
			if err != nil {
				return err
			}

			out := c.String("out")
			if out == "" {
				for _, s := range cfg.Streams {
					if s.ID == target {
						out = indexPath(s.Path, c.String("encoding"))
					}
				}
			}

			for _, ci := range cis {
				path := out
				if planes > 1 {
					path = planePath(out, ci.Plane)
				}
				if ci.OutOfRange > 0 {
					logger.Warn("events outside the target recording were clamped", map[string]any{
						"target": target, "count": ci.OutOfRange, "plane": ci.Plane,
					})
				}
				if err := writeIndex(path, c.String("encoding"), c.Bool("overwrite"), ci); err != nil {
					return err
				}
				logger.Sugar().Infof("exported %d %s events of %s onto %s: %s", len(ci.Frames), kind, source, target, path)
				fmt.Fprintln(c.App.Writer, path)
			}
			return nil
		},
	}
}

func writeIndex(path, encoding string, overwrite bool, ci *session.ConversionIndex) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return cli.Exit(fmt.Sprintf("%s already exists, use --overwrite to replace it", path), 1)
		}
		return err
	}
	if err := session.WriteConversionIndex(f, encoding, ci); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// planePath numbers the planes from 1, m01-vid-ix.msgpack becoming m01-vid-ix-plane1.msgpack.
func planePath(path string, plane int) string {
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s-plane%d%s", strings.TrimSuffix(path, ext), plane+1, ext)
}

// indexPath names the index after its recording, m01.vid becoming m01-vid-ix.msgpack.
func indexPath(recording, encoding string) string {
	ext := filepath.Ext(recording)
	stem := strings.TrimSuffix(recording, ext)
	return fmt.Sprintf("%s-%s-ix.%s", stem, strings.TrimPrefix(ext, "."), encoding)
}
