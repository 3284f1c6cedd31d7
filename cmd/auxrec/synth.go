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
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/OpenPSG/auxrec"
	"github.com/OpenPSG/auxrec/internal/config"
)

// synthParams describes a synthetic session. Times are in microseconds so that trigger edges
// land exactly on camera frames.
type synthParams struct {
	dir        string
	stem       string
	durationUs int64
	rate       int64
	periodUs   int64 // Scan trigger period, high for the first half
	vidStartUs int64
	vidFPS     int64
	eyeStartUs int64
	eyeFPS     int64
}

const firstTriggerUs = 1_000_000

// triggerHigh reports the scan trigger level at a session time.
func (p synthParams) triggerHigh(us int64) bool {
	return us >= firstTriggerUs && (us-firstTriggerUs)%p.periodUs < p.periodUs/2
}

// stimulusHigh reports the stimulus line, a 100 ms pulse every other trigger period.
func (p synthParams) stimulusHigh(us int64) bool {
	const delay, width = 500_000, 100_000
	if us < firstTriggerUs+delay {
		return false
	}
	return (us-firstTriggerUs-delay)%(2*p.periodUs) < width
}

func synthCommand() *cli.Command {
	return &cli.Command{
		Name:  "synth",
		Usage: "Write a synthetic session of an auxiliary recording and two cameras",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output directory", Required: true},
			&cli.StringFlag{Name: "stem", Usage: "File name stem", Value: "synth"},
			&cli.DurationFlag{Name: "duration", Usage: "Recording length", Value: 10 * time.Second},
			&cli.IntFlag{Name: "rate", Usage: "Auxiliary sample rate (Hz)", Value: 1000},
			&cli.DurationFlag{Name: "trigger-period", Usage: "Scan trigger period", Value: 2 * time.Second},
			&cli.DurationFlag{Name: "vid-start", Usage: "Delay before the video camera's first frame", Value: 250 * time.Millisecond},
			&cli.IntFlag{Name: "vid-fps", Usage: "Video camera frame rate", Value: 20},
			&cli.DurationFlag{Name: "eye-start", Usage: "Delay before the eye camera's first frame", Value: 400 * time.Millisecond},
			&cli.IntFlag{Name: "eye-fps", Usage: "Eye camera frame rate", Value: 25},
		},
		Action: func(c *cli.Context) error {
			p := synthParams{
				dir:        c.String("out"),
				stem:       c.String("stem"),
				durationUs: c.Duration("duration").Microseconds(),
				rate:       int64(c.Int("rate")),
				periodUs:   c.Duration("trigger-period").Microseconds(),
				vidStartUs: c.Duration("vid-start").Microseconds(),
				vidFPS:     int64(c.Int("vid-fps")),
				eyeStartUs: c.Duration("eye-start").Microseconds(),
				eyeFPS:     int64(c.Int("eye-fps")),
			}
			for name, v := range map[string]int64{
				"rate": p.rate, "vid-fps": p.vidFPS, "eye-fps": p.eyeFPS, "duration": p.durationUs, "trigger-period": p.periodUs,
			} {
				if v <= 0 {
					return cli.Exit(fmt.Sprintf("--%s must be positive", name), 1)
				}
			}
			if 1_000_000%p.rate != 0 || 1_000_000%p.vidFPS != 0 || 1_000_000%p.eyeFPS != 0 {
				return cli.Exit("rates must divide one second into whole microseconds", 1)
			}

			if err := os.MkdirAll(p.dir, 0o755); err != nil {
				return err
			}
			cfg, err := p.write()
			if err != nil {
				return err
			}

			path := filepath.Join(p.dir, "session.yaml")
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, path)
			return nil
		},
	}
}

// write creates the recordings and returns the session file describing them.
func (p synthParams) write() (*config.Config, error) {
	lvd := p.stem + ".lvd"
	vid := p.stem + ".vid"
	eye := p.stem + ".eye1"

	if err := p.writeAux(filepath.Join(p.dir, lvd)); err != nil {
		return nil, err
	}
	if err := p.writeCamera(filepath.Join(p.dir, vid), auxrec.FrameHeader{Kind: auxrec.KindVideoFrame, XRes: 16, YRes: 12},
		p.vidStartUs, p.vidFPS, func(i int, high bool) []float64 {
			// The strobe occupies the counter slot
			return []float64{b2f(high)}
		}); err != nil {
		return nil, err
	}
	if err := p.writeCamera(filepath.Join(p.dir, eye), auxrec.FrameHeader{Kind: auxrec.KindEyeFrame, XRes: 8, YRes: 6, X0: 100, Y0: 80},
		p.eyeStartUs, p.eyeFPS, func(i int, high bool) []float64 {
			return []float64{float64(i), 0, 0, 0, 0, b2f(high), 0, 0}
		}); err != nil {
		return nil, err
	}

	strobe := func(index int) []config.ChannelConfig {
		return []config.ChannelConfig{{Index: index, Name: "strobe", Role: string(auxrec.RoleScanTrigger), Digital: true}}
	}
	return &config.Config{
		Session:   p.stem,
		Reference: "aux",
		SyncKind:  "scan-onset",
		Streams: []config.StreamConfig{
			{ID: "aux", Path: lvd, Preset: config.PresetAux},
			{ID: "vid", Path: vid, Channels: strobe(1)},
			{ID: "eye1", Path: eye, Channels: strobe(6)},
		},
	}, nil
}

func (p synthParams) writeAux(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	lw, err := auxrec.CreateLVD(f, auxrec.LVDHeader{
		SampleRate:   float64(p.rate),
		ChannelCount: config.AuxChannelCount,
		StartTime:    time.Now().UTC().Truncate(time.Second),
		MaxVolts:     5,
	})
	if err != nil {
		return err
	}

	stepUs := 1_000_000 / p.rate
	n := p.durationUs / stepUs
	row := make([]float64, config.AuxChannelCount)
	for i := int64(0); i < n; i++ {
		us := i * stepUs
		clear(row)
		row[0] = 5 * b2f(us >= min(p.vidStartUs, p.eyeStartUs)) // shutter
		row[3] = 5 * b2f(p.triggerHigh(us))
		row[8] = 5 * b2f(p.stimulusHigh(us))
		if err := lw.WriteSamples([][]float64{row}); err != nil {
			return err
		}
	}
	if err := lw.Close(); err != nil {
		return err
	}
	return f.Close()
}

func (p synthParams) writeCamera(path string, hdr auxrec.FrameHeader, startUs, fps int64, fields func(int, bool) []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fw, err := auxrec.CreateFrames(f, hdr)
	if err != nil {
		return err
	}

	stepUs := 1_000_000 / fps
	image := make([]byte, hdr.XRes*hdr.YRes)
	for i := 0; ; i++ {
		us := startUs + int64(i)*stepUs
		if us >= p.durationUs {
			break
		}
		high := p.triggerHigh(us)
		for j := range image {
			image[j] = byte(128 * b2f(high))
		}
		// The camera clock starts at zero at its first frame
		ts := float64(us-startUs) / 1000
		if err := fw.WriteFrame(ts, fields(i, high), image); err != nil {
			return err
		}
	}
	if err := fw.Close(); err != nil {
		return err
	}
	return f.Close()
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
