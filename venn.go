// Copyright (C) The RNAdiff Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package rnadiff

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fogleman/gg"
	log "github.com/sirupsen/logrus"
)

// venncmd renders the overlap of classified gene sets: a two-circle
// Venn diagram for two sets, an UpSet-style intersection matrix for
// more.
type venncmd struct {
	setNames []string
}

func (cmd *venncmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *venncmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "classified table `file` from classify")
	outputFilename := flags.String("o", "", "output `filename` (e.g., './venn.png')")
	setList := flags.String("sets", "", "comma-separated set `names` like F.ADvsCTRL.up (default: all)")
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return err
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	}
	if *outputFilename == "" {
		return errors.New("must specify -o filename.png")
	}

	var input io.Reader = stdin
	if *inputFilename != "-" {
		f, err := openMaybeGz(*inputFilename)
		if err != nil {
			return err
		}
		defer f.Close()
		input = f
	}
	sets, err := loadClassified(input, *inputFilename)
	if err != nil {
		return err
	}

	if *setList != "" {
		cmd.setNames = strings.Split(*setList, ",")
		for _, name := range cmd.setNames {
			if _, ok := sets[name]; !ok {
				var avail []string
				for s := range sets {
					avail = append(avail, s)
				}
				sort.Strings(avail)
				return fmt.Errorf("unknown set %q (available: %s)", name, strings.Join(avail, ", "))
			}
		}
	} else {
		for name := range sets {
			cmd.setNames = append(cmd.setNames, name)
		}
		sort.Strings(cmd.setNames)
	}
	if len(cmd.setNames) < 2 {
		return fmt.Errorf("need at least 2 sets, have %d", len(cmd.setNames))
	}
	if len(cmd.setNames) > 16 {
		return fmt.Errorf("refusing to draw %d sets (max 16)", len(cmd.setNames))
	}
	for _, name := range cmd.setNames {
		log.Infof("set %s: %d genes", name, len(sets[name]))
	}

	if len(cmd.setNames) == 2 {
		return drawVenn2(cmd.setNames, sets, *outputFilename)
	}
	return drawUpset(cmd.setNames, sets, *outputFilename)
}

// exclusiveIntersections assigns each gene in the union a membership
// bitmask over names and counts genes per mask.
func exclusiveIntersections(names []string, sets map[string][]string) map[uint]int {
	mask := map[string]uint{}
	for i, name := range names {
		for _, gene := range sets[name] {
			mask[gene] |= 1 << uint(i)
		}
	}
	counts := map[uint]int{}
	for _, m := range mask {
		counts[m]++
	}
	return counts
}

func drawVenn2(names []string, sets map[string][]string, fnm string) error {
	counts := exclusiveIntersections(names, sets)
	aOnly, bOnly, both := counts[1], counts[2], counts[3]

	dc := gg.NewContext(800, 600)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	dc.SetRGBA(0.9, 0.2, 0.2, 0.4)
	dc.DrawCircle(320, 320, 190)
	dc.Fill()
	dc.SetRGBA(0.2, 0.2, 0.9, 0.4)
	dc.DrawCircle(480, 320, 190)
	dc.Fill()

	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored(names[0], 250, 90, 0.5, 0.5)
	dc.DrawStringAnchored(names[1], 550, 90, 0.5, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%d", aOnly), 240, 320, 0.5, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%d", bOnly), 560, 320, 0.5, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%d", both), 400, 320, 0.5, 0.5)
	return dc.SavePNG(fnm)
}

func drawUpset(names []string, sets map[string][]string, fnm string) error {
	counts := exclusiveIntersections(names, sets)
	type column struct {
		mask  uint
		count int
	}
	var columns []column
	for m, n := range counts {
		columns = append(columns, column{m, n})
	}
	sort.Slice(columns, func(a, b int) bool {
		if columns[a].count != columns[b].count {
			return columns[a].count > columns[b].count
		}
		return columns[a].mask < columns[b].mask
	})

	const (
		left    = 200.0
		barArea = 260.0
		cell    = 30.0
		margin  = 40.0
	)
	width := int(left + float64(len(columns))*cell + margin)
	height := int(barArea + float64(len(names))*cell + 2*margin)

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetRGB(0, 0, 0)

	// columns is empty when every selected set is empty; render the
	// set labels with zero bars rather than failing
	maxCount := 0
	if len(columns) > 0 {
		maxCount = columns[0].count
	}
	for ci, col := range columns {
		x := left + float64(ci)*cell + cell/2
		h := (barArea - margin) * float64(col.count) / float64(maxCount)
		dc.DrawRectangle(x-cell/3, margin+(barArea-margin)-h, 2*cell/3, h)
		dc.Fill()
		dc.DrawStringAnchored(fmt.Sprintf("%d", col.count), x, margin+(barArea-margin)-h-10, 0.5, 0.5)
	}

	for si, name := range names {
		y := barArea + float64(si)*cell + cell/2
		dc.DrawStringAnchored(fmt.Sprintf("%s (%d)", name, len(sets[name])), left-15, y, 1, 0.5)
	}

	for ci, col := range columns {
		x := left + float64(ci)*cell + cell/2
		first, last := -1, -1
		for si := range names {
			y := barArea + float64(si)*cell + cell/2
			if col.mask&(1<<uint(si)) != 0 {
				dc.SetRGB(0, 0, 0)
				if first < 0 {
					first = si
				}
				last = si
			} else {
				dc.SetRGB(0.8, 0.8, 0.8)
			}
			dc.DrawCircle(x, y, 7)
			dc.Fill()
		}
		if first >= 0 && last > first {
			dc.SetRGB(0, 0, 0)
			dc.SetLineWidth(3)
			dc.DrawLine(x, barArea+float64(first)*cell+cell/2, x, barArea+float64(last)*cell+cell/2)
			dc.Stroke()
		}
	}

	return dc.SavePNG(fnm)
}
