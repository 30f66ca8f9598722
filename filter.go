// Copyright (C) The RNAdiff Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package rnadiff

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"

	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"
)

// filtercmd drops low-expression genes and recomputes TMM
// normalization factors on the surviving counts.
type filtercmd struct {
	MinCount      float64
	MinTotalCount float64
}

func (f *filtercmd) Flags(flags *flag.FlagSet) {
	flags.Float64Var(&f.MinCount, "min-count", 10, "minimum `count` per gene, rescaled to CPM against the median library size")
	flags.Float64Var(&f.MinTotalCount, "min-total-count", 15, "minimum total `count` per gene across all samples")
}

func (cmd *filtercmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *filtercmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "-", "input dataset gob `file`")
	outputFilename := flags.String("o", "-", "output dataset gob `file`")
	cmd.Flags(flags)
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return err
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	ds, err := LoadDatasetFile(*inputFilename, stdin)
	if err != nil {
		return err
	}
	log.Infof("read %d genes x %d samples", len(ds.Genes), len(ds.Samples))

	err = cmd.Apply(ds)
	if err != nil {
		return err
	}
	log.Infof("%d genes pass the expression filter", len(ds.Genes))

	factors, err := tmmNormFactors(ds.Genes, ds.Samples)
	if err != nil {
		return err
	}
	for i := range ds.Samples {
		ds.Samples[i].NormFactor = factors[i]
	}
	log.Info("normalization factors recomputed")

	return SaveDatasetFile(ds, *outputFilename, stdout)
}

// Apply removes genes below the data-driven CPM threshold: a gene is
// kept when at least smallest-group-size samples exceed
// MinCount/median(libsize)*1e6 CPM and its total count reaches
// MinTotalCount.
func (cmd *filtercmd) Apply(ds *Dataset) error {
	if len(ds.Samples) == 0 {
		return fmt.Errorf("dataset has no samples")
	}
	libs := make([]float64, len(ds.Samples))
	for i, s := range ds.Samples {
		libs[i] = float64(s.LibSize)
	}
	medianLib, err := stats.Median(libs)
	if err != nil {
		return err
	}
	cutoffCPM := cmd.MinCount / medianLib * 1e6

	minSamples := 0
	for _, n := range ds.GroupSizes() {
		if minSamples == 0 || n < minSamples {
			minSamples = n
		}
	}

	kept := ds.Genes[:0]
	for _, g := range ds.Genes {
		above := 0
		var total int64
		for si, y := range g.Counts {
			total += y
			if float64(y)/libs[si]*1e6 >= cutoffCPM {
				above++
			}
		}
		if above >= minSamples && float64(total) >= cmd.MinTotalCount {
			kept = append(kept, g)
		}
	}
	if len(kept) == 0 {
		return fmt.Errorf("0 of %d genes pass the expression filter (cutoff %.3f CPM in %d samples)", len(ds.Genes), cutoffCPM, minSamples)
	}
	ds.Genes = kept
	return nil
}
