// Copyright (C) The RNAdiff Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package rnadiff

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
)

type statscmd struct{}

func (cmd *statscmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *statscmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "input dataset gob `file`")
	outputFilename := flags.String("o", "-", "output `file` (json)")
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return err
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	}

	ds, err := LoadDatasetFile(*inputFilename, stdin)
	if err != nil {
		return err
	}

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
		if err != nil {
			return err
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)
	err = cmd.doStats(ds, bufw)
	if err != nil {
		return err
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return output.Close()
}

func (cmd *statscmd) doStats(ds *Dataset, output io.Writer) error {
	var ret struct {
		Samples        int
		Genes          int
		Groups         map[string]int
		TotalAssigned  int64
		ZeroCountGenes int
		AnnotatedGenes int
		LibSizes       map[string]int64
		NormFactors    map[string]float64 `json:",omitempty"`
	}
	ret.Samples = len(ds.Samples)
	ret.Genes = len(ds.Genes)
	ret.Groups = ds.GroupSizes()
	ret.LibSizes = map[string]int64{}
	normalized := false
	for _, s := range ds.Samples {
		ret.TotalAssigned += s.Assigned
		ret.LibSizes[s.ID] = s.LibSize
		if s.NormFactor != 1 {
			normalized = true
		}
	}
	if normalized {
		ret.NormFactors = map[string]float64{}
		for _, s := range ds.Samples {
			ret.NormFactors[s.ID] = s.NormFactor
		}
	}
	for _, g := range ds.Genes {
		var total int64
		for _, y := range g.Counts {
			total += y
		}
		if total == 0 {
			ret.ZeroCountGenes++
		}
		if g.Name != "Unknown" || g.Chromosome != "" {
			ret.AnnotatedGenes++
		}
	}
	return json.NewEncoder(output).Encode(ret)
}
