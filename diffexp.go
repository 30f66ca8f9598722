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
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// comparison names a contrast over the model's group coefficients.
type comparison struct {
	Name     string
	Contrast []float64
}

// defaultComparisons are the four standard contrasts: AD vs control
// within each sex, and the combined comparison in both directions.
// They require all four sex.condition groups to be present.
func defaultComparisons(groups []string) ([]comparison, error) {
	want := []string{"female.ctrl", "female.AD", "male.ctrl", "male.AD"}
	if len(groups) != len(want) {
		return nil, fmt.Errorf("default comparisons need groups %v, have %v (use -contrast to define custom contrasts)", want, groups)
	}
	for i, g := range want {
		if groups[i] != g {
			return nil, fmt.Errorf("default comparisons need groups %v, have %v", want, groups)
		}
	}
	return []comparison{
		{"F.ADvsCTRL", []float64{-1, 1, 0, 0}},
		{"M.ADvsCTRL", []float64{0, 0, -1, 1}},
		{"ADvsCTRL", []float64{-0.5, 0.5, -0.5, 0.5}},
		{"CTRLvsAD", []float64{0.5, -0.5, 0.5, -0.5}},
	}, nil
}

type contrastFlags []comparison

func (cf *contrastFlags) String() string {
	var parts []string
	for _, c := range *cf {
		parts = append(parts, c.Name)
	}
	return strings.Join(parts, ",")
}

func (cf *contrastFlags) Set(s string) error {
	eq := strings.IndexByte(s, '=')
	if eq <= 0 {
		return fmt.Errorf("contrast %q: want NAME=v1,v2,...", s)
	}
	c := comparison{Name: s[:eq]}
	for _, f := range strings.Split(s[eq+1:], ",") {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return fmt.Errorf("contrast %q: %s", s, err)
		}
		c.Contrast = append(c.Contrast, v)
	}
	*cf = append(*cf, c)
	return nil
}

type diffExp struct {
	threads   int
	contrasts contrastFlags
}

func (cmd *diffExp) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *diffExp) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "-", "filtered dataset gob `file`")
	outputFilename := flags.String("o", "-", "output results table `file` (tsv)")
	flags.IntVar(&cmd.threads, "threads", 0, "worker `goroutines` for model fitting (0 for GOMAXPROCS)")
	flags.Var(&cmd.contrasts, "contrast", "test a custom contrast `NAME=v1,v2,...` over the group coefficients (repeatable; default: the four standard comparisons)")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
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
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)

	ds, err := LoadDatasetFile(*inputFilename, stdin)
	if err != nil {
		return err
	}
	groups := ds.Groups()
	log.Infof("read %d genes x %d samples, groups %v", len(ds.Genes), len(ds.Samples), groups)

	comparisons := []comparison(cmd.contrasts)
	if len(comparisons) == 0 {
		comparisons, err = defaultComparisons(groups)
		if err != nil {
			return err
		}
	}

	// The statmodel/glm lib logs to os.Stdout when it panics on an
	// unsolvable problem. We recover() from the panic in engine.go,
	// but we also need to commandeer os.Stdout to avoid producing
	// large quantities of logs.
	stdoutWas := os.Stdout
	defer func() { os.Stdout = stdoutWas }()
	os.Stdout, err = os.Open(os.DevNull)
	if err != nil {
		return err
	}

	log.Info("fitting group-means model")
	model, err := fitModel(ds, cmd.threads)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(comparisons))
	results := map[string][]ContrastResult{}
	for _, cmp := range comparisons {
		log.Infof("testing contrast %s %v", cmp.Name, cmp.Contrast)
		res, err := model.Test(cmp.Contrast)
		if err != nil {
			return fmt.Errorf("contrast %s: %w", cmp.Name, err)
		}
		names = append(names, cmp.Name)
		results[cmp.Name] = res
	}

	tbl := mergeContrasts(ds, names, results)

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
	err = tbl.Write(output)
	if err != nil {
		return fmt.Errorf("write %s: %w", *outputFilename, err)
	}
	return output.Close()
}
