// Copyright (C) The RNAdiff Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package rnadiff

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

// exportNumpy writes the expression matrix as a numpy array
// (genes x samples) with row/column label files, for analysis outside
// this pipeline.
type exportNumpy struct {
	raw bool
}

func (cmd *exportNumpy) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *exportNumpy) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "-", "input dataset gob `file`")
	outputDir := flags.String("output-dir", ".", "output `directory`")
	flags.BoolVar(&cmd.raw, "raw", false, "export raw counts instead of log2 CPM")
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

	rows, cols := len(ds.Genes), len(ds.Samples)
	out := make([]float64, rows*cols)
	for gi := range ds.Genes {
		if cmd.raw {
			for si, y := range ds.Genes[gi].Counts {
				out[gi*cols+si] = float64(y)
			}
		} else {
			copy(out[gi*cols:], ds.LogCPM(gi))
		}
	}

	fnm := *outputDir + "/matrix.npy"
	log.Infof("writing %s: %d rows, %d cols", fnm, rows, cols)
	f, err := os.OpenFile(fnm, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	npw.Shape = []int{rows, cols}
	err = npw.WriteFloat64(out)
	if err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("close %s: %w", fnm, err)
	}

	err = writeLabels(*outputDir+"/genes.csv", len(ds.Genes), func(i int) string {
		return ds.Genes[i].ID
	})
	if err != nil {
		return err
	}
	return writeLabels(*outputDir+"/samples.csv", len(ds.Samples), func(i int) string {
		return ds.Samples[i].ID + "," + ds.Samples[i].Group()
	})
}

func writeLabels(fnm string, n int, label func(int) string) error {
	log.Infof("writing %s", fnm)
	f, err := os.OpenFile(fnm, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	for i := 0; i < n; i++ {
		_, err = fmt.Fprintf(f, "%d,%s\n", i, label(i))
		if err != nil {
			return fmt.Errorf("write %s: %w", fnm, err)
		}
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("close %s: %w", fnm, err)
	}
	return nil
}
