// Copyright (C) The RNAdiff Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package rnadiff

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// classifier applies the FDR and fold-change thresholds to the merged
// results table. The fold-change threshold is in log2 units and is
// compared directly against the log2 fold-change (inclusive bounds),
// the single convention used throughout this pipeline.
type classifier struct {
	FDRThreshold float64
	LFCThreshold float64
}

func (cl *classifier) Flags(flags *flag.FlagSet) {
	flags.Float64Var(&cl.FDRThreshold, "fdr", 0.05, "FDR significance `threshold` (adjusted p < threshold)")
	flags.Float64Var(&cl.LFCThreshold, "lfc", 2, "fold-change `threshold` in log2 units (upregulated iff log2FC >= threshold)")
}

func (cmd *classifier) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *classifier) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "-", "results table `file` from diffexp")
	outputFilename := flags.String("o", "-", "output classified table `file` (tsv)")
	cmd.Flags(flags)
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return err
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	}
	if cmd.LFCThreshold <= 0 {
		return fmt.Errorf("-lfc threshold must be > 0, got %g", cmd.LFCThreshold)
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	tbl, err := loadResultsFile(*inputFilename, stdin)
	if err != nil {
		return err
	}
	log.Infof("read %d genes, comparisons %v", len(tbl.Rows), tbl.Comparisons)

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
	kept, err := cmd.writeClassified(tbl, output)
	if err != nil {
		return fmt.Errorf("write %s: %w", *outputFilename, err)
	}
	log.Infof("%d of %d genes retained", kept, len(tbl.Rows))
	if kept == 0 {
		log.Warn("no differentially expressed genes at these thresholds")
	}
	return output.Close()
}

// Classify returns the (up, down) booleans for one gene in one
// comparison. NaN or missing fold-changes classify as neither.
func (cl *classifier) Classify(row resultsRow, name string) (up, down bool) {
	lfc, ok := row.LogFC[name]
	if !ok || math.IsNaN(lfc) {
		return false, false
	}
	return lfc >= cl.LFCThreshold, lfc <= -cl.LFCThreshold
}

// Retain reports whether a gene stays in the filtered output: FDR
// significant in at least one comparison AND past the fold-change
// magnitude in at least one comparison.
func (cl *classifier) Retain(row resultsRow) bool {
	sig, fc := false, false
	for _, q := range row.FDR {
		if !math.IsNaN(q) && q < cl.FDRThreshold {
			sig = true
		}
	}
	for _, lfc := range row.LogFC {
		if !math.IsNaN(lfc) && math.Abs(lfc) >= cl.LFCThreshold {
			fc = true
		}
	}
	return sig && fc
}

func (cl *classifier) writeClassified(tbl *resultsTable, w io.Writer) (int, error) {
	bufw := bufio.NewWriter(w)
	cols := []string{"GeneID", "Name", "Chromosome", "Start", "End", "AveLogCPM"}
	for _, name := range tbl.Comparisons {
		cols = append(cols, "logFC."+name, "PValue."+name, "FDR."+name)
	}
	for _, name := range tbl.Comparisons {
		cols = append(cols, "Up."+name, "Down."+name)
	}
	_, err := fmt.Fprintln(bufw, strings.Join(cols, "\t"))
	if err != nil {
		return 0, err
	}
	kept := 0
	for _, row := range tbl.Rows {
		if !cl.Retain(row) {
			continue
		}
		kept++
		fields := []string{
			row.GeneID, row.Name, row.Chromosome,
			strconv.FormatInt(row.Start, 10),
			strconv.FormatInt(row.End, 10),
			formatNA(row.AveLogCPM, true),
		}
		for _, name := range tbl.Comparisons {
			lfc, ok1 := row.LogFC[name]
			p, ok2 := row.P[name]
			fdr, ok3 := row.FDR[name]
			fields = append(fields, formatNA(lfc, ok1), formatNA(p, ok2), formatNA(fdr, ok3))
		}
		for _, name := range tbl.Comparisons {
			up, down := cl.Classify(row, name)
			fields = append(fields, strconv.FormatBool(up), strconv.FormatBool(down))
		}
		_, err = fmt.Fprintln(bufw, strings.Join(fields, "\t"))
		if err != nil {
			return kept, err
		}
	}
	return kept, bufw.Flush()
}

// loadClassified reads a classify output table and returns the named
// boolean gene sets ("<comparison>.up", "<comparison>.down").
func loadClassified(rdr io.Reader, fnm string) (map[string][]string, error) {
	buf, err := io.ReadAll(rdr)
	if err != nil {
		return nil, err
	}
	var cols []string
	colIdx := map[string]int{}
	sets := map[string][]string{}
	lineNum := 0
	for _, line := range strings.Split(string(buf), "\n") {
		lineNum++
		if len(line) == 0 {
			continue
		}
		split := strings.Split(line, "\t")
		if cols == nil {
			cols = split
			for i, name := range split {
				colIdx[name] = i
			}
			if _, ok := colIdx["GeneID"]; !ok {
				return nil, fmt.Errorf("%s: no GeneID column in header", fnm)
			}
			found := false
			for _, name := range split {
				if strings.HasPrefix(name, "Up.") {
					sets[strings.TrimPrefix(name, "Up.")+".up"] = nil
					found = true
				} else if strings.HasPrefix(name, "Down.") {
					sets[strings.TrimPrefix(name, "Down.")+".down"] = nil
					found = true
				}
			}
			if !found {
				return nil, fmt.Errorf("%s: no Up.*/Down.* columns; run classify first", fnm)
			}
			continue
		}
		if len(split) != len(cols) {
			return nil, fmt.Errorf("%s line %d: %d fields, want %d", fnm, lineNum, len(split), len(cols))
		}
		gene := split[colIdx["GeneID"]]
		for i, name := range cols {
			var set string
			if strings.HasPrefix(name, "Up.") {
				set = strings.TrimPrefix(name, "Up.") + ".up"
			} else if strings.HasPrefix(name, "Down.") {
				set = strings.TrimPrefix(name, "Down.") + ".down"
			} else {
				continue
			}
			member, err := strconv.ParseBool(split[i])
			if err != nil {
				return nil, fmt.Errorf("%s line %d: %s: %s", fnm, lineNum, name, err)
			}
			if member {
				sets[set] = append(sets[set], gene)
			}
		}
	}
	if cols == nil {
		return nil, fmt.Errorf("%s: empty classified table", fnm)
	}
	return sets, nil
}
