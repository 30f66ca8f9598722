// Copyright (C) The RNAdiff Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package rnadiff

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
)

type importer struct {
	countsFile     string
	annotationFile string
	samplesFile    string
	outputFile     string
	stripMarker    string
	metadataCols   int
	excludeChrom   string
}

func (cmd *importer) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *importer) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	flags.StringVar(&cmd.countsFile, "counts", "", "raw count matrix `file` (tab-delimited, gene id first)")
	flags.StringVar(&cmd.annotationFile, "annotation", "", "gene annotation `file` (id, name, chromosome, start, end; no header)")
	flags.StringVar(&cmd.samplesFile, "samples", "", "samples.tsv `file` from summarize-samples")
	flags.StringVar(&cmd.outputFile, "o", "-", "output dataset gob `file` (.gz for compression)")
	flags.StringVar(&cmd.stripMarker, "strip", "_sorted.bam", "`marker` substring; sample column names are truncated at its first occurrence")
	flags.IntVar(&cmd.metadataCols, "metadata-columns", 5, "`number` of non-count columns between the gene id and the per-sample counts")
	flags.StringVar(&cmd.excludeChrom, "exclude-chromosome", "", "drop annotation rows on `chromosome` before the join")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return err
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	}
	if cmd.countsFile == "" || cmd.samplesFile == "" {
		return errors.New("must provide -counts and -samples")
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

	samples, err := loadSampleTable(cmd.samplesFile)
	if err != nil {
		return err
	}

	f, err := openMaybeGz(cmd.countsFile)
	if err != nil {
		return err
	}
	defer f.Close()
	names, genes, err := cmd.loadCountMatrix(f, cmd.countsFile)
	if err != nil {
		return err
	}
	log.Infof("count matrix: %d genes x %d samples", len(genes), len(names))

	if cmd.annotationFile != "" {
		err = cmd.annotate(genes)
		if err != nil {
			return err
		}
	}
	if cmd.excludeChrom != "" {
		kept := genes[:0]
		for _, g := range genes {
			if g.Chromosome != cmd.excludeChrom {
				kept = append(kept, g)
			}
		}
		log.Infof("excluding chromosome %s: %d of %d genes kept", cmd.excludeChrom, len(kept), len(genes))
		genes = kept
	}

	ds, err := buildDataset(samples, names, genes)
	if err != nil {
		return err
	}
	return SaveDatasetFile(ds, cmd.outputFile, stdout)
}

// loadCountMatrix parses the tab-delimited matrix: comment-prefixed
// lines are skipped, the first remaining row names the columns, and
// each data row is a gene id followed by metadataCols ignored columns
// and one integer count per sample. Returned counts are in matrix
// column order; buildDataset reorders them to match the sample table.
func (cmd *importer) loadCountMatrix(input io.Reader, fnm string) ([]string, []GeneRecord, error) {
	buf, err := io.ReadAll(input)
	if err != nil {
		return nil, nil, err
	}
	var names []string
	var genes []GeneRecord
	seen := map[string]int{}
	lineNum := 0
	for _, line := range bytes.Split(buf, []byte{'\n'}) {
		lineNum++
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		split := strings.Split(string(line), "\t")
		if names == nil {
			if len(split) < cmd.metadataCols+2 {
				return nil, nil, fmt.Errorf("%s line %d: header has %d fields, want at least %d", fnm, lineNum, len(split), cmd.metadataCols+2)
			}
			for _, col := range split[cmd.metadataCols+1:] {
				names = append(names, stripSampleName(col, cmd.stripMarker))
			}
			continue
		}
		if len(split) != cmd.metadataCols+1+len(names) {
			return nil, nil, fmt.Errorf("%s line %d: %d fields, want %d", fnm, lineNum, len(split), cmd.metadataCols+1+len(names))
		}
		id := split[0]
		if id == "" {
			return nil, nil, fmt.Errorf("%s line %d: empty gene id", fnm, lineNum)
		}
		if prev, ok := seen[id]; ok {
			return nil, nil, fmt.Errorf("%s line %d: duplicate gene id %q (first seen on line %d)", fnm, lineNum, id, prev)
		}
		seen[id] = lineNum
		counts := make([]int64, len(names))
		for i, s := range split[cmd.metadataCols+1:] {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("%s line %d: count for %s: %s", fnm, lineNum, names[i], err)
			}
			if n < 0 {
				return nil, nil, fmt.Errorf("%s line %d: negative count %d for %s", fnm, lineNum, n, names[i])
			}
			counts[i] = n
		}
		genes = append(genes, GeneRecord{ID: id, Name: "Unknown", Counts: counts})
	}
	if names == nil {
		return nil, nil, fmt.Errorf("%s: no header row", fnm)
	}
	if len(genes) == 0 {
		return nil, nil, fmt.Errorf("%s: empty count matrix", fnm)
	}
	return names, genes, nil
}

// stripSampleName recovers a sample identifier from a count matrix
// column name, which is typically an alignment file path.
func stripSampleName(col, marker string) string {
	name := filepath.Base(strings.ReplaceAll(col, "\\", "/"))
	if marker != "" {
		if i := strings.Index(name, marker); i >= 0 {
			name = name[:i]
		}
	}
	return name
}

// annotate left-joins the positional annotation table (id, name,
// chromosome, start, end) onto the count matrix. Genes without an
// annotation row keep the "Unknown" placeholder.
func (cmd *importer) annotate(genes []GeneRecord) error {
	f, err := openMaybeGz(cmd.annotationFile)
	if err != nil {
		return err
	}
	defer f.Close()
	buf, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	type annot struct {
		name       string
		chromosome string
		start, end int64
	}
	ann := map[string]annot{}
	lineNum := 0
	for _, line := range bytes.Split(buf, []byte{'\n'}) {
		lineNum++
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		split := strings.Split(string(line), "\t")
		if len(split) < 5 {
			return fmt.Errorf("%s line %d: %d fields < 5", cmd.annotationFile, lineNum, len(split))
		}
		start, err := strconv.ParseInt(split[3], 10, 64)
		if err != nil {
			return fmt.Errorf("%s line %d: start: %s", cmd.annotationFile, lineNum, err)
		}
		end, err := strconv.ParseInt(split[4], 10, 64)
		if err != nil {
			return fmt.Errorf("%s line %d: end: %s", cmd.annotationFile, lineNum, err)
		}
		a := annot{name: split[1], chromosome: split[2], start: start, end: end}
		if a.name == "" {
			a.name = "Unknown"
		}
		ann[split[0]] = a
	}
	matched := 0
	for i := range genes {
		if a, ok := ann[genes[i].ID]; ok {
			genes[i].Name = a.name
			genes[i].Chromosome = a.chromosome
			genes[i].Start = a.start
			genes[i].End = a.end
			matched++
		}
	}
	log.Infof("annotation: %d of %d genes matched", matched, len(genes))
	return nil
}

// buildDataset reorders count columns to the sample-table order and
// checks that the two sources describe the same sample set.
func buildDataset(samples []*sampleRow, names []string, genes []GeneRecord) (*Dataset, error) {
	colOf := map[string]int{}
	for i, name := range names {
		colOf[name] = i
	}
	var missing []string
	for _, row := range samples {
		if _, ok := colOf[row.Sample]; !ok {
			missing = append(missing, row.Sample)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("count matrix has no column for sample(s) %s", strings.Join(missing, ", "))
	}
	if len(names) != len(samples) {
		inMeta := map[string]bool{}
		for _, row := range samples {
			inMeta[row.Sample] = true
		}
		var extra []string
		for _, name := range names {
			if !inMeta[name] {
				extra = append(extra, name)
			}
		}
		return nil, fmt.Errorf("count matrix column(s) %s missing from the sample table", strings.Join(extra, ", "))
	}

	ds := &Dataset{Samples: make([]Sample, len(samples))}
	for i, row := range samples {
		ds.Samples[i] = Sample{
			ID:             row.Sample,
			Sex:            row.Sex,
			Condition:      row.Condition,
			Assigned:       row.Assigned,
			UnmappedReads:  row.UnassignedUnmapped,
			NoFeatureReads: row.UnassignedNoFeatures,
			TotalCounts:    row.TotalCounts,
			LibSize:        row.LibSize,
			NormFactor:     1,
		}
	}
	ds.Genes = make([]GeneRecord, len(genes))
	for gi, g := range genes {
		counts := make([]int64, len(samples))
		for si, row := range samples {
			counts[si] = g.Counts[colOf[row.Sample]]
		}
		g.Counts = counts
		ds.Genes[gi] = g
	}
	return ds, nil
}

type readCloser struct {
	io.Reader
	close func() error
}

func (rc readCloser) Close() error { return rc.close() }

// openMaybeGz opens a file, transparently decompressing when the name
// ends in .gz.
func openMaybeGz(fnm string) (io.ReadCloser, error) {
	f, err := os.Open(fnm)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(fnm, ".gz") {
		return f, nil
	}
	gzr, err := pgzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return readCloser{gzr, func() error {
		gzr.Close()
		return f.Close()
	}}, nil
}
