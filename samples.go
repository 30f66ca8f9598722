// Copyright (C) The RNAdiff Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package rnadiff

import (
	"bytes"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	log "github.com/sirupsen/logrus"
)

func init() {
	// All tabular text in this pipeline is tab-delimited.
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		r := csv.NewReader(in)
		r.Comma = '\t'
		r.LazyQuotes = true
		return r
	})
	gocsv.SetCSVWriter(func(out io.Writer) *gocsv.SafeCSVWriter {
		w := csv.NewWriter(out)
		w.Comma = '\t'
		return gocsv.NewSafeCSVWriter(w)
	})
}

// sampleRow is one line of samples.tsv, the metadata table produced by
// summarize-samples and consumed by import.
type sampleRow struct {
	Sample               string `csv:"Sample"`
	Sex                  string `csv:"Sex"`
	Condition            string `csv:"Condition"`
	Assigned             int64  `csv:"Assigned"`
	UnassignedUnmapped   int64  `csv:"Unassigned_Unmapped"`
	UnassignedNoFeatures int64  `csv:"Unassigned_NoFeatures"`
	TotalCounts          int64  `csv:"totalcounts"`
	LibSize              int64  `csv:"libsize"`
}

type attrRow struct {
	Sample    string `csv:"Sample"`
	Sex       string `csv:"Sex"`
	Condition string `csv:"Condition"`
}

type summarizeSamples struct {
	attributesFile string
	inferGroups    bool
}

func (cmd *summarizeSamples) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *summarizeSamples) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "-", "alignment summary `file` (Sample/Status/Count triples)")
	outputFilename := flags.String("o", "-", "output `file` (samples.tsv)")
	flags.StringVar(&cmd.attributesFile, "attributes", "", "tsv `file` mapping Sample to Sex and Condition")
	flags.BoolVar(&cmd.inferGroups, "infer-groups", false, "infer sex/condition from sample identifier tokens (_F_/_M_, Control/AD)")
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return err
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	}
	if cmd.attributesFile == "" && !cmd.inferGroups {
		return errors.New("must provide -attributes file (or accept identifier-token inference with -infer-groups)")
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	var input io.Reader = stdin
	if *inputFilename != "-" {
		f, err := os.Open(*inputFilename)
		if err != nil {
			return err
		}
		defer f.Close()
		input = f
	}
	rows, err := cmd.summarize(input, *inputFilename)
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
	err = gocsv.Marshal(&rows, output)
	if err != nil {
		return fmt.Errorf("write %s: %w", *outputFilename, err)
	}
	return output.Close()
}

// summarize pivots the long-format (Sample, Status, Count) table into
// one row per sample and attaches sex/condition attributes.
func (cmd *summarizeSamples) summarize(input io.Reader, fnm string) ([]*sampleRow, error) {
	buf, err := io.ReadAll(input)
	if err != nil {
		return nil, err
	}
	var order []string
	counts := map[string]map[string]int64{}
	cols := map[string]int{}
	lineNum := 0
	for _, line := range bytes.Split(buf, []byte{'\n'}) {
		lineNum++
		if len(line) == 0 {
			continue
		}
		split := strings.Split(string(line), "\t")
		if len(cols) == 0 {
			for i, name := range split {
				cols[name] = i
			}
			for _, name := range []string{"Sample", "Status", "Count"} {
				if _, ok := cols[name]; !ok {
					return nil, fmt.Errorf("%s: no column named %q in header row %q", fnm, name, line)
				}
			}
			continue
		}
		if len(split) < 3 {
			return nil, fmt.Errorf("%s line %d: %d fields < 3: %q", fnm, lineNum, len(split), line)
		}
		sample := split[cols["Sample"]]
		status := split[cols["Status"]]
		count, err := strconv.ParseInt(split[cols["Count"]], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: count: %s", fnm, lineNum, err)
		}
		if count == 0 {
			// zero-count rows are dropped before pivoting
			continue
		}
		if count < 0 {
			return nil, fmt.Errorf("%s line %d: negative count %d", fnm, lineNum, count)
		}
		if _, ok := counts[sample]; !ok {
			order = append(order, sample)
			counts[sample] = map[string]int64{}
		}
		counts[sample][status] += count
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("%s: no sample rows", fnm)
	}

	attrs, err := cmd.loadAttributes(order)
	if err != nil {
		return nil, err
	}

	rows := make([]*sampleRow, 0, len(order))
	for _, sample := range order {
		c := counts[sample]
		row := &sampleRow{
			Sample:               sample,
			Sex:                  attrs[sample].Sex,
			Condition:            attrs[sample].Condition,
			Assigned:             c["Assigned"],
			UnassignedUnmapped:   c["Unassigned_Unmapped"],
			UnassignedNoFeatures: c["Unassigned_NoFeatures"],
		}
		row.TotalCounts = row.Assigned + row.UnassignedUnmapped + row.UnassignedNoFeatures
		row.LibSize = row.Assigned + row.UnassignedNoFeatures
		rows = append(rows, row)
	}
	return rows, nil
}

func (cmd *summarizeSamples) loadAttributes(samples []string) (map[string]attrRow, error) {
	attrs := map[string]attrRow{}
	if cmd.attributesFile != "" {
		f, err := os.Open(cmd.attributesFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		var rows []*attrRow
		err = gocsv.Unmarshal(f, &rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cmd.attributesFile, err)
		}
		for _, row := range rows {
			if row.Sex != "female" && row.Sex != "male" {
				return nil, fmt.Errorf("%s: sample %q: invalid sex %q (want female or male)", cmd.attributesFile, row.Sample, row.Sex)
			}
			if row.Condition != "ctrl" && row.Condition != "AD" {
				return nil, fmt.Errorf("%s: sample %q: invalid condition %q (want ctrl or AD)", cmd.attributesFile, row.Sample, row.Condition)
			}
			if _, ok := attrs[row.Sample]; ok {
				return nil, fmt.Errorf("%s: duplicate sample %q", cmd.attributesFile, row.Sample)
			}
			attrs[row.Sample] = *row
		}
		inuse := map[string]bool{}
		for _, sample := range samples {
			if _, ok := attrs[sample]; !ok {
				return nil, fmt.Errorf("%s: no attributes for sample %q", cmd.attributesFile, sample)
			}
			inuse[sample] = true
		}
		for sample := range attrs {
			if !inuse[sample] {
				log.Warnf("%s: sample %q does not appear in the summary table", cmd.attributesFile, sample)
			}
		}
		return attrs, nil
	}
	for _, sample := range samples {
		sex, cond, err := inferSampleAttrs(sample)
		if err != nil {
			return nil, err
		}
		attrs[sample] = attrRow{Sample: sample, Sex: sex, Condition: cond}
	}
	return attrs, nil
}

// inferSampleAttrs recovers sex and condition from identifier naming
// conventions ("AD_F_01", "Control_M_02"). Identifiers matching no
// token, or both tokens of a pair, are errors rather than silently
// defaulting.
func inferSampleAttrs(id string) (sex, condition string, err error) {
	f := strings.Contains(id, "_F_") || strings.HasSuffix(id, "_F")
	m := strings.Contains(id, "_M_") || strings.HasSuffix(id, "_M")
	switch {
	case f && m:
		return "", "", fmt.Errorf("sample %q: ambiguous sex (matches both _F_ and _M_)", id)
	case f:
		sex = "female"
	case m:
		sex = "male"
	default:
		return "", "", fmt.Errorf("sample %q: cannot infer sex (no _F_ or _M_ token)", id)
	}
	ctrl := strings.Contains(id, "Control")
	ad := strings.Contains(id, "AD")
	switch {
	case ctrl && ad:
		return "", "", fmt.Errorf("sample %q: ambiguous condition (matches both Control and AD)", id)
	case ctrl:
		condition = "ctrl"
	case ad:
		condition = "AD"
	default:
		return "", "", fmt.Errorf("sample %q: cannot infer condition (no Control or AD token)", id)
	}
	return sex, condition, nil
}

// loadSampleTable reads a samples.tsv written by summarize-samples.
func loadSampleTable(fnm string) ([]*sampleRow, error) {
	f, err := os.Open(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var rows []*sampleRow
	err = gocsv.Unmarshal(f, &rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: no sample rows", fnm)
	}
	for _, row := range rows {
		if row.LibSize != row.Assigned+row.UnassignedNoFeatures {
			return nil, fmt.Errorf("%s: sample %q: libsize %d != Assigned %d + Unassigned_NoFeatures %d", fnm, row.Sample, row.LibSize, row.Assigned, row.UnassignedNoFeatures)
		}
	}
	return rows, nil
}
