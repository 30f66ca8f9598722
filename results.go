// Copyright (C) The RNAdiff Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package rnadiff

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// resultsRow is one gene of the merged per-contrast table. The maps
// are keyed by comparison name; a missing key renders as NA (the
// full-outer-join null).
type resultsRow struct {
	GeneID     string
	Name       string
	Chromosome string
	Start, End int64
	AveLogCPM  float64
	LogFC      map[string]float64
	P          map[string]float64
	FDR        map[string]float64
}

type resultsTable struct {
	Comparisons []string
	Rows        []resultsRow
}

// mergeContrasts joins per-contrast result lists on gene identifier
// into one wide row per gene. All contrasts are tested against the
// same fitted model, so the join is total here; rows carry per-key
// maps so a partial merge still renders NA rather than fabricating
// values.
func mergeContrasts(ds *Dataset, names []string, results map[string][]ContrastResult) *resultsTable {
	tbl := &resultsTable{Comparisons: names}
	tbl.Rows = make([]resultsRow, len(ds.Genes))
	for gi, g := range ds.Genes {
		row := resultsRow{
			GeneID:     g.ID,
			Name:       g.Name,
			Chromosome: g.Chromosome,
			Start:      g.Start,
			End:        g.End,
			LogFC:      map[string]float64{},
			P:          map[string]float64{},
			FDR:        map[string]float64{},
		}
		logcpm := ds.LogCPM(gi)
		for _, v := range logcpm {
			row.AveLogCPM += v / float64(len(logcpm))
		}
		for _, name := range names {
			if res := results[name]; gi < len(res) {
				row.LogFC[name] = res[gi].LogFC
				row.P[name] = res[gi].P
			}
		}
		tbl.Rows[gi] = row
	}
	for _, name := range names {
		ps := make([]float64, len(tbl.Rows))
		for i, row := range tbl.Rows {
			p, ok := row.P[name]
			if !ok {
				p = math.NaN()
			}
			ps[i] = p
		}
		for i, q := range adjustBH(ps) {
			if !math.IsNaN(q) || !math.IsNaN(ps[i]) {
				tbl.Rows[i].FDR[name] = q
			}
		}
	}
	return tbl
}

func formatNA(v float64, ok bool) string {
	if !ok || math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseNA(s string) (float64, error) {
	if s == "NA" || s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

func (tbl *resultsTable) Write(w io.Writer) error {
	bufw := bufio.NewWriter(w)
	cols := []string{"GeneID", "Name", "Chromosome", "Start", "End", "AveLogCPM"}
	for _, name := range tbl.Comparisons {
		cols = append(cols, "logFC."+name, "PValue."+name, "FDR."+name)
	}
	_, err := fmt.Fprintln(bufw, strings.Join(cols, "\t"))
	if err != nil {
		return err
	}
	for _, row := range tbl.Rows {
		fields := []string{
			row.GeneID, row.Name, row.Chromosome,
			strconv.FormatInt(row.Start, 10),
			strconv.FormatInt(row.End, 10),
			strconv.FormatFloat(row.AveLogCPM, 'g', -1, 64),
		}
		for _, name := range tbl.Comparisons {
			lfc, ok1 := row.LogFC[name]
			p, ok2 := row.P[name]
			fdr, ok3 := row.FDR[name]
			fields = append(fields, formatNA(lfc, ok1), formatNA(p, ok2), formatNA(fdr, ok3))
		}
		_, err = fmt.Fprintln(bufw, strings.Join(fields, "\t"))
		if err != nil {
			return err
		}
	}
	return bufw.Flush()
}

// loadResults parses a results (or classify output) TSV. Comparison
// names are recovered from the logFC.* column suffixes; extra columns
// are ignored.
func loadResults(rdr io.Reader, fnm string) (*resultsTable, error) {
	buf, err := io.ReadAll(rdr)
	if err != nil {
		return nil, err
	}
	var cols map[string]int
	tbl := &resultsTable{}
	lineNum := 0
	for _, line := range bytes.Split(buf, []byte{'\n'}) {
		lineNum++
		if len(line) == 0 {
			continue
		}
		split := strings.Split(string(line), "\t")
		if cols == nil {
			cols = map[string]int{}
			for i, name := range split {
				cols[name] = i
			}
			if _, ok := cols["GeneID"]; !ok {
				return nil, fmt.Errorf("%s: no GeneID column in header %q", fnm, line)
			}
			for _, name := range split {
				if strings.HasPrefix(name, "logFC.") {
					tbl.Comparisons = append(tbl.Comparisons, strings.TrimPrefix(name, "logFC."))
				}
			}
			sort.Strings(tbl.Comparisons)
			if len(tbl.Comparisons) == 0 {
				return nil, fmt.Errorf("%s: no logFC.* columns in header %q", fnm, line)
			}
			continue
		}
		row := resultsRow{
			GeneID:    split[cols["GeneID"]],
			AveLogCPM: math.NaN(),
			LogFC:     map[string]float64{},
			P:         map[string]float64{},
			FDR:       map[string]float64{},
		}
		get := func(name string) (string, bool) {
			i, ok := cols[name]
			if !ok || i >= len(split) {
				return "", false
			}
			return split[i], true
		}
		if s, ok := get("Name"); ok {
			row.Name = s
		}
		if s, ok := get("Chromosome"); ok {
			row.Chromosome = s
		}
		if s, ok := get("Start"); ok && s != "" {
			row.Start, err = strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: start: %s", fnm, lineNum, err)
			}
		}
		if s, ok := get("End"); ok && s != "" {
			row.End, err = strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: end: %s", fnm, lineNum, err)
			}
		}
		if s, ok := get("AveLogCPM"); ok {
			row.AveLogCPM, err = parseNA(s)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: AveLogCPM: %s", fnm, lineNum, err)
			}
		}
		for _, name := range tbl.Comparisons {
			for prefix, dst := range map[string]map[string]float64{
				"logFC.":  row.LogFC,
				"PValue.": row.P,
				"FDR.":    row.FDR,
			} {
				s, ok := get(prefix + name)
				if !ok {
					continue
				}
				v, err := parseNA(s)
				if err != nil {
					return nil, fmt.Errorf("%s line %d: %s%s: %s", fnm, lineNum, prefix, name, err)
				}
				if !math.IsNaN(v) || s == "NA" {
					dst[name] = v
				}
			}
		}
		tbl.Rows = append(tbl.Rows, row)
	}
	if cols == nil {
		return nil, fmt.Errorf("%s: empty results table", fnm)
	}
	return tbl, nil
}

func loadResultsFile(fnm string, stdin io.Reader) (*resultsTable, error) {
	if fnm == "-" {
		return loadResults(stdin, "stdin")
	}
	f, err := openMaybeGz(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return loadResults(f, fnm)
}
