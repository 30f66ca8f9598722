// Copyright (C) The RNAdiff Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package rnadiff

import (
	"bytes"
	"math"
	"sort"

	"gopkg.in/check.v1"
)

type classifySuite struct{}

var _ = check.Suite(&classifySuite{})

func (s *classifySuite) TestClassify(c *check.C) {
	cl := &classifier{FDRThreshold: 0.05, LFCThreshold: 2}
	for _, trial := range []struct {
		lfc      float64
		up, down bool
	}{
		{2.0, true, false}, // threshold is inclusive
		{2.5, true, false},
		{1.999, false, false},
		{-2.0, false, true},
		{-2.5, false, true},
		{-1.999, false, false},
		{0, false, false},
		{math.NaN(), false, false},
	} {
		row := resultsRow{LogFC: map[string]float64{"X": trial.lfc}}
		up, down := cl.Classify(row, "X")
		c.Check(up, check.Equals, trial.up, check.Commentf("lfc %v", trial.lfc))
		c.Check(down, check.Equals, trial.down, check.Commentf("lfc %v", trial.lfc))
		c.Check(up && down, check.Equals, false)
	}
	// missing comparison classifies as neither
	up, down := cl.Classify(resultsRow{LogFC: map[string]float64{}}, "X")
	c.Check(up || down, check.Equals, false)
}

func (s *classifySuite) TestRetain(c *check.C) {
	cl := &classifier{FDRThreshold: 0.05, LFCThreshold: 2}
	for _, trial := range []struct {
		lfc    map[string]float64
		fdr    map[string]float64
		retain bool
	}{
		// significant and large in the same comparison
		{map[string]float64{"A": 2.5}, map[string]float64{"A": 0.01}, true},
		// significance and magnitude may come from different comparisons
		{map[string]float64{"A": 0.5, "B": 2}, map[string]float64{"A": 0.01, "B": 0.9}, true},
		// FDR threshold is strict
		{map[string]float64{"A": 2.5}, map[string]float64{"A": 0.05}, false},
		// fold-change threshold is inclusive
		{map[string]float64{"A": -2}, map[string]float64{"A": 0.001}, true},
		// large but not significant
		{map[string]float64{"A": 3}, map[string]float64{"A": 0.2}, false},
		// significant but small
		{map[string]float64{"A": 1}, map[string]float64{"A": 0.001}, false},
		// NaN contributes to neither criterion
		{map[string]float64{"A": math.NaN()}, map[string]float64{"A": math.NaN()}, false},
	} {
		row := resultsRow{LogFC: trial.lfc, FDR: trial.fdr}
		c.Check(cl.Retain(row), check.Equals, trial.retain, check.Commentf("lfc %v fdr %v", trial.lfc, trial.fdr))
	}
}

func (s *classifySuite) TestWriteLoadClassified(c *check.C) {
	tbl := &resultsTable{
		Comparisons: []string{"A", "B"},
		Rows: []resultsRow{
			{
				GeneID: "G1", Name: "a", Chromosome: "chr1", Start: 1, End: 2, AveLogCPM: 5,
				LogFC: map[string]float64{"A": 2.5, "B": 0.5},
				P:     map[string]float64{"A": 0.001, "B": 0.4},
				FDR:   map[string]float64{"A": 0.004, "B": 0.6},
			},
			{
				GeneID: "G2", Name: "b", Chromosome: "chr1", Start: 3, End: 4, AveLogCPM: 5,
				LogFC: map[string]float64{"A": -3, "B": -2},
				P:     map[string]float64{"A": 0.002, "B": 0.01},
				FDR:   map[string]float64{"A": 0.006, "B": 0.03},
			},
			{
				GeneID: "G3", Name: "c", Chromosome: "chr2", Start: 5, End: 6, AveLogCPM: 5,
				LogFC: map[string]float64{"A": 0.1, "B": -0.2},
				P:     map[string]float64{"A": 0.9, "B": 0.8},
				FDR:   map[string]float64{"A": 0.9, "B": 0.9},
			},
		},
	}
	cl := &classifier{FDRThreshold: 0.05, LFCThreshold: 2}
	var buf bytes.Buffer
	kept, err := cl.writeClassified(tbl, &buf)
	c.Assert(err, check.IsNil)
	c.Check(kept, check.Equals, 2)

	sets, err := loadClassified(bytes.NewReader(buf.Bytes()), "test")
	c.Assert(err, check.IsNil)
	var names []string
	for name := range sets {
		names = append(names, name)
	}
	sort.Strings(names)
	c.Check(names, check.DeepEquals, []string{"A.down", "A.up", "B.down", "B.up"})
	c.Check(sets["A.up"], check.DeepEquals, []string{"G1"})
	c.Check(sets["A.down"], check.DeepEquals, []string{"G2"})
	c.Check(sets["B.down"], check.DeepEquals, []string{"G2"})
	c.Check(sets["B.up"], check.HasLen, 0)
}

func (s *classifySuite) TestClassifiedIdempotent(c *check.C) {
	// classify output still parses as a results table, and
	// reclassifying it with the same thresholds keeps every row
	tbl := &resultsTable{
		Comparisons: []string{"A"},
		Rows: []resultsRow{
			{
				GeneID: "G1", Name: "a", AveLogCPM: 2,
				LogFC: map[string]float64{"A": 2},
				P:     map[string]float64{"A": 0.001},
				FDR:   map[string]float64{"A": 0.004},
			},
			{
				GeneID: "G2", Name: "b", AveLogCPM: 2,
				LogFC: map[string]float64{"A": 0.5},
				P:     map[string]float64{"A": 0.5},
				FDR:   map[string]float64{"A": 0.7},
			},
		},
	}
	cl := &classifier{FDRThreshold: 0.05, LFCThreshold: 2}
	var buf bytes.Buffer
	kept, err := cl.writeClassified(tbl, &buf)
	c.Assert(err, check.IsNil)
	c.Check(kept, check.Equals, 1)

	again, err := loadResults(bytes.NewReader(buf.Bytes()), "test")
	c.Assert(err, check.IsNil)
	c.Assert(again.Rows, check.HasLen, 1)
	c.Check(again.Rows[0].GeneID, check.Equals, "G1")

	var buf2 bytes.Buffer
	kept, err = cl.writeClassified(again, &buf2)
	c.Assert(err, check.IsNil)
	c.Check(kept, check.Equals, 1)
	c.Check(buf2.String(), check.Equals, buf.String())
}

func (s *classifySuite) TestThresholdValidation(c *check.C) {
	for _, lfc := range []string{"0", "-1"} {
		var stderr bytes.Buffer
		exited := (&classifier{}).RunCommand("rnadiff classify", []string{"-lfc", lfc}, bytes.NewReader(nil), &bytes.Buffer{}, &stderr)
		c.Check(exited, check.Equals, 1)
		c.Check(stderr.String(), check.Matches, `-lfc threshold must be > 0.*\n`)
	}
}
