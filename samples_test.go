// Copyright (C) The RNAdiff Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package rnadiff

import (
	"bytes"
	"os"
	"strings"

	"gopkg.in/check.v1"
)

type samplesSuite struct{}

var _ = check.Suite(&samplesSuite{})

func (s *samplesSuite) TestSummarize(c *check.C) {
	f, err := os.Open("testdata/summary.tsv")
	c.Assert(err, check.IsNil)
	defer f.Close()
	rows, err := (&summarizeSamples{inferGroups: true}).summarize(f, "testdata/summary.tsv")
	c.Assert(err, check.IsNil)
	c.Assert(rows, check.HasLen, 8)

	c.Check(rows[0].Sample, check.Equals, "AD_F_01")
	c.Check(rows[0].Sex, check.Equals, "female")
	c.Check(rows[0].Condition, check.Equals, "AD")
	c.Check(rows[0].Assigned, check.Equals, int64(910000))
	c.Check(rows[0].UnassignedUnmapped, check.Equals, int64(42000))
	c.Check(rows[0].UnassignedNoFeatures, check.Equals, int64(90000))
	c.Check(rows[0].TotalCounts, check.Equals, int64(1042000))
	c.Check(rows[0].LibSize, check.Equals, int64(1000000))

	c.Check(rows[7].Sample, check.Equals, "Control_M_02")
	c.Check(rows[7].Sex, check.Equals, "male")
	c.Check(rows[7].Condition, check.Equals, "ctrl")

	for _, row := range rows {
		c.Check(row.LibSize, check.Equals, row.Assigned+row.UnassignedNoFeatures)
		c.Check(row.TotalCounts, check.Equals, row.Assigned+row.UnassignedUnmapped+row.UnassignedNoFeatures)
	}
}

func (s *samplesSuite) TestSummarizePivot(c *check.C) {
	// column order is recovered from the header; repeated statuses
	// accumulate; zero-count rows are dropped
	in := `Status	Sample	Count
Assigned	S_F_AD	100
Assigned	S_F_AD	50
Unassigned_NoFeatures	S_F_AD	10
Unassigned_Unmapped	S_F_AD	0
`
	rows, err := (&summarizeSamples{inferGroups: true}).summarize(strings.NewReader(in), "test")
	c.Assert(err, check.IsNil)
	c.Assert(rows, check.HasLen, 1)
	c.Check(rows[0].Assigned, check.Equals, int64(150))
	c.Check(rows[0].UnassignedUnmapped, check.Equals, int64(0))
	c.Check(rows[0].LibSize, check.Equals, int64(160))
	c.Check(rows[0].TotalCounts, check.Equals, int64(160))
}

func (s *samplesSuite) TestSummarizeErrors(c *check.C) {
	for _, trial := range []struct{ in, err string }{
		{"Sample\tCount\nS1\t1\n", `.*no column named "Status".*`},
		{"Sample\tStatus\tCount\nS1\tAssigned\t-5\n", `.*negative count -5`},
		{"Sample\tStatus\tCount\nS1\tAssigned\tx\n", `.*invalid syntax`},
		{"Sample\tStatus\tCount\n", `.*no sample rows`},
	} {
		_, err := (&summarizeSamples{inferGroups: true}).summarize(strings.NewReader(trial.in), "test")
		c.Check(err, check.ErrorMatches, trial.err, check.Commentf("%q", trial.in))
	}
}

func (s *samplesSuite) TestInferSampleAttrs(c *check.C) {
	for _, trial := range []struct {
		id        string
		sex, cond string
		err       string
	}{
		{id: "AD_F_01", sex: "female", cond: "AD"},
		{id: "Control_M_02", sex: "male", cond: "ctrl"},
		{id: "Control_F_10", sex: "female", cond: "ctrl"},
		{id: "AD_M_3", sex: "male", cond: "AD"},
		{id: "sample1", err: `sample "sample1": cannot infer sex.*`},
		{id: "AD_F_M_01", err: `sample "AD_F_M_01": ambiguous sex.*`},
		{id: "X_F_01", err: `sample "X_F_01": cannot infer condition.*`},
		{id: "AD_vs_Control_F_01", err: `sample "AD_vs_Control_F_01": ambiguous condition.*`},
	} {
		sex, cond, err := inferSampleAttrs(trial.id)
		if trial.err != "" {
			c.Check(err, check.ErrorMatches, trial.err)
			continue
		}
		c.Assert(err, check.IsNil)
		c.Check(sex, check.Equals, trial.sex)
		c.Check(cond, check.Equals, trial.cond)
	}
}

func (s *samplesSuite) TestSummarizeCommand(c *check.C) {
	tmpdir := c.MkDir()
	exited := (&summarizeSamples{}).RunCommand("rnadiff summarize-samples", []string{
		"-i", "testdata/summary.tsv",
		"-attributes", "testdata/attributes.tsv",
		"-o", tmpdir + "/samples.tsv",
	}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(exited, check.Equals, 0)

	rows, err := loadSampleTable(tmpdir + "/samples.tsv")
	c.Assert(err, check.IsNil)
	c.Assert(rows, check.HasLen, 8)
	c.Check(rows[2].Sample, check.Equals, "Control_F_01")
	c.Check(rows[2].Sex, check.Equals, "female")
	c.Check(rows[2].Condition, check.Equals, "ctrl")
}

func (s *samplesSuite) TestSummarizeCommandErrors(c *check.C) {
	tmpdir := c.MkDir()
	err := os.WriteFile(tmpdir+"/bad-sex.tsv", []byte("Sample\tSex\tCondition\nAD_F_01\tF\tAD\n"), 0644)
	c.Assert(err, check.IsNil)
	err = os.WriteFile(tmpdir+"/incomplete.tsv", []byte("Sample\tSex\tCondition\nAD_F_01\tfemale\tAD\n"), 0644)
	c.Assert(err, check.IsNil)

	for _, args := range [][]string{
		// neither -attributes nor -infer-groups
		{"-i", "testdata/summary.tsv"},
		// invalid sex value
		{"-i", "testdata/summary.tsv", "-attributes", tmpdir + "/bad-sex.tsv"},
		// attributes missing most samples
		{"-i", "testdata/summary.tsv", "-attributes", tmpdir + "/incomplete.tsv"},
	} {
		var stderr bytes.Buffer
		exited := (&summarizeSamples{}).RunCommand("rnadiff summarize-samples", args, bytes.NewReader(nil), &bytes.Buffer{}, &stderr)
		c.Check(exited, check.Equals, 1, check.Commentf("%v: %s", args, stderr.String()))
	}
}
