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

type importSuite struct{}

var _ = check.Suite(&importSuite{})

func (s *importSuite) TestStripSampleName(c *check.C) {
	c.Check(stripSampleName("aligned/AD_F_01_sorted.bam", "_sorted.bam"), check.Equals, "AD_F_01")
	c.Check(stripSampleName(`aligned\AD_F_01_sorted.bam`, "_sorted.bam"), check.Equals, "AD_F_01")
	c.Check(stripSampleName("/data/run3/Control_M_02_sorted.bam.featureCounts", "_sorted.bam"), check.Equals, "Control_M_02")
	c.Check(stripSampleName("AD_F_01", "_sorted.bam"), check.Equals, "AD_F_01")
	c.Check(stripSampleName("aligned/AD_F_01.bam", ""), check.Equals, "AD_F_01.bam")
}

func (s *importSuite) TestLoadCountMatrix(c *check.C) {
	f, err := os.Open("testdata/counts.tsv")
	c.Assert(err, check.IsNil)
	defer f.Close()
	cmd := &importer{stripMarker: "_sorted.bam", metadataCols: 5}
	names, genes, err := cmd.loadCountMatrix(f, "testdata/counts.tsv")
	c.Assert(err, check.IsNil)
	c.Check(names, check.DeepEquals, []string{
		"Control_F_01", "Control_F_02", "Control_M_01", "Control_M_02",
		"AD_F_01", "AD_F_02", "AD_M_01", "AD_M_02",
	})
	c.Assert(genes, check.HasLen, 12)
	c.Check(genes[1].ID, check.Equals, "G002")
	c.Check(genes[1].Counts, check.DeepEquals, []int64{100, 95, 105, 98, 820, 780, 102, 110})
	c.Check(genes[1].Name, check.Equals, "Unknown")
}

func (s *importSuite) TestLoadCountMatrixErrors(c *check.C) {
	cmd := &importer{metadataCols: 1}
	for _, trial := range []struct{ in, err string }{
		{"Geneid\tChr\tS1\tS2\nG1\tchr1\t1\t2\nG1\tchr1\t3\t4\n", `.*duplicate gene id "G1".*line 2.*`},
		{"Geneid\tChr\tS1\tS2\nG1\tchr1\t1\n", `.*3 fields, want 4`},
		{"Geneid\tChr\tS1\tS2\nG1\tchr1\t-1\t2\n", `.*negative count -1 for S1`},
		{"Geneid\tChr\tS1\tS2\nG1\tchr1\tx\t2\n", `.*count for S1.*invalid syntax`},
		{"Geneid\tChr\tS1\tS2\n\tchr1\t1\t2\n", `.*empty gene id`},
		{"# nothing but comments\n", `.*no header row`},
		{"Geneid\tChr\tS1\tS2\n", `.*empty count matrix`},
	} {
		_, _, err := cmd.loadCountMatrix(strings.NewReader(trial.in), "test.tsv")
		c.Check(err, check.ErrorMatches, trial.err, check.Commentf("%q", trial.in))
	}
}

func (s *importSuite) TestBuildDatasetMismatch(c *check.C) {
	samples := []*sampleRow{
		{Sample: "S1", Sex: "female", Condition: "AD"},
		{Sample: "S2", Sex: "female", Condition: "ctrl"},
	}
	genes := []GeneRecord{{ID: "G1", Counts: []int64{1, 2}}}

	_, err := buildDataset(samples, []string{"S1", "S3"}, genes)
	c.Check(err, check.ErrorMatches, `count matrix has no column for sample\(s\) S2`)

	genes3 := []GeneRecord{{ID: "G1", Counts: []int64{1, 2, 3}}}
	_, err = buildDataset(samples, []string{"S1", "S2", "S3"}, genes3)
	c.Check(err, check.ErrorMatches, `count matrix column\(s\) S3 missing from the sample table`)

	ds, err := buildDataset(samples, []string{"S2", "S1"}, genes)
	c.Assert(err, check.IsNil)
	c.Check(ds.Samples[0].ID, check.Equals, "S1")
	c.Check(ds.Genes[0].Counts, check.DeepEquals, []int64{2, 1})
	c.Check(ds.Samples[0].NormFactor, check.Equals, 1.0)
}

func importTestDataset(c *check.C, extraArgs ...string) *Dataset {
	tmpdir := c.MkDir()
	exited := (&summarizeSamples{}).RunCommand("rnadiff summarize-samples", []string{
		"-i", "testdata/summary.tsv",
		"-attributes", "testdata/attributes.tsv",
		"-o", tmpdir + "/samples.tsv",
	}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(exited, check.Equals, 0)

	args := append([]string{
		"-counts", "testdata/counts.tsv",
		"-annotation", "testdata/annotation.tsv",
		"-samples", tmpdir + "/samples.tsv",
		"-o", tmpdir + "/dataset.gob",
	}, extraArgs...)
	exited = (&importer{}).RunCommand("rnadiff import", args, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(exited, check.Equals, 0)

	ds, err := LoadDatasetFile(tmpdir+"/dataset.gob", nil)
	c.Assert(err, check.IsNil)
	return ds
}

func (s *importSuite) TestImportCommand(c *check.C) {
	ds := importTestDataset(c)
	c.Check(ds, check.DeepEquals, testDataset())
}

func (s *importSuite) TestImportExcludeChromosome(c *check.C) {
	ds := importTestDataset(c, "-exclude-chromosome", "chrY")
	c.Assert(ds.Genes, check.HasLen, 11)
	for _, g := range ds.Genes {
		c.Check(g.Chromosome, check.Not(check.Equals), "chrY")
	}
}
