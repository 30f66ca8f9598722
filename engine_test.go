// Copyright (C) The RNAdiff Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package rnadiff

import (
	"math"

	"gopkg.in/check.v1"
)

type engineSuite struct{}

var _ = check.Suite(&engineSuite{})

func (s *engineSuite) TestFitModelNeedsGroups(c *check.C) {
	ds := testDataset()
	for i := range ds.Samples {
		ds.Samples[i].Sex = "female"
		ds.Samples[i].Condition = "AD"
	}
	_, err := fitModel(ds, 1)
	c.Check(err, check.ErrorMatches, `need at least 2 sex.condition groups, have 1`)
}

func (s *engineSuite) TestContrastValidation(c *check.C) {
	ds := filteredTestDataset(c)
	m, err := fitModel(ds, 0)
	c.Assert(err, check.IsNil)

	_, err = m.Test([]float64{1, -1})
	c.Check(err, check.ErrorMatches, `contrast has 2 entries for 4 groups`)
	_, err = m.Test([]float64{1, 1, 0, 0})
	c.Check(err, check.ErrorMatches, `contrast .* is not a comparison .*`)
	_, err = m.Test([]float64{0, 0, 0, 0})
	c.Check(err, check.ErrorMatches, `contrast .* is not a comparison .*`)
}

func (s *engineSuite) TestEstimateDispersions(c *check.C) {
	ds := filteredTestDataset(c)
	disp := estimateDispersions(ds)
	c.Assert(disp, check.HasLen, len(ds.Genes))
	for gi, a := range disp {
		c.Check(a >= 1e-8 && a <= 100, check.Equals, true, check.Commentf("disp[%d] = %v", gi, a))
	}
}

func (s *engineSuite) TestDifferentialExpression(c *check.C) {
	ds := filteredTestDataset(c)
	m, err := fitModel(ds, 0)
	c.Assert(err, check.IsNil)
	c.Check(m.groups, check.DeepEquals, []string{"female.ctrl", "female.AD", "male.ctrl", "male.AD"})

	// female AD vs female control
	res, err := m.Test([]float64{-1, 1, 0, 0})
	c.Assert(err, check.IsNil)
	c.Assert(res, check.HasLen, len(ds.Genes))
	for gi, r := range res {
		if math.IsNaN(r.P) {
			continue
		}
		c.Check(r.Stat >= 0, check.Equals, true, check.Commentf("gene %s", ds.Genes[gi].ID))
		c.Check(r.P >= 0 && r.P <= 1, check.Equals, true, check.Commentf("gene %s p=%v", ds.Genes[gi].ID, r.P))
	}

	byID := map[string]ContrastResult{}
	for gi, r := range res {
		byID[ds.Genes[gi].ID] = r
	}
	// G002 is ~8x up in female AD, G003 ~8x down, G001 flat, G004
	// changes in males only
	c.Check(byID["G002"].LogFC > 2.5 && byID["G002"].LogFC < 3.6, check.Equals, true, check.Commentf("G002 logFC %v", byID["G002"].LogFC))
	c.Check(byID["G002"].P < 0.01, check.Equals, true, check.Commentf("G002 p %v", byID["G002"].P))
	c.Check(byID["G003"].LogFC < -2.5 && byID["G003"].LogFC > -3.6, check.Equals, true, check.Commentf("G003 logFC %v", byID["G003"].LogFC))
	c.Check(byID["G003"].P < 0.01, check.Equals, true, check.Commentf("G003 p %v", byID["G003"].P))
	c.Check(math.Abs(byID["G001"].LogFC) < 0.5, check.Equals, true, check.Commentf("G001 logFC %v", byID["G001"].LogFC))
	c.Check(byID["G001"].P > 0.05, check.Equals, true, check.Commentf("G001 p %v", byID["G001"].P))
	c.Check(math.Abs(byID["G004"].LogFC) < 0.7, check.Equals, true, check.Commentf("G004 logFC %v", byID["G004"].LogFC))
}

func (s *engineSuite) TestPooledContrastSymmetry(c *check.C) {
	ds := filteredTestDataset(c)
	m, err := fitModel(ds, 0)
	c.Assert(err, check.IsNil)

	ad, err := m.Test([]float64{-0.5, 0.5, -0.5, 0.5})
	c.Assert(err, check.IsNil)
	ctrl, err := m.Test([]float64{0.5, -0.5, 0.5, -0.5})
	c.Assert(err, check.IsNil)

	for gi := range ds.Genes {
		if math.IsNaN(ad[gi].P) || math.IsNaN(ctrl[gi].P) {
			continue
		}
		c.Check(math.Abs(ad[gi].LogFC+ctrl[gi].LogFC) < 1e-9, check.Equals, true, check.Commentf("gene %s: %v vs %v", ds.Genes[gi].ID, ad[gi].LogFC, ctrl[gi].LogFC))
		c.Check(math.Abs(ad[gi].P-ctrl[gi].P) < 1e-6, check.Equals, true, check.Commentf("gene %s: p %v vs %v", ds.Genes[gi].ID, ad[gi].P, ctrl[gi].P))
	}

	byID := map[string]ContrastResult{}
	for gi, r := range ad {
		byID[ds.Genes[gi].ID] = r
	}
	// G005 is up in AD in both sexes, G011 differs by sex but not by
	// condition
	c.Check(byID["G005"].LogFC > 1.8 && byID["G005"].LogFC < 2.9, check.Equals, true, check.Commentf("G005 logFC %v", byID["G005"].LogFC))
	c.Check(byID["G005"].P < 0.01, check.Equals, true, check.Commentf("G005 p %v", byID["G005"].P))
	c.Check(math.Abs(byID["G011"].LogFC) < 0.5, check.Equals, true, check.Commentf("G011 logFC %v", byID["G011"].LogFC))
}
