// Copyright (C) The RNAdiff Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package rnadiff

import (
	"fmt"
	"io"
	"log"
	"math"
	"runtime"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"gonum.org/v1/gonum/stat/distuv"
)

// ContrastResult is the per-gene outcome of testing one contrast:
// log2 fold-change, likelihood-ratio statistic, and p-value. NaN
// fields mean the model could not be fitted for that gene.
type ContrastResult struct {
	LogFC float64
	Stat  float64
	P     float64
}

// deModel is a fitted negative-binomial GLM with one free coefficient
// per sex.condition group and a log effective-library-size offset,
// fitted independently per gene over the same design.
type deModel struct {
	groups  []string
	design  [][]statmodel.Dtype // one indicator column per group
	offset  []statmodel.Dtype
	counts  [][]statmodel.Dtype // per gene, in dataset row order
	disp    []float64
	params  [][]float64
	loglike []float64
	threads int
}

func nbConfig(alpha float64) *glm.Config {
	return &glm.Config{
		Family:         glm.NewNegBinomFamily(alpha, glm.NewLink(glm.LogLink)),
		FitMethod:      "IRLS",
		ConcurrentIRLS: 1000,
		OffsetVar:      "offset",
		Log:            log.New(io.Discard, "", 0),
	}
}

// fitModel estimates per-gene dispersions and fits the full
// group-means model for every gene. threads <= 0 means GOMAXPROCS.
func fitModel(ds *Dataset, threads int) (*deModel, error) {
	groups := ds.Groups()
	if len(groups) < 2 {
		return nil, fmt.Errorf("need at least 2 sex.condition groups, have %d", len(groups))
	}
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	m := &deModel{groups: groups, threads: threads}

	m.design = make([][]statmodel.Dtype, len(groups))
	for gi, grp := range groups {
		col := make([]statmodel.Dtype, len(ds.Samples))
		for si, s := range ds.Samples {
			if s.Group() == grp {
				col[si] = 1
			}
		}
		m.design[gi] = col
	}
	m.offset = make([]statmodel.Dtype, len(ds.Samples))
	for si, s := range ds.Samples {
		eff := s.EffectiveLibSize()
		if eff <= 0 {
			return nil, fmt.Errorf("sample %s has non-positive effective library size", s.ID)
		}
		m.offset[si] = math.Log(eff)
	}

	m.counts = make([][]statmodel.Dtype, len(ds.Genes))
	for gi, g := range ds.Genes {
		row := make([]statmodel.Dtype, len(g.Counts))
		for si, y := range g.Counts {
			row[si] = statmodel.Dtype(y)
		}
		m.counts[gi] = row
	}

	m.disp = estimateDispersions(ds)

	m.params = make([][]float64, len(m.counts))
	m.loglike = make([]float64, len(m.counts))
	fitter := throttle{Max: m.threads}
	for gi := range m.counts {
		gi := gi
		fitter.Go(func() error {
			params, ll := m.fitGene(m.counts[gi], m.design, m.disp[gi])
			m.params[gi] = params
			m.loglike[gi] = ll
			return nil
		})
	}
	err := fitter.Wait()
	if err != nil {
		return nil, err
	}
	return m, nil
}

// fitGene fits one NB GLM and returns coefficients and log-likelihood,
// or NaNs when IRLS cannot solve the problem (typically a singular or
// near-singular weighted design).
func (m *deModel) fitGene(counts []statmodel.Dtype, design [][]statmodel.Dtype, alpha float64) (params []float64, ll float64) {
	defer func() {
		if recover() != nil {
			params = nil
			ll = math.NaN()
		}
	}()
	data := [][]statmodel.Dtype{counts, m.offset}
	names := []string{"count", "offset"}
	xnames := make([]string, 0, len(design))
	for i, col := range design {
		name := fmt.Sprintf("x%d", i)
		data = append(data, col)
		names = append(names, name)
		xnames = append(xnames, name)
	}
	dataset := statmodel.NewDataset(data, names)
	model, err := glm.NewGLM(dataset, "count", xnames, nbConfig(alpha))
	if err != nil {
		return nil, math.NaN()
	}
	result := model.Fit()
	return result.Params(), result.LogLike()
}

// Test evaluates one contrast (a linear combination of group
// coefficients summing to zero) for every gene: log2 fold-change from
// the fitted coefficients, and a 1-df likelihood-ratio p-value against
// the model with the contrast constrained to zero.
func (m *deModel) Test(contrast []float64) ([]ContrastResult, error) {
	if len(contrast) != len(m.groups) {
		return nil, fmt.Errorf("contrast has %d entries for %d groups", len(contrast), len(m.groups))
	}
	sum, nonzero := 0.0, 0
	for _, c := range contrast {
		sum += c
		if c != 0 {
			nonzero++
		}
	}
	if math.Abs(sum) > 1e-9 || nonzero == 0 {
		return nil, fmt.Errorf("contrast %v is not a comparison (entries must be nonzero and sum to zero)", contrast)
	}

	// Reduced design spanning the contrast's null space: with pivot
	// j, column i becomes x_i - (c_i/c_j)*x_j for all i != j.
	pivot := 0
	for i, c := range contrast {
		if math.Abs(c) > math.Abs(contrast[pivot]) {
			pivot = i
		}
	}
	reduced := make([][]statmodel.Dtype, 0, len(m.design)-1)
	for i, col := range m.design {
		if i == pivot {
			continue
		}
		ratio := contrast[i] / contrast[pivot]
		rcol := make([]statmodel.Dtype, len(col))
		for s := range col {
			rcol[s] = col[s] - statmodel.Dtype(ratio)*m.design[pivot][s]
		}
		reduced = append(reduced, rcol)
	}

	results := make([]ContrastResult, len(m.counts))
	tester := throttle{Max: m.threads}
	for gi := range m.counts {
		gi := gi
		tester.Go(func() error {
			results[gi] = m.testGene(gi, contrast, reduced)
			return nil
		})
	}
	err := tester.Wait()
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (m *deModel) testGene(gi int, contrast []float64, reduced [][]statmodel.Dtype) ContrastResult {
	nan := ContrastResult{LogFC: math.NaN(), Stat: math.NaN(), P: math.NaN()}
	params := m.params[gi]
	if params == nil || len(params) != len(contrast) || math.IsNaN(m.loglike[gi]) {
		return nan
	}
	lfc := 0.0
	for i, c := range contrast {
		lfc += c * params[i]
	}
	lfc /= math.Ln2

	_, llReduced := m.fitGene(m.counts[gi], reduced, m.disp[gi])
	if math.IsNaN(llReduced) {
		return nan
	}
	stat := 2 * (m.loglike[gi] - llReduced)
	if stat < 0 {
		// reduced model fit marginally better than the full one;
		// numerically the contrast carries no signal
		stat = 0
	}
	dist := distuv.ChiSquared{K: 1}
	return ContrastResult{LogFC: lfc, Stat: stat, P: dist.Survival(stat)}
}

// estimateDispersions computes a per-gene NB dispersion by the method
// of moments on offset-normalized counts, pooled within groups, then
// shrinks each estimate toward the common value.
func estimateDispersions(ds *Dataset) []float64 {
	const (
		priorDF  = 10.0
		minAlpha = 1e-8
		maxAlpha = 100.0
	)
	groups := ds.Groups()
	members := make([][]int, len(groups))
	for gi, grp := range groups {
		for si, s := range ds.Samples {
			if s.Group() == grp {
				members[gi] = append(members[gi], si)
			}
		}
	}
	meanEff := 0.0
	for _, s := range ds.Samples {
		meanEff += s.EffectiveLibSize() / float64(len(ds.Samples))
	}

	raw := make([]float64, len(ds.Genes))
	common := 0.0
	for gi, g := range ds.Genes {
		var num, den float64
		for _, idx := range members {
			if len(idx) < 2 {
				continue
			}
			var mean float64
			z := make([]float64, len(idx))
			for i, si := range idx {
				z[i] = float64(g.Counts[si]) * meanEff / ds.Samples[si].EffectiveLibSize()
				mean += z[i] / float64(len(idx))
			}
			var ss float64
			for _, v := range z {
				d := v - mean
				ss += d * d
			}
			df := float64(len(idx) - 1)
			variance := ss / df
			num += df * (variance - mean)
			den += df * mean * mean
		}
		if den > 0 && num > 0 {
			raw[gi] = num / den
		}
		common += raw[gi] / float64(len(ds.Genes))
	}

	df := float64(len(ds.Samples) - len(groups))
	if df < 1 {
		df = 1
	}
	disp := make([]float64, len(raw))
	for gi, a := range raw {
		shrunk := (df*a + priorDF*common) / (df + priorDF)
		if shrunk < minAlpha {
			shrunk = minAlpha
		} else if shrunk > maxAlpha {
			shrunk = maxAlpha
		}
		disp[gi] = shrunk
	}
	return disp
}
