// Copyright (C) The RNAdiff Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package rnadiff

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
)

// tmmNormFactors computes trimmed-mean-of-M-values scale factors, one
// per sample, geometric-mean-centered at 1. The reference sample is
// the one whose 75th-percentile count fraction is closest to the mean
// across samples.
func tmmNormFactors(genes []GeneRecord, samples []Sample) ([]float64, error) {
	ns := len(samples)
	if ns == 0 {
		return nil, fmt.Errorf("no samples to normalize")
	}
	libs := make([]float64, ns)
	for i, s := range samples {
		if s.LibSize <= 0 {
			return nil, fmt.Errorf("sample %s has library size %d", s.ID, s.LibSize)
		}
		libs[i] = float64(s.LibSize)
	}

	q75 := make([]float64, ns)
	mean75 := 0.0
	for si := range samples {
		fracs := make([]float64, len(genes))
		for gi, g := range genes {
			fracs[gi] = float64(g.Counts[si]) / libs[si]
		}
		q, err := stats.Percentile(fracs, 75)
		if err != nil {
			return nil, err
		}
		q75[si] = q
		mean75 += q / float64(ns)
	}
	ref := 0
	for si := range samples {
		if math.Abs(q75[si]-mean75) < math.Abs(q75[ref]-mean75) {
			ref = si
		}
	}

	factors := make([]float64, ns)
	for si := range samples {
		if si == ref {
			factors[si] = 1
			continue
		}
		factors[si] = tmmPairFactor(genes, si, ref, libs[si], libs[ref])
	}

	// center at geometric mean 1
	logsum := 0.0
	for _, f := range factors {
		logsum += math.Log(f)
	}
	center := math.Exp(logsum / float64(ns))
	for i := range factors {
		factors[i] /= center
	}
	return factors, nil
}

// tmmPairFactor computes the TMM factor of sample si against the
// reference sample, trimming 30% of log-ratios and 5% of average
// log-expressions on each side, and weighting the remaining M values
// by their inverse asymptotic variance.
func tmmPairFactor(genes []GeneRecord, si, ref int, lib, libRef float64) float64 {
	var m, a, w []float64
	for _, g := range genes {
		ys := float64(g.Counts[si])
		yr := float64(g.Counts[ref])
		if ys <= 0 || yr <= 0 || ys >= lib || yr >= libRef {
			continue
		}
		ps := ys / lib
		pr := yr / libRef
		m = append(m, math.Log2(ps/pr))
		a = append(a, 0.5*math.Log2(ps*pr))
		w = append(w, (lib-ys)/(lib*ys)+(libRef-yr)/(libRef*yr))
	}
	n := len(m)
	if n == 0 {
		return 1
	}

	loM := math.Floor(float64(n)*0.3) + 1
	hiM := float64(n) - loM + 1
	loA := math.Floor(float64(n)*0.05) + 1
	hiA := float64(n) - loA + 1
	rankM := ranks(m)
	rankA := ranks(a)

	var num, den float64
	for i := 0; i < n; i++ {
		if rankM[i] < loM || rankM[i] > hiM || rankA[i] < loA || rankA[i] > hiA {
			continue
		}
		num += m[i] / w[i]
		den += 1 / w[i]
	}
	if den == 0 {
		return 1
	}
	f := math.Exp2(num / den)
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 1
	}
	return f
}

// ranks returns 1-based ranks, averaging ties.
func ranks(x []float64) []float64 {
	n := len(x)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })
	r := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && x[idx[j+1]] == x[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			r[idx[k]] = avg
		}
		i = j + 1
	}
	return r
}
