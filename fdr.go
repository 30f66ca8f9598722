// Copyright (C) The RNAdiff Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package rnadiff

import (
	"math"
	"sort"
)

// adjustBH applies Benjamini-Hochberg false-discovery-rate correction:
// with p-values sorted ascending, adjusted[i] = min over j>=i of
// p[j]*n/(j+1), clamped to 1. NaN inputs (genes the model could not
// fit) stay NaN and do not count toward n.
func adjustBH(p []float64) []float64 {
	idx := make([]int, 0, len(p))
	for i, v := range p {
		if !math.IsNaN(v) {
			idx = append(idx, i)
		}
	}
	n := len(idx)
	sort.Slice(idx, func(a, b int) bool { return p[idx[a]] < p[idx[b]] })

	adj := make([]float64, len(p))
	for i := range adj {
		adj[i] = math.NaN()
	}
	running := 1.0
	for i := n - 1; i >= 0; i-- {
		q := p[idx[i]] * float64(n) / float64(i+1)
		if q < running {
			running = q
		}
		adj[idx[i]] = running
	}
	return adj
}
