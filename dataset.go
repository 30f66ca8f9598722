// Copyright (C) The RNAdiff Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package rnadiff

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/pgzip"
)

// Sample is one sequenced library. Sex, Condition, and the read
// accounting columns are fixed at import time; NormFactor is 1 until
// the filter step recomputes it.
type Sample struct {
	ID             string
	Sex            string // "female" or "male"
	Condition      string // "ctrl" or "AD"
	Assigned       int64
	UnmappedReads  int64 // Unassigned_Unmapped
	NoFeatureReads int64 // Unassigned_NoFeatures
	TotalCounts    int64 // Assigned + Unassigned_Unmapped + Unassigned_NoFeatures
	LibSize        int64 // Assigned + Unassigned_NoFeatures
	NormFactor     float64
}

// Group returns the sex.condition cell this sample belongs to, e.g.,
// "female.AD".
func (s Sample) Group() string {
	return s.Sex + "." + s.Condition
}

// EffectiveLibSize is the library size scaled by the TMM normalization
// factor.
func (s Sample) EffectiveLibSize() float64 {
	return float64(s.LibSize) * s.NormFactor
}

// GeneRecord is one row of the count matrix joined with its
// annotation. Genes without an annotation row keep Name=="Unknown" and
// zero coordinates.
type GeneRecord struct {
	ID         string
	Name       string
	Chromosome string
	Start      int64
	End        int64
	Counts     []int64 // indexed same as Dataset.Samples
}

// Dataset is the unit of exchange between pipeline stages, written as
// a gob stream (pgzip-compressed when the filename ends in .gz).
type Dataset struct {
	Samples []Sample
	Genes   []GeneRecord
}

// Groups returns the distinct sex.condition groups in canonical order
// (female.ctrl, female.AD, male.ctrl, male.AD), restricted to groups
// that actually occur in the dataset.
func (ds *Dataset) Groups() []string {
	have := map[string]bool{}
	for _, s := range ds.Samples {
		have[s.Group()] = true
	}
	var groups []string
	for _, g := range []string{"female.ctrl", "female.AD", "male.ctrl", "male.AD"} {
		if have[g] {
			groups = append(groups, g)
		}
	}
	return groups
}

// GroupSizes returns the number of samples per group, keyed like
// Groups().
func (ds *Dataset) GroupSizes() map[string]int {
	sizes := map[string]int{}
	for _, s := range ds.Samples {
		sizes[s.Group()]++
	}
	return sizes
}

func (ds *Dataset) sampleIndex() map[string]int {
	idx := make(map[string]int, len(ds.Samples))
	for i, s := range ds.Samples {
		idx[s.ID] = i
	}
	return idx
}

// LogCPM returns log2 counts-per-million for gene row gi, using
// effective library sizes and a +0.5 count / +1 library prior to keep
// zero counts finite.
func (ds *Dataset) LogCPM(gi int) []float64 {
	out := make([]float64, len(ds.Samples))
	for si, y := range ds.Genes[gi].Counts {
		lib := ds.Samples[si].EffectiveLibSize()
		out[si] = math.Log2((float64(y) + 0.5) / (lib + 1) * 1e6)
	}
	return out
}

func WriteDataset(ds *Dataset, w io.Writer, gz bool) error {
	bufw := bufio.NewWriter(w)
	var enc *gob.Encoder
	var gzw *pgzip.Writer
	if gz {
		gzw = pgzip.NewWriter(bufw)
		enc = gob.NewEncoder(gzw)
	} else {
		enc = gob.NewEncoder(bufw)
	}
	err := enc.Encode(ds)
	if err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if gzw != nil {
		err = gzw.Close()
		if err != nil {
			return err
		}
	}
	return bufw.Flush()
}

func ReadDataset(rdr io.Reader, gz bool) (*Dataset, error) {
	if gz {
		gzr, err := pgzip.NewReader(rdr)
		if err != nil {
			return nil, err
		}
		defer gzr.Close()
		rdr = gzr
	}
	var ds Dataset
	err := gob.NewDecoder(bufio.NewReaderSize(rdr, 1<<22)).Decode(&ds)
	if err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	for _, g := range ds.Genes {
		if len(g.Counts) != len(ds.Samples) {
			return nil, fmt.Errorf("gene %s has %d counts for %d samples", g.ID, len(g.Counts), len(ds.Samples))
		}
	}
	return &ds, nil
}

// LoadDatasetFile reads a dataset gob from a file, or from stdin when
// fnm is "-".
func LoadDatasetFile(fnm string, stdin io.Reader) (*Dataset, error) {
	if fnm == "-" {
		return ReadDataset(stdin, false)
	}
	f, err := os.Open(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadDataset(f, strings.HasSuffix(fnm, ".gz"))
}

// SaveDatasetFile writes a dataset gob to a file, or to stdout when
// fnm is "-".
func SaveDatasetFile(ds *Dataset, fnm string, stdout io.Writer) error {
	if fnm == "-" {
		return WriteDataset(ds, stdout, false)
	}
	f, err := os.OpenFile(fnm, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	err = WriteDataset(ds, f, strings.HasSuffix(fnm, ".gz"))
	if err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("close %s: %w", fnm, err)
	}
	return nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
