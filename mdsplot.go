// Copyright (C) The RNAdiff Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package rnadiff

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/james-bowman/nlp"
	log "github.com/sirupsen/logrus"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// mdsPlot renders samples in two dimensions from their log2-CPM
// profiles: classical multidimensional scaling by default, PCA with
// -method=pca.
type mdsPlot struct {
	topGenes int
	method   string
}

func (cmd *mdsPlot) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *mdsPlot) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "filtered dataset gob `file`")
	outputFilename := flags.String("o", "", "output `filename` (e.g., './mds.png')")
	flags.IntVar(&cmd.topGenes, "genes", 500, "use the `N` most variable genes")
	flags.StringVar(&cmd.method, "method", "mds", "projection `method` (mds or pca)")
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return err
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	}
	if *outputFilename == "" {
		return errors.New("must specify -o filename.png")
	}
	if cmd.method != "mds" && cmd.method != "pca" {
		return fmt.Errorf("unknown method %q (want mds or pca)", cmd.method)
	}

	ds, err := LoadDatasetFile(*inputFilename, stdin)
	if err != nil {
		return err
	}
	if len(ds.Samples) < 3 {
		return fmt.Errorf("need at least 3 samples for a 2-d projection, have %d", len(ds.Samples))
	}

	logcpm := topVariableLogCPM(ds, cmd.topGenes)
	log.Infof("projecting %d samples over %d genes (%s)", len(ds.Samples), len(logcpm), cmd.method)

	var coords [][]float64
	if cmd.method == "pca" {
		coords, err = pcaCoords(logcpm, len(ds.Samples))
	} else {
		coords, err = mdsCoords(logcpm, len(ds.Samples))
	}
	if err != nil {
		return err
	}

	graph := chart.Chart{
		Width:  800,
		Height: 600,
		XAxis:  chart.XAxis{Name: "dim 1"},
		YAxis:  chart.YAxis{Name: "dim 2"},
	}
	for gi, grp := range ds.Groups() {
		series := chart.ContinuousSeries{
			Name: grp,
			Style: chart.Style{
				StrokeWidth: chart.Disabled,
				DotWidth:    5,
				DotColor:    groupColor(gi),
			},
		}
		for si, s := range ds.Samples {
			if s.Group() != grp {
				continue
			}
			series.XValues = append(series.XValues, coords[si][0])
			series.YValues = append(series.YValues, coords[si][1])
		}
		graph.Series = append(graph.Series, series)
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return renderPNG(&graph, *outputFilename)
}

func groupColor(i int) drawing.Color {
	colors := []drawing.Color{chart.ColorRed, chart.ColorBlue, chart.ColorGreen, chart.ColorOrange}
	return colors[i%len(colors)]
}

func renderPNG(graph *chart.Chart, fnm string) error {
	f, err := os.OpenFile(fnm, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	err = graph.Render(chart.PNG, f)
	if err != nil {
		return fmt.Errorf("render %s: %w", fnm, err)
	}
	return f.Close()
}

// topVariableLogCPM returns the log2-CPM rows of the n most variable
// genes.
func topVariableLogCPM(ds *Dataset, n int) [][]float64 {
	rows := make([][]float64, len(ds.Genes))
	vars := make([]float64, len(ds.Genes))
	for gi := range ds.Genes {
		rows[gi] = ds.LogCPM(gi)
		vars[gi] = stat.Variance(rows[gi], nil)
	}
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return vars[idx[a]] > vars[idx[b]] })
	if n > len(idx) {
		n = len(idx)
	}
	top := make([][]float64, n)
	for i := 0; i < n; i++ {
		top[i] = rows[idx[i]]
	}
	return top
}

// mdsCoords performs classical multidimensional scaling on root-mean-
// square log2-CPM distances between samples, returning 2-d
// coordinates per sample.
func mdsCoords(logcpm [][]float64, nsamples int) ([][]float64, error) {
	d2 := make([][]float64, nsamples)
	for i := range d2 {
		d2[i] = make([]float64, nsamples)
	}
	for i := 0; i < nsamples; i++ {
		for j := i + 1; j < nsamples; j++ {
			var ss float64
			for _, row := range logcpm {
				d := row[i] - row[j]
				ss += d * d
			}
			msq := ss / float64(len(logcpm))
			d2[i][j] = msq
			d2[j][i] = msq
		}
	}

	// double centering: B = -1/2 J D2 J
	rowMean := make([]float64, nsamples)
	grand := 0.0
	for i := range d2 {
		for _, v := range d2[i] {
			rowMean[i] += v / float64(nsamples)
		}
		grand += rowMean[i] / float64(nsamples)
	}
	b := mat.NewSymDense(nsamples, nil)
	for i := 0; i < nsamples; i++ {
		for j := i; j < nsamples; j++ {
			b.SetSym(i, j, -0.5*(d2[i][j]-rowMean[i]-rowMean[j]+grand))
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(b, true) {
		return nil, errors.New("mds: eigendecomposition failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// gonum returns eigenvalues in ascending order; the leading
	// dimensions are the last two.
	coords := make([][]float64, nsamples)
	for i := range coords {
		coords[i] = make([]float64, 2)
		for c := 0; c < 2; c++ {
			k := nsamples - 1 - c
			scale := math.Sqrt(math.Max(vals[k], 0))
			coords[i][c] = vecs.At(i, k) * scale
		}
	}
	return coords, nil
}

// pcaCoords projects samples onto their first two principal
// components.
func pcaCoords(logcpm [][]float64, nsamples int) ([][]float64, error) {
	data := make([]float64, len(logcpm)*nsamples)
	for gi, row := range logcpm {
		copy(data[gi*nsamples:], row)
	}
	mtx := mat.NewDense(len(logcpm), nsamples, data)

	transformer := nlp.NewPCA(2)
	transformer.Fit(mtx)
	reduced, err := transformer.Transform(mtx)
	if err != nil {
		return nil, err
	}
	t := reduced.T()
	rows, cols := t.Dims()
	if rows != nsamples || cols < 2 {
		return nil, fmt.Errorf("pca: unexpected %dx%d projection", rows, cols)
	}
	coords := make([][]float64, nsamples)
	for i := range coords {
		coords[i] = []float64{t.At(i, 0), t.At(i, 1)}
	}
	return coords, nil
}
