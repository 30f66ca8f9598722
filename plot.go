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
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/wcharczuk/go-chart/v2"
)

// positionPlot renders genomic start position against log2
// fold-change for one comparison, with FDR-significant genes
// highlighted.
type positionPlot struct {
	comparison string
	chromosome string
	fdr        float64
}

func (cmd *positionPlot) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *positionPlot) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "results table `file` from diffexp")
	outputFilename := flags.String("o", "", "output `filename` (e.g., './position.png')")
	flags.StringVar(&cmd.comparison, "comparison", "", "comparison `name` to plot")
	flags.StringVar(&cmd.chromosome, "chromosome", "", "restrict to one `chromosome`")
	flags.Float64Var(&cmd.fdr, "fdr", 0.05, "highlight genes with FDR below `threshold`")
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

	tbl, err := loadResultsFile(*inputFilename, stdin)
	if err != nil {
		return err
	}
	name, err := pickComparison(tbl, cmd.comparison)
	if err != nil {
		return err
	}

	plain := chart.ContinuousSeries{
		Name:  "genes",
		Style: chart.Style{StrokeWidth: chart.Disabled, DotWidth: 3, DotColor: chart.ColorLightGray},
	}
	hot := chart.ContinuousSeries{
		Name:  fmt.Sprintf("FDR < %g", cmd.fdr),
		Style: chart.Style{StrokeWidth: chart.Disabled, DotWidth: 4, DotColor: chart.ColorRed},
	}
	n := 0
	for _, row := range tbl.Rows {
		if cmd.chromosome != "" && row.Chromosome != cmd.chromosome {
			continue
		}
		lfc, ok := row.LogFC[name]
		if !ok || math.IsNaN(lfc) {
			continue
		}
		n++
		if q, ok := row.FDR[name]; ok && !math.IsNaN(q) && q < cmd.fdr {
			hot.XValues = append(hot.XValues, float64(row.Start))
			hot.YValues = append(hot.YValues, lfc)
		} else {
			plain.XValues = append(plain.XValues, float64(row.Start))
			plain.YValues = append(plain.YValues, lfc)
		}
	}
	if n == 0 {
		return fmt.Errorf("no genes to plot for comparison %s (chromosome %q)", name, cmd.chromosome)
	}
	log.Infof("plotting %d genes, %d highlighted", n, len(hot.XValues))

	xname := "genomic start position"
	if cmd.chromosome != "" {
		xname = "position on " + cmd.chromosome
	}
	graph := chart.Chart{
		Width:  1000,
		Height: 500,
		XAxis:  chart.XAxis{Name: xname},
		YAxis:  chart.YAxis{Name: "log2 fold change (" + name + ")"},
		Series: scatterSeries(plain, hot),
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return renderPNG(&graph, *outputFilename)
}

// smearPlot renders average log2-CPM against log2 fold-change for one
// comparison, with DEGs highlighted.
type smearPlot struct {
	comparison string
	classifier classifier
}

func (cmd *smearPlot) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *smearPlot) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "results table `file` from diffexp")
	outputFilename := flags.String("o", "", "output `filename` (e.g., './smear.png')")
	flags.StringVar(&cmd.comparison, "comparison", "", "comparison `name` to plot")
	cmd.classifier.Flags(flags)
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

	tbl, err := loadResultsFile(*inputFilename, stdin)
	if err != nil {
		return err
	}
	name, err := pickComparison(tbl, cmd.comparison)
	if err != nil {
		return err
	}

	plain := chart.ContinuousSeries{
		Name:  "genes",
		Style: chart.Style{StrokeWidth: chart.Disabled, DotWidth: 3, DotColor: chart.ColorLightGray},
	}
	deg := chart.ContinuousSeries{
		Name:  "DEG",
		Style: chart.Style{StrokeWidth: chart.Disabled, DotWidth: 4, DotColor: chart.ColorRed},
	}
	n := 0
	for _, row := range tbl.Rows {
		lfc, ok := row.LogFC[name]
		if !ok || math.IsNaN(lfc) || math.IsNaN(row.AveLogCPM) {
			continue
		}
		n++
		q, okq := row.FDR[name]
		if okq && !math.IsNaN(q) && q < cmd.classifier.FDRThreshold && math.Abs(lfc) >= cmd.classifier.LFCThreshold {
			deg.XValues = append(deg.XValues, row.AveLogCPM)
			deg.YValues = append(deg.YValues, lfc)
		} else {
			plain.XValues = append(plain.XValues, row.AveLogCPM)
			plain.YValues = append(plain.YValues, lfc)
		}
	}
	if n == 0 {
		return fmt.Errorf("no genes to plot for comparison %s", name)
	}
	log.Infof("plotting %d genes, %d DEGs", n, len(deg.XValues))

	graph := chart.Chart{
		Width:  800,
		Height: 600,
		XAxis:  chart.XAxis{Name: "average log2 CPM"},
		YAxis:  chart.YAxis{Name: "log2 fold change (" + name + ")"},
		Series: scatterSeries(plain, deg),
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return renderPNG(&graph, *outputFilename)
}

// scatterSeries drops empty series so go-chart does not reject the
// render when one class has no members.
func scatterSeries(series ...chart.ContinuousSeries) []chart.Series {
	var out []chart.Series
	for _, s := range series {
		if len(s.XValues) > 0 {
			out = append(out, s)
		}
	}
	return out
}

func pickComparison(tbl *resultsTable, name string) (string, error) {
	if name == "" {
		if len(tbl.Comparisons) == 1 {
			return tbl.Comparisons[0], nil
		}
		return "", fmt.Errorf("must specify -comparison (available: %s)", strings.Join(tbl.Comparisons, ", "))
	}
	for _, c := range tbl.Comparisons {
		if c == name {
			return name, nil
		}
	}
	return "", fmt.Errorf("unknown comparison %q (available: %s)", name, strings.Join(tbl.Comparisons, ", "))
}
