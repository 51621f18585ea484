// Package curves renders a diagnostics log as PNG line plots.
package curves

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/ratsch/bf2/internal/trainer"
)

// ErrNoData reports a plot without a single finite point.
var ErrNoData = errors.New("no data to plot")

// Figure size of every saved plot.
const (
	Width  = 8 * vg.Inch
	Height = 5 * vg.Inch
)

// Column selects one value of a record.
type Column struct {
	Name  string
	Value func(trainer.Record) float64
}

// Columns plotted by Energies, Norms and LogLikelihood.
var (
	EnergyColumns = []Column{
		{"data", func(r trainer.Record) float64 { return r.DataEnergy }},
		{"model", func(r trainer.Record) float64 { return r.ModelEnergy }},
		{"valiset", func(r trainer.Record) float64 { return r.ValidationEnergy }},
		{"random", func(r trainer.Record) float64 { return r.RandomEnergy }},
	}
	NormColumns = []Column{
		{"C", func(r trainer.Record) float64 { return r.Norms.C }},
		{"G", func(r trainer.Record) float64 { return r.Norms.G }},
		{"V", func(r trainer.Record) float64 { return r.Norms.V }},
	}
	LLColumns = []Column{
		{"ll", func(r trainer.Record) float64 { return r.LL }},
	}
)

// Series returns (n, value) points of one column. NA values are skipped.
func Series(records []trainer.Record, col Column) plotter.XYs {
	points := make(plotter.XYs, 0, len(records))
	for _, r := range records {
		v := col.Value(r)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		points = append(points, plotter.XY{X: float64(r.N), Y: v})
	}
	return points
}

// Lines builds a line plot of cols against the number of seen triples.
// Columns without finite values are left out.
func Lines(records []trainer.Record, title, ylabel string, cols []Column) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "triples seen"
	p.Y.Label.Text = ylabel
	p.Legend.Top = true

	var lines []any
	for _, col := range cols {
		points := Series(records, col)
		if len(points) == 0 {
			continue
		}
		lines = append(lines, col.Name, points)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%s: %w", title, ErrNoData)
	}
	if err := plotutil.AddLinePoints(p, lines...); err != nil {
		return nil, fmt.Errorf("%s: %w", title, err)
	}
	return p, nil
}

// Energies plots mean data, model, validation and random energies.
func Energies(records []trainer.Record) (*plot.Plot, error) {
	return Lines(records, "mean energies", "energy", EnergyColumns)
}

// Norms plots the mean embedding norms.
func Norms(records []trainer.Record) (*plot.Plot, error) {
	return Lines(records, "embedding norms", "mean norm", NormColumns)
}

// LogLikelihood plots the log-likelihood.
func LogLikelihood(records []trainer.Record) (*plot.Plot, error) {
	return Lines(records, "log-likelihood", "ll", LLColumns)
}

// SaveLog reads the diagnostics log at logPath and writes
// prefix_energy.png, prefix_lens.png and, when the log has
// log-likelihood values, prefix_ll.png. It returns the written paths.
func SaveLog(logPath, prefix string) ([]string, error) {
	//nolint:gosec // G304: log path comes from the user
	f, err := os.Open(logPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := trainer.ReadDiagnostics(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", logPath, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: %w", logPath, ErrNoData)
	}

	figures := []struct {
		suffix   string
		build    func([]trainer.Record) (*plot.Plot, error)
		optional bool
	}{
		{"_energy.png", Energies, false},
		{"_lens.png", Norms, false},
		{"_ll.png", LogLikelihood, true},
	}

	var written []string
	for _, fig := range figures {
		p, err := fig.build(records)
		if fig.optional && errors.Is(err, ErrNoData) {
			continue
		}
		if err != nil {
			return written, err
		}
		path := prefix + fig.suffix
		if err := p.Save(Width, Height, path); err != nil {
			return written, fmt.Errorf("saving %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}
