package trainer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ratsch/bf2/internal/energy"
)

// Columns is the header of the diagnostics log.
var Columns = []string{
	"n", "time", "ll", "data_energy", "model_energy", "valiset_energy",
	"random_energy", "C_lens", "G_lens", "V_lens",
}

// na marks a value that was not computed.
const na = "NA"

// Record is one diagnostics line. NaN fields are written as NA.
type Record struct {
	N                int64
	Elapsed          time.Duration
	LL               float64
	DataEnergy       float64
	ModelEnergy      float64
	ValidationEnergy float64
	RandomEnergy     float64
	Norms            energy.Norms
}

// Fields returns the record formatted in Columns order.
func (r Record) Fields() []string {
	return []string{
		strconv.FormatInt(r.N, 10),
		strconv.FormatFloat(r.Elapsed.Seconds(), 'f', 3, 64),
		formatValue(r.LL),
		formatValue(r.DataEnergy),
		formatValue(r.ModelEnergy),
		formatValue(r.ValidationEnergy),
		formatValue(r.RandomEnergy),
		formatValue(r.Norms.C),
		formatValue(r.Norms.G),
		formatValue(r.Norms.V),
	}
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return na
	}
	return strconv.FormatFloat(v, 'g', 10, 64)
}

func parseValue(s string) (float64, error) {
	if s == na {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// diagnosticsLog writes tab-separated records, header first.
type diagnosticsLog struct {
	w      io.Writer
	header bool
}

func (d *diagnosticsLog) write(r Record) error {
	if !d.header {
		if _, err := io.WriteString(d.w, strings.Join(Columns, "\t")+"\n"); err != nil {
			return fmt.Errorf("writing diagnostics header: %w", err)
		}
		d.header = true
	}
	if _, err := io.WriteString(d.w, strings.Join(r.Fields(), "\t")+"\n"); err != nil {
		return fmt.Errorf("writing diagnostics record %d: %w", r.N, err)
	}
	return nil
}

// ReadDiagnostics parses a diagnostics log written by a Trainer.
func ReadDiagnostics(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = len(Columns)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading diagnostics header: %w", err)
	}
	if strings.Join(header, "\t") != strings.Join(Columns, "\t") {
		return nil, fmt.Errorf("unexpected diagnostics header %q", header)
	}

	var out []Record
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading diagnostics: %w", err)
		}

		n, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("diagnostics column n: %w", err)
		}
		values := make([]float64, len(fields)-1)
		for i, f := range fields[1:] {
			if values[i], err = parseValue(f); err != nil {
				return nil, fmt.Errorf("diagnostics column %s at n=%d: %w", Columns[i+1], n, err)
			}
		}
		out = append(out, Record{
			N:                n,
			Elapsed:          time.Duration(values[0] * float64(time.Second)),
			LL:               values[1],
			DataEnergy:       values[2],
			ModelEnergy:      values[3],
			ValidationEnergy: values[4],
			RandomEnergy:     values[5],
			Norms:            energy.Norms{C: values[6], G: values[7], V: values[8]},
		})
	}
}
