// Package dataset reads and writes gzip-compressed triple files.
//
// A triple file is gzip-compressed text. The first line holds the
// vocabulary sizes "W R"; every following non-empty line holds one triple
// "s r t" as whitespace-separated integers.
package dataset

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/ratsch/bf2/internal/triple"
)

// ErrFormat reports a malformed triple file.
var ErrFormat = errors.New("malformed triple file")

// Reader streams triples from a gzip-compressed triple file.
// It implements triple.Source.
type Reader struct {
	gz      *gzip.Reader
	scanner *bufio.Scanner
	w, r    int
	line    int
}

var _ triple.Source = (*Reader)(nil)

// NewReader reads the header of a gzip-compressed triple stream.
func NewReader(src io.Reader) (*Reader, error) {
	gz, err := gzip.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}
	rd := &Reader{gz: gz, scanner: bufio.NewScanner(gz)}

	if !rd.scanner.Scan() {
		if err := rd.scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading header: %w", err)
		}
		return nil, fmt.Errorf("%w: missing header", ErrFormat)
	}
	rd.line = 1
	values, err := parseInts(rd.scanner.Text())
	if err != nil || len(values) != 2 || values[0] < 1 || values[1] < 1 {
		return nil, fmt.Errorf("%w: header %q, want two positive integers \"W R\"", ErrFormat, rd.scanner.Text())
	}
	rd.w, rd.r = values[0], values[1]
	return rd, nil
}

// VocabSizes returns W and R from the header.
func (rd *Reader) VocabSizes() (w, r int) {
	return rd.w, rd.r
}

// Next returns the next triple, or io.EOF at the end of the file.
// Bounds are not checked here: the trainer validates every triple.
func (rd *Reader) Next() (triple.Triple, error) {
	for rd.scanner.Scan() {
		rd.line++
		text := strings.TrimSpace(rd.scanner.Text())
		if text == "" {
			continue
		}
		values, err := parseInts(text)
		if err != nil || len(values) != 3 {
			return triple.Triple{}, fmt.Errorf("%w: line %d: %q, want \"s r t\"", ErrFormat, rd.line, text)
		}
		return triple.Triple{S: values[0], R: values[1], T: values[2]}, nil
	}
	if err := rd.scanner.Err(); err != nil {
		return triple.Triple{}, fmt.Errorf("reading line %d: %w", rd.line+1, err)
	}
	return triple.Triple{}, io.EOF
}

func parseInts(s string) ([]int, error) {
	fields := strings.Fields(s)
	out := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Stream is a Reader over an open file.
type Stream struct {
	*Reader
	file *os.File
}

// Open opens a triple file for streaming.
func Open(path string) (*Stream, error) {
	//nolint:gosec // G304: data file path comes from the user
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	rd, err := NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Stream{Reader: rd, file: f}, nil
}

// Close closes the gzip stream and the file.
func (s *Stream) Close() error {
	return errors.Join(s.gz.Close(), s.file.Close())
}

// Dataset is a fully materialized triple file.
type Dataset struct {
	W, R    int
	Triples []triple.Triple
}

// ReadAll reads a whole triple file into memory.
func ReadAll(path string) (*Dataset, error) {
	s, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	ds := &Dataset{W: s.w, R: s.r}
	for {
		t, err := s.Next()
		if errors.Is(err, io.EOF) {
			return ds, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		ds.Triples = append(ds.Triples, t)
	}
}

// Source returns a materialized source over the triples.
func (d *Dataset) Source() *triple.SliceSource {
	return triple.NewSliceSource(d.Triples)
}

// Shuffle permutes the triples in place.
func (d *Dataset) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(d.Triples), func(i, j int) {
		d.Triples[i], d.Triples[j] = d.Triples[j], d.Triples[i]
	})
}

// Write writes a gzip-compressed triple file to dst.
func Write(dst io.Writer, w, r int, ts []triple.Triple) error {
	gz := gzip.NewWriter(dst)
	bw := bufio.NewWriter(gz)
	if _, err := fmt.Fprintf(bw, "%d %d\n", w, r); err != nil {
		return err
	}
	for _, t := range ts {
		if _, err := fmt.Fprintln(bw, t.String()); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return gz.Close()
}

// WriteFile writes a triple file to path.
func WriteFile(path string, w, r int, ts []triple.Triple) (err error) {
	//nolint:gosec // G304: output path comes from the user
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return Write(f, w, r, ts)
}

// WriteTriples writes one "s r t" line per triple, uncompressed.
func WriteTriples(dst io.Writer, ts []triple.Triple) error {
	bw := bufio.NewWriter(dst)
	for _, t := range ts {
		if _, err := fmt.Fprintln(bw, t.String()); err != nil {
			return err
		}
	}
	return bw.Flush()
}
