package dataio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cwbudde/chisqfit/internal/fit"
)

var ErrColumns = errors.New("dataio: expected x y e columns")

// ParseError reports the line a dataset file failed on.
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Options controls dataset parsing.
type Options struct {
	// DefaultUncertainty, if positive, is used for lines with only x and y.
	DefaultUncertainty float64
}

// Read parses whitespace-separated "x y e" lines. Blank lines and lines
// starting with '#' are skipped; extra columns are ignored.
func Read(r io.Reader, name string, opts Options) (*fit.Dataset, error) {
	var x, y, e []float64

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 || (len(fields) == 2 && !(opts.DefaultUncertainty > 0)) {
			return nil, &ParseError{Line: line, Err: fmt.Errorf("%w, got %d", ErrColumns, len(fields))}
		}

		var vals [3]float64
		vals[2] = opts.DefaultUncertainty
		for i := 0; i < 3 && i < len(fields); i++ {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, &ParseError{Line: line, Err: err}
			}
			vals[i] = v
		}
		x = append(x, vals[0])
		y = append(y, vals[1])
		e = append(e, vals[2])
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}

	return fit.NewDataset(name, x, y, e)
}

// ReadFile reads a dataset file. The dataset is named after the file without
// its extension.
func ReadFile(path string, opts Options) (*fit.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	d, err := Read(f, name, opts)
	var pe *ParseError
	if errors.As(err, &pe) {
		pe.Path = path
	}
	return d, err
}
