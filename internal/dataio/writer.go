package dataio

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/cwbudde/chisqfit/internal/fit"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteDataset writes d in the format Read accepts.
func WriteDataset(w io.Writer, d *fit.Dataset) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# %s\n# x\ty\te\n", d.Name())
	for i := 0; i < d.Len(); i++ {
		x, y, e := d.Point(i)
		fmt.Fprintf(bw, "%s\t%s\t%s\n", formatFloat(x), formatFloat(y), formatFloat(e))
	}
	return bw.Flush()
}

// WriteCurve writes a rendered model curve as "x y" rows.
func WriteCurve(w io.Writer, d *fit.Dataset) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# %s\n# x\ty\n", d.Name())
	for i := 0; i < d.Len(); i++ {
		x, y, _ := d.Point(i)
		fmt.Fprintf(bw, "%s\t%s\n", formatFloat(x), formatFloat(y))
	}
	return bw.Flush()
}

// WriteScan writes the objective profile of one confidence scan as
// "value objective" rows.
func WriteScan(w io.Writer, iv fit.Interval) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# p[%d] = %s  lower %s  upper %s  minimum %s\n",
		iv.Index, formatFloat(iv.Value), formatFloat(iv.Lower), formatFloat(iv.Upper), formatFloat(iv.Minimum))
	fmt.Fprint(bw, "# value\tobjective\n")
	for _, p := range iv.Scan {
		fmt.Fprintf(bw, "%s\t%s\n", formatFloat(p.Value), formatFloat(p.Objective))
	}
	return bw.Flush()
}
