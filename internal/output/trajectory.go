package output

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/san-kum/pimd/internal/config"
	"github.com/san-kum/pimd/internal/dynamo"
	"github.com/san-kum/pimd/internal/properties"
	"github.com/san-kum/pimd/internal/units"
)

type frame struct {
	step      int
	bead      int
	labels    []string
	values    []float64
	cell      dynamo.Cell
	quantity  config.Quantity
	cellUnits string
}

type frameWriter func(w io.Writer, f frame) error

type beadFile struct {
	bead int
	path string
	file *os.File
	buf  *bufio.Writer
}

type trajectory struct {
	stride    int
	quantity  config.Quantity
	dim       units.Dimension
	cellUnits string
	write     frameWriter
	files     []*beadFile
	closed    bool
}

func newTrajectory(prefix string, ch config.OutputChannel, opts Options) (*trajectory, error) {
	dim, ok := properties.TrajectoryDimension(ch.Quantity.Name)
	if !ok {
		return nil, fmt.Errorf("output: unknown trajectory quantity %q", ch.Quantity.Name)
	}
	format := ch.Format
	if format == "" {
		format = "xyz"
	}
	t := &trajectory{stride: ch.Stride, quantity: ch.Quantity, dim: dim, cellUnits: ch.CellUnits}
	switch format {
	case "xyz":
		t.write = writeXYZ
	case "pdb":
		t.write = writePDB
		if t.quantity.Unit == "" && dim == units.Length {
			t.quantity.Unit = "angstrom"
		}
	default:
		return nil, fmt.Errorf("output: unknown trajectory format %q", format)
	}
	if t.cellUnits == "" && dim == units.Length {
		t.cellUnits = t.quantity.Unit
	}
	if _, err := units.Factor(units.Length, t.cellUnits); err != nil {
		return nil, err
	}

	var beads []int
	switch {
	case properties.IsCentroid(ch.Quantity.Name):
		beads = []int{-1}
	case ch.Bead >= 0:
		if ch.Bead >= opts.NBeads {
			return nil, fmt.Errorf("%w: trajectory %s asks for bead %d of %d", dynamo.ErrParameterBounds, ch.Filename, ch.Bead, opts.NBeads)
		}
		beads = []int{ch.Bead}
	default:
		for j := 0; j < opts.NBeads; j++ {
			beads = append(beads, j)
		}
	}

	width := len(strconv.Itoa(max(opts.NBeads-1, 0)))
	for _, j := range beads {
		path := prefix + "." + ch.Filename
		if j >= 0 {
			path += fmt.Sprintf("_%0*d", width, j)
		}
		path += "." + format
		f, err := openStream(path, opts.Resume)
		if err != nil {
			t.Close()
			return nil, err
		}
		t.files = append(t.files, &beadFile{bead: j, path: path, file: f, buf: bufio.NewWriter(f)})
	}
	return t, nil
}

func (t *trajectory) Stride() int { return t.stride }

func (t *trajectory) Files() []string {
	paths := make([]string, len(t.files))
	for i, bf := range t.files {
		paths[i] = bf.path
	}
	return paths
}

func (t *trajectory) Write(step int, snap *Snapshot) error {
	for _, bf := range t.files {
		j := max(bf.bead, 0)
		raw := properties.Trajectory(t.quantity.Name, snap.Beads, snap.Forces, j)
		values := make([]float64, len(raw))
		for i, v := range raw {
			c, err := units.FromInternal(t.dim, v, t.quantity.Unit)
			if err != nil {
				return &dynamo.OutputWriteError{Path: bf.path, Step: step, Wrapped: err}
			}
			values[i] = c
		}
		f := frame{
			step:      step,
			bead:      bf.bead,
			labels:    snap.Beads.Labels,
			values:    values,
			cell:      snap.Cell,
			quantity:  t.quantity,
			cellUnits: t.cellUnits,
		}
		if err := t.write(bf.buf, f); err != nil {
			return &dynamo.OutputWriteError{Path: bf.path, Step: step, Wrapped: err}
		}
		if err := bf.buf.Flush(); err != nil {
			return &dynamo.OutputWriteError{Path: bf.path, Step: step, Wrapped: err}
		}
	}
	return nil
}

func (t *trajectory) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	var first error
	for _, bf := range t.files {
		if err := bf.buf.Flush(); err != nil && first == nil {
			first = &dynamo.OutputWriteError{Path: bf.path, Step: -1, Wrapped: err}
		}
		if err := bf.file.Close(); err != nil && first == nil {
			first = &dynamo.OutputWriteError{Path: bf.path, Step: -1, Wrapped: err}
		}
	}
	return first
}

// abc returns the cell lengths in the requested unit and the angles in
// degrees. A non-periodic system reports a zero box with right angles.
func (f frame) abc() ([6]float64, error) {
	abc := f.cell.ABC()
	for i := 0; i < 3; i++ {
		v, err := units.FromInternal(units.Length, abc[i], f.cellUnits)
		if err != nil {
			return abc, err
		}
		abc[i] = v
	}
	for i := 3; i < 6; i++ {
		abc[i] *= 180 / math.Pi
	}
	return abc, nil
}

func unitLabel(u string) string {
	if u == "" {
		return units.Canonical
	}
	return u
}

func writeXYZ(w io.Writer, f frame) error {
	abc, err := f.abc()
	if err != nil {
		return err
	}
	bead := "centroid"
	if f.bead >= 0 {
		bead = strconv.Itoa(f.bead)
	}
	if _, err := fmt.Fprintf(w, "%d\n# CELL(abcABC): %10.5f %10.5f %10.5f %10.5f %10.5f %10.5f  Step: %d  Bead: %s  %s{%s}  cell{%s}\n",
		len(f.labels), abc[0], abc[1], abc[2], abc[3], abc[4], abc[5],
		f.step, bead, f.quantity.Name, unitLabel(f.quantity.Unit), unitLabel(f.cellUnits)); err != nil {
		return err
	}
	for i, label := range f.labels {
		if _, err := fmt.Fprintf(w, "%8s %15.8e %15.8e %15.8e\n", label, f.values[3*i], f.values[3*i+1], f.values[3*i+2]); err != nil {
			return err
		}
	}
	return nil
}

func writePDB(w io.Writer, f frame) error {
	abc, err := f.abc()
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "CRYST1%9.3f%9.3f%9.3f%7.2f%7.2f%7.2f P 1           1\n",
		abc[0], abc[1], abc[2], abc[3], abc[4], abc[5]); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "REMARK Step: %d  Bead: %d  %s{%s}\n", f.step, f.bead, f.quantity.Name, unitLabel(f.quantity.Unit)); err != nil {
		return err
	}
	for i, label := range f.labels {
		if _, err := fmt.Fprintf(w, "ATOM  %5d %-4s %3s %1s%4d    %8.3f%8.3f%8.3f%6.2f%6.2f          %2s\n",
			i+1, label, "MOL", "A", 1, f.values[3*i], f.values[3*i+1], f.values[3*i+2], 1.0, 0.0, label); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(w, "END")
	return err
}
