package output

import (
	"bufio"
	"fmt"
	"os"

	"github.com/san-kum/pimd/internal/config"
	"github.com/san-kum/pimd/internal/dynamo"
	"github.com/san-kum/pimd/internal/properties"
	"github.com/san-kum/pimd/internal/units"
)

type column struct {
	config.Quantity
	dim units.Dimension
}

// propertiesTable writes one row of scalar properties per record, under a
// commented header naming each column and its unit.
type propertiesTable struct {
	stride  int
	path    string
	columns []column
	file    *os.File
	buf     *bufio.Writer
	closed  bool
}

func newPropertiesTable(prefix string, ch config.OutputChannel, opts Options) (*propertiesTable, error) {
	if len(ch.Quantities) == 0 {
		return nil, fmt.Errorf("output: properties %s lists no quantities", ch.Filename)
	}
	t := &propertiesTable{stride: ch.Stride, path: prefix + "." + ch.Filename}
	for _, q := range ch.Quantities {
		dim, ok := properties.ScalarDimension(q.Name)
		if !ok {
			return nil, fmt.Errorf("output: unknown property %q", q.Name)
		}
		if _, err := units.Factor(dim, q.Unit); err != nil {
			return nil, err
		}
		t.columns = append(t.columns, column{Quantity: q, dim: dim})
	}

	fresh := !opts.Resume
	if !fresh {
		if info, err := os.Stat(t.path); err != nil || info.Size() == 0 {
			fresh = true
		}
	}
	f, err := openStream(t.path, opts.Resume)
	if err != nil {
		return nil, err
	}
	t.file, t.buf = f, bufio.NewWriter(f)
	if fresh {
		if err := t.header(); err != nil {
			t.Close()
			return nil, err
		}
	}
	return t, nil
}

func (t *propertiesTable) header() error {
	for i, c := range t.columns {
		name := c.Name
		if c.Unit != "" {
			name += "{" + c.Unit + "}"
		}
		if _, err := fmt.Fprintf(t.buf, "# column %3d --> %s\n", i+1, name); err != nil {
			return &dynamo.OutputWriteError{Path: t.path, Step: -1, Wrapped: err}
		}
	}
	if err := t.buf.Flush(); err != nil {
		return &dynamo.OutputWriteError{Path: t.path, Step: -1, Wrapped: err}
	}
	return nil
}

func (t *propertiesTable) Stride() int     { return t.stride }
func (t *propertiesTable) Files() []string { return []string{t.path} }

func (t *propertiesTable) Write(step int, snap *Snapshot) error {
	for i, c := range t.columns {
		if i > 0 {
			t.buf.WriteByte(' ')
		}
		v, ok := snap.Properties[c.Name]
		if !ok {
			return &dynamo.OutputWriteError{Path: t.path, Step: step, Wrapped: fmt.Errorf("property %s not computed", c.Name)}
		}
		if c.Name == properties.Step {
			fmt.Fprintf(t.buf, "%10d", step)
			continue
		}
		v, err := units.FromInternal(c.dim, v, c.Unit)
		if err != nil {
			return &dynamo.OutputWriteError{Path: t.path, Step: step, Wrapped: err}
		}
		fmt.Fprintf(t.buf, "%16.8e", v)
	}
	t.buf.WriteByte('\n')
	if err := t.buf.Flush(); err != nil {
		return &dynamo.OutputWriteError{Path: t.path, Step: step, Wrapped: err}
	}
	return nil
}

func (t *propertiesTable) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	flushErr := t.buf.Flush()
	if err := t.file.Close(); err != nil {
		return &dynamo.OutputWriteError{Path: t.path, Step: -1, Wrapped: err}
	}
	if flushErr != nil {
		return &dynamo.OutputWriteError{Path: t.path, Step: -1, Wrapped: flushErr}
	}
	return nil
}
