package socket

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/san-kum/pimd/internal/dynamo"
)

// Message headers.
const (
	MsgStatus     = "STATUS"
	MsgReady      = "READY"
	MsgNeedInit   = "NEEDINIT"
	MsgHaveData   = "HAVEDATA"
	MsgInit       = "INIT"
	MsgPosData    = "POSDATA"
	MsgGetForce   = "GETFORCE"
	MsgForceReady = "FORCEREADY"
	MsgExit       = "EXIT"
)

// HeaderLen is the fixed width of a message header on the wire.
const HeaderLen = 12

// maxExtra bounds the free-form string attached to INIT and FORCEREADY.
const maxExtra = 1 << 20

// Codec is the wire contract between the launcher and a force engine.
type Codec interface {
	WriteHeader(w io.Writer, msg string) error
	ReadHeader(r io.Reader) (string, error)

	WriteInit(w io.Writer, bead int, params string) error
	ReadInit(r io.Reader) (bead int, params string, err error)

	WritePositions(w io.Writer, cell dynamo.Cell, q []float64) error
	ReadPositions(r io.Reader) (dynamo.Cell, []float64, error)

	WriteForces(w io.Writer, res *dynamo.ForceResult) error
	ReadForces(r io.Reader) (*dynamo.ForceResult, error)
}

// IPICodec speaks the i-PI layout: space padded 12 byte ASCII headers and
// little endian payloads. Matrices travel transposed (column-major), the
// way Fortran drivers expect them.
type IPICodec struct{}

var le = binary.LittleEndian

func (IPICodec) WriteHeader(w io.Writer, msg string) error {
	if len(msg) > HeaderLen {
		return fmt.Errorf("socket: header %q longer than %d bytes", msg, HeaderLen)
	}
	var buf [HeaderLen]byte
	copy(buf[:], msg)
	for i := len(msg); i < HeaderLen; i++ {
		buf[i] = ' '
	}
	_, err := w.Write(buf[:])
	return err
}

func (IPICodec) ReadHeader(r io.Reader) (string, error) {
	var buf [HeaderLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf[:], " \x00")), nil
}

func (c IPICodec) WriteInit(w io.Writer, bead int, params string) error {
	var buf bytes.Buffer
	if err := c.WriteHeader(&buf, MsgInit); err != nil {
		return err
	}
	binary.Write(&buf, le, int32(bead))
	binary.Write(&buf, le, int32(len(params)))
	buf.WriteString(params)
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadInit reads the INIT payload; the header has already been consumed.
func (IPICodec) ReadInit(r io.Reader) (int, string, error) {
	var bead int32
	if err := binary.Read(r, le, &bead); err != nil {
		return 0, "", err
	}
	params, err := readString(r)
	if err != nil {
		return 0, "", err
	}
	return int(bead), params, nil
}

func (c IPICodec) WritePositions(w io.Writer, cell dynamo.Cell, q []float64) error {
	hinv := [9]float64{}
	if !cell.IsZero() {
		var err error
		if hinv, err = cell.Inverse(); err != nil {
			return fmt.Errorf("%w: %v", dynamo.ErrInvalidState, err)
		}
	}

	var buf bytes.Buffer
	buf.Grow(HeaderLen + 8*(18+len(q)) + 4)
	if err := c.WriteHeader(&buf, MsgPosData); err != nil {
		return err
	}
	h := transpose(cell.H)
	hinv = transpose(hinv)
	binary.Write(&buf, le, h[:])
	binary.Write(&buf, le, hinv[:])
	binary.Write(&buf, le, int32(len(q)/3))
	binary.Write(&buf, le, q)
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadPositions reads the POSDATA payload; the header has already been
// consumed.
func (IPICodec) ReadPositions(r io.Reader) (dynamo.Cell, []float64, error) {
	var h, hinv [9]float64
	if err := binary.Read(r, le, h[:]); err != nil {
		return dynamo.Cell{}, nil, err
	}
	if err := binary.Read(r, le, hinv[:]); err != nil {
		return dynamo.Cell{}, nil, err
	}
	var natoms int32
	if err := binary.Read(r, le, &natoms); err != nil {
		return dynamo.Cell{}, nil, err
	}
	if natoms < 0 || natoms > math.MaxInt32/3 {
		return dynamo.Cell{}, nil, fmt.Errorf("socket: bad atom count %d", natoms)
	}
	q := make([]float64, 3*int(natoms))
	if err := binary.Read(r, le, q); err != nil {
		return dynamo.Cell{}, nil, err
	}
	return dynamo.Cell{H: transpose(h)}, q, nil
}

func (c IPICodec) WriteForces(w io.Writer, res *dynamo.ForceResult) error {
	var buf bytes.Buffer
	buf.Grow(HeaderLen + 8*(10+len(res.Forces)) + 8 + len(res.Extra))
	if err := c.WriteHeader(&buf, MsgForceReady); err != nil {
		return err
	}
	vir := transpose(res.Virial)
	binary.Write(&buf, le, res.Potential)
	binary.Write(&buf, le, int32(len(res.Forces)/3))
	binary.Write(&buf, le, res.Forces)
	binary.Write(&buf, le, vir[:])
	binary.Write(&buf, le, int32(len(res.Extra)))
	buf.WriteString(res.Extra)
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadForces reads the FORCEREADY payload; the header has already been
// consumed.
func (IPICodec) ReadForces(r io.Reader) (*dynamo.ForceResult, error) {
	res := &dynamo.ForceResult{}
	if err := binary.Read(r, le, &res.Potential); err != nil {
		return nil, err
	}
	var natoms int32
	if err := binary.Read(r, le, &natoms); err != nil {
		return nil, err
	}
	if natoms < 0 || natoms > math.MaxInt32/3 {
		return nil, fmt.Errorf("socket: bad atom count %d", natoms)
	}
	res.Forces = make([]float64, 3*int(natoms))
	if err := binary.Read(r, le, res.Forces); err != nil {
		return nil, err
	}
	var vir [9]float64
	if err := binary.Read(r, le, vir[:]); err != nil {
		return nil, err
	}
	res.Virial = transpose(vir)
	extra, err := readString(r)
	if err != nil {
		return nil, err
	}
	res.Extra = extra
	return res, nil
}

func readString(r io.Reader) (string, error) {
	var n int32
	if err := binary.Read(r, le, &n); err != nil {
		return "", err
	}
	if n < 0 || n > maxExtra {
		return "", fmt.Errorf("socket: bad string length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func transpose(m [9]float64) [9]float64 {
	var t [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t[j*3+i] = m[i*3+j]
		}
	}
	return t
}
