package dynamo

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"
)

func TestBeads_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		set   func(b *Beads)
		valid bool
	}{
		{"zeros", func(b *Beads) {}, true},
		{"normal", func(b *Beads) { b.Q[0][0] = 1.5; b.P[1][2] = -2 }, true},
		{"NaN position", func(b *Beads) { b.Q[1][0] = math.NaN() }, false},
		{"+Inf momentum", func(b *Beads) { b.P[0][1] = math.Inf(1) }, false},
		{"-Inf position", func(b *Beads) { b.Q[0][2] = math.Inf(-1) }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBeads(2, 1)
			tt.set(b)
			if got := b.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestBeads_Centroid(t *testing.T) {
	b := NewBeads(4, 1)
	for j := 0; j < 4; j++ {
		b.Q[j][0] = float64(j)
		b.P[j][1] = 2
	}

	c := b.Centroid()
	if math.Abs(c[0]-1.5) > 1e-12 {
		t.Errorf("centroid x = %v, want 1.5", c[0])
	}
	if pc := b.CentroidMomenta(); pc[1] != 2 {
		t.Errorf("centroid momentum y = %v, want 2", pc[1])
	}
}

func TestBeads_Clone(t *testing.T) {
	b := NewBeads(2, 2)
	b.Labels[0] = "H"
	b.Q[1][3] = 7

	c := b.Clone()
	c.Q[1][3] = 99
	c.Labels[0] = "O"

	if b.Q[1][3] != 7 || b.Labels[0] != "H" {
		t.Error("Clone did not create an independent copy")
	}
}

func TestCell_InverseAndVolume(t *testing.T) {
	c := OrthorhombicCell(2, 4, 5)
	ih, err := c.Inverse()
	if err != nil {
		t.Fatalf("inverse failed: %v", err)
	}
	want := [9]float64{0.5, 0, 0, 0, 0.25, 0, 0, 0, 0.2}
	for i := range want {
		if math.Abs(ih[i]-want[i]) > 1e-12 {
			t.Errorf("ih[%d] = %v, want %v", i, ih[i], want[i])
		}
	}
	if v := c.Volume(); math.Abs(v-40) > 1e-12 {
		t.Errorf("volume = %v, want 40", v)
	}

	abc := c.ABC()
	if abc[0] != 2 || abc[1] != 4 || abc[2] != 5 {
		t.Errorf("ABC lengths = %v", abc[:3])
	}
	if math.Abs(abc[3]-math.Pi/2) > 1e-12 {
		t.Errorf("alpha = %v, want pi/2", abc[3])
	}
}

func TestCell_ZeroIsNonPeriodic(t *testing.T) {
	var c Cell
	if !c.IsZero() {
		t.Fatal("zero cell not reported as zero")
	}
	q := []float64{100, -50, 3}
	if err := c.Wrap(q); err != nil {
		t.Fatal(err)
	}
	if q[0] != 100 || q[1] != -50 {
		t.Errorf("zero cell wrapped positions: %v", q)
	}
}

func TestCell_Wrap(t *testing.T) {
	c := OrthorhombicCell(10, 10, 10)
	q := []float64{12, -1, 5}
	if err := c.Wrap(q); err != nil {
		t.Fatal(err)
	}
	want := []float64{2, 9, 5}
	for i := range want {
		if math.Abs(q[i]-want[i]) > 1e-9 {
			t.Errorf("q[%d] = %v, want %v", i, q[i], want[i])
		}
	}
}

func TestForEach_Barrier(t *testing.T) {
	var done int32
	err := ForEach(context.Background(), 8, 3, func(ctx context.Context, i int) error {
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&done, 1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if done != 8 {
		t.Errorf("ForEach returned before all calls finished: %d/8", done)
	}
}

func TestForEach_FirstError(t *testing.T) {
	boom := errors.New("boom")
	err := ForEach(context.Background(), 4, 4, func(ctx context.Context, i int) error {
		if i == 2 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestSimulationError(t *testing.T) {
	inner := &OutputWriteError{Path: "out.xyz", Step: 5, Wrapped: errors.New("disk full")}
	err := &SimulationError{Step: 150, Time: 1.5, Wrapped: inner}

	expected := "step 150 (t=1.5000): output out.xyz at step 5: disk full"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
	var owe *OutputWriteError
	if !errors.As(err, &owe) {
		t.Error("errors.As did not find OutputWriteError")
	}
}
