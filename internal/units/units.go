// Package units converts annotated physical quantities to and from the
// internal unit system.
//
// Every dimension has one canonical unit used for all internal computation:
// atomic units (bohr, atomic time, hartree, electron mass) for everything
// except temperature, which is kept in Kelvin. Conversions are linear: a
// quantity expressed in unit u equals value*factor(u) in canonical units.
//
//	dt, _ := units.ToInternal(units.Time, 0.5, "femtosecond")
//	fs, _ := units.Convert(dt, "atomic_unit", "femtosecond")
package units

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Dimension names a physical dimension in the registry.
type Dimension string

const (
	Time        Dimension = "time"
	Temperature Dimension = "temperature"
	Length      Dimension = "length"
	Pressure    Dimension = "pressure"
	Energy      Dimension = "energy"
	Mass        Dimension = "mass"
	Velocity    Dimension = "velocity"
	Force       Dimension = "force"
	Frequency   Dimension = "frequency"
	// Undefined is used for dimensionless values; only the empty unit is valid.
	Undefined Dimension = "undefined"
)

// Physical constants in internal units.
const (
	// Boltzmann constant in hartree per Kelvin.
	Kb = 3.1668116e-06
	// Hbar is unity in atomic units.
	Hbar = 1.0
	// Canonical is the explicit name of the canonical unit of every dimension.
	Canonical = "atomic_unit"
)

var ErrDimensionMismatch = errors.New("units: conversion between different dimensions")

// UnknownUnitError reports a unit string that is not registered.
type UnknownUnitError struct {
	Unit      string
	Dimension Dimension
}

func (e *UnknownUnitError) Error() string {
	if e.Dimension == "" {
		return fmt.Sprintf("units: unknown unit %q", e.Unit)
	}
	return fmt.Sprintf("units: unknown unit %q for dimension %s", e.Unit, e.Dimension)
}

// factors maps dimension -> unit -> multiplier to canonical units.
var factors = map[Dimension]map[string]float64{
	Undefined: {
		"": 1,
	},
	Time: {
		"atomic_unit": 1,
		"second":      4.1341373336e+16,
		"nanosecond":  4.1341373336e+7,
		"picosecond":  4.1341373336e+4,
		"femtosecond": 41.341373336,
	},
	Temperature: {
		"kelvin":      1,
		"millikelvin": 1e-3,
		"atomic_unit": 1 / Kb,
	},
	Length: {
		"atomic_unit": 1,
		"bohr":        1,
		"angstrom":    1.8897261,
		"nanometer":   18.897261,
		"picometer":   0.018897261,
		"meter":       1.8897261e+10,
	},
	Pressure: {
		"atomic_unit": 1,
		"bar":         3.398827377e-9,
		"atmosphere":  3.44386184e-9,
		"pascal":      3.398827377e-14,
		"megapascal":  3.398827377e-8,
		"gigapascal":  3.398827377e-5,
	},
	Energy: {
		"atomic_unit":   1,
		"hartree":       1,
		"millihartree":  1e-3,
		"rydberg":       0.5,
		"electronvolt":  0.036749326,
		"j/mol":         3.8087989e-7,
		"cal/mol":       1.5946679e-6,
		"kilojoule/mol": 3.8087989e-4,
		"kilocal/mol":   1.5946679e-3,
		"kelvin":        Kb,
	},
	Mass: {
		"atomic_unit":  1,
		"electronmass": 1,
		"dalton":       1822.8885,
	},
	Velocity: {
		"atomic_unit":          1,
		"m/s":                  4.5710289e-7,
		"angstrom/femtosecond": 1.8897261 / 41.341373336,
	},
	Force: {
		"atomic_unit":           1,
		"newton":                12137805,
		"electronvolt/angstrom": 0.019446904,
	},
	Frequency: {
		"atomic_unit": 1,
		"inversecm":   4.5563353e-06,
		"hertz":       2.4188843e-17,
		"terahertz":   2.4188843e-05,
	},
}

func normalize(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	switch u {
	case "au", "a.u.":
		return Canonical
	case "ev":
		return "electronvolt"
	case "fs":
		return "femtosecond"
	case "ps":
		return "picosecond"
	case "k":
		return "kelvin"
	case "amu":
		return "dalton"
	}
	return u
}

// Factor returns the multiplier that converts a value in unit to the
// canonical unit of dim. The empty unit is the canonical unit.
func Factor(dim Dimension, unit string) (float64, error) {
	table, ok := factors[dim]
	if !ok {
		return 0, fmt.Errorf("units: unknown dimension %q", dim)
	}
	u := normalize(unit)
	if u == "" {
		return 1, nil
	}
	f, ok := table[u]
	if !ok {
		return 0, &UnknownUnitError{Unit: unit, Dimension: dim}
	}
	return f, nil
}

// ToInternal converts value expressed in unit into canonical units of dim.
func ToInternal(dim Dimension, value float64, unit string) (float64, error) {
	f, err := Factor(dim, unit)
	if err != nil {
		return 0, err
	}
	return value * f, nil
}

// FromInternal converts a canonical value of dim into unit.
func FromInternal(dim Dimension, value float64, unit string) (float64, error) {
	f, err := Factor(dim, unit)
	if err != nil {
		return 0, err
	}
	return value / f, nil
}

// DimensionOf returns the dimensions that register unit. Some unit names are
// shared (atomic_unit, kelvin), so the result can hold more than one entry.
func DimensionOf(unit string) []Dimension {
	u := normalize(unit)
	var dims []Dimension
	for dim, table := range factors {
		if _, ok := table[u]; ok && dim != Undefined {
			dims = append(dims, dim)
		}
	}
	sort.Slice(dims, func(i, j int) bool { return dims[i] < dims[j] })
	return dims
}

// Convert converts value between two units of the same dimension. Units
// shared between dimensions resolve to the first dimension they have in
// common.
func Convert(value float64, from, to string) (float64, error) {
	fromDims := DimensionOf(from)
	if len(fromDims) == 0 {
		return 0, &UnknownUnitError{Unit: from}
	}
	toDims := DimensionOf(to)
	if len(toDims) == 0 {
		return 0, &UnknownUnitError{Unit: to}
	}
	for _, fd := range fromDims {
		for _, td := range toDims {
			if fd == td {
				return ConvertIn(fd, value, from, to)
			}
		}
	}
	return 0, fmt.Errorf("%w: %s -> %s", ErrDimensionMismatch, from, to)
}

// ConvertIn converts value between two units of an explicit dimension.
func ConvertIn(dim Dimension, value float64, from, to string) (float64, error) {
	internal, err := ToInternal(dim, value, from)
	if err != nil {
		return 0, err
	}
	return FromInternal(dim, internal, to)
}

// Units lists the registered unit names of dim, sorted.
func Units(dim Dimension) []string {
	table := factors[dim]
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dimensions lists the registered dimensions, sorted.
func Dimensions() []Dimension {
	dims := make([]Dimension, 0, len(factors))
	for d := range factors {
		if d != Undefined {
			dims = append(dims, d)
		}
	}
	sort.Slice(dims, func(i, j int) bool { return dims[i] < dims[j] })
	return dims
}
