package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/san-kum/pimd/internal/dynamo"
	"github.com/san-kum/pimd/internal/properties"
	"github.com/san-kum/pimd/internal/units"
)

// ParseOptions tune Parse.
type ParseOptions struct {
	// KeepPlaceholders leaves unresolved __NAME__ tokens in place instead of
	// failing. Fields holding one are left zero and listed in Unresolved.
	KeepPlaceholders bool
}

// Parse reads a simulation document, substituting placeholders from vars.
func Parse(r io.Reader, vars Vars) (*SimulationConfig, error) {
	return ParseWithOptions(r, vars, ParseOptions{})
}

func ParseFile(path string, vars Vars) (*SimulationConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f, vars)
}

func ParseWithOptions(r io.Reader, vars Vars, opts ParseOptions) (*SimulationConfig, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read document: %w", err)
	}

	doc, err := Substitute(raw, vars, opts.KeepPlaceholders)
	if err != nil {
		return nil, err
	}

	root, err := parseTree(doc)
	if err != nil {
		return nil, err
	}

	d := &decoder{
		opts:    opts,
		lines:   make(map[string]int),
		skipped: make(map[string]bool),
	}
	cfg, err := d.simulation(root)
	if err != nil {
		return nil, err
	}
	if err := d.validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseBytes is Parse over an in-memory document.
func ParseBytes(doc []byte, vars Vars) (*SimulationConfig, error) {
	return Parse(bytes.NewReader(doc), vars)
}

type decoder struct {
	opts ParseOptions
	// lines maps validator namespaces to the line that set the field.
	lines map[string]int
	// skipped holds namespaces whose value was a placeholder.
	skipped    map[string]bool
	unresolved []string
	pending    []Placeholder
}

func (d *decoder) errorf(n *node, format string, args ...any) error {
	return &ParseError{Field: n.path, Line: n.line, Msg: fmt.Sprintf(format, args...)}
}

func (d *decoder) mark(ns string, n *node) {
	d.lines[ns] = n.line
}

// placeholder reports whether s is a template token kept by
// KeepPlaceholders, recording the field as unresolved.
func (d *decoder) placeholder(ns string, n *node, s string) bool {
	if !d.opts.KeepPlaceholders || !isPlaceholder(s) {
		return false
	}
	d.skipped[ns] = true
	d.unresolved = append(d.unresolved, n.path)
	m := placeholderRe.FindStringSubmatch(s)
	d.pending = append(d.pending, Placeholder{Name: m[1], Line: n.line})
	return true
}

func (d *decoder) checkAttrs(n *node, allowed ...string) error {
	for _, a := range n.attrs {
		ok := false
		for _, name := range allowed {
			if a.Name.Local == name {
				ok = true
				break
			}
		}
		if !ok {
			return &ParseError{
				Field: n.path + "@" + a.Name.Local,
				Line:  n.line,
				Msg:   "unrecognized attribute",
			}
		}
	}
	return nil
}

func (d *decoder) unknownChild(c *node) error {
	return &ParseError{Field: c.path, Line: c.line, Msg: "unrecognized element"}
}

func (d *decoder) int(ns string, n *node, s string) (int, error) {
	s = strings.TrimSpace(s)
	if d.placeholder(ns, n, s) {
		return 0, nil
	}
	d.mark(ns, n)
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ParseError{Field: n.path, Line: n.line, Msg: fmt.Sprintf("expected an integer, got %q", s)}
	}
	return v, nil
}

func (d *decoder) int64(ns string, n *node, s string) (int64, error) {
	s = strings.TrimSpace(s)
	if d.placeholder(ns, n, s) {
		return 0, nil
	}
	d.mark(ns, n)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &ParseError{Field: n.path, Line: n.line, Msg: fmt.Sprintf("expected an integer, got %q", s)}
	}
	return v, nil
}

func (d *decoder) float(ns string, n *node, s string) (float64, error) {
	s = strings.TrimSpace(s)
	if d.placeholder(ns, n, s) {
		return 0, nil
	}
	d.mark(ns, n)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &ParseError{Field: n.path, Line: n.line, Msg: fmt.Sprintf("expected a number, got %q", s)}
	}
	return v, nil
}

func (d *decoder) bool(ns string, n *node, s string) (bool, error) {
	s = strings.TrimSpace(s)
	if d.placeholder(ns, n, s) {
		return false, nil
	}
	d.mark(ns, n)
	v, err := strconv.ParseBool(strings.ToLower(s))
	if err != nil {
		return false, &ParseError{Field: n.path, Line: n.line, Msg: fmt.Sprintf("expected true or false, got %q", s)}
	}
	return v, nil
}

// quantity reads the element text as a number in the unit named by its
// units attribute and converts it to internal units.
func (d *decoder) quantity(ns string, n *node, dim units.Dimension) (float64, error) {
	if err := d.checkAttrs(n, "units"); err != nil {
		return 0, err
	}
	v, err := d.float(ns, n, n.text)
	if err != nil {
		return 0, err
	}
	unit, _ := n.attr("units")
	return d.convert(n, dim, v, unit)
}

func (d *decoder) convert(n *node, dim units.Dimension, v float64, unit string) (float64, error) {
	out, err := units.ToInternal(dim, v, unit)
	if err != nil {
		return 0, &ParseError{Field: n.path + "@units", Line: n.line, Err: err}
	}
	return out, nil
}

func (d *decoder) floats(ns string, n *node) ([]float64, error) {
	fields := splitList(n.text)
	if len(fields) == 1 && d.placeholder(ns, n, fields[0]) {
		return nil, nil
	}
	d.mark(ns, n)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, &ParseError{Field: n.path, Line: n.line, Msg: fmt.Sprintf("element %d: expected a number, got %q", i, f)}
		}
		out[i] = v
	}
	return out, nil
}

func (d *decoder) ints(ns string, n *node) ([]int, error) {
	fields := splitList(n.text)
	if len(fields) == 1 && d.placeholder(ns, n, fields[0]) {
		return nil, nil
	}
	d.mark(ns, n)
	out := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, &ParseError{Field: n.path, Line: n.line, Msg: fmt.Sprintf("element %d: expected an integer, got %q", i, f)}
		}
		out[i] = v
	}
	return out, nil
}

// splitList accepts "[a, b, c]" as well as whitespace separated values.
func splitList(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
}

func (d *decoder) simulation(root *node) (*SimulationConfig, error) {
	if root.name != "simulation" {
		return nil, d.errorf(root, "root element must be <simulation>, got <%s>", root.name)
	}
	if err := d.checkAttrs(root, "verbosity"); err != nil {
		return nil, err
	}

	cfg := &SimulationConfig{Verbosity: Low}
	if v, ok := root.attr("verbosity"); ok {
		cfg.Verbosity = Verbosity(strings.ToLower(v))
		d.mark("SimulationConfig.Verbosity", root)
	}

	seen := make(map[string]bool)
	var system *node
	for _, c := range root.children {
		if seen[c.name] {
			return nil, d.errorf(c, "element may appear only once")
		}
		seen[c.name] = true

		var err error
		switch c.name {
		case "total_steps":
			err = d.checkAttrs(c)
			if err == nil {
				cfg.TotalSteps, err = d.int("SimulationConfig.TotalSteps", c, c.text)
			}
		case "step":
			err = d.checkAttrs(c)
			if err == nil {
				cfg.Step, err = d.int("SimulationConfig.Step", c, c.text)
			}
		case "total_time":
			cfg.TotalTime, err = d.quantity("SimulationConfig.TotalTime", c, units.Undefined)
		case "prng":
			err = d.prng(c, cfg)
		case "ffsocket", "ffharmonic", "ffdoublewell", "fflj":
			if cfg.Socket != nil || cfg.Potential != nil {
				return nil, d.errorf(c, "exactly one force provider may be declared")
			}
			if c.name == "ffsocket" {
				cfg.Socket, err = d.socket(c)
			} else {
				cfg.Potential, err = d.potential(c)
			}
		case "output":
			cfg.Output, err = d.output(c)
		case "system":
			system = c
		default:
			return nil, d.unknownChild(c)
		}
		if err != nil {
			return nil, err
		}
	}

	if cfg.Socket == nil && cfg.Potential == nil {
		return nil, d.errorf(root, "no force provider declared (ffsocket, ffharmonic, ffdoublewell or fflj)")
	}
	if system == nil {
		return nil, d.errorf(root, "missing <system>")
	}
	if !seen["total_steps"] {
		return nil, d.errorf(root, "missing <total_steps>")
	}
	if !seen["output"] {
		cfg.Output = OutputConfig{Prefix: DefaultPrefix}
	}

	sys, err := d.system(system, cfg.ProviderName())
	if err != nil {
		return nil, err
	}
	cfg.System = sys
	cfg.Unresolved = d.unresolved
	cfg.pending = d.pending
	return cfg, nil
}

func (d *decoder) prng(n *node, cfg *SimulationConfig) error {
	if err := d.checkAttrs(n); err != nil {
		return err
	}
	for _, c := range n.children {
		if c.name != "seed" {
			return d.unknownChild(c)
		}
		if err := d.checkAttrs(c); err != nil {
			return err
		}
		seed, err := d.int64("SimulationConfig.Seed", c, c.text)
		if err != nil {
			return err
		}
		cfg.Seed = seed
	}
	return nil
}

func (d *decoder) socket(n *node) (*SocketConfig, error) {
	if err := d.checkAttrs(n, "name", "mode", "pbc"); err != nil {
		return nil, err
	}
	const ns = "SimulationConfig.Socket."
	s := &SocketConfig{
		Mode:    Unix,
		PBC:     true,
		Address: DefaultAddress,
		Slots:   DefaultSlots,
		Latency: DefaultLatency,
		Retries: DefaultRetries,
	}
	s.Name, _ = n.attr("name")
	d.mark(ns+"Name", n)
	if m, ok := n.attr("mode"); ok {
		switch strings.ToLower(m) {
		case "unix":
			s.Mode = Unix
		case "inet", "internet":
			s.Mode = Inet
		default:
			return nil, &ParseError{Field: n.path + "@mode", Line: n.line, Msg: fmt.Sprintf("unknown socket mode %q (want unix or inet)", m)}
		}
	}
	if p, ok := n.attr("pbc"); ok {
		var err error
		if s.PBC, err = d.bool(ns+"PBC", n, p); err != nil {
			return nil, err
		}
	}

	for _, c := range n.children {
		var err error
		switch c.name {
		case "address":
			err = d.checkAttrs(c)
			s.Address = c.text
			d.mark(ns+"Address", c)
		case "port":
			if err = d.checkAttrs(c); err == nil {
				s.Port, err = d.int(ns+"Port", c, c.text)
			}
		case "slots":
			if err = d.checkAttrs(c); err == nil {
				s.Slots, err = d.int(ns+"Slots", c, c.text)
			}
		case "latency":
			s.Latency, err = d.quantity(ns+"Latency", c, units.Undefined)
		case "timeout":
			s.Timeout, err = d.quantity(ns+"Timeout", c, units.Undefined)
		case "retries":
			if err = d.checkAttrs(c); err == nil {
				s.Retries, err = d.int(ns+"Retries", c, c.text)
			}
		case "parameters":
			err = d.checkAttrs(c)
			s.Parameters = c.text
		default:
			return nil, d.unknownChild(c)
		}
		if err != nil {
			return nil, err
		}
	}

	if s.Mode == Inet && s.Port > 0 && s.Port < 1025 {
		logrus.WithFields(logrus.Fields{"socket": s.Name, "port": s.Port}).
			Warn("low port number; ports below 1025 are usually reserved")
	}
	return s, nil
}

func (d *decoder) potential(n *node) (*PotentialConfig, error) {
	if err := d.checkAttrs(n, "name", "pbc"); err != nil {
		return nil, err
	}
	const ns = "SimulationConfig.Potential."
	p := &PotentialConfig{}
	p.Name, _ = n.attr("name")
	d.mark(ns+"Name", n)
	if v, ok := n.attr("pbc"); ok {
		var err error
		if p.PBC, err = d.bool(ns+"PBC", n, v); err != nil {
			return nil, err
		}
	}

	type param struct {
		field *float64
		ns    string
		dim   units.Dimension
	}
	var params map[string]param
	switch n.name {
	case "ffharmonic":
		p.Kind = Harmonic
		params = map[string]param{"k": {&p.K, "K", units.Undefined}}
	case "ffdoublewell":
		p.Kind = DoubleWell
		params = map[string]param{
			"a": {&p.A, "A", units.Undefined},
			"b": {&p.B, "B", units.Undefined},
		}
	case "fflj":
		p.Kind = LennardJones
		params = map[string]param{
			"epsilon": {&p.Epsilon, "Epsilon", units.Energy},
			"sigma":   {&p.Sigma, "Sigma", units.Length},
			"cutoff":  {&p.Cutoff, "Cutoff", units.Length},
		}
	}

	for _, c := range n.children {
		pm, ok := params[c.name]
		if !ok {
			return nil, d.unknownChild(c)
		}
		v, err := d.quantity(ns+pm.ns, c, pm.dim)
		if err != nil {
			return nil, err
		}
		*pm.field = v
	}
	return p, nil
}

func (d *decoder) output(n *node) (OutputConfig, error) {
	out := OutputConfig{Prefix: DefaultPrefix}
	if err := d.checkAttrs(n, "prefix"); err != nil {
		return out, err
	}
	if p, ok := n.attr("prefix"); ok {
		out.Prefix = p
	}

	for i, c := range n.children {
		ns := fmt.Sprintf("SimulationConfig.Output.Channels[%d].", i)
		var (
			ch  OutputChannel
			err error
		)
		switch c.name {
		case "trajectory":
			ch, err = d.trajectory(ns, c)
		case "properties":
			ch, err = d.propertiesChannel(ns, c)
		case "checkpoint":
			ch, err = d.checkpoint(ns, c)
		default:
			return out, d.unknownChild(c)
		}
		if err != nil {
			return out, err
		}
		out.Channels = append(out.Channels, ch)
	}
	return out, nil
}

func (d *decoder) stride(ns string, n *node) (int, error) {
	s, ok := n.attr("stride")
	if !ok {
		d.mark(ns+"Stride", n)
		return 1, nil
	}
	return d.int(ns+"Stride", n, s)
}

func (d *decoder) trajectory(ns string, n *node) (OutputChannel, error) {
	ch := OutputChannel{Kind: TrajectoryChannel, Format: "xyz", Bead: AllBeads}
	if err := d.checkAttrs(n, "filename", "stride", "format", "cell_units", "bead"); err != nil {
		return ch, err
	}
	var err error
	if ch.Stride, err = d.stride(ns, n); err != nil {
		return ch, err
	}
	if f, ok := n.attr("format"); ok {
		ch.Format = strings.ToLower(f)
		d.mark(ns+"Format", n)
	}
	if b, ok := n.attr("bead"); ok {
		if ch.Bead, err = d.int(ns+"Bead", n, b); err != nil {
			return ch, err
		}
	}
	if cu, ok := n.attr("cell_units"); ok {
		if _, err := units.Factor(units.Length, cu); err != nil {
			return ch, &ParseError{Field: n.path + "@cell_units", Line: n.line, Err: err}
		}
		ch.CellUnits = cu
	}

	q, err := d.quantityRef(n, strings.TrimSpace(n.text), true)
	if err != nil {
		return ch, err
	}
	ch.Quantity = q
	ch.Filename, _ = n.attr("filename")
	if ch.Filename == "" {
		ch.Filename = q.Name
	}
	d.mark(ns+"Filename", n)
	return ch, nil
}

func (d *decoder) propertiesChannel(ns string, n *node) (OutputChannel, error) {
	ch := OutputChannel{Kind: PropertiesChannel, Filename: "properties"}
	if err := d.checkAttrs(n, "filename", "stride"); err != nil {
		return ch, err
	}
	var err error
	if ch.Stride, err = d.stride(ns, n); err != nil {
		return ch, err
	}
	if f, ok := n.attr("filename"); ok {
		ch.Filename = f
	}
	d.mark(ns+"Filename", n)

	for _, item := range splitProperties(n.text) {
		q, err := d.quantityRef(n, item, false)
		if err != nil {
			return ch, err
		}
		ch.Quantities = append(ch.Quantities, q)
	}
	if len(ch.Quantities) == 0 {
		return ch, d.errorf(n, "no properties listed")
	}
	return ch, nil
}

// splitProperties splits "[ step, time{picosecond} ]" into its items.
func splitProperties(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// quantityRef parses "name{unit}" and checks both against the property
// registry.
func (d *decoder) quantityRef(n *node, s string, trajectory bool) (Quantity, error) {
	name, unit := s, ""
	if i := strings.Index(s, "{"); i >= 0 {
		if !strings.HasSuffix(s, "}") {
			return Quantity{}, d.errorf(n, "malformed quantity %q", s)
		}
		name, unit = strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:len(s)-1])
	}

	var (
		dim units.Dimension
		ok  bool
	)
	if trajectory {
		dim, ok = properties.TrajectoryDimension(name)
	} else {
		dim, ok = properties.ScalarDimension(name)
	}
	if !ok {
		return Quantity{}, d.errorf(n, "unknown quantity %q", name)
	}
	if unit != "" {
		if _, err := units.Factor(dim, unit); err != nil {
			return Quantity{}, &ParseError{Field: n.path, Line: n.line, Msg: fmt.Sprintf("quantity %s", name), Err: err}
		}
	}
	return Quantity{Name: name, Unit: unit}, nil
}

func (d *decoder) checkpoint(ns string, n *node) (OutputChannel, error) {
	ch := OutputChannel{Kind: CheckpointChannel, Filename: DefaultCheckpoint, Overwrite: true}
	if err := d.checkAttrs(n, "filename", "stride", "overwrite"); err != nil {
		return ch, err
	}
	var err error
	if ch.Stride, err = d.stride(ns, n); err != nil {
		return ch, err
	}
	if f, ok := n.attr("filename"); ok {
		ch.Filename = f
	}
	d.mark(ns+"Filename", n)
	if o, ok := n.attr("overwrite"); ok {
		if ch.Overwrite, err = d.bool(ns+"Overwrite", n, o); err != nil {
			return ch, err
		}
	}
	return ch, nil
}

func (d *decoder) system(n *node, provider string) (SystemConfig, error) {
	sys := SystemConfig{NBeads: 1, Velocities: VelocitiesConfig{Mode: "none"}}
	if err := d.checkAttrs(n); err != nil {
		return sys, err
	}

	seen := make(map[string]bool)
	for _, c := range n.children {
		if seen[c.name] {
			return sys, d.errorf(c, "element may appear only once")
		}
		seen[c.name] = true

		var err error
		switch c.name {
		case "initialize":
			err = d.initialize(c, &sys)
		case "forces":
			err = d.forces(c, &sys, provider)
		case "ensemble":
			err = d.ensemble(c, &sys)
		case "motion":
			sys.Motion, err = d.motion(c, "SimulationConfig.System.Motion")
		default:
			return sys, d.unknownChild(c)
		}
		if err != nil {
			return sys, err
		}
	}

	for _, required := range []string{"initialize", "forces", "motion"} {
		if !seen[required] {
			return sys, d.errorf(n, "missing <%s>", required)
		}
	}

	if dm, ok := sys.Motion.(DynamicsMotion); ok && dm.Ensemble == "nvt" && sys.Temperature <= 0 {
		return sys, d.errorf(n, "nvt dynamics requires a positive ensemble temperature")
	}
	if sys.Velocities.Mode == "thermal" && sys.Velocities.Temperature == 0 {
		sys.Velocities.Temperature = sys.Temperature
	}
	return sys, nil
}

func (d *decoder) initialize(n *node, sys *SystemConfig) error {
	if err := d.checkAttrs(n, "nbeads"); err != nil {
		return err
	}
	const ns = "SimulationConfig.System."
	if v, ok := n.attr("nbeads"); ok {
		var err error
		if sys.NBeads, err = d.int(ns+"NBeads", n, v); err != nil {
			return err
		}
	}
	sys.Init.Mode = InitInline

	var posUnit, massUnit string
	for _, c := range n.children {
		var err error
		switch c.name {
		case "file":
			err = d.initFile(c, sys)
		case "positions":
			if err = d.checkAttrs(c, "units"); err == nil {
				posUnit, _ = c.attr("units")
				sys.Init.Positions, err = d.floats(ns+"Init.Positions", c)
				if err == nil {
					err = d.scale(c, units.Length, posUnit, sys.Init.Positions)
				}
			}
		case "labels":
			if err = d.checkAttrs(c); err == nil {
				sys.Init.Labels = splitList(c.text)
			}
		case "masses":
			if err = d.checkAttrs(c, "units"); err == nil {
				massUnit, _ = c.attr("units")
				if massUnit == "" {
					massUnit = "dalton"
				}
				sys.Init.Masses, err = d.floats(ns+"Init.Masses", c)
				if err == nil {
					err = d.scale(c, units.Mass, massUnit, sys.Init.Masses)
				}
			}
		case "cell":
			err = d.cell(c, sys)
		case "velocities":
			err = d.velocities(c, sys)
		default:
			return d.unknownChild(c)
		}
		if err != nil {
			return err
		}
	}

	if sys.Init.Mode == InitCheckpoint {
		return nil
	}
	if len(sys.Init.Positions) == 0 {
		if d.skipped[ns+"Init.Positions"] {
			return nil
		}
		return d.errorf(n, "no initial positions: give <positions> or <file mode=\"chk\">")
	}
	if len(sys.Init.Positions)%3 != 0 {
		return d.errorf(n, "positions length %d is not a multiple of 3", len(sys.Init.Positions))
	}
	natoms := len(sys.Init.Positions) / 3
	if len(sys.Init.Labels) == 0 {
		return d.errorf(n, "missing <labels>")
	}
	if len(sys.Init.Labels) != natoms {
		return d.errorf(n, "%d labels for %d atoms", len(sys.Init.Labels), natoms)
	}
	if len(sys.Init.Masses) == 0 {
		masses, err := DefaultMasses(sys.Init.Labels)
		if err != nil {
			return &ParseError{Field: n.path + "/labels", Line: n.line, Err: err}
		}
		sys.Init.Masses = masses
	}
	if len(sys.Init.Masses) != natoms {
		return d.errorf(n, "%d masses for %d atoms", len(sys.Init.Masses), natoms)
	}
	if sys.Velocities.Mode == "manual" && len(sys.Velocities.Values) != 3*natoms {
		return d.errorf(n, "manual velocities need %d values, got %d", 3*natoms, len(sys.Velocities.Values))
	}
	return nil
}

func (d *decoder) scale(n *node, dim units.Dimension, unit string, xs []float64) error {
	f, err := units.Factor(dim, unit)
	if err != nil {
		return &ParseError{Field: n.path + "@units", Line: n.line, Err: err}
	}
	for i := range xs {
		xs[i] *= f
	}
	return nil
}

func (d *decoder) initFile(n *node, sys *SystemConfig) error {
	if err := d.checkAttrs(n, "mode", "units"); err != nil {
		return err
	}
	mode, _ := n.attr("mode")
	switch strings.ToLower(mode) {
	case "chk", "checkpoint":
		sys.Init.Mode = InitCheckpoint
		sys.Init.File = n.text
		d.mark("SimulationConfig.System.Init.File", n)
		return nil
	case "xyz", "pdb":
		return &ParseError{Field: n.path + "@mode", Line: n.line, Msg: fmt.Sprintf("reading %s structure files is not supported; use inline <positions> or a checkpoint", mode)}
	}
	return &ParseError{Field: n.path + "@mode", Line: n.line, Msg: fmt.Sprintf("unknown file mode %q", mode)}
}

func (d *decoder) cell(n *node, sys *SystemConfig) error {
	if err := d.checkAttrs(n, "mode", "units"); err != nil {
		return err
	}
	vals, err := d.floats("SimulationConfig.System.Cell", n)
	if err != nil || vals == nil {
		return err
	}
	unit, _ := n.attr("units")
	if err := d.scale(n, units.Length, unit, vals); err != nil {
		return err
	}

	mode, _ := n.attr("mode")
	if mode == "" {
		mode = "manual"
	}
	switch mode {
	case "abc":
		if len(vals) != 3 {
			return d.errorf(n, "abc cell needs 3 values, got %d", len(vals))
		}
		sys.Cell = dynamo.OrthorhombicCell(vals[0], vals[1], vals[2])
	case "manual":
		if len(vals) != 9 {
			return d.errorf(n, "manual cell needs 9 values, got %d", len(vals))
		}
		copy(sys.Cell.H[:], vals)
	default:
		return &ParseError{Field: n.path + "@mode", Line: n.line, Msg: fmt.Sprintf("unknown cell mode %q (want abc or manual)", mode)}
	}
	if !sys.Cell.IsZero() && sys.Cell.Volume() <= 0 {
		return d.errorf(n, "cell is singular")
	}
	return nil
}

func (d *decoder) velocities(n *node, sys *SystemConfig) error {
	if err := d.checkAttrs(n, "mode", "units"); err != nil {
		return err
	}
	const ns = "SimulationConfig.System.Velocities."
	mode, _ := n.attr("mode")
	unit, _ := n.attr("units")
	sys.Velocities.Mode = strings.ToLower(mode)
	d.mark(ns+"Mode", n)

	switch sys.Velocities.Mode {
	case "thermal":
		if n.text == "" {
			return nil
		}
		t, err := d.float(ns+"Temperature", n, n.text)
		if err != nil {
			return err
		}
		sys.Velocities.Temperature, err = d.convert(n, units.Temperature, t, unit)
		return err
	case "manual":
		vals, err := d.floats(ns+"Values", n)
		if err != nil {
			return err
		}
		if err := d.scale(n, units.Velocity, unit, vals); err != nil {
			return err
		}
		sys.Velocities.Values = vals
		return nil
	}
	return &ParseError{Field: n.path + "@mode", Line: n.line, Msg: fmt.Sprintf("unknown velocities mode %q (want thermal or manual)", mode)}
}

func (d *decoder) forces(n *node, sys *SystemConfig, provider string) error {
	if err := d.checkAttrs(n); err != nil {
		return err
	}
	for _, c := range n.children {
		if c.name != "force" {
			return d.unknownChild(c)
		}
		if err := d.checkAttrs(c, "forcefield"); err != nil {
			return err
		}
		if sys.Forces != "" {
			return d.errorf(c, "exactly one force component is supported")
		}
		ff, _ := c.attr("forcefield")
		if ff != provider {
			return &ParseError{Field: c.path + "@forcefield", Line: c.line, Msg: fmt.Sprintf("unknown forcefield %q (declared: %q)", ff, provider)}
		}
		sys.Forces = ff
		d.mark("SimulationConfig.System.Forces", c)
	}
	if sys.Forces == "" {
		return d.errorf(n, "no <force> component")
	}
	return nil
}

func (d *decoder) ensemble(n *node, sys *SystemConfig) error {
	if err := d.checkAttrs(n); err != nil {
		return err
	}
	for _, c := range n.children {
		if c.name != "temperature" {
			return d.unknownChild(c)
		}
		t, err := d.quantity("SimulationConfig.System.Temperature", c, units.Temperature)
		if err != nil {
			return err
		}
		sys.Temperature = t
	}
	return nil
}

func (d *decoder) motion(n *node, ns string) (Motion, error) {
	if err := d.checkAttrs(n, "mode"); err != nil {
		return nil, err
	}
	mode, _ := n.attr("mode")
	switch strings.ToLower(mode) {
	case "dynamics":
		return d.dynamicsMotion(n, ns)
	case "multi":
		var mm MultiMotion
		for i, c := range n.children {
			if c.name != "motion" {
				return nil, d.unknownChild(c)
			}
			m, err := d.motion(c, fmt.Sprintf("%s.Motions[%d]", ns, i))
			if err != nil {
				return nil, err
			}
			mm.Motions = append(mm.Motions, m)
		}
		if len(mm.Motions) == 0 {
			return nil, d.errorf(n, "multi motion has no children")
		}
		return mm, nil
	case "minimize":
		return d.minimizeMotion(n, ns)
	case "dummy":
		if len(n.children) > 0 {
			return nil, d.unknownChild(n.children[0])
		}
		return DummyMotion{}, nil
	}
	return nil, &ParseError{Field: n.path + "@mode", Line: n.line, Msg: fmt.Sprintf("unknown motion mode %q (want dynamics, minimize, multi or dummy)", mode)}
}

func (d *decoder) dynamicsMotion(n *node, ns string) (Motion, error) {
	var (
		dm  DynamicsMotion
		dyn *node
	)
	for _, c := range n.children {
		var err error
		switch c.name {
		case "dynamics":
			if dyn != nil {
				return nil, d.errorf(c, "element may appear only once")
			}
			dyn = c
		case "fixcom":
			if err = d.checkAttrs(c); err == nil {
				dm.FixCOM, err = d.bool(ns+".FixCOM", c, c.text)
			}
		default:
			return nil, d.unknownChild(c)
		}
		if err != nil {
			return nil, err
		}
	}
	if dyn == nil {
		return nil, d.errorf(n, "dynamics motion needs a <dynamics> block")
	}

	if err := d.checkAttrs(dyn, "mode"); err != nil {
		return nil, err
	}
	mode, _ := dyn.attr("mode")
	dm.Ensemble = strings.ToLower(mode)
	switch dm.Ensemble {
	case "nve", "nvt":
	case "npt", "nst":
		return nil, &ParseError{Field: dyn.path + "@mode", Line: dyn.line, Msg: fmt.Sprintf("ensemble %q is not supported", mode)}
	default:
		return nil, &ParseError{Field: dyn.path + "@mode", Line: dyn.line, Msg: fmt.Sprintf("unknown ensemble %q (want nve or nvt)", mode)}
	}
	d.mark(ns+".Ensemble", dyn)

	for _, c := range dyn.children {
		var err error
		switch c.name {
		case "timestep":
			dm.Timestep, err = d.quantity(ns+".Timestep", c, units.Time)
		case "thermostat":
			dm.Thermostat, err = d.thermostat(c, ns+".Thermostat")
		default:
			return nil, d.unknownChild(c)
		}
		if err != nil {
			return nil, err
		}
	}

	if dm.Ensemble == "nvt" && dm.Thermostat == nil {
		return nil, d.errorf(dyn, "nvt dynamics requires a <thermostat>")
	}
	if _, ok := d.lines[ns+".Timestep"]; !ok && !d.skipped[ns+".Timestep"] {
		return nil, d.errorf(dyn, "missing <timestep>")
	}
	return dm, nil
}

func (d *decoder) minimizeMotion(n *node, ns string) (Motion, error) {
	var opt *node
	mm := MinimizeMotion{}
	for _, c := range n.children {
		var err error
		switch c.name {
		case "optimizer":
			if opt != nil {
				return nil, d.errorf(c, "element may appear only once")
			}
			opt = c
		case "fixatoms":
			if err = d.checkAttrs(c); err == nil {
				mm.FixAtoms, err = d.ints(ns+".FixAtoms", c)
			}
		default:
			return nil, d.unknownChild(c)
		}
		if err != nil {
			return nil, err
		}
	}
	if opt == nil {
		return nil, d.errorf(n, "minimize motion needs an <optimizer> block")
	}

	if err := d.checkAttrs(opt, "mode"); err != nil {
		return nil, err
	}
	mode, _ := opt.attr("mode")
	fixed := mm.FixAtoms
	mm = DefaultMinimize(strings.ToLower(mode))
	mm.FixAtoms = fixed
	switch mm.Optimizer {
	case "sd", "cg", "bfgs":
	default:
		return nil, &ParseError{Field: opt.path + "@mode", Line: opt.line, Msg: fmt.Sprintf("unknown optimizer %q (want sd, cg or bfgs)", mode)}
	}
	d.mark(ns+".Optimizer", opt)

	for _, c := range opt.children {
		var err error
		switch c.name {
		case "grad_tolerance":
			if err = d.checkAttrs(c); err == nil {
				mm.GradTolerance, err = d.float(ns+".GradTolerance", c, c.text)
			}
		case "maximum_step":
			mm.MaximumStep, err = d.quantity(ns+".MaximumStep", c, units.Length)
		case "ls_options":
			err = d.lineSearch(c, ns+".LineSearch", &mm.LineSearch)
		default:
			return nil, d.unknownChild(c)
		}
		if err != nil {
			return nil, err
		}
	}
	return mm, nil
}

func (d *decoder) lineSearch(n *node, ns string, ls *LineSearchConfig) error {
	if err := d.checkAttrs(n); err != nil {
		return err
	}
	for _, c := range n.children {
		var err error
		switch c.name {
		case "tolerance":
			if err = d.checkAttrs(c); err == nil {
				ls.Tolerance, err = d.float(ns+".Tolerance", c, c.text)
			}
		case "iter":
			if err = d.checkAttrs(c); err == nil {
				ls.Iter, err = d.int(ns+".Iter", c, c.text)
			}
		case "step":
			ls.Step, err = d.quantity(ns+".Step", c, units.Length)
		case "adaptive":
			if err = d.checkAttrs(c); err == nil {
				ls.Adaptive, err = d.float(ns+".Adaptive", c, c.text)
			}
		default:
			return d.unknownChild(c)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) thermostat(n *node, ns string) (*ThermostatConfig, error) {
	if err := d.checkAttrs(n, "mode"); err != nil {
		return nil, err
	}
	mode, _ := n.attr("mode")
	t := &ThermostatConfig{Mode: strings.ToLower(mode), PileLambda: DefaultPileLambda}
	switch t.Mode {
	case "langevin", "pile_l", "pile_g", "svr":
	default:
		return nil, &ParseError{Field: n.path + "@mode", Line: n.line, Msg: fmt.Sprintf("unknown thermostat %q (want langevin, pile_l, pile_g or svr)", mode)}
	}
	d.mark(ns+".Mode", n)

	for _, c := range n.children {
		var err error
		switch c.name {
		case "tau":
			t.Tau, err = d.quantity(ns+".Tau", c, units.Time)
		case "pile_lambda":
			if err = d.checkAttrs(c); err == nil {
				t.PileLambda, err = d.float(ns+".PileLambda", c, c.text)
			}
		default:
			return nil, d.unknownChild(c)
		}
		if err != nil {
			return nil, err
		}
	}
	if _, ok := d.lines[ns+".Tau"]; !ok && !d.skipped[ns+".Tau"] {
		return nil, d.errorf(n, "missing <tau>")
	}
	return t, nil
}

var errUnknownElement = errors.New("unknown element")

var defaultMasses = map[string]float64{
	"H":  1.00794,
	"D":  2.0141,
	"He": 4.002602,
	"Li": 6.941,
	"C":  12.0107,
	"N":  14.0067,
	"O":  15.9994,
	"F":  18.9984,
	"Ne": 20.1797,
	"Na": 22.98977,
	"Cl": 35.453,
	"Ar": 39.948,
	"Kr": 83.798,
	"Xe": 131.293,
}

// DefaultMasses returns the masses, in internal units, of the elements named
// by labels.
func DefaultMasses(labels []string) ([]float64, error) {
	out := make([]float64, len(labels))
	for i, l := range labels {
		m, ok := defaultMasses[l]
		if !ok {
			return nil, fmt.Errorf("%w %q: give <masses> explicitly", errUnknownElement, l)
		}
		v, err := units.ToInternal(units.Mass, m, "dalton")
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
