package config

import (
	"fmt"
	"sort"
)

// Preset is a built-in simulation document together with default values
// for the placeholders it uses.
type Preset struct {
	Description string
	Document    string
	Defaults    Vars
}

var Presets = map[string]Preset{
	"harmonic-nvt": {
		Description: "single particle in a harmonic well, 8 beads, PILE-L thermostat",
		Defaults:    Vars{"SEED": "31415", "STEPS": "1000", "NBEADS": "8"},
		Document: `<simulation verbosity="low">
  <total_steps>__STEPS__</total_steps>
  <prng><seed>__SEED__</seed></prng>
  <ffharmonic name="harmonic" pbc="false">
    <k>0.05</k>
  </ffharmonic>
  <output prefix="harmonic">
    <properties filename="out" stride="10">[ step, time{picosecond}, conserved{electronvolt}, temperature{kelvin}, kinetic_cv{electronvolt}, potential{electronvolt} ]</properties>
    <trajectory filename="pos" stride="100" format="xyz">positions{angstrom}</trajectory>
    <trajectory filename="xc" stride="100" format="xyz">x_centroid{angstrom}</trajectory>
    <checkpoint filename="chk" stride="500" overwrite="true"/>
  </output>
  <system>
    <initialize nbeads="__NBEADS__">
      <positions units="angstrom">[ 0.1, 0.0, 0.0 ]</positions>
      <labels>[ H ]</labels>
      <velocities mode="thermal" units="kelvin">300</velocities>
    </initialize>
    <forces><force forcefield="harmonic"/></forces>
    <ensemble><temperature units="kelvin">300</temperature></ensemble>
    <motion mode="dynamics">
      <dynamics mode="nvt">
        <timestep units="femtosecond">0.5</timestep>
        <thermostat mode="pile_l">
          <tau units="femtosecond">100</tau>
          <pile_lambda>0.5</pile_lambda>
        </thermostat>
      </dynamics>
    </motion>
  </system>
</simulation>
`,
	},
	"lj-nve": {
		Description: "four argon atoms in a periodic box, 4 beads, microcanonical",
		Defaults:    Vars{"SEED": "2718", "STEPS": "2000"},
		Document: `<simulation verbosity="low">
  <total_steps>__STEPS__</total_steps>
  <prng><seed>__SEED__</seed></prng>
  <fflj name="argon" pbc="true">
    <epsilon units="kelvin">119.8</epsilon>
    <sigma units="angstrom">3.405</sigma>
    <cutoff units="angstrom">8.5</cutoff>
  </fflj>
  <output prefix="argon">
    <properties filename="out" stride="20">[ step, time{picosecond}, conserved, potential, kinetic_md, temperature{kelvin} ]</properties>
    <trajectory filename="xc" stride="200" format="pdb" cell_units="angstrom">x_centroid{angstrom}</trajectory>
    <checkpoint filename="chk" stride="1000" overwrite="false"/>
  </output>
  <system>
    <initialize nbeads="4">
      <positions units="angstrom">[ 0 0 0, 3.8 0 0, 0 3.8 0, 0 0 3.8 ]</positions>
      <labels>[ Ar, Ar, Ar, Ar ]</labels>
      <cell mode="abc" units="angstrom">[ 17.0, 17.0, 17.0 ]</cell>
      <velocities mode="thermal" units="kelvin">80</velocities>
    </initialize>
    <forces><force forcefield="argon"/></forces>
    <ensemble><temperature units="kelvin">80</temperature></ensemble>
    <motion mode="dynamics">
      <fixcom>true</fixcom>
      <dynamics mode="nve">
        <timestep units="femtosecond">2.0</timestep>
      </dynamics>
    </motion>
  </system>
</simulation>
`,
	},
}

func GetPreset(name string) (Preset, error) {
	p, ok := Presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("config: unknown preset %q", name)
	}
	return p, nil
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render returns the preset document with its defaults substituted,
// overridden by vars.
func (p Preset) Render(vars Vars) ([]byte, error) {
	all := Vars{}.Merge(p.Defaults).Merge(vars)
	return Substitute([]byte(p.Document), all, false)
}
