package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix marks environment variables that feed placeholder values:
// PIMD_VAR_SEED fills __SEED__.
const EnvPrefix = "PIMD_VAR_"

// Vars maps placeholder names to their replacement text.
type Vars map[string]string

// Merge copies other over v and returns v.
func (v Vars) Merge(other Vars) Vars {
	for k, val := range other {
		v[k] = val
	}
	return v
}

// LoadVars reads placeholder values from .env style files or YAML maps.
// Later files win.
func LoadVars(paths ...string) (Vars, error) {
	vars := Vars{}
	for _, p := range paths {
		var (
			loaded Vars
			err    error
		)
		switch strings.ToLower(filepath.Ext(p)) {
		case ".yaml", ".yml":
			loaded, err = loadYAMLVars(p)
		default:
			var m map[string]string
			m, err = godotenv.Read(p)
			loaded = Vars(m)
		}
		if err != nil {
			return nil, fmt.Errorf("config: load vars %s: %w", p, err)
		}
		vars.Merge(loaded)
	}
	return vars, nil
}

func loadYAMLVars(path string) (Vars, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	vars := make(Vars, len(raw))
	for k, v := range raw {
		switch v.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("variable %s: value must be a scalar", k)
		}
		vars[k] = fmt.Sprint(v)
	}
	return vars, nil
}

// FromEnviron collects PIMD_VAR_* entries from environ (os.Environ format).
func FromEnviron(environ []string) Vars {
	vars := Vars{}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, EnvPrefix) {
			continue
		}
		if name := strings.TrimPrefix(k, EnvPrefix); name != "" {
			vars[name] = v
		}
	}
	return vars
}

// ParseAssignments turns NAME=value pairs into Vars.
func ParseAssignments(pairs []string) (Vars, error) {
	vars := Vars{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("config: bad assignment %q, want NAME=value", p)
		}
		vars[strings.Trim(k, "_")] = v
	}
	return vars, nil
}

// ResolveVars layers files, then the environment, then explicit
// assignments.
func ResolveVars(files []string, environ []string, assignments []string) (Vars, error) {
	vars, err := LoadVars(files...)
	if err != nil {
		return nil, err
	}
	vars.Merge(FromEnviron(environ))
	set, err := ParseAssignments(assignments)
	if err != nil {
		return nil, err
	}
	return vars.Merge(set), nil
}
