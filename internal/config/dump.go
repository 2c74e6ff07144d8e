package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Dump renders the resolved config as YAML.
func Dump(cfg *SimulationConfig) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: dump: %w", err)
	}
	return out, nil
}

func (m DynamicsMotion) MarshalYAML() (any, error) {
	type plain DynamicsMotion
	return struct {
		Mode  string `yaml:"mode"`
		plain `yaml:",inline"`
	}{m.MotionMode(), plain(m)}, nil
}

func (m MinimizeMotion) MarshalYAML() (any, error) {
	type plain MinimizeMotion
	return struct {
		Mode  string `yaml:"mode"`
		plain `yaml:",inline"`
	}{m.MotionMode(), plain(m)}, nil
}

func (m MultiMotion) MarshalYAML() (any, error) {
	return struct {
		Mode    string   `yaml:"mode"`
		Motions []Motion `yaml:"motions"`
	}{m.MotionMode(), m.Motions}, nil
}

func (m DummyMotion) MarshalYAML() (any, error) {
	return map[string]string{"mode": m.MotionMode()}, nil
}
