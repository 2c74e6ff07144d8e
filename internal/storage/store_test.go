package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/san-kum/pimd/internal/config"
	"github.com/san-kum/pimd/internal/sim"
)

func testConfig() *config.SimulationConfig {
	return &config.SimulationConfig{
		TotalSteps: 20,
		Seed:       42,
		Potential:  &config.PotentialConfig{Name: "harm"},
		System:     config.SystemConfig{NBeads: 4},
	}
}

func TestStoreSaveLoad(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	result := &sim.Result{
		Phase:       sim.PhaseDone,
		FinalStep:   20,
		StepsTaken:  20,
		EnergyDrift: 1e-5,
		Files:       []string{"h.out"},
		Metrics: map[string]float64{
			"mean_temperature": 301.5,
		},
	}

	meta := NewRecord(NewRunID(), "input.xml", testConfig(), result, nil, 2*time.Second)
	runID, err := st.Save(meta)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if runID != meta.ID {
		t.Errorf("expected id %s, got %s", meta.ID, runID)
	}

	loaded, err := st.Load(runID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if loaded.Config != "input.xml" {
		t.Errorf("expected config 'input.xml', got '%s'", loaded.Config)
	}
	if loaded.Seed != 42 || loaded.NBeads != 4 || loaded.Provider != "harm" {
		t.Errorf("unexpected header fields: %+v", loaded)
	}
	if loaded.Status != "done" || loaded.StepsTaken != 20 || loaded.StepsRequested != 20 {
		t.Errorf("unexpected progress fields: %+v", loaded)
	}
	if loaded.WallTime != 2 {
		t.Errorf("expected wall time 2, got %f", loaded.WallTime)
	}
	if loaded.Metrics["mean_temperature"] != 301.5 {
		t.Errorf("expected mean_temperature 301.5, got %f", loaded.Metrics["mean_temperature"])
	}

	m, err := st.LoadMetrics(runID)
	if err != nil {
		t.Fatalf("load metrics failed: %v", err)
	}
	if len(m) != 1 || m["mean_temperature"] != 301.5 {
		t.Errorf("unexpected metrics %v", m)
	}
}

func TestStoreList(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	runs, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected 0 runs, got %d", len(runs))
	}

	older := NewRecord("", "a.xml", testConfig(), nil, errors.New("boom"), 0)
	older.Timestamp = time.Now().Add(-time.Hour)
	if _, err := st.Save(older); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := st.Save(NewRecord("", "b.xml", testConfig(), &sim.Result{Phase: sim.PhaseDone}, nil, 0)); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	// stray entries are skipped
	if err := os.MkdirAll(filepath.Join(tmpDir, "junk"), 0755); err != nil {
		t.Fatal(err)
	}

	runs, err = st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Config != "b.xml" {
		t.Errorf("expected newest first, got %s", runs[0].Config)
	}
	if runs[1].Status != "failed" || runs[1].Error != "boom" {
		t.Errorf("failed run recorded as %+v", runs[1])
	}
}

func TestStoreFileStructure(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	runID, err := st.Save(RunMetadata{Metrics: map[string]float64{}})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	runDir := filepath.Join(tmpDir, runID)
	for _, name := range []string{"metadata.json", "metrics.csv"} {
		if _, err := os.Stat(filepath.Join(runDir, name)); os.IsNotExist(err) {
			t.Errorf("%s not created", name)
		}
	}
}

func TestLoadRejectsPaths(t *testing.T) {
	st := New(t.TempDir())
	for _, id := range []string{"", "../x", "a/b"} {
		if _, err := st.Load(id); err == nil {
			t.Errorf("expected error for id %q", id)
		}
	}
}

func TestExportJSON(t *testing.T) {
	var buf bytes.Buffer
	runs := []RunMetadata{{ID: "r1", Status: "done"}}
	if err := ExportJSON(&buf, runs); err != nil {
		t.Fatal(err)
	}
	var back []RunMetadata
	if err := json.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatal(err)
	}
	if len(back) != 1 || back[0].ID != "r1" {
		t.Errorf("unexpected export %+v", back)
	}
}
