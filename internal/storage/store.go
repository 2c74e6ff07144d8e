package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/pimd/internal/config"
	"github.com/san-kum/pimd/internal/sim"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

type RunMetadata struct {
	ID             string             `json:"id"`
	Config         string             `json:"config"`
	Timestamp      time.Time          `json:"timestamp"`
	Seed           int64              `json:"seed"`
	NBeads         int                `json:"nbeads"`
	Provider       string             `json:"provider"`
	StepsRequested int                `json:"steps_requested"`
	StartStep      int                `json:"start_step"`
	FinalStep      int                `json:"final_step"`
	StepsTaken     int                `json:"steps_taken"`
	Status         string             `json:"status"`
	Stopped        bool               `json:"stopped,omitempty"`
	Error          string             `json:"error,omitempty"`
	WallTime       float64            `json:"wall_time"`
	EnergyDrift    float64            `json:"energy_drift"`
	Files          []string           `json:"files,omitempty"`
	Metrics        map[string]float64 `json:"metrics"`
}

// NewRecord describes a finished (or failed) run. res may be nil when the
// run never started.
func NewRecord(id, configPath string, cfg *config.SimulationConfig, res *sim.Result, runErr error, wall time.Duration) RunMetadata {
	meta := RunMetadata{
		ID:             id,
		Config:         configPath,
		Timestamp:      time.Now(),
		Seed:           cfg.Seed,
		NBeads:         cfg.System.NBeads,
		Provider:       cfg.ProviderName(),
		StepsRequested: cfg.TotalSteps,
		Status:         sim.PhaseFailed.String(),
		WallTime:       wall.Seconds(),
		Metrics:        map[string]float64{},
	}
	if res != nil {
		meta.StartStep = res.StartStep
		meta.FinalStep = res.FinalStep
		meta.StepsTaken = res.StepsTaken
		meta.Status = res.Phase.String()
		meta.Stopped = res.Stopped
		meta.EnergyDrift = res.EnergyDrift
		meta.Files = res.Files
		for k, v := range res.Metrics {
			meta.Metrics[k] = v
		}
	}
	if runErr != nil {
		meta.Error = runErr.Error()
	}
	return meta
}

// Save writes metadata.json and metrics.csv under <base>/<id>. An empty ID
// is replaced by a new one.
func (s *Store) Save(meta RunMetadata) (string, error) {
	if meta.ID == "" {
		meta.ID = NewRunID()
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	runDir := filepath.Join(s.baseDir, meta.ID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	metaFile, err := os.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(runDir, "metrics.csv"))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	if err := w.Write([]string{"metric", "value"}); err != nil {
		return "", err
	}
	names := make([]string, 0, len(meta.Metrics))
	for name := range meta.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		row := []string{name, strconv.FormatFloat(meta.Metrics[name], 'g', -1, 64)}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}

	return meta.ID, nil
}

// List returns every readable run, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Timestamp.After(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	if runID == "" || filepath.Base(runID) != runID {
		return nil, fmt.Errorf("invalid run id %q", runID)
	}
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}

	return &meta, nil
}

// LoadMetrics reads back metrics.csv.
func (s *Store) LoadMetrics(runID string) (map[string]float64, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, "metrics.csv"))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = 2

	out := map[string]float64{}
	header := true
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if header {
			header = false
			continue
		}
		v, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %w", record[0], err)
		}
		out[record[0]] = v
	}
	return out, nil
}

// ExportJSON writes runs as an indented JSON array.
func ExportJSON(w io.Writer, runs []RunMetadata) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(runs)
}
