package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Scaler applies the standard scaling the model was trained with:
// x' = (x - mean) / scale, elementwise. Exported from the training
// pipeline as a JSON sidecar.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// LoadScaler reads a JSON scaler sidecar and validates its shape.
func LoadScaler(path string) (*Scaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scaler %s: %w", path, err)
	}
	var s Scaler
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scaler %s: %w", path, err)
	}
	if len(s.Mean) == 0 || len(s.Mean) != len(s.Scale) {
		return nil, fmt.Errorf("scaler %s: mean and scale lengths differ (%d vs %d)",
			path, len(s.Mean), len(s.Scale))
	}
	for i, v := range s.Scale {
		if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("scaler %s: invalid scale at index %d", path, i)
		}
	}
	return &s, nil
}

// Len reports the number of features the scaler covers.
func (s *Scaler) Len() int { return len(s.Mean) }

// Transform scales values in place. The caller guarantees the length
// matches; Load enforces it against the model.
func (s *Scaler) Transform(values []float64) {
	for i := range values {
		values[i] = (values[i] - s.Mean[i]) / s.Scale[i]
	}
}

type artifactMeta struct {
	Name          string `json:"name"`
	NumFeatures   int    `json:"num_features"`
	SchemaVersion int    `json:"schema_version"`
}

func loadMeta(path string) (*artifactMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model metadata %s: %w", path, err)
	}
	var meta artifactMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse model metadata %s: %w", path, err)
	}
	return &meta, nil
}
