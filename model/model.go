// Package model wraps a pre-trained gradient-boosted tree ensemble
// behind a stable scoring contract. The artifact is loaded once at
// startup, is immutable afterwards, and is safe to score against from
// any number of goroutines.
package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitryikh/leaves"

	"pescan/feature"
	"pescan/logger"
)

// Label is the classifier verdict for a scored vector.
type Label string

const (
	LabelBenign    Label = "BENIGN"
	LabelMalicious Label = "MALICIOUS"
)

// maliciousThreshold splits the probability range into the two labels.
const maliciousThreshold = 0.5

// ErrSchemaMismatch reports a vector whose length or schema version
// does not match what the loaded artifact expects. It indicates a
// deployment skew between extractor and model, never a client fault.
var ErrSchemaMismatch = errors.New("feature vector does not match model schema")

// Artifact is the loaded, immutable scoring model.
type Artifact struct {
	ensemble      *leaves.Ensemble
	scaler        *Scaler
	name          string
	path          string
	numFeatures   int
	schemaVersion int
}

// Options control artifact loading. Zero values fall back to the
// model's own metadata and the current extractor schema.
type Options struct {
	ScalerPath string
	MetaPath   string
}

// Load reads the scoring artifact from path. LightGBM text models and
// XGBoost binary models are recognized by extension. Loading is fatal
// to the caller on error: the service must not start without a model.
func Load(path string, opts Options) (*Artifact, error) {
	ensemble, err := loadEnsemble(path)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}

	a := &Artifact{
		ensemble:      ensemble,
		name:          ensemble.Name(),
		path:          path,
		numFeatures:   ensemble.NFeatures(),
		schemaVersion: feature.SchemaVersion,
	}

	metaPath := opts.MetaPath
	if metaPath == "" {
		if candidate := path + ".meta.json"; fileExists(candidate) {
			metaPath = candidate
		}
	}
	if metaPath != "" {
		meta, err := loadMeta(metaPath)
		if err != nil {
			return nil, err
		}
		if meta.NumFeatures > 0 {
			a.numFeatures = meta.NumFeatures
		}
		if meta.SchemaVersion > 0 {
			a.schemaVersion = meta.SchemaVersion
		}
		if meta.Name != "" {
			a.name = meta.Name
		}
	}

	if opts.ScalerPath != "" {
		scaler, err := LoadScaler(opts.ScalerPath)
		if err != nil {
			return nil, err
		}
		if scaler.Len() != a.numFeatures {
			return nil, fmt.Errorf("scaler %s has %d features, model expects %d: %w",
				opts.ScalerPath, scaler.Len(), a.numFeatures, ErrSchemaMismatch)
		}
		a.scaler = scaler
	}

	logger.Infof("Model loaded: %s (%s, %d trees, %d features, schema v%d)",
		path, a.name, ensemble.NEstimators(), a.numFeatures, a.schemaVersion)
	return a, nil
}

func loadEnsemble(path string) (*leaves.Ensemble, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".lgb":
		return leaves.LGEnsembleFromFile(path, true)
	case ".model", ".bin", ".xgb":
		return leaves.XGEnsembleFromFile(path, true)
	default:
		// Try both; LightGBM text is the common deployment format.
		ensemble, err := leaves.LGEnsembleFromFile(path, true)
		if err == nil {
			return ensemble, nil
		}
		ensemble, xgErr := leaves.XGEnsembleFromFile(path, true)
		if xgErr != nil {
			return nil, fmt.Errorf("not a LightGBM model (%v) nor an XGBoost model (%v)", err, xgErr)
		}
		return ensemble, nil
	}
}

// Name reports the loaded ensemble flavor (e.g. lightgbm.gbdt).
func (a *Artifact) Name() string { return a.name }

// Path reports where the artifact was loaded from.
func (a *Artifact) Path() string { return a.path }

// NumFeatures reports the vector length the artifact expects.
func (a *Artifact) NumFeatures() int { return a.numFeatures }

// SchemaVersion reports the feature schema the artifact was trained
// against.
func (a *Artifact) SchemaVersion() int { return a.schemaVersion }

// Score maps a feature vector to the malicious-class probability and
// the derived label. The raw probability is surfaced so callers can
// read distance from the threshold as certainty. Vectors with a
// mismatched length or schema version fail with ErrSchemaMismatch
// rather than producing a silently wrong prediction.
func (a *Artifact) Score(v *feature.Vector) (float64, Label, error) {
	if v == nil || v.Len() != a.numFeatures {
		length := 0
		if v != nil {
			length = v.Len()
		}
		return 0, "", fmt.Errorf("vector length %d, model expects %d: %w",
			length, a.numFeatures, ErrSchemaMismatch)
	}
	if v.Version != a.schemaVersion {
		return 0, "", fmt.Errorf("vector schema v%d, model expects v%d: %w",
			v.Version, a.schemaVersion, ErrSchemaMismatch)
	}

	values := v.Float64s()
	if a.scaler != nil {
		a.scaler.Transform(values)
	}

	probability := clampProbability(a.ensemble.PredictSingle(values, 0))
	return probability, labelFor(probability), nil
}

func labelFor(probability float64) Label {
	if probability >= maliciousThreshold {
		return LabelMalicious
	}
	return LabelBenign
}

func clampProbability(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
