package agent

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/xkilldash9x/aquario/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrIncompatibleModel means a checkpoint does not fit the environment it
// is being paired with.
var ErrIncompatibleModel = errors.New("agent: model is incompatible with environment")

const (
	modelFormat  = 1
	metaEntry    = "meta.json"
	weightsEntry = "weights.bin"
)

// modelMeta is the JSON header stored next to the weights.
type modelMeta struct {
	Format           int       `json:"format"`
	Algorithm        string    `json:"algorithm"`
	ObservationShape [3]int    `json:"observation_shape"`
	Actions          int       `json:"actions"`
	PoolSize         int       `json:"pool_size"`
	Gamma            float64   `json:"gamma"`
	ExplorationFinal float64   `json:"exploration_final"`
	Timesteps        int       `json:"timesteps"`
	SavedAt          time.Time `json:"saved_at"`
}

// Save writes the model to path as a zip with meta.json and weights.bin.
// A missing ".zip" suffix is added.
func (d *DQN) Save(path string) (string, error) {
	if filepath.Ext(path) != ".zip" {
		path += ".zip"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("agent: create model dir: %w", err)
	}

	meta, err := json.Marshal(modelMeta{
		Format:           modelFormat,
		Algorithm:        "dqn-linear",
		ObservationShape: d.shape,
		Actions:          d.nActions,
		PoolSize:         d.cfg.PoolSize,
		Gamma:            d.cfg.Gamma,
		ExplorationFinal: d.cfg.ExplorationFinal,
		Timesteps:        d.timesteps,
		SavedAt:          time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("agent: encode model metadata: %w", err)
	}
	weights, err := d.online.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("agent: encode weights: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("agent: create model file: %w", err)
	}
	zw := zip.NewWriter(f)
	for _, entry := range []struct {
		name string
		data []byte
	}{{metaEntry, meta}, {weightsEntry, weights}} {
		w, err := zw.Create(entry.name)
		if err == nil {
			_, err = w.Write(entry.data)
		}
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return "", fmt.Errorf("agent: write %s: %w", entry.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("agent: finalize model file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("agent: close model file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("agent: move model into place: %w", err)
	}
	return path, nil
}

// Load reads a model saved by Save. The result can predict but not train.
func Load(path string, logger *zap.Logger) (*DQN, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("agent: open model: %w", err)
	}
	defer zr.Close()

	read := func(name string) ([]byte, error) {
		f, err := zr.Open(name)
		if err != nil {
			return nil, fmt.Errorf("agent: model is missing %s: %w", name, err)
		}
		defer f.Close()
		return io.ReadAll(f)
	}

	raw, err := read(metaEntry)
	if err != nil {
		return nil, err
	}
	var meta modelMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("agent: decode model metadata: %w", err)
	}
	if meta.Format != modelFormat {
		return nil, fmt.Errorf("%w: unsupported format %d", ErrIncompatibleModel, meta.Format)
	}
	if meta.PoolSize <= 0 || meta.Actions <= 0 {
		return nil, fmt.Errorf("agent: corrupt model metadata")
	}

	raw, err = read(weightsEntry)
	if err != nil {
		return nil, err
	}
	var w mat.Dense
	if err := w.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("agent: decode weights: %w", err)
	}

	cfg := config.TrainConfig{
		PoolSize:           meta.PoolSize,
		Gamma:              meta.Gamma,
		ExplorationInitial: meta.ExplorationFinal,
		ExplorationFinal:   meta.ExplorationFinal,
	}
	d := newModel(meta.ObservationShape, meta.Actions, cfg, logger)
	if r, c := w.Dims(); r != d.nActions || c != d.nFeatures {
		return nil, fmt.Errorf("agent: weights are %dx%d, metadata implies %dx%d", r, c, d.nActions, d.nFeatures)
	}
	d.online.Copy(&w)
	d.target.Copy(&w)
	d.timesteps = meta.Timesteps
	return d, nil
}
