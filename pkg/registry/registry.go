package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hpi-forecast/pkg/gbt"
	"github.com/hpi-forecast/pkg/metrics"
)

// ErrModelNotFound is returned by Load when no artifact file exists for the
// requested horizon.
var ErrModelNotFound = errors.New("model not found for horizon")

// Artifact is the persisted state of one trained horizon model. FeatureNames
// records the exact feature order used at fit time; a model must only ever be
// scored with a vector built from that schema.
type Artifact struct {
	Horizon      int            `json:"horizon"`
	FeatureNames []string       `json:"feature_names"`
	Model        *gbt.Regressor `json:"model"`
	TrainedAt    time.Time      `json:"trained_at"`
}

// FeatureVector builds the scoring vector for this artifact from a row's
// numeric values. Columns the model does not know are ignored; a schema
// column absent from the row is an error rather than a silent zero-fill.
func (a *Artifact) FeatureVector(values map[string]float64) ([]float64, error) {
	vec := make([]float64, len(a.FeatureNames))
	var missing []string
	for i, name := range a.FeatureNames {
		v, ok := values[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		vec[i] = v
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("latest row is missing model features: %s", strings.Join(missing, ", "))
	}
	return vec, nil
}

// Registry maps horizons to artifact files under a models directory. Loads
// are cached for the process lifetime; there is no invalidation, a retrain is
// picked up by restarting the serving process.
type Registry struct {
	dir   string
	mu    sync.RWMutex
	cache map[int]*Artifact
}

func New(dir string) *Registry {
	return &Registry{dir: dir, cache: make(map[int]*Artifact)}
}

func (r *Registry) path(horizon int) string {
	return filepath.Join(r.dir, fmt.Sprintf("gbt_h%d.json", horizon))
}

// Save writes the artifact file for its horizon, creating the models
// directory if needed.
func (r *Registry) Save(a *Artifact) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal artifact h%d: %w", a.Horizon, err)
	}
	return os.WriteFile(r.path(a.Horizon), data, 0o644)
}

// Load returns the artifact for a horizon, reading the file at most once per
// process. Re-loading the same artifact concurrently is harmless: both reads
// produce the same state and the second write is idempotent.
func (r *Registry) Load(horizon int) (*Artifact, error) {
	r.mu.RLock()
	a, ok := r.cache[horizon]
	r.mu.RUnlock()
	if ok {
		metrics.ModelLoadsTotal.WithLabelValues("cached").Inc()
		return a, nil
	}

	data, err := os.ReadFile(r.path(horizon))
	if err != nil {
		if os.IsNotExist(err) {
			metrics.ModelLoadsTotal.WithLabelValues("missing").Inc()
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("read artifact h%d: %w", horizon, err)
	}

	a = &Artifact{}
	if err := json.Unmarshal(data, a); err != nil {
		return nil, fmt.Errorf("decode artifact h%d: %w", horizon, err)
	}
	if a.Model == nil || !a.Model.Fitted {
		return nil, fmt.Errorf("artifact h%d holds no fitted model", horizon)
	}

	r.mu.Lock()
	r.cache[horizon] = a
	r.mu.Unlock()
	metrics.ModelLoadsTotal.WithLabelValues("loaded").Inc()
	return a, nil
}
