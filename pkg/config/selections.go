package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// Selections is the persisted LLM provider/model choice, written whenever the
// user switches models. Stored as config.json in the state directory.
type Selections struct {
	Provider   string             `json:"provider"`
	Model      string             `json:"model"`
	TaskModels map[LLMTask]string `json:"task_models,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// LoadSelections reads the persisted selections. A missing file returns
// (nil, nil) so first-run works without setup.
func LoadSelections(path string) (*Selections, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, NewLoadError(path, err)
	}
	var s Selections
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, NewLoadError(path, err)
	}
	return &s, nil
}

// SaveSelections writes selections atomically (temp file + rename).
func SaveSelections(path string, s *Selections) error {
	s.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal selections: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write selections: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace selections: %w", err)
	}
	return nil
}

// Apply folds the persisted selections into the live configuration.
// Task-specific choices win over the global model.
func (s *Selections) Apply(cfg *Config) {
	if s == nil {
		return
	}
	if s.Provider != "" {
		cfg.LLM.Provider = s.Provider
	}
	if cfg.LLM.TaskModels == nil {
		cfg.LLM.TaskModels = make(map[LLMTask]string)
	}
	if s.Model != "" {
		for _, task := range []LLMTask{LLMTaskCorrection, LLMTaskPlanning, LLMTaskSynthesis, LLMTaskTriage} {
			if _, ok := s.TaskModels[task]; !ok {
				cfg.LLM.TaskModels[task] = s.Model
			}
		}
	}
	for task, model := range s.TaskModels {
		cfg.LLM.TaskModels[task] = model
	}
}
