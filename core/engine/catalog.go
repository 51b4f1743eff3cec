package engine

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"mediaGen/core/apperr"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type ModelSpec struct {
	ID          string `yaml:"id"`
	Family      Family `yaml:"family"`
	LongRunning bool   `yaml:"long_running"`
}

type Catalog struct {
	models map[string]ModelSpec
}

type catalogFile struct {
	Models []ModelSpec `yaml:"models"`
}

// LoadCatalog reads the model catalog from path, or the built-in catalog
// when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read model catalog: %w", err)
		}
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse model catalog: %w", err)
	}

	c := &Catalog{models: make(map[string]ModelSpec, len(file.Models))}
	for _, m := range file.Models {
		if m.ID == "" {
			return nil, fmt.Errorf("model catalog: entry without id")
		}
		if m.Family != FamilyImage && m.Family != FamilyVideo {
			return nil, fmt.Errorf("model catalog: %s: unknown family %q", m.ID, m.Family)
		}
		if _, dup := c.models[m.ID]; dup {
			return nil, fmt.Errorf("model catalog: duplicate model %s", m.ID)
		}
		c.models[m.ID] = m
	}
	return c, nil
}

func (c *Catalog) Lookup(modelID string) (ModelSpec, error) {
	m, ok := c.models[modelID]
	if !ok {
		return ModelSpec{}, apperr.Validation("model_id", fmt.Sprintf("unknown model %q", modelID))
	}
	return m, nil
}
