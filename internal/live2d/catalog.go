/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package live2d

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is the set of models a story can put on stage.
type Catalog struct {
	Models []ModelConfig `json:"models" yaml:"models"`

	byID   map[string]int
	byName map[string]int
}

// NewCatalog indexes models. Ids must be unique.
func NewCatalog(models ...ModelConfig) (*Catalog, error) {
	c := &Catalog{Models: models}
	if err := c.index(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) index() error {
	c.byID = make(map[string]int, len(c.Models))
	c.byName = make(map[string]int, len(c.Models))
	for i, m := range c.Models {
		if _, dup := c.byID[m.ID]; dup {
			return fmt.Errorf("%w: duplicate model id %q", ErrSchema, m.ID)
		}
		c.byID[m.ID] = i
		if _, taken := c.byName[m.Name]; !taken {
			c.byName[m.Name] = i
		}
	}
	return nil
}

// LoadCatalog reads a catalog file. Files ending in .json are decoded as JSON,
// everything else as YAML.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	return ParseCatalog(data, format)
}

// ParseCatalog decodes and validates a catalog in the given format ("json" or "yaml").
func ParseCatalog(data []byte, format string) (*Catalog, error) {
	var c Catalog
	switch strings.ToLower(format) {
	case "json":
		if err := ValidateCatalog(data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode catalog: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode catalog: %w", err)
		}
		// Re-encode so YAML catalogs go through the same schema.
		js, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("encode catalog: %w", err)
		}
		if err := ValidateCatalog(js); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown catalog format %q", format)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ByID returns the model with the given id.
func (c *Catalog) ByID(id string) (ModelConfig, bool) {
	if c == nil {
		return ModelConfig{}, false
	}
	i, ok := c.byID[id]
	if !ok {
		return ModelConfig{}, false
	}
	return c.Models[i], true
}

// ForCharacter returns the first model whose display name is character.
func (c *Catalog) ForCharacter(character string) (ModelConfig, bool) {
	if c == nil {
		return ModelConfig{}, false
	}
	i, ok := c.byName[character]
	if !ok {
		return ModelConfig{}, false
	}
	return c.Models[i], true
}

// Len returns the number of models.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Models)
}
