/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package live2d describes Live2D models and drives them in a browser renderer.
//
// The Go side never rasterizes a model. It resolves model files from the file
// store, rewrites manifests so every reference is fetchable, and sends commands
// to the page that owns the Cubism runtime.
package live2d

import (
	"strings"
)

const (
	motionSuffix     = ".motion3.json"
	expressionSuffix = ".exp3.json"
)

// Motion is one entry of a model's motion list.
type Motion struct {
	Group string `json:"group" yaml:"group"`
	Name  string `json:"name" yaml:"name"`
	File  string `json:"file,omitempty" yaml:"file,omitempty"`
}

// ModelConfig is the static description of a model.
type ModelConfig struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	ModelPath   string            `json:"modelPath" yaml:"modelPath"`
	BasePath    string            `json:"basePath,omitempty" yaml:"basePath,omitempty"`
	Version     string            `json:"version,omitempty" yaml:"version,omitempty"`
	Motions     []Motion          `json:"motions,omitempty" yaml:"motions,omitempty"`
	Expressions []string          `json:"expressions,omitempty" yaml:"expressions,omitempty"`
	Textures    []string          `json:"textures,omitempty" yaml:"textures,omitempty"`
	Physics     string            `json:"physics,omitempty" yaml:"physics,omitempty"`
	Pose        string            `json:"pose,omitempty" yaml:"pose,omitempty"`
	FileIDs     map[string]string `json:"fileIds,omitempty" yaml:"fileIds,omitempty"`
}

func isRemote(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// ModelURL is the address of the model3.json manifest.
func (c ModelConfig) ModelURL() string {
	if isRemote(c.ModelPath) || c.BasePath == "" {
		return c.ModelPath
	}
	return c.BasePath + c.ModelPath
}

func matchAsset(entry, name, suffix string) bool {
	return entry == name || entry == name+suffix
}

// HasMotion reports whether the config lists a motion called name.
func (c ModelConfig) HasMotion(name string) bool {
	_, _, ok := c.MotionIndex(name)
	return ok
}

// MotionIndex maps a motion name to its group and the index inside that group.
// A motion matches by name, by file, or by file with the .motion3.json suffix.
func (c ModelConfig) MotionIndex(name string) (group string, index int, ok bool) {
	if name == "" {
		return "", 0, false
	}
	seen := map[string]int{}
	for _, m := range c.Motions {
		i := seen[m.Group]
		seen[m.Group] = i + 1
		if m.Name == name || matchAsset(m.File, name, motionSuffix) {
			return m.Group, i, true
		}
	}
	return "", 0, false
}

// MotionCount returns how many motions group holds.
func (c ModelConfig) MotionCount(group string) int {
	n := 0
	for _, m := range c.Motions {
		if m.Group == group {
			n++
		}
	}
	return n
}

// HasExpression reports whether the config lists an expression called name.
func (c ModelConfig) HasExpression(name string) bool {
	if name == "" {
		return false
	}
	for _, e := range c.Expressions {
		if matchAsset(e, name, expressionSuffix) {
			return true
		}
	}
	return false
}

// HasMotionAndExpression reports whether the model can perform both motion and
// expression. Blank names are never available.
func HasMotionAndExpression(c ModelConfig, motion, expression string) bool {
	return c.HasMotion(motion) && c.HasExpression(expression)
}
