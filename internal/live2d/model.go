/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package live2d

import (
	"context"
	"errors"
)

var (
	// ErrDestroyed is returned by commands issued after Destroy.
	ErrDestroyed = errors.New("live2d: model destroyed")
	// ErrUnknownMotion is returned when a group/index pair is not in the config.
	ErrUnknownMotion = errors.New("live2d: unknown motion")
	// ErrUnknownExpression is returned when an expression is not in the config.
	ErrUnknownExpression = errors.New("live2d: unknown expression")
	// ErrModelFileMissing is returned when a store:// manifest is not stored.
	ErrModelFileMissing = errors.New("live2d: model file missing")
)

// Model is a loaded, renderable model instance.
type Model interface {
	ID() string
	SetPosition(x, y float64)
	SetScale(s float64)
	PlayMotion(group string, index int) error
	PlayExpression(name string) error
	Destroy() error
}

// LoadOptions carries the config of the model being loaded.
type LoadOptions struct {
	Config ModelConfig
}

// Loader turns a manifest URL into a Model. Implementations must be safe for
// concurrent use.
type Loader interface {
	Load(ctx context.Context, url string, opts LoadOptions) (Model, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, url string, opts LoadOptions) (Model, error)

func (f LoaderFunc) Load(ctx context.Context, url string, opts LoadOptions) (Model, error) {
	return f(ctx, url, opts)
}
