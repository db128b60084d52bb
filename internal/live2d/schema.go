/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package live2d

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	gojsonschema "github.com/xeipuuv/gojsonschema"
)

//go:embed schema/catalog.schema.json
var catalogSchema []byte

//go:embed schema/model3.schema.json
var manifestSchema []byte

// ErrSchema wraps every schema violation.
var ErrSchema = errors.New("live2d: schema violation")

func validate(schema []byte, doc gojsonschema.JSONLoader, what string) error {
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), doc)
	if err != nil {
		return fmt.Errorf("validate %s: %w", what, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s: %s", ErrSchema, what, strings.Join(msgs, "; "))
}

// ValidateManifest checks a model3.json document.
func ValidateManifest(data []byte) error {
	return validate(manifestSchema, gojsonschema.NewBytesLoader(data), "model3.json")
}

// ValidateCatalog checks a JSON-encoded catalog document.
func ValidateCatalog(data []byte) error {
	return validate(catalogSchema, gojsonschema.NewBytesLoader(data), "catalog")
}
