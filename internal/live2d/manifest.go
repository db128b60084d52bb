/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package live2d

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// URLResolver turns store:// addresses into fetchable URLs.
// *filestore.Store satisfies it.
type URLResolver interface {
	ResolveURL(ctx context.Context, u string, fileIDs map[string]string) (string, error)
}

// keepAsIs reports whether a manifest reference is already fetchable.
func keepAsIs(p string) bool {
	return p == "" || strings.HasPrefix(p, "http") || strings.HasPrefix(p, "blob:") || strings.HasPrefix(p, "data:")
}

type rewriter struct {
	ctx     context.Context
	base    string
	fileIDs map[string]string
	r       URLResolver
	n       int
}

func (w *rewriter) path(p string) (string, error) {
	if keepAsIs(p) {
		return p, nil
	}
	u, err := w.r.ResolveURL(w.ctx, w.base+p, w.fileIDs)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", p, err)
	}
	if u == "" {
		return "", fmt.Errorf("%w: %s", ErrModelFileMissing, w.base+p)
	}
	w.n++
	return u, nil
}

// field rewrites obj[key] when it holds a string.
func (w *rewriter) field(obj map[string]any, key string) error {
	s, ok := obj[key].(string)
	if !ok {
		return nil
	}
	u, err := w.path(s)
	if err != nil {
		return err
	}
	obj[key] = u
	return nil
}

func (w *rewriter) list(v any) error {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	for i, it := range items {
		s, ok := it.(string)
		if !ok {
			continue
		}
		u, err := w.path(s)
		if err != nil {
			return err
		}
		items[i] = u
	}
	return nil
}

// objects rewrites keys on every object of an array.
func (w *rewriter) objects(v any, keys ...string) error {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		for _, k := range keys {
			if err := w.field(obj, k); err != nil {
				return err
			}
		}
		if err := w.list(obj["Files"]); err != nil {
			return err
		}
	}
	return nil
}

// RewriteManifest rewrites the relative file references of a model3.json so the
// renderer can fetch them. Each reference is joined to basePath and resolved
// through r; absolute http(s), blob: and data: references are left untouched.
// It returns the re-encoded manifest and the number of rewritten references.
func RewriteManifest(ctx context.Context, manifest []byte, basePath string, fileIDs map[string]string, r URLResolver) ([]byte, int, error) {
	dec := json.NewDecoder(bytes.NewReader(manifest))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, 0, fmt.Errorf("decode manifest: %w", err)
	}
	fr, ok := doc["FileReferences"].(map[string]any)
	if !ok {
		return nil, 0, fmt.Errorf("%w: model3.json has no FileReferences", ErrSchema)
	}
	w := &rewriter{ctx: ctx, base: basePath, fileIDs: fileIDs, r: r}
	for _, k := range []string{"Moc", "Physics", "Pose", "DisplayInfo", "UserData"} {
		if err := w.field(fr, k); err != nil {
			return nil, 0, err
		}
	}
	if err := w.list(fr["Textures"]); err != nil {
		return nil, 0, err
	}
	if err := w.objects(fr["Expressions"], "File"); err != nil {
		return nil, 0, err
	}
	if motions, ok := fr["Motions"].(map[string]any); ok {
		for _, group := range motions {
			if err := w.objects(group, "File", "Sound"); err != nil {
				return nil, 0, err
			}
		}
	}
	if err := w.objects(fr["Groups"], "File"); err != nil {
		return nil, 0, err
	}
	if err := w.objects(doc["Groups"], "File"); err != nil {
		return nil, 0, err
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, 0, fmt.Errorf("encode manifest: %w", err)
	}
	return out, w.n, nil
}
