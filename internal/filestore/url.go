/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package filestore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Scheme is the URL scheme resolved by the store.
const Scheme = "store"

// ErrInvalidStoreURL is returned for URLs that are not store:// references.
var ErrInvalidStoreURL = errors.New("filestore: invalid store url")

// legacy indexeddb:// references are still accepted
var reStoreURL = regexp.MustCompile(`^(?:store|indexeddb)://([^/]+)/(.+)$`)

// IsStoreURL reports whether u uses the store scheme.
func IsStoreURL(u string) bool {
	return strings.HasPrefix(u, Scheme+"://") || strings.HasPrefix(u, "indexeddb://")
}

// StoreURL formats the store:// reference for owner/filename.
func StoreURL(owner, filename string) string {
	return Scheme + "://" + owner + "/" + filename
}

// ParseStoreURL splits a store:// reference into owner and filename.
func ParseStoreURL(u string) (owner, filename string, err error) {
	m := reStoreURL.FindStringSubmatch(u)
	if m == nil {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidStoreURL, u)
	}
	return m[1], m[2], nil
}

// ResolveURL turns a store:// reference into a transient URL. fileIDs maps a filename to an
// explicit store id and takes precedence over owner::filename. A missing file yields "".
func (s *Store) ResolveURL(ctx context.Context, u string, fileIDs map[string]string) (string, error) {
	owner, filename, err := ParseStoreURL(u)
	if err != nil {
		return "", err
	}
	id := FileID(owner, filename)
	if explicit, ok := fileIDs[filename]; ok && explicit != "" {
		id = explicit
	}
	return s.RetrieveAsTransientURL(ctx, id)
}
