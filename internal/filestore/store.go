/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package filestore keeps model files (moc3, textures, motions, manifests) in a
// persistent key/value backend and hands them out as transient URLs.
//
// A file is identified by "<owner>::<filename>" and addressed by view code as
// store://<owner>/<filename>.
package filestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	applog "galstage/internal/log"
)

const idSep = "::"

// ErrInvalidName is returned when an owner or filename cannot form a stable id.
var ErrInvalidName = errors.New("filestore: invalid owner or filename")

// StoredFile is one persisted file.
type StoredFile struct {
	ID           string    `json:"id"`
	OwnerName    string    `json:"ownerName"`
	Filename     string    `json:"filename"`
	Data         []byte    `json:"-"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// ClearResult reports what ClearAll removed.
type ClearResult struct {
	Count      int   `json:"count"`
	TotalBytes int64 `json:"totalBytes"`
}

// FileID returns the store id for owner and filename.
func FileID(owner, filename string) string { return owner + idSep + filename }

// SplitID is the inverse of FileID.
func SplitID(id string) (owner, filename string, ok bool) {
	owner, filename, ok = strings.Cut(id, idSep)
	if !ok || owner == "" || filename == "" {
		return "", "", false
	}
	return owner, filename, true
}

// Store is the file store facade over a Backend.
type Store struct {
	backend   Backend
	transient *TransientRegistry
	now       func() time.Time
	log       *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTransient makes RetrieveAsTransientURL mint tokens in reg instead of data: URLs.
func WithTransient(reg *TransientRegistry) Option { return func(s *Store) { s.transient = reg } }

// WithClock overrides the time source used for LastModified.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New returns a Store over backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{backend: backend, now: time.Now, log: applog.WithComponent("filestore")}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend { return s.backend }

// Close closes the backend.
func (s *Store) Close() error { return s.backend.Close() }

func validName(owner, filename string) bool {
	if strings.TrimSpace(owner) == "" || strings.TrimSpace(filename) == "" {
		return false
	}
	return !strings.Contains(owner, idSep) && !strings.Contains(owner, "/")
}

// Store persists data under owner/filename, replacing any previous content, and returns its id.
func (s *Store) Store(ctx context.Context, owner, filename string, data []byte) (string, error) {
	if !validName(owner, filename) {
		return "", fmt.Errorf("%w: %q/%q", ErrInvalidName, owner, filename)
	}
	f := StoredFile{
		ID:           FileID(owner, filename),
		OwnerName:    owner,
		Filename:     filename,
		Data:         data,
		MimeType:     DetectMimeType(filename, data),
		Size:         int64(len(data)),
		LastModified: s.now().UTC(),
	}
	if err := s.backend.Put(ctx, f); err != nil {
		return "", fmt.Errorf("store %s: %w", f.ID, err)
	}
	s.log.Debug("file stored", slog.String("id", f.ID), slog.Int64("size", f.Size))
	return f.ID, nil
}

// Retrieve returns the file with id, or nil when it does not exist.
func (s *Store) Retrieve(ctx context.Context, id string) (*StoredFile, error) {
	f, ok, err := s.backend.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("retrieve %s: %w", id, err)
	}
	if !ok {
		return nil, nil
	}
	return &f, nil
}

// RetrieveAsTransientURL returns a fresh URL for the file's bytes, or "" when it does not exist.
// Every call mints a new URL.
func (s *Store) RetrieveAsTransientURL(ctx context.Context, id string) (string, error) {
	f, err := s.Retrieve(ctx, id)
	if err != nil || f == nil {
		return "", err
	}
	return s.transientURL(ctx, *f), nil
}

// TransientURLFor mints a URL for bytes that are not persisted, such as a rewritten manifest.
func (s *Store) TransientURLFor(ctx context.Context, filename string, data []byte) string {
	f := StoredFile{ID: filename, Filename: filename, Data: data, MimeType: DetectMimeType(filename, data), Size: int64(len(data))}
	return s.transientURL(ctx, f)
}

// NewLease returns a lease on the store's registry, or nil when URLs are data: URLs.
func (s *Store) NewLease() *Lease {
	if s.transient == nil {
		return nil
	}
	return s.transient.NewLease()
}

// transientURL mints under the lease carried by ctx when it belongs to this
// store's registry, and with the registry TTL otherwise.
func (s *Store) transientURL(ctx context.Context, f StoredFile) string {
	if s.transient == nil {
		return "data:" + f.MimeType + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
	}
	if l := leaseFrom(ctx); l != nil && l.reg == s.transient {
		return l.Mint(f)
	}
	return s.transient.Mint(f)
}

// Exists reports whether id is stored.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	_, ok, err := s.backend.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", id, err)
	}
	return ok, nil
}

// DeleteOne removes id. Removing a missing id succeeds.
func (s *Store) DeleteOne(ctx context.Context, id string) error {
	if err := s.backend.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// DeleteAllForOwner removes every file stored for owner and returns how many were removed.
func (s *Store) DeleteAllForOwner(ctx context.Context, owner string) (int, error) {
	if od, ok := s.backend.(OwnerDeleter); ok {
		n, err := od.DeleteOwner(ctx, owner)
		if err != nil {
			return 0, fmt.Errorf("delete owner %s: %w", owner, err)
		}
		s.log.Info("owner files deleted", slog.String("owner", owner), slog.Int("count", n))
		return n, nil
	}
	all, err := s.backend.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete owner %s: %w", owner, err)
	}
	n := 0
	for _, f := range all {
		if f.OwnerName != owner {
			continue
		}
		if err := s.backend.Delete(ctx, f.ID); err != nil {
			return n, fmt.Errorf("delete owner %s: %w", owner, err)
		}
		n++
	}
	s.log.Info("owner files deleted", slog.String("owner", owner), slog.Int("count", n))
	return n, nil
}

// ListOwners returns the distinct owner names, sorted.
func (s *Store) ListOwners(ctx context.Context) ([]string, error) {
	all, err := s.backend.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	seen := map[string]struct{}{}
	owners := []string{}
	for _, f := range all {
		if _, ok := seen[f.OwnerName]; ok {
			continue
		}
		seen[f.OwnerName] = struct{}{}
		owners = append(owners, f.OwnerName)
	}
	sort.Strings(owners)
	return owners, nil
}

// ListFiles returns metadata of every file of owner, or of all files when owner is empty.
// Data is not populated.
func (s *Store) ListFiles(ctx context.Context, owner string) ([]StoredFile, error) {
	all, err := s.backend.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	out := make([]StoredFile, 0, len(all))
	for _, f := range all {
		if owner != "" && f.OwnerName != owner {
			continue
		}
		f.Data = nil
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ClearAll removes every file. Count and size are taken before deletion.
func (s *Store) ClearAll(ctx context.Context) (ClearResult, error) {
	all, err := s.backend.GetAll(ctx)
	if err != nil {
		return ClearResult{}, fmt.Errorf("clear: %w", err)
	}
	res := ClearResult{Count: len(all)}
	for _, f := range all {
		if f.Size > 0 {
			res.TotalBytes += f.Size
		} else {
			res.TotalBytes += int64(len(f.Data))
		}
	}
	if err := s.backend.Clear(ctx); err != nil {
		return ClearResult{}, fmt.Errorf("clear: %w", err)
	}
	s.log.Info("store cleared", slog.Int("count", res.Count), slog.Int64("bytes", res.TotalBytes))
	return res, nil
}

var extraTypes = map[string]string{
	".json": "application/json",
	".moc3": "application/octet-stream",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
}

// DetectMimeType picks a content type from the extension, falling back to sniffing data.
func DetectMimeType(filename string, data []byte) string {
	ext := strings.ToLower(path.Ext(filename))
	if t, ok := extraTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return http.DetectContentType(data)
}
