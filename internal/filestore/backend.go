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
	"fmt"
	"strings"
	"sync"
)

// Backend is the persistent key/value store behind a Store.
// Get reports false for a missing id without an error.
type Backend interface {
	Put(ctx context.Context, f StoredFile) error
	Get(ctx context.Context, id string) (StoredFile, bool, error)
	Delete(ctx context.Context, id string) error
	GetAll(ctx context.Context) ([]StoredFile, error)
	Clear(ctx context.Context) error
	Close() error
}

// OwnerDeleter is implemented by backends that can drop an owner's files in one statement.
type OwnerDeleter interface {
	DeleteOwner(ctx context.Context, owner string) (int, error)
}

// BackendConfig selects and parameterises a backend.
type BackendConfig struct {
	Kind        string // sqlite | postgres | redis | memory
	SQLitePath  string
	PostgresDSN string
	RedisAddr   string
	RedisPrefix string
}

// OpenBackend opens the backend described by cfg.
func OpenBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "sqlite":
		return OpenSQLite(ctx, cfg.SQLitePath)
	case "postgres", "pg":
		return OpenPostgres(ctx, cfg.PostgresDSN)
	case "redis":
		return OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPrefix)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("filestore: unknown backend %q", cfg.Kind)
	}
}

// Memory is an in-process Backend.
type Memory struct {
	mu    sync.RWMutex
	files map[string]StoredFile
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory { return &Memory{files: map[string]StoredFile{}} }

func (m *Memory) Put(_ context.Context, f StoredFile) error {
	f.Data = append([]byte(nil), f.Data...)
	m.mu.Lock()
	m.files[f.ID] = f
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (StoredFile, bool, error) {
	m.mu.RLock()
	f, ok := m.files[id]
	m.mu.RUnlock()
	if ok {
		f.Data = append([]byte(nil), f.Data...)
	}
	return f, ok, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.files, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetAll(_ context.Context) ([]StoredFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StoredFile, 0, len(m.files))
	for _, f := range m.files {
		f.Data = append([]byte(nil), f.Data...)
		out = append(out, f)
	}
	return out, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.files = map[string]StoredFile{}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
