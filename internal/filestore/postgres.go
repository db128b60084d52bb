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
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres is a Backend for shared deployments where several servers use one store.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects with dsn and ensures the store_files table exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS store_files (
			id            TEXT PRIMARY KEY,
			owner         TEXT NOT NULL,
			filename      TEXT NOT NULL,
			mime_type     TEXT NOT NULL,
			size          BIGINT NOT NULL,
			last_modified TIMESTAMPTZ NOT NULL,
			data          BYTEA NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_store_files_owner ON store_files(owner)`,
	}
	for _, q := range stmts {
		if _, err := db.ExecContext(ctx, q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Put(ctx context.Context, f StoredFile) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO store_files (id, owner, filename, mime_type, size, last_modified, data)
		VALUES($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET owner=EXCLUDED.owner, filename=EXCLUDED.filename, mime_type=EXCLUDED.mime_type,
			size=EXCLUDED.size, last_modified=EXCLUDED.last_modified, data=EXCLUDED.data`,
		f.ID, f.OwnerName, f.Filename, f.MimeType, f.Size, f.LastModified.UTC(), f.Data)
	return err
}

func (p *Postgres) Get(ctx context.Context, id string) (StoredFile, bool, error) {
	var f StoredFile
	err := p.db.QueryRowContext(ctx, `SELECT id, owner, filename, mime_type, size, last_modified, data FROM store_files WHERE id=$1`, id).
		Scan(&f.ID, &f.OwnerName, &f.Filename, &f.MimeType, &f.Size, &f.LastModified, &f.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredFile{}, false, nil
	}
	if err != nil {
		return StoredFile{}, false, err
	}
	return f, true, nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM store_files WHERE id=$1`, id)
	return err
}

func (p *Postgres) DeleteOwner(ctx context.Context, owner string) (int, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM store_files WHERE owner=$1`, owner)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (p *Postgres) GetAll(ctx context.Context) ([]StoredFile, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, owner, filename, mime_type, size, last_modified, data FROM store_files ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StoredFile
	for rows.Next() {
		var f StoredFile
		if err := rows.Scan(&f.ID, &f.OwnerName, &f.Filename, &f.MimeType, &f.Size, &f.LastModified, &f.Data); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *Postgres) Clear(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM store_files`)
	return err
}

func (p *Postgres) Close() error { return p.db.Close() }
