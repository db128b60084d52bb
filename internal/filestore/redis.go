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
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Backend that keeps each file in a hash and indexes ids in sets:
//
//	<prefix>:file:<id>    hash of owner, filename, mime, size, mtime, data
//	<prefix>:files        set of all ids
//	<prefix>:owner:<name> set of the owner's ids
type Redis struct {
	client *redis.Client
	prefix string
}

var _ Backend = (*Redis)(nil)

// OpenRedis connects to addr and pings the server.
func OpenRedis(ctx context.Context, addr, prefix string) (*Redis, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, prefix), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "galstage"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) fileKey(id string) string     { return r.prefix + ":file:" + id }
func (r *Redis) indexKey() string             { return r.prefix + ":files" }
func (r *Redis) ownerKey(owner string) string { return r.prefix + ":owner:" + owner }

func (r *Redis) Put(ctx context.Context, f StoredFile) error {
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.fileKey(f.ID), map[string]any{
		"owner":    f.OwnerName,
		"filename": f.Filename,
		"mime":     f.MimeType,
		"size":     f.Size,
		"mtime":    f.LastModified.UTC().UnixNano(),
		"data":     f.Data,
	})
	pipe.SAdd(ctx, r.indexKey(), f.ID)
	pipe.SAdd(ctx, r.ownerKey(f.OwnerName), f.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (StoredFile, bool, error) {
	m, err := r.client.HGetAll(ctx, r.fileKey(id)).Result()
	if err != nil {
		return StoredFile{}, false, fmt.Errorf("redis get: %w", err)
	}
	if len(m) == 0 {
		return StoredFile{}, false, nil
	}
	return decodeHash(id, m), true, nil
}

func decodeHash(id string, m map[string]string) StoredFile {
	size, _ := strconv.ParseInt(m["size"], 10, 64)
	ns, _ := strconv.ParseInt(m["mtime"], 10, 64)
	return StoredFile{
		ID:           id,
		OwnerName:    m["owner"],
		Filename:     m["filename"],
		MimeType:     m["mime"],
		Size:         size,
		LastModified: time.Unix(0, ns).UTC(),
		Data:         []byte(m["data"]),
	}
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	owner, err := r.client.HGet(ctx, r.fileKey(id), "owner").Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.fileKey(id))
	pipe.SRem(ctx, r.indexKey(), id)
	pipe.SRem(ctx, r.ownerKey(owner), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

func (r *Redis) DeleteOwner(ctx context.Context, owner string) (int, error) {
	ids, err := r.client.SMembers(ctx, r.ownerKey(owner)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("redis delete owner: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(ids))
	members := make([]any, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, r.fileKey(id))
		members = append(members, id)
	}
	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, keys...)
	pipe.SRem(ctx, r.indexKey(), members...)
	pipe.Del(ctx, r.ownerKey(owner))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis delete owner: %w", err)
	}
	n, _ := del.Result()
	return int(n), nil
}

func (r *Redis) GetAll(ctx context.Context) ([]StoredFile, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis get all: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, r.fileKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis get all: %w", err)
	}
	out := make([]StoredFile, 0, len(ids))
	for i, cmd := range cmds {
		m, err := cmd.Result()
		if err != nil || len(m) == 0 {
			continue
		}
		out = append(out, decodeHash(ids[i], m))
	}
	return out, nil
}

func (r *Redis) Clear(ctx context.Context) error {
	all, err := r.GetAll(ctx)
	if err != nil {
		return err
	}
	owners := map[string]struct{}{}
	pipe := r.client.TxPipeline()
	for _, f := range all {
		pipe.Del(ctx, r.fileKey(f.ID))
		owners[f.OwnerName] = struct{}{}
	}
	for o := range owners {
		pipe.Del(ctx, r.ownerKey(o))
	}
	pipe.Del(ctx, r.indexKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis clear: %w", err)
	}
	return nil
}

func (r *Redis) Close() error { return r.client.Close() }
