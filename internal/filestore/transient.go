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
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// BlobPath is the HTTP path prefix under which transient tokens are served.
const BlobPath = "/blob/"

// Blob is a snapshot of a stored file held for the lifetime of a transient URL.
// A zero Expires means the blob lives until its lease is released.
type Blob struct {
	FileID   string
	Filename string
	MimeType string
	Data     []byte
	Expires  time.Time
}

func (b Blob) expired(now time.Time) bool {
	return !b.Expires.IsZero() && !now.Before(b.Expires)
}

// TransientRegistry hands out short-lived URLs for file snapshots, the server-side
// counterpart of a browser object URL.
type TransientRegistry struct {
	baseURL string
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	blobs map[string]Blob
}

// NewTransientRegistry returns a registry that mints URLs below baseURL valid for ttl.
func NewTransientRegistry(baseURL string, ttl time.Duration) *TransientRegistry {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &TransientRegistry{
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
		blobs:   map[string]Blob{},
	}
}

// SetClock overrides the time source.
func (r *TransientRegistry) SetClock(now func() time.Time) { r.now = now }

// Mint registers a snapshot of f and returns its URL. The URL expires after the registry TTL.
func (r *TransientRegistry) Mint(f StoredFile) string {
	_, u := r.mint(f, r.now().Add(r.ttl))
	return u
}

func (r *TransientRegistry) mint(f StoredFile, expires time.Time) (token, url string) {
	token = ulid.Make().String()
	r.mu.Lock()
	r.blobs[token] = Blob{
		FileID:   f.ID,
		Filename: f.Filename,
		MimeType: f.MimeType,
		Data:     f.Data,
		Expires:  expires,
	}
	r.mu.Unlock()
	return token, r.baseURL + BlobPath + token
}

// Lease groups URLs that stay valid until Release, regardless of the registry
// TTL. A loaded model holds one lease for its manifest and every file it references.
type Lease struct {
	reg *TransientRegistry

	mu       sync.Mutex
	tokens   []string
	released bool
}

// NewLease returns an empty lease.
func (r *TransientRegistry) NewLease() *Lease { return &Lease{reg: r} }

// Mint registers a snapshot of f under the lease. After Release it falls back to
// a TTL-bound URL so late callers still get something servable.
func (l *Lease) Mint(f StoredFile) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return l.reg.Mint(f)
	}
	tok, u := l.reg.mint(f, time.Time{})
	l.tokens = append(l.tokens, tok)
	return u
}

// Release revokes every URL minted under the lease and returns how many there were.
// It is safe to call more than once and on a nil lease.
func (l *Lease) Release() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	toks := l.tokens
	l.tokens, l.released = nil, true
	l.mu.Unlock()
	for _, tok := range toks {
		l.reg.Revoke(tok)
	}
	return len(toks)
}

type leaseKey struct{}

// ContextWithLease makes store lookups that mint URLs with ctx mint them under l.
func ContextWithLease(ctx context.Context, l *Lease) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, leaseKey{}, l)
}

func leaseFrom(ctx context.Context) *Lease {
	l, _ := ctx.Value(leaseKey{}).(*Lease)
	return l
}

// TokenFromURL extracts the token part of a minted URL.
func TokenFromURL(u string) (string, bool) {
	i := strings.LastIndex(u, BlobPath)
	if i < 0 {
		return "", false
	}
	tok := u[i+len(BlobPath):]
	return tok, tok != ""
}

// Lookup returns the blob for token. Expired tokens are dropped and reported missing.
func (r *TransientRegistry) Lookup(token string) (Blob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.blobs[token]
	if !ok {
		return Blob{}, false
	}
	if b.expired(r.now()) {
		delete(r.blobs, token)
		return Blob{}, false
	}
	return b, true
}

// Revoke drops token.
func (r *TransientRegistry) Revoke(token string) {
	r.mu.Lock()
	delete(r.blobs, token)
	r.mu.Unlock()
}

// Sweep drops all expired tokens; leased tokens stay and returns how many were removed.
func (r *TransientRegistry) Sweep() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for tok, b := range r.blobs {
		if b.expired(now) {
			delete(r.blobs, tok)
			n++
		}
	}
	return n
}

// Len returns the number of live tokens, expired ones included until swept.
func (r *TransientRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blobs)
}

// RunSweeper sweeps every interval until ctx is done.
func (r *TransientRegistry) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Sweep()
		}
	}
}
