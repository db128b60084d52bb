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
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"galstage/internal/filestore"
	applog "galstage/internal/log"
)

// Command types understood by the browser renderer.
const (
	CmdLoad       = "model.load"
	CmdShow       = "model.show"
	CmdMotion     = "model.motion"
	CmdExpression = "model.expression"
	CmdPosition   = "model.position"
	CmdScale      = "model.scale"
	CmdDestroy    = "model.destroy"
)

// Command is one renderer instruction, sent as JSON over the websocket.
type Command struct {
	Type       string  `json:"type"`
	Model      string  `json:"model"`
	URL        string  `json:"url,omitempty"`
	Name       string  `json:"name,omitempty"`
	Group      string  `json:"group,omitempty"`
	Index      int     `json:"index,omitempty"`
	Expression string  `json:"expression,omitempty"`
	X          float64 `json:"x,omitempty"`
	Y          float64 `json:"y,omitempty"`
	Scale      float64 `json:"scale,omitempty"`
}

// CommandSink delivers renderer commands.
type CommandSink interface {
	Send(ctx context.Context, cmd Command) error
}

// SinkFunc adapts a function to CommandSink.
type SinkFunc func(ctx context.Context, cmd Command) error

func (f SinkFunc) Send(ctx context.Context, cmd Command) error { return f(ctx, cmd) }

// RemoteLoader loads models into a browser renderer reached through a CommandSink.
type RemoteLoader struct {
	files *filestore.Store
	sink  CommandSink
	log   *slog.Logger
}

// NewRemoteLoader returns a loader. files may be nil when every model is served over http(s).
func NewRemoteLoader(files *filestore.Store, sink CommandSink) *RemoteLoader {
	return &RemoteLoader{files: files, sink: sink, log: applog.WithComponent("live2d")}
}

// Load implements Loader. URLs minted for a stored model stay valid until the
// model is destroyed.
func (l *RemoteLoader) Load(ctx context.Context, url string, opts LoadOptions) (Model, error) {
	cfg := opts.Config
	id := cfg.ID
	if id == "" {
		id = url
	}
	target := url
	var lease *filestore.Lease
	if filestore.IsStoreURL(url) {
		if l.files != nil {
			lease = l.files.NewLease()
		}
		var err error
		target, err = l.prepareManifest(filestore.ContextWithLease(ctx, lease), url, cfg)
		if err != nil {
			lease.Release()
			return nil, err
		}
	}
	if err := l.sink.Send(ctx, Command{Type: CmdLoad, Model: id, URL: target, Name: cfg.Name}); err != nil {
		lease.Release()
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	m := &RemoteModel{id: id, cfg: cfg, sink: l.sink, lease: lease, log: l.log.With(slog.String("model", id)), scale: 1}
	if len(cfg.Motions) > 0 {
		if err := m.PlayMotion(cfg.Motions[0].Group, 0); err != nil {
			m.log.Warn("idle motion failed", slog.Any("err", err))
		}
	}
	l.log.Debug("model loaded", slog.String("model", id), slog.String("url", target))
	return m, nil
}

// prepareManifest reads a stored model3.json, points its references at
// transient URLs and publishes the rewritten copy.
func (l *RemoteLoader) prepareManifest(ctx context.Context, url string, cfg ModelConfig) (string, error) {
	if l.files == nil {
		return "", fmt.Errorf("load %s: no file store configured", url)
	}
	owner, filename, err := filestore.ParseStoreURL(url)
	if err != nil {
		return "", err
	}
	id := filestore.FileID(owner, filename)
	if fid, ok := cfg.FileIDs[filename]; ok {
		id = fid
	}
	f, err := l.files.Retrieve(ctx, id)
	if err != nil {
		return "", err
	}
	if f == nil {
		return "", fmt.Errorf("%w: %s", ErrModelFileMissing, id)
	}
	if err := ValidateManifest(f.Data); err != nil {
		return "", err
	}
	base := cfg.BasePath
	if !filestore.IsStoreURL(base) {
		base = filestore.StoreURL(owner, "")
		if dir := path.Dir(filename); dir != "." {
			base += dir + "/"
		}
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	out, n, err := RewriteManifest(ctx, f.Data, base, cfg.FileIDs, l.files)
	if err != nil {
		// The renderer can still try the untouched manifest.
		l.log.Warn("manifest rewrite failed", slog.String("id", id), slog.Any("err", err))
		return l.files.RetrieveAsTransientURL(ctx, id)
	}
	l.log.Debug("manifest rewritten", slog.String("id", id), slog.Int("refs", n))
	return l.files.TransientURLFor(ctx, path.Base(filename), out), nil
}

// RemoteModel is a model living in the browser renderer.
type RemoteModel struct {
	id    string
	cfg   ModelConfig
	sink  CommandSink
	lease *filestore.Lease
	log   *slog.Logger

	mu        sync.Mutex
	destroyed bool
	x, y      float64
	scale     float64
}

func (m *RemoteModel) ID() string { return m.id }

// Config returns the config the model was loaded with.
func (m *RemoteModel) Config() ModelConfig { return m.cfg }

func (m *RemoteModel) send(cmd Command) error {
	m.mu.Lock()
	dead := m.destroyed
	m.mu.Unlock()
	if dead {
		return ErrDestroyed
	}
	cmd.Model = m.id
	return m.sink.Send(context.Background(), cmd)
}

func (m *RemoteModel) SetPosition(x, y float64) {
	m.mu.Lock()
	m.x, m.y = x, y
	m.mu.Unlock()
	if err := m.send(Command{Type: CmdPosition, X: x, Y: y}); err != nil {
		m.log.Warn("set position failed", slog.Any("err", err))
	}
}

func (m *RemoteModel) SetScale(s float64) {
	m.mu.Lock()
	m.scale = s
	m.mu.Unlock()
	if err := m.send(Command{Type: CmdScale, Scale: s}); err != nil {
		m.log.Warn("set scale failed", slog.Any("err", err))
	}
}

// Position returns the last position and scale set on the model.
func (m *RemoteModel) Position() (x, y, scale float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.x, m.y, m.scale
}

// PlayMotion plays motion index of group. Configs without a motion list accept
// any motion since the manifest may declare its own.
func (m *RemoteModel) PlayMotion(group string, index int) error {
	if len(m.cfg.Motions) > 0 {
		if n := m.cfg.MotionCount(group); index < 0 || index >= n {
			return fmt.Errorf("%w: %s[%d]", ErrUnknownMotion, group, index)
		}
	}
	return m.send(Command{Type: CmdMotion, Group: group, Index: index})
}

func (m *RemoteModel) PlayExpression(name string) error {
	if len(m.cfg.Expressions) > 0 && !m.cfg.HasExpression(name) {
		return fmt.Errorf("%w: %s", ErrUnknownExpression, name)
	}
	return m.send(Command{Type: CmdExpression, Expression: name})
}

// Destroy removes the model from the renderer and revokes its file URLs.
// Further calls are no-ops.
func (m *RemoteModel) Destroy() error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return nil
	}
	m.destroyed = true
	m.mu.Unlock()
	err := m.sink.Send(context.Background(), Command{Type: CmdDestroy, Model: m.id})
	if n := m.lease.Release(); n > 0 {
		m.log.Debug("model urls revoked", slog.Int("count", n))
	}
	return err
}
