/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"galstage/internal/filestore"
	"galstage/internal/player"
	"galstage/internal/script"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
)

const (
	maxScriptBytes = 4 << 20
	maxFileBytes   = 64 << 20
)

func (s *Server) blob(w http.ResponseWriter, r *http.Request) {
	if s.transient == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	b, ok := s.transient.Lookup(chi.URLParam(r, "token"))
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", b.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(b.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b.Data)
}

func (s *Server) websocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WarnContext(r.Context(), "websocket upgrade failed", slog.Any("err", err))
		return
	}
	s.hub.Attach(ulid.Make().String(), conn)
}

// readScript accepts either a raw text body or {"script": "..."}.
func readScript(w http.ResponseWriter, r *http.Request) (string, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxScriptBytes))
	if err != nil {
		return "", err
	}
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "application/json" {
		var req struct {
			Script string `json:"script"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return "", fmt.Errorf("decode request: %w", err)
		}
		return req.Script, nil
	}
	return string(body), nil
}

type parseResponse struct {
	Blocks   []script.Block      `json:"blocks"`
	Status   script.StatusRecord `json:"status,omitempty"`
	Segments []script.Segment    `json:"segments,omitempty"`
}

func (s *Server) parse(w http.ResponseWriter, r *http.Request) {
	text, err := readScript(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp := parseResponse{Blocks: script.ParseBlocks(text)}
	if resp.Blocks == nil {
		resp.Blocks = []script.Block{}
	}
	if st, ok := script.ParseStatusBlock(text); ok {
		resp.Status = st
	}
	if v, _ := strconv.ParseBool(r.URL.Query().Get("segments")); v {
		resp.Segments = script.ParseSegments(text)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) playerState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.player.State())
}

func (s *Server) playerLoad(w http.ResponseWriter, r *http.Request) {
	text, err := readScript(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	blocks := script.ParseBlocks(text)
	s.player.Load(blocks)
	s.log.InfoContext(r.Context(), "script loaded", slog.Int("blocks", len(blocks)))
	writeJSON(w, http.StatusOK, s.player.State())
}

type moveResponse struct {
	Moved bool         `json:"moved"`
	State player.State `json:"state"`
}

func (s *Server) playerAdvance(w http.ResponseWriter, r *http.Request) {
	moved := s.player.Advance()
	writeJSON(w, http.StatusOK, moveResponse{Moved: moved, State: s.player.State()})
}

func (s *Server) playerRetreat(w http.ResponseWriter, r *http.Request) {
	moved := s.player.Retreat()
	writeJSON(w, http.StatusOK, moveResponse{Moved: moved, State: s.player.State()})
}

type choiceRequest struct {
	ID string `json:"id"`
}

type choiceResponse struct {
	Result player.ChoiceResult `json:"result"`
	State  player.State        `json:"state"`
}

func (s *Server) playerChoice(w http.ResponseWriter, r *http.Request) {
	var req choiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.player.SelectChoice(req.ID)
	switch {
	case errors.Is(err, player.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, player.ErrUnknownChoice):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, choiceResponse{Result: res, State: s.player.State()})
}

type autoPlayRequest struct {
	Enabled bool  `json:"enabled"`
	DelayMs int64 `json:"delayMs"`
}

func (s *Server) playerAutoPlay(w http.ResponseWriter, r *http.Request) {
	var req autoPlayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DelayMs < 0 {
		writeError(w, http.StatusBadRequest, "delayMs must not be negative")
		return
	}
	s.player.SetAutoPlay(req.Enabled, time.Duration(req.DelayMs)*time.Millisecond)
	writeJSON(w, http.StatusOK, s.player.State())
}

func (s *Server) requireFiles(w http.ResponseWriter) bool {
	if s.files == nil {
		writeError(w, http.StatusServiceUnavailable, "file store not configured")
		return false
	}
	return true
}

func (s *Server) storeOwners(w http.ResponseWriter, r *http.Request) {
	if !s.requireFiles(w) {
		return
	}
	owners, err := s.files.ListOwners(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if owners == nil {
		owners = []string{}
	}
	writeJSON(w, http.StatusOK, owners)
}

func (s *Server) storeList(w http.ResponseWriter, r *http.Request) {
	if !s.requireFiles(w) {
		return
	}
	files, err := s.files.ListFiles(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if files == nil {
		files = []filestore.StoredFile{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) storePut(w http.ResponseWriter, r *http.Request) {
	if !s.requireFiles(w) {
		return
	}
	owner, filename := chi.URLParam(r, "owner"), chi.URLParam(r, "*")
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFileBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	id, err := s.files.Store(r.Context(), owner, filename, data)
	if errors.Is(err, filestore.ErrInvalidName) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":   id,
		"url":  filestore.StoreURL(owner, filename),
		"size": len(data),
	})
}

func (s *Server) storeGet(w http.ResponseWriter, r *http.Request) {
	if !s.requireFiles(w) {
		return
	}
	id := filestore.FileID(chi.URLParam(r, "owner"), chi.URLParam(r, "*"))
	u, err := s.files.RetrieveAsTransientURL(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if u == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "url": u})
}

func (s *Server) storeDelete(w http.ResponseWriter, r *http.Request) {
	if !s.requireFiles(w) {
		return
	}
	id := filestore.FileID(chi.URLParam(r, "owner"), chi.URLParam(r, "*"))
	if err := s.files.DeleteOne(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) storeDeleteOwner(w http.ResponseWriter, r *http.Request) {
	if !s.requireFiles(w) {
		return
	}
	n, err := s.files.DeleteAllForOwner(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) storeClear(w http.ResponseWriter, r *http.Request) {
	if !s.requireFiles(w) {
		return
	}
	res, err := s.files.ClearAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) requireCache(w http.ResponseWriter) bool {
	if s.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "model cache not configured")
		return false
	}
	return true
}

func (s *Server) cacheStats(w http.ResponseWriter, r *http.Request) {
	if !s.requireCache(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) cacheClear(w http.ResponseWriter, r *http.Request) {
	if !s.requireCache(w) {
		return
	}
	s.cache.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cacheResize(w http.ResponseWriter, r *http.Request) {
	if !s.requireCache(w) {
		return
	}
	var req struct {
		MaxSize int `json:"maxSize"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.cache.SetMaxSize(req.MaxSize)
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

// handleFrame drives the player from view frames: advance, retreat, choice,
// autoplay and state.
func (s *Server) handleFrame(c *Client, env Envelope) {
	switch env.Type {
	case "advance":
		s.player.Advance()
	case "retreat":
		s.player.Retreat()
	case "choice":
		var req choiceRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			c.Reply(MsgError, map[string]string{"error": "invalid choice"})
			return
		}
		if _, err := s.player.SelectChoice(req.ID); err != nil {
			c.Reply(MsgError, map[string]string{"error": err.Error()})
		}
	case "autoplay":
		var req autoPlayRequest
		if err := json.Unmarshal(env.Data, &req); err != nil || req.DelayMs < 0 {
			c.Reply(MsgError, map[string]string{"error": "invalid autoplay"})
			return
		}
		s.player.SetAutoPlay(req.Enabled, time.Duration(req.DelayMs)*time.Millisecond)
	case "state":
		c.Reply(MsgPlayer, player.Event{Kind: "state", State: s.player.State()})
	default:
		c.Reply(MsgError, map[string]string{"error": "unknown frame type " + strconv.Quote(env.Type)})
	}
}
