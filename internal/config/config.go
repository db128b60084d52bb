/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are treated as read-only overrides at runtime.
//
// config_version: bump when the structure changes in a backward-incompatible way.

type GeneralConfig struct {
	TelemetryOptIn bool `yaml:"telemetry_opt_in"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// PublicBaseURL prefixes transient blob URLs handed to the view.
	PublicBaseURL  string `yaml:"public_base_url"`
	TransientTTLMs int    `yaml:"transient_ttl_ms"`
	// Token is not stored on disk; it lives in the OS keychain.
}

type StoreConfig struct {
	Backend     string `yaml:"backend"` // sqlite | postgres | redis | memory
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
}

type CacheConfig struct {
	MaxSize      int `yaml:"max_size"`
	PreloadAhead int `yaml:"preload_ahead"`
	// CatalogPath points at the YAML or JSON model catalog.
	CatalogPath string `yaml:"catalog_path"`
}

type PlayerConfig struct {
	AutoPlayDelayMs    int  `yaml:"auto_play_delay_ms"`
	BlackScreenExtraMs int  `yaml:"black_screen_extra_ms"`
	AutoPlay           bool `yaml:"auto_play"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	General       GeneralConfig `yaml:"general"`
	Server        ServerConfig  `yaml:"server"`
	Store         StoreConfig   `yaml:"store"`
	Cache         CacheConfig   `yaml:"cache"`
	Player        PlayerConfig  `yaml:"player"`
	Logging       LoggingConfig `yaml:"logging"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		General:       GeneralConfig{TelemetryOptIn: false},
		Server:        ServerConfig{Addr: "127.0.0.1:8787", PublicBaseURL: "http://127.0.0.1:8787", TransientTTLMs: 10 * 60 * 1000},
		Store:         StoreConfig{Backend: "sqlite", RedisAddr: "localhost:6379", RedisPrefix: "galstage"},
		Cache:         CacheConfig{MaxSize: 5, PreloadAhead: 2},
		Player:        PlayerConfig{AutoPlayDelayMs: 3000, BlackScreenExtraMs: 2000},
		Logging:       LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvConfigPath      = "GAL_CONFIG"
	EnvTelemetryOptIn  = "GAL_TELEMETRY_OPT_IN"
	EnvServerAddr      = "GAL_SERVER_ADDR"
	EnvPublicBaseURL   = "GAL_PUBLIC_BASE_URL"
	EnvTransientTTLMs  = "GAL_TRANSIENT_TTL_MS"
	EnvStoreBackend    = "GAL_STORE_BACKEND"
	EnvSQLitePath      = "GAL_SQLITE_PATH"
	EnvPostgresDSN     = "GAL_PG_DSN"
	EnvRedisAddr       = "GAL_REDIS_ADDR"
	EnvCacheMaxSize    = "GAL_CACHE_MAX_SIZE"
	EnvCatalogPath     = "GAL_CATALOG"
	EnvAutoPlayDelayMs = "GAL_AUTOPLAY_DELAY_MS"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "GAL_LOG_LEVEL"
	EnvLogFormat = "GAL_LOG_FORMAT"
	EnvLogSource = "GAL_LOG_SOURCE"
	EnvLogFile   = "GAL_LOG_FILE"
)

// ConfigDir returns the per-user galstage directory. It also hosts the default
// sqlite store and crash reports.
func ConfigDir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "galstage")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "galstage")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = filepath.Join(xdg, "galstage")
		} else {
			base = filepath.Join(os.Getenv("HOME"), ".config", "galstage")
		}
	}
	if base == "" || base == "galstage" {
		return "", errors.New("cannot resolve config directory")
	}
	return base, nil
}

// ConfigPath returns the per-user config file path.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads user config file (if present), applies defaults, and merges environment overrides.
// It also loads the server token from keyring (returned separately, never kept in the struct).
func Load() (AppConfig, string, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		return cfg, "", err
	}
	if data, err := os.ReadFile(path); err == nil {
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err == nil {
			mergeInto(&cfg, &fileCfg)
		}
	}
	applyEnvOverrides(&cfg)
	if cfg.Store.SQLitePath == "" {
		if dir, err := ConfigDir(); err == nil {
			cfg.Store.SQLitePath = filepath.Join(dir, "store.sqlite")
		}
	}
	tok, _ := LoadToken()
	return cfg, tok, nil
}

// Save writes the user config YAML and persists the token into OS keyring (if non-empty).
func Save(cfg AppConfig, token string) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	if token != "" {
		if err := SaveToken(token); err != nil {
			return err
		}
	}
	return nil
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	// booleans: copy directly from src (file) so user preferences persist
	dst.General.TelemetryOptIn = src.General.TelemetryOptIn

	if s := strings.TrimSpace(src.Server.Addr); s != "" {
		dst.Server.Addr = s
	}
	if s := strings.TrimSpace(src.Server.PublicBaseURL); s != "" {
		dst.Server.PublicBaseURL = strings.TrimRight(s, "/")
	}
	if src.Server.TransientTTLMs > 0 {
		dst.Server.TransientTTLMs = src.Server.TransientTTLMs
	}

	if s := strings.TrimSpace(src.Store.Backend); s != "" {
		dst.Store.Backend = strings.ToLower(s)
	}
	if s := strings.TrimSpace(src.Store.SQLitePath); s != "" {
		dst.Store.SQLitePath = s
	}
	if s := strings.TrimSpace(src.Store.PostgresDSN); s != "" {
		dst.Store.PostgresDSN = s
	}
	if s := strings.TrimSpace(src.Store.RedisAddr); s != "" {
		dst.Store.RedisAddr = s
	}
	if s := strings.TrimSpace(src.Store.RedisPrefix); s != "" {
		dst.Store.RedisPrefix = s
	}

	if src.Cache.MaxSize != 0 {
		dst.Cache.MaxSize = src.Cache.MaxSize
	}
	if src.Cache.PreloadAhead != 0 {
		dst.Cache.PreloadAhead = src.Cache.PreloadAhead
	}
	if s := strings.TrimSpace(src.Cache.CatalogPath); s != "" {
		dst.Cache.CatalogPath = s
	}

	if src.Player.AutoPlayDelayMs > 0 {
		dst.Player.AutoPlayDelayMs = src.Player.AutoPlayDelayMs
	}
	if src.Player.BlackScreenExtraMs > 0 {
		dst.Player.BlackScreenExtraMs = src.Player.BlackScreenExtraMs
	}
	dst.Player.AutoPlay = src.Player.AutoPlay

	if strings.TrimSpace(src.Logging.Level) != "" {
		dst.Logging.Level = strings.ToLower(strings.TrimSpace(src.Logging.Level))
	}
	if strings.TrimSpace(src.Logging.Format) != "" {
		dst.Logging.Format = strings.ToLower(strings.TrimSpace(src.Logging.Format))
	}
	dst.Logging.Source = src.Logging.Source
	if strings.TrimSpace(src.Logging.File) != "" {
		dst.Logging.File = strings.TrimSpace(src.Logging.File)
	}
}

func parseBool(v string) bool {
	lv := strings.ToLower(strings.TrimSpace(v))
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func envInt(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvTelemetryOptIn)); v != "" {
		cfg.General.TelemetryOptIn = parseBool(v)
	}
	envString(EnvServerAddr, &cfg.Server.Addr)
	envString(EnvPublicBaseURL, &cfg.Server.PublicBaseURL)
	envInt(EnvTransientTTLMs, &cfg.Server.TransientTTLMs)
	if v := strings.TrimSpace(os.Getenv(EnvStoreBackend)); v != "" {
		cfg.Store.Backend = strings.ToLower(v)
	}
	envString(EnvSQLitePath, &cfg.Store.SQLitePath)
	envString(EnvPostgresDSN, &cfg.Store.PostgresDSN)
	envString(EnvRedisAddr, &cfg.Store.RedisAddr)
	envInt(EnvCacheMaxSize, &cfg.Cache.MaxSize)
	envString(EnvCatalogPath, &cfg.Cache.CatalogPath)
	envInt(EnvAutoPlayDelayMs, &cfg.Player.AutoPlayDelayMs)

	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		cfg.Logging.Source = parseBool(v)
	}
	envString(EnvLogFile, &cfg.Logging.File)
}

var envKeys = map[string]string{
	"general.telemetry_opt_in":  EnvTelemetryOptIn,
	"server.addr":               EnvServerAddr,
	"server.public_base_url":    EnvPublicBaseURL,
	"server.transient_ttl_ms":   EnvTransientTTLMs,
	"store.backend":             EnvStoreBackend,
	"store.sqlite_path":         EnvSQLitePath,
	"store.postgres_dsn":        EnvPostgresDSN,
	"store.redis_addr":          EnvRedisAddr,
	"cache.max_size":            EnvCacheMaxSize,
	"cache.catalog_path":        EnvCatalogPath,
	"player.auto_play_delay_ms": EnvAutoPlayDelayMs,
	"logging.level":             EnvLogLevel,
	"logging.format":            EnvLogFormat,
	"logging.source":            EnvLogSource,
	"logging.file":              EnvLogFile,
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	env, ok := envKeys[key]
	if !ok || os.Getenv(env) == "" {
		return "", false
	}
	return env, true
}

// TransientTTL returns the lifetime of minted blob URLs.
func (s ServerConfig) TransientTTL() time.Duration {
	if s.TransientTTLMs <= 0 {
		return time.Duration(Defaults().Server.TransientTTLMs) * time.Millisecond
	}
	return time.Duration(s.TransientTTLMs) * time.Millisecond
}

// AutoPlayDelay returns the base auto-play delay.
func (p PlayerConfig) AutoPlayDelay() time.Duration {
	if p.AutoPlayDelayMs <= 0 {
		return time.Duration(Defaults().Player.AutoPlayDelayMs) * time.Millisecond
	}
	return time.Duration(p.AutoPlayDelayMs) * time.Millisecond
}

// BlackScreenExtra returns the extra delay added while a black-screen block is shown.
func (p PlayerConfig) BlackScreenExtra() time.Duration {
	if p.BlackScreenExtraMs <= 0 {
		return time.Duration(Defaults().Player.BlackScreenExtraMs) * time.Millisecond
	}
	return time.Duration(p.BlackScreenExtraMs) * time.Millisecond
}
