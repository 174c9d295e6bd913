package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Manager owns one config file. Reads are served from memory, updates are
// written through atomically and Watch picks up edits made by other processes.
//
// The file format follows the extension: .yaml and .yml are YAML, anything
// else is JSON. Keys missing from the file keep their defaults.
type Manager struct {
	path     string
	yaml     bool
	debounce time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	cfg      Config
	written  []byte
	subs     map[int]func(Config)
	nextSub  int
	watching bool
}

type managerOptions struct {
	path     string
	initial  *Config
	debounce time.Duration
	logger   *slog.Logger
}

type ManagerOption func(*managerOptions)

func NewManager(opts ...ManagerOption) (*Manager, error) {
	o := managerOptions{
		debounce: 300 * time.Millisecond,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.path == "" {
		p, err := defaultConfigPath()
		if err != nil {
			return nil, err
		}
		o.path = p
	}

	path := filepath.Clean(o.path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	m := &Manager{
		path:     path,
		yaml:     ext == ".yaml" || ext == ".yml",
		debounce: o.debounce,
		logger:   o.logger,
		subs:     make(map[int]func(Config)),
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		cfg, err := m.decode(data)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		m.cfg, m.written = cfg, data
	case errors.Is(err, os.ErrNotExist):
		cfg := DefaultConfigWithRoot(filepath.Dir(path))
		if o.initial != nil {
			cfg = o.initial
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if err := m.persist(*cfg); err != nil {
			return nil, fmt.Errorf("write initial config: %w", err)
		}
		m.cfg = *cfg
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}
	return m, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Path() string {
	return m.path
}

// Update validates cfg, writes it and notifies subscribers.
func (m *Manager) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if reflect.DeepEqual(m.Get(), cfg) {
		return nil
	}
	if err := m.persist(cfg); err != nil {
		return err
	}
	m.apply(cfg)
	return nil
}

// Modify applies fn to a copy of the current config and saves the result.
func (m *Manager) Modify(fn func(*Config) error) error {
	cfg := m.Get()
	if err := fn(&cfg); err != nil {
		return err
	}
	return m.Update(cfg)
}

// Subscribe registers fn for every applied change until cancel is called.
func (m *Manager) Subscribe(fn func(Config)) (cancel func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Watch subscribes onChange and starts watching the file if nobody else is.
// Both end when ctx is done.
func (m *Manager) Watch(ctx context.Context, onChange func(Config)) error {
	if onChange != nil {
		cancel := m.Subscribe(onChange)
		context.AfterFunc(ctx, cancel)
	}

	m.mu.Lock()
	if m.watching {
		m.mu.Unlock()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	// The directory is watched so atomic renames over the file are seen.
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		m.mu.Unlock()
		w.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}
	m.watching = true
	m.mu.Unlock()

	go m.watch(ctx, w)
	return nil
}

func (m *Manager) watch(ctx context.Context, w *fsnotify.Watcher) {
	defer func() {
		w.Close()
		m.mu.Lock()
		m.watching = false
		m.mu.Unlock()
	}()

	settle := time.NewTimer(m.debounce)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != m.path || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			settle.Reset(m.debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			m.logger.Warn("config watcher error", "error", err)
		case <-settle.C:
			m.reload()
		}
	}
}

func (m *Manager) reload() {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		// Deleted: put the live config back rather than resetting it.
		if err := m.persist(m.Get()); err != nil {
			m.logger.Error("config recreate failed", "path", m.path, "error", err)
		}
		return
	}
	if err != nil {
		m.logger.Error("config reload failed", "path", m.path, "error", err)
		return
	}

	m.mu.RLock()
	own := bytes.Equal(data, m.written)
	m.mu.RUnlock()
	if own {
		return
	}

	cfg, err := m.decode(data)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		m.logger.Warn("config change rejected", "path", m.path, "error", err)
		return
	}

	m.mu.Lock()
	m.written = data
	changed := !reflect.DeepEqual(m.cfg, cfg)
	m.mu.Unlock()
	if changed {
		m.logger.Info("config reloaded", "path", m.path)
		m.apply(cfg)
	}
}

func (m *Manager) apply(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg
	subs := make([]func(Config), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(cfg)
	}
}

// decode overlays the file on the defaults for the file's directory.
func (m *Manager) decode(data []byte) (Config, error) {
	if m.yaml {
		var tree map[string]any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return Config{}, fmt.Errorf("parse yaml: %w", err)
		}
		var err error
		if data, err = json.Marshal(tree); err != nil {
			return Config{}, err
		}
	}
	cfg := *DefaultConfigWithRoot(filepath.Dir(m.path))
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func (m *Manager) encode(cfg Config) ([]byte, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}
	if !m.yaml {
		return append(data, '\n'), nil
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return yaml.Marshal(tree)
}

func (m *Manager) persist(cfg Config) error {
	data, err := m.encode(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	// Record first so the watcher can tell this write from an external one.
	m.mu.Lock()
	m.written = data
	m.mu.Unlock()
	return writeAtomic(m.path, data)
}

// writeAtomic replaces path through a synced temp file in the same directory.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "cfg-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("flush config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close temp config: %w", err)
	}
	return os.Rename(name, path)
}

func defaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		if dir, err = os.Getwd(); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, "t0quant", "config.json"), nil
}

func WithConfigDir(dir string) ManagerOption {
	return func(o *managerOptions) {
		if dir != "" {
			o.path = filepath.Join(dir, "config.json")
		}
	}
}

func WithConfigPath(path string) ManagerOption {
	return func(o *managerOptions) {
		if path != "" {
			o.path = path
		}
	}
}

func WithDebounce(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		if d > 0 {
			o.debounce = d
		}
	}
}

func WithInitialConfig(cfg *Config) ManagerOption {
	return func(o *managerOptions) {
		o.initial = cfg
	}
}

func WithLogger(logger *slog.Logger) ManagerOption {
	return func(o *managerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
