package dataflows

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CacheManager keeps provider responses as JSON files under
// dir/<source>/<method>-<hash>.json. Entries expire ttl after they were saved.
type CacheManager struct {
	dir     string
	ttl     time.Duration
	enabled bool
	now     func() time.Time
}

type cacheEntry struct {
	SavedAt time.Time       `json:"saved_at"`
	Params  json.RawMessage `json:"params"`
	Payload json.RawMessage `json:"payload"`
}

func NewCacheManager(cacheDir string, ttl time.Duration, cacheEnabled bool) *CacheManager {
	return &CacheManager{dir: cacheDir, ttl: ttl, enabled: cacheEnabled, now: time.Now}
}

func (cm *CacheManager) entryPath(source, method string, params []byte) string {
	sum := md5.Sum(params)
	return filepath.Join(cm.dir, source, method+"-"+hex.EncodeToString(sum[:8])+".json")
}

// Get decodes a live entry into result. Expired entries are removed.
func (cm *CacheManager) Get(source, method string, params any, result any) bool {
	if !cm.enabled {
		return false
	}
	key, err := json.Marshal(params)
	if err != nil {
		return false
	}
	path := cm.entryPath(source, method, key)
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil || cm.now().Sub(entry.SavedAt) > cm.ttl {
		_ = os.Remove(path)
		return false
	}
	return json.Unmarshal(entry.Payload, result) == nil
}

func (cm *CacheManager) Set(source, method string, params any, data any) error {
	if !cm.enabled {
		return nil
	}
	key, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("cache key: %w", err)
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("cache payload: %w", err)
	}
	out, err := json.MarshalIndent(cacheEntry{SavedAt: cm.now(), Params: key, Payload: payload}, "", "  ")
	if err != nil {
		return err
	}

	path := cm.entryPath(source, method, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

// Purge deletes entries saved more than maxAge ago and returns how many went.
// Files that are not cache entries are left alone.
func (cm *CacheManager) Purge(maxAge time.Duration) (int, error) {
	if _, err := os.Stat(cm.dir); os.IsNotExist(err) {
		return 0, nil
	}
	removed := 0
	err := filepath.WalkDir(cm.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var entry cacheEntry
		if json.Unmarshal(data, &entry) != nil || entry.SavedAt.IsZero() {
			return nil
		}
		if cm.now().Sub(entry.SavedAt) <= maxAge {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove %s: %w", path, err)
		}
		removed++
		return nil
	})
	return removed, err
}
