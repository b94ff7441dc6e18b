package scraper

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"panierfacile-pricing/internal/logging"
	"panierfacile-pricing/internal/logging/types"
)

// BlockedFileName is the registry file inside the data directory
const BlockedFileName = "blocked-retailers.json"

// BlockEntry describes a retailer whose last search hit bot protection
type BlockEntry struct {
	Host      string    `json:"host"`
	Reason    string    `json:"reason"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Count     int       `json:"count"`
}

// BlockRegistry remembers which retailers are currently blocking us and
// persists the set to a JSON file so it survives restarts
type BlockRegistry struct {
	path    string
	entries map[string]BlockEntry
	mu      sync.RWMutex
	logger  types.Logger
	now     func() time.Time
}

// NewBlockRegistry loads the registry stored in dataDir. A missing or
// unreadable file starts an empty registry.
func NewBlockRegistry(dataDir string) *BlockRegistry {
	r := &BlockRegistry{
		path:    filepath.Join(dataDir, BlockedFileName),
		entries: make(map[string]BlockEntry),
		logger:  logging.GetGlobalLogger().WithField("component", "block_registry"),
		now:     time.Now,
	}
	if err := r.load(); err != nil {
		r.logger.Error("Failed to load blocked retailers", map[string]interface{}{
			"file":  r.path,
			"error": err.Error(),
		})
	}
	return r
}

// Record marks retailer as blocked
func (r *BlockRegistry) Record(retailer, siteURL, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, exists := r.entries[retailer]
	if !exists {
		entry = BlockEntry{Host: hostOf(siteURL), FirstSeen: now}
		r.logger.Info("Retailer added to blocked registry", map[string]interface{}{
			"retailer": retailer,
			"host":     entry.Host,
			"reason":   reason,
		})
	}
	entry.Reason = reason
	entry.LastSeen = now
	entry.Count++
	r.entries[retailer] = entry

	if err := r.save(); err != nil {
		r.logger.Error("Failed to save blocked retailers", map[string]interface{}{
			"file":  r.path,
			"error": err.Error(),
		})
	}
}

// Clear removes retailer after a successful search
func (r *BlockRegistry) Clear(retailer string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[retailer]; !exists {
		return
	}
	delete(r.entries, retailer)
	r.logger.Info("Retailer removed from blocked registry", map[string]interface{}{"retailer": retailer})

	if err := r.save(); err != nil {
		r.logger.Error("Failed to save blocked retailers", map[string]interface{}{
			"file":  r.path,
			"error": err.Error(),
		})
	}
}

// IsBlocked reports whether retailer's last search was blocked
func (r *BlockRegistry) IsBlocked(retailer string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.entries[retailer]
	return exists
}

// Snapshot returns a copy of the registry
func (r *BlockRegistry) Snapshot() map[string]BlockEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]BlockEntry, len(r.entries))
	for name, entry := range r.entries {
		out[name] = entry
	}
	return out
}

func (r *BlockRegistry) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Debug("Blocked retailers file does not exist, starting empty")
			return nil
		}
		return fmt.Errorf("failed to read blocked retailers file: %w", err)
	}
	if err := json.Unmarshal(data, &r.entries); err != nil {
		r.entries = make(map[string]BlockEntry)
		return fmt.Errorf("failed to decode blocked retailers file: %w", err)
	}
	r.logger.Info("Loaded blocked retailers", map[string]interface{}{"count": len(r.entries)})
	return nil
}

// save writes the registry atomically. Callers hold r.mu.
func (r *BlockRegistry) save() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	data, err := json.MarshalIndent(r.entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write blocked retailers file: %w", err)
	}
	return os.Rename(tmp, r.path)
}

func hostOf(siteURL string) string {
	parsed, err := url.Parse(siteURL)
	if err != nil || parsed.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(parsed.Hostname(), "www.")
}
