package adapters

import (
	"strings"
	"sync"

	"panierfacile-pricing/internal/logging/types"
)

// MemoryAdapter keeps entries in memory. Used by tests that assert on
// emitted log lines.
type MemoryAdapter struct {
	name    string
	mu      sync.Mutex
	entries []types.LogEntry
}

// NewMemoryAdapter creates an empty memory adapter
func NewMemoryAdapter(name string) *MemoryAdapter {
	return &MemoryAdapter{name: name}
}

func (a *MemoryAdapter) Write(entry *types.LogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *entry)
	return nil
}

// Entries returns a copy of the captured entries
func (a *MemoryAdapter) Entries() []types.LogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.LogEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Find returns the first entry whose message contains substr
func (a *MemoryAdapter) Find(substr string) (types.LogEntry, bool) {
	for _, e := range a.Entries() {
		if strings.Contains(e.Message, substr) {
			return e, true
		}
	}
	return types.LogEntry{}, false
}

func (a *MemoryAdapter) Close() error  { return nil }
func (a *MemoryAdapter) Health() error { return nil }
func (a *MemoryAdapter) Name() string  { return a.name }
