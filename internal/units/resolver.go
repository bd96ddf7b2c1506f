// Package units resolves which balancing-mechanism units are in scope and
// who owns them. The mapping file is the single source of lead-party truth;
// fact rows never store it.
package units

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Registry is the immutable view over the unit mapping file.
type Registry struct {
	leadParty map[string]string
}

type mappingEntry struct {
	BMUnit    string `json:"bm_unit"`
	LeadParty string `json:"lead_party"`
}

var (
	mu     sync.Mutex
	cached *Registry
)

// Resolve returns the process-wide registry, loading the mapping file on
// first use. A missing or malformed file is fatal for the caller: ingestion
// cannot decide "in scope" without it.
func Resolve(path string) (*Registry, error) {
	mu.Lock()
	defer mu.Unlock()

	if cached != nil {
		return cached, nil
	}

	reg, err := load(path)
	if err != nil {
		return nil, err
	}
	cached = reg
	return cached, nil
}

// Reload discards the cached registry and loads the mapping file again.
func Reload(path string) (*Registry, error) {
	reg, err := load(path)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	cached = reg
	mu.Unlock()
	return reg, nil
}

func load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read unit mapping %s: %w", path, err)
	}

	var entries []mappingEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse unit mapping %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("unit mapping %s contains no units", path)
	}

	leadParty := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.BMUnit == "" {
			return nil, fmt.Errorf("unit mapping %s: entry with empty bm_unit", path)
		}
		leadParty[e.BMUnit] = e.LeadParty
	}

	return &Registry{leadParty: leadParty}, nil
}

// Contains reports whether the unit is in scope.
func (r *Registry) Contains(unit string) bool {
	_, ok := r.leadParty[unit]
	return ok
}

// LeadParty returns the owning lead party for a unit, empty when unknown.
func (r *Registry) LeadParty(unit string) string {
	return r.leadParty[unit]
}

// Count returns the number of in-scope units.
func (r *Registry) Count() int {
	return len(r.leadParty)
}
