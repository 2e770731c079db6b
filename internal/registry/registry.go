// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package registry

import (
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// CapabilityRegistry manages the capability table. Reads are concurrent;
// Reload swaps the whole table under the write lock so an in-flight request
// never observes a partially updated entry.
type CapabilityRegistry struct {
	mu           sync.RWMutex
	capabilities map[string]*ModelCapability
}

// NewCapabilityRegistry creates a registry populated with the given entries.
// Entries with an empty ModelID are ignored.
func NewCapabilityRegistry(caps []ModelCapability) *CapabilityRegistry {
	r := &CapabilityRegistry{capabilities: make(map[string]*ModelCapability, len(caps))}
	r.loadLocked(caps)
	return r
}

// NewDefaultRegistry creates a registry with the built-in capability table.
func NewDefaultRegistry() *CapabilityRegistry {
	return NewCapabilityRegistry(DefaultCapabilities())
}

func (r *CapabilityRegistry) loadLocked(caps []ModelCapability) {
	for i := range caps {
		entry := caps[i]
		if strings.TrimSpace(entry.ModelID) == "" {
			continue
		}
		capCopy := entry
		capCopy.SupportedFormats = append([]string(nil), entry.SupportedFormats...)
		r.capabilities[capCopy.ModelID] = &capCopy
	}
}

// Get returns the capability entry for a model, or nil if unknown.
func (r *CapabilityRegistry) Get(modelID string) *ModelCapability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.capabilities[modelID]
}

// Has reports whether the model is registered.
func (r *CapabilityRegistry) Has(modelID string) bool {
	return r.Get(modelID) != nil
}

// All returns every registered capability sorted by model ID.
func (r *CapabilityRegistry) All() []*ModelCapability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := make([]*ModelCapability, 0, len(r.capabilities))
	for _, c := range r.capabilities {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i].ModelID < caps[j].ModelID })
	return caps
}

// Reload replaces the entire capability table. Intended for administrative
// updates; never called concurrently with itself by the config layer.
func (r *CapabilityRegistry) Reload(caps []ModelCapability) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.capabilities = make(map[string]*ModelCapability, len(caps))
	r.loadLocked(caps)
	log.Debugf("Capability registry reloaded with %d models", len(r.capabilities))
}

// Merge overlays the given entries on top of the current table, replacing
// entries with matching model IDs and adding new ones.
func (r *CapabilityRegistry) Merge(caps []ModelCapability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadLocked(caps)
}
