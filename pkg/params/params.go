// Package params holds the model parameter buffer that motions and
// expressions write into each tick.
package params

import (
	"sort"
	"sync"
)

// Parameters is a named float buffer with per-id defaults. Values reset to
// their defaults at the start of every tick and are then layered by the
// motion and expression players.
//
// Parameters is safe for concurrent use.
type Parameters struct {
	mu       sync.RWMutex
	defaults map[string]float64
	values   map[string]float64
}

// New creates an empty buffer.
func New() *Parameters {
	return &Parameters{
		defaults: make(map[string]float64),
		values:   make(map[string]float64),
	}
}

// Define registers id with a default value and resets it.
func (p *Parameters) Define(id string, def float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaults[id] = def
	p.values[id] = def
}

// Default returns the default for id, or 0 for unknown ids.
func (p *Parameters) Default(id string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.defaults[id]
}

// Get returns the current value of id.
func (p *Parameters) Get(id string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if v, ok := p.values[id]; ok {
		return v
	}
	return p.defaults[id]
}

// Set overwrites id. Unknown ids are created with a zero default.
func (p *Parameters) Set(id string, v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensure(id)
	p.values[id] = v
}

// Add adds delta to id.
func (p *Parameters) Add(id string, delta float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensure(id)
	p.values[id] += delta
}

// Multiply scales id by factor.
func (p *Parameters) Multiply(id string, factor float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensure(id)
	p.values[id] *= factor
}

// Blend moves id toward v by weight (0 keeps the current value, 1 overwrites).
func (p *Parameters) Blend(id string, v, weight float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensure(id)
	cur := p.values[id]
	p.values[id] = cur + (v-cur)*weight
}

// Reset restores every parameter to its default.
func (p *Parameters) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, def := range p.defaults {
		p.values[id] = def
	}
}

// Snapshot copies the current values.
func (p *Parameters) Snapshot() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]float64, len(p.values))
	for id, v := range p.values {
		out[id] = v
	}
	return out
}

// IDs returns every known parameter id, sorted.
func (p *Parameters) IDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.defaults))
	for id := range p.defaults {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of known parameters.
func (p *Parameters) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.defaults)
}

func (p *Parameters) ensure(id string) {
	if _, ok := p.defaults[id]; !ok {
		p.defaults[id] = 0
		p.values[id] = 0
	}
}
