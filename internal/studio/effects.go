package studio

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"tracklab/internal/bus"
	"tracklab/internal/composition"
)

// Effects owns the per-track effect chains.
type Effects struct {
	mu     sync.Mutex
	chains map[string][]composition.Effect

	svc      PersistenceService
	bus      bus.Bus
	dirty    *DirtyTracker
	activeID ActiveIDFunc
	unsub    func()
}

// NewEffects returns an effects partition subscribed to its topic.
func NewEffects(svc PersistenceService, b bus.Bus, dirty *DirtyTracker, activeID ActiveIDFunc) *Effects {
	e := &Effects{
		chains:   map[string][]composition.Effect{},
		svc:      svc,
		bus:      b,
		dirty:    dirty,
		activeID: activeID,
	}
	e.unsub = b.Subscribe(TopicEffectChains, e.absorb)
	return e
}

// Close drops the partition's bus subscription.
func (e *Effects) Close() {
	if e.unsub != nil {
		e.unsub()
	}
}

// Chain returns one track's effect chain.
func (e *Effects) Chain(trackID string) []composition.Effect {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]composition.Effect(nil), e.chains[trackID]...)
}

// Chains returns a copy of all chains keyed by track id.
func (e *Effects) Chains() map[string][]composition.Effect {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string][]composition.Effect, len(e.chains))
	for k, v := range e.chains {
		out[k] = append([]composition.Effect(nil), v...)
	}
	return out
}

// stageLoad validates a snapshot slice against the staged sequencer tracks
// and returns the commit that swaps it in.
func (e *Effects) stageLoad(chains map[string][]composition.Effect, trackIDs map[string]bool) (func(), error) {
	for trackID := range chains {
		if !trackIDs[trackID] {
			return nil, fmt.Errorf("effect chain references unknown track %s", trackID)
		}
	}
	if chains == nil {
		chains = map[string][]composition.Effect{}
	}
	return func() {
		e.mu.Lock()
		e.chains = chains
		e.mu.Unlock()
	}, nil
}

func (e *Effects) absorb(raw json.RawMessage) {
	var chains map[string][]composition.Effect
	if err := json.Unmarshal(raw, &chains); err != nil {
		return
	}
	if chains == nil {
		chains = map[string][]composition.Effect{}
	}
	e.mu.Lock()
	e.chains = chains
	e.mu.Unlock()
}

// SetChain replaces one track's effect chain and persists it.
func (e *Effects) SetChain(ctx context.Context, trackID string, chain []composition.Effect) error {
	e.mu.Lock()
	e.chains[trackID] = chain
	all := make(map[string][]composition.Effect, len(e.chains))
	for k, v := range e.chains {
		all[k] = v
	}
	e.mu.Unlock()

	e.dirty.NotifyChanged()

	id := e.activeID()
	if id == "" {
		return ErrNoActiveComposition
	}
	if err := e.svc.SaveEffectChain(ctx, id, trackID, chain); err != nil {
		return err
	}
	return e.bus.Publish(TopicEffectChains, all)
}

// RemoveChain drops one track's effect chain entirely.
func (e *Effects) RemoveChain(ctx context.Context, trackID string) error {
	e.mu.Lock()
	delete(e.chains, trackID)
	all := make(map[string][]composition.Effect, len(e.chains))
	for k, v := range e.chains {
		all[k] = v
	}
	e.mu.Unlock()

	e.dirty.NotifyChanged()

	id := e.activeID()
	if id == "" {
		return ErrNoActiveComposition
	}
	if err := e.svc.SaveEffectChain(ctx, id, trackID, nil); err != nil {
		return err
	}
	return e.bus.Publish(TopicEffectChains, all)
}
