package engine

import (
	"context"
	"errors"
	"log"
	"sync"
)

var ErrStreamNotFound = errors.New("stream_not_found")

// Registry maps stream IDs to live engines and serializes lifecycle
// operations against them.
type Registry struct {
	deps Deps

	mu      sync.Mutex
	engines map[string]*Engine
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps, engines: make(map[string]*Engine)}
}

// StartAll boots an engine for every stream flagged active. Individual
// failures are logged and skipped so one bad stream does not block the
// rest.
func (r *Registry) StartAll(ctx context.Context) error {
	streams, err := r.deps.Streams.ListActive(ctx)
	if err != nil {
		return err
	}
	for i := range streams {
		s := streams[i]
		if err := r.Start(ctx, s.StreamID); err != nil {
			log.Printf("[Registry] %s: start on boot: %v", s.StreamID, err)
		}
	}
	return nil
}

// Start loads the stream configuration and spins up its engine.
func (r *Registry) Start(ctx context.Context, streamID string) error {
	r.mu.Lock()
	if eng, ok := r.engines[streamID]; ok && eng.Running() {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.mu.Unlock()

	stream, err := r.deps.Streams.GetByID(ctx, streamID)
	if err != nil {
		return err
	}

	eng := NewEngine(r.deps, stream)
	if err := eng.Start(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.engines[streamID] = eng
	r.mu.Unlock()
	return nil
}

// Stop tears down one stream's engine.
func (r *Registry) Stop(streamID string) error {
	r.mu.Lock()
	eng, ok := r.engines[streamID]
	if ok {
		delete(r.engines, streamID)
	}
	r.mu.Unlock()

	if !ok || !eng.Running() {
		return ErrNotRunning
	}
	eng.Stop()
	return nil
}

// Restart stops the stream if running and starts a fresh engine with
// the latest stored configuration.
func (r *Registry) Restart(ctx context.Context, streamID string) error {
	if err := r.Stop(streamID); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return r.Start(ctx, streamID)
}

// Get returns the running engine for a stream.
func (r *Registry) Get(streamID string) (*Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	eng, ok := r.engines[streamID]
	if !ok || !eng.Running() {
		return nil, ErrNotRunning
	}
	return eng, nil
}

// Running lists the IDs of all live streams.
func (r *Registry) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.engines))
	for id, eng := range r.engines {
		if eng.Running() {
			ids = append(ids, id)
		}
	}
	return ids
}

// StopAll shuts every engine down, in parallel, and waits.
func (r *Registry) StopAll() {
	r.mu.Lock()
	engines := make([]*Engine, 0, len(r.engines))
	for _, eng := range r.engines {
		engines = append(engines, eng)
	}
	r.engines = make(map[string]*Engine)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, eng := range engines {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			e.Stop()
		}(eng)
	}
	wg.Wait()
}
