package watcher

import (
	"context"
	"sync"
)

// auto starts the event watcher and falls back to polling when native
// events are unavailable.
type auto struct {
	opts Options

	mu     sync.Mutex
	active FileWatcher
}

func newAuto(opts Options) (*auto, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	return &auto{opts: opts}, nil
}

func (a *auto) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active != nil && a.active.IsRunning() {
		return nil
	}

	ev, err := NewFSNotify(a.opts)
	if err == nil {
		if err = ev.Start(ctx); err == nil {
			a.active = ev
			return nil
		}
	}
	a.opts.Logger.Warn("file events unavailable, falling back to polling", "error", err)

	poll, err := NewPolling(a.opts)
	if err != nil {
		return err
	}
	if err := poll.Start(ctx); err != nil {
		return err
	}
	a.active = poll
	return nil
}

func (a *auto) Stop() error {
	a.mu.Lock()
	active := a.active
	a.mu.Unlock()
	if active == nil {
		return nil
	}
	return active.Stop()
}

func (a *auto) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active != nil && a.active.IsRunning()
}

func (a *auto) Stats() Stats {
	a.mu.Lock()
	active := a.active
	a.mu.Unlock()
	if active == nil {
		return Stats{
			Mode:         KindAuto,
			Root:         a.opts.Root,
			Debounce:     a.opts.Debounce,
			PollInterval: a.opts.PollInterval,
		}
	}
	return active.Stats()
}
