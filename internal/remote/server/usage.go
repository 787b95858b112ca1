package server

import (
	"log/slog"
	"sync"
	"time"
)

const usageFlushInterval = 30 * time.Second

// tokenUsage collects the last time each token authenticated and writes
// the batch to the TokenStore periodically, so a request never waits on
// token storage.
type tokenUsage struct {
	tokens TokenStore
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]time.Time

	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// newTokenUsage starts a flusher when interval is positive. Otherwise
// usage is only written by Stop.
func newTokenUsage(tokens TokenStore, interval time.Duration, logger *slog.Logger) *tokenUsage {
	u := &tokenUsage{
		tokens:  tokens,
		logger:  logger,
		now:     time.Now,
		pending: make(map[string]time.Time),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if interval <= 0 {
		close(u.stopped)
		return u
	}
	go func() {
		defer close(u.stopped)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				u.flush()
			case <-u.done:
				return
			}
		}
	}()
	return u
}

func (u *tokenUsage) touch(id string) {
	at := u.now().UTC()
	u.mu.Lock()
	u.pending[id] = at
	u.mu.Unlock()
}

func (u *tokenUsage) flush() {
	u.mu.Lock()
	batch := u.pending
	u.pending = make(map[string]time.Time)
	u.mu.Unlock()

	for id, at := range batch {
		if err := u.tokens.UpdateLastUsed(id, at); err != nil {
			u.logger.Warn("failed to record token use", "token_id", id, "error", err)
		}
	}
}

// Stop ends the flusher and writes what is still pending.
func (u *tokenUsage) Stop() {
	u.once.Do(func() {
		close(u.done)
		<-u.stopped
		u.flush()
	})
}
