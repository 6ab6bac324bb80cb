package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CleanerConfig contains history retention settings
type CleanerConfig struct {
	MaxAge   time.Duration
	Interval time.Duration
}

// Cleaner periodically drops cycle records older than MaxAge
type Cleaner struct {
	store  *BoltStore
	cfg    CleanerConfig
	logger *slog.Logger
	wg     sync.WaitGroup
	done   chan struct{}
	now    func() time.Time
}

// NewCleaner creates a new cleaner service
func NewCleaner(store *BoltStore, cfg CleanerConfig, logger *slog.Logger) *Cleaner {
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	return &Cleaner{
		store:  store,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// Start starts the cleanup goroutine. It does nothing when MaxAge is zero.
func (c *Cleaner) Start(ctx context.Context) {
	if c.cfg.MaxAge <= 0 {
		return
	}

	c.wg.Add(1)
	go c.cleanupLoop(ctx)

	c.logger.Info("history cleaner started",
		"max_age", c.cfg.MaxAge,
		"interval", c.cfg.Interval,
	)
}

// Stop stops the cleaner and waits for the goroutine to finish
func (c *Cleaner) Stop() {
	close(c.done)
	c.wg.Wait()
}

func (c *Cleaner) cleanupLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.runCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.runCleanup(ctx)
		}
	}
}

func (c *Cleaner) runCleanup(ctx context.Context) {
	deleted, err := c.store.PruneCycles(ctx, c.now().Add(-c.cfg.MaxAge))
	if err != nil {
		c.logger.Error("failed to prune cycle history", "error", err)
		return
	}

	if deleted > 0 {
		c.logger.Info("pruned cycle history", "deleted", deleted)
	}
}
