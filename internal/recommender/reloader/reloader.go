// Package reloader keeps the served rule table current. It loads the table
// file into a ruletable.Holder at startup, on rule-table announcements from
// Kafka, and when polling notices the file has changed. A failed reload
// leaves the previously served table in place.
package reloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/ruletable"
	apperrors "github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/resilience"
)

type Reloader struct {
	holder *ruletable.Holder
	path   string
	retry  resilience.RetryConfig
	logger *slog.Logger

	// mu serializes loads so two triggers never race to publish.
	mu       sync.Mutex
	lastMod  time.Time
	lastSize int64
	failures int64
	lastErr  error
}

// New returns a Reloader serving the table at path into holder.
func New(holder *ruletable.Holder, path string, retry resilience.RetryConfig) *Reloader {
	retry.Retryable = retryable
	return &Reloader{
		holder: holder,
		path:   path,
		retry:  retry,
		logger: slog.Default().With("component", "rule-table-reloader", "path", path),
	}
}

// retryable rejects corrupt files and missing files: neither improves by
// reading again moments later.
func retryable(err error) bool {
	return !errors.Is(err, apperrors.ErrMalformedTable) && !errors.Is(err, os.ErrNotExist)
}

// Load reads the configured path and publishes it.
func (r *Reloader) Load(ctx context.Context) error {
	return r.LoadPath(ctx, r.path)
}

// LoadPath reads the table at path, with retry, and publishes it.
func (r *Reloader) LoadPath(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// the attempted version is remembered even if it fails to load, so
	// polling does not retry a broken file until it changes again
	if info, err := os.Stat(path); err == nil && path == r.path {
		r.lastMod, r.lastSize = info.ModTime(), info.Size()
	}

	var table *ruletable.Table
	err := resilience.Retry(ctx, "load rule table", r.retry, func() error {
		t, err := ruletable.ReadFile(path)
		if err != nil {
			return err
		}
		table = t
		return nil
	})
	if err == nil && table.Len() == 0 {
		if cur := r.holder.Load(); cur != nil && cur.Len() > 0 {
			err = apperrors.Newf(apperrors.ErrEmptyInput, http.StatusUnprocessableEntity,
				"table %s has no rules, refusing to replace %d served rules", table.Generation(), cur.Len())
		}
	}
	if err != nil {
		r.failures++
		r.lastErr = err
		r.logger.Error("rule table load failed, keeping current table",
			"load_path", path,
			"error", err,
		)
		return fmt.Errorf("loading rule table %s: %w", path, err)
	}

	r.lastErr = nil
	r.holder.Publish(table)
	return nil
}

// Check reports the served table for the readiness probe: down before any
// table is loaded, degraded while the most recent reload has failed.
func (r *Reloader) Check(ctx context.Context) health.ComponentHealth {
	t := r.holder.Load()
	if t == nil {
		return health.ComponentHealth{Status: health.StatusDown, Message: "Model not loaded"}
	}
	served := fmt.Sprintf("%d rules, run %s", t.Len(), t.Generation())

	r.mu.Lock()
	lastErr, failures := r.lastErr, r.failures
	r.mu.Unlock()
	if lastErr != nil {
		return health.ComponentHealth{
			Status:  health.StatusDegraded,
			Message: fmt.Sprintf("%s; reload of %s failed (%d failures total): %v", served, r.path, failures, lastErr),
		}
	}
	return health.ComponentHealth{Status: health.StatusUp, Message: served}
}

// HandleEvent returns a Kafka handler for rule table announcements. An
// announcement for the generation already served is ignored. Events without
// a path refer to the configured one.
func (r *Reloader) HandleEvent() kafka.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		event, err := kafka.DecodeJSON[ruletable.PublishedEvent](msg.Value)
		if err != nil {
			r.logger.Error("failed to decode rule table event", "error", err)
			return nil
		}
		if cur := r.holder.Load(); cur != nil && event.RunID != "" && cur.Generation() == event.RunID {
			r.logger.Debug("rule table already served", "run_id", event.RunID)
			return nil
		}
		path := event.Path
		if path == "" {
			path = r.path
		}
		r.logger.Info("rule table announced", "run_id", event.RunID, "load_path", path, "rules", event.RuleCount)
		// a failed load is logged and acknowledged; the next announcement
		// or poll tries again
		_ = r.LoadPath(ctx, path)
		return nil
	}
}

// StartPoll checks the configured file every interval and reloads it when
// its modification time or size changes. It returns immediately.
func (r *Reloader) StartPoll(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if r.changed() {
					r.logger.Info("rule table file changed, reloading")
					_ = r.Load(ctx)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	r.logger.Info("rule table poll started", "interval", interval)
}

func (r *Reloader) changed() bool {
	info, err := os.Stat(r.path)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return !info.ModTime().Equal(r.lastMod) || info.Size() != r.lastSize
}
