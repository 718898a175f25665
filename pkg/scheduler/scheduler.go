// Package scheduler runs the periodic jobs: fleet sync, the snooze reaper,
// score decay, and event pruning. Each job is gated by a Postgres advisory
// lock so only one instance of the fleet runs it per tick.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"

	"github.com/unifyinbox/unifyinbox/pkg/cache"
	"github.com/unifyinbox/unifyinbox/pkg/config"
	"github.com/unifyinbox/unifyinbox/pkg/events"
	"github.com/unifyinbox/unifyinbox/pkg/models"
)

const (
	// jobTimeout bounds one tick of any job.
	jobTimeout = 10 * time.Minute

	// eventRetentionHours is how long persisted WebSocket events are kept
	// for catchup replay.
	eventRetentionHours = 24
)

// Advisory lock keys, one per job. Arbitrary but stable across releases.
const (
	lockFleetSync  int64 = 7401
	lockSnoozeReap int64 = 7402
	lockScoreDecay int64 = 7403
	lockEventPrune int64 = 7404
)

// Storage is the slice of the store the scheduler needs. Satisfied by
// *store.Store.
type Storage interface {
	DueSnoozes(ctx context.Context, now time.Time) ([]models.Message, error)
	ClearSnooze(ctx context.Context, ids []string) error
	DecayScores(ctx context.Context, now time.Time) ([]string, error)
	PruneEvents(ctx context.Context, retentionHours int) (int64, error)
}

// Fleet kicks off a sync pass over every stored credential.
type Fleet interface {
	SyncAll(ctx context.Context)
}

// Publisher is the slice of the event publisher the scheduler needs.
type Publisher interface {
	PublishNewMessage(ctx context.Context, payload events.NewMessagePayload) error
}

// tryLockFunc attempts a named advisory lock and returns a release func when
// the lock was acquired. Swappable for tests.
type tryLockFunc func(ctx context.Context, key int64) (release func(), ok bool)

// Scheduler owns the cron runner and the job implementations.
type Scheduler struct {
	cron    *cron.Cron
	store   Storage
	cache   *cache.Cache
	fleet   Fleet
	pub     Publisher
	logger  *slog.Logger
	tryLock tryLockFunc

	syncInterval   time.Duration
	snoozeInterval time.Duration
	decayInterval  time.Duration
}

// New wires the scheduler. The db handle is only used for advisory locks.
func New(st Storage, ca *cache.Cache, fleet Fleet, pub Publisher, db *sqlx.DB, cfg *config.Settings) *Scheduler {
	logger := slog.Default().With("component", "scheduler")
	return &Scheduler{
		cron:           cron.New(),
		store:          st,
		cache:          ca,
		fleet:          fleet,
		pub:            pub,
		logger:         logger,
		tryLock:        advisoryLocker(db, logger),
		syncInterval:   cfg.PlatformSyncInterval,
		snoozeInterval: cfg.SnoozeCheckInterval,
		decayInterval:  cfg.ScoreDecayInterval,
	}
}

// Start registers the jobs and starts the cron runner.
func (s *Scheduler) Start() error {
	jobs := []struct {
		name     string
		interval time.Duration
		lockKey  int64
		run      func(ctx context.Context)
	}{
		{"fleet_sync", s.syncInterval, lockFleetSync, s.runFleetSync},
		{"snooze_reaper", s.snoozeInterval, lockSnoozeReap, s.reapSnoozes},
		{"score_decay", s.decayInterval, lockScoreDecay, s.decayScores},
		{"event_prune", time.Hour, lockEventPrune, s.pruneEvents},
	}
	for _, job := range jobs {
		spec := fmt.Sprintf("@every %s", job.interval)
		if _, err := s.cron.AddFunc(spec, s.gated(job.name, job.lockKey, job.run)); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
	}
	s.cron.Start()
	s.logger.Info("Scheduler started",
		"sync_interval", s.syncInterval,
		"snooze_interval", s.snoozeInterval,
		"decay_interval", s.decayInterval)
	return nil
}

// Stop halts the cron runner and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// gated wraps a job with a timeout and the per-job advisory lock. Losing the
// lock race is the normal case on all but one instance.
func (s *Scheduler) gated(name string, lockKey int64, run func(ctx context.Context)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		release, ok := s.tryLock(ctx, lockKey)
		if !ok {
			return
		}
		defer release()

		start := time.Now()
		run(ctx)
		s.logger.Debug("Job finished", "job", name, "elapsed", time.Since(start))
	}
}

func (s *Scheduler) runFleetSync(ctx context.Context) {
	s.fleet.SyncAll(ctx)
}

// reapSnoozes wakes expired snoozes: the snooze is cleared and the message
// re-announced on the owner's channel so it resurfaces at the top of the feed.
func (s *Scheduler) reapSnoozes(ctx context.Context) {
	due, err := s.store.DueSnoozes(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("Failed to query due snoozes", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	ids := make([]string, len(due))
	for i := range due {
		ids[i] = due[i].ID
	}
	if err := s.store.ClearSnooze(ctx, ids); err != nil {
		s.logger.Error("Failed to clear snoozes", "error", err)
		return
	}

	users := make(map[string]struct{})
	for i := range due {
		msg := &due[i]
		if err := s.pub.PublishNewMessage(ctx, events.UnsnoozeFrom(msg)); err != nil {
			s.logger.Warn("Failed to announce unsnoozed message",
				"message_id", msg.ID, "error", err)
		}
		users[msg.UserID] = struct{}{}
	}
	for userID := range users {
		s.cache.InvalidateFeed(ctx, userID)
	}
	s.logger.Info("Unsnoozed messages", "count", len(due), "users", len(users))
}

// decayScores ages down stale priorities and drops the feed caches of every
// affected user.
func (s *Scheduler) decayScores(ctx context.Context) {
	users, err := s.store.DecayScores(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("Failed to decay scores", "error", err)
		return
	}
	for _, userID := range users {
		s.cache.InvalidateFeed(ctx, userID)
	}
	if len(users) > 0 {
		s.logger.Info("Decayed stale priorities", "users", len(users))
	}
}

func (s *Scheduler) pruneEvents(ctx context.Context) {
	pruned, err := s.store.PruneEvents(ctx, eventRetentionHours)
	if err != nil {
		s.logger.Error("Failed to prune events", "error", err)
		return
	}
	if pruned > 0 {
		s.logger.Debug("Pruned events", "count", pruned)
	}
}

// advisoryLocker takes session-level advisory locks on a dedicated
// connection. The release func unlocks and returns the connection.
func advisoryLocker(db *sqlx.DB, logger *slog.Logger) tryLockFunc {
	return func(ctx context.Context, key int64) (func(), bool) {
		conn, err := db.Connx(ctx)
		if err != nil {
			logger.Error("Failed to acquire connection for advisory lock", "error", err)
			return nil, false
		}
		var locked bool
		if err := conn.GetContext(ctx, &locked, "SELECT pg_try_advisory_lock($1)", key); err != nil {
			logger.Error("Advisory lock query failed", "key", key, "error", err)
			conn.Close()
			return nil, false
		}
		if !locked {
			conn.Close()
			return nil, false
		}
		return func() {
			// Unlock on a fresh context: the job's context may be done.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			var unlocked bool
			if err := conn.GetContext(unlockCtx, &unlocked, "SELECT pg_advisory_unlock($1)", key); err != nil {
				logger.Warn("Advisory unlock failed", "key", key, "error", err)
			}
			conn.Close()
		}, true
	}
}
