package sync

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"clinic-sync-service/internal/config"
	"clinic-sync-service/internal/logger"
	"clinic-sync-service/internal/store"
)

type pushService interface {
	SyncAll(ctx context.Context, force bool) error
	RetryFailed(ctx context.Context) error
	CancelRetries()
}

type pullService interface {
	PullAll(ctx context.Context) error
	VerifyCounts(ctx context.Context) ([]TableCount, error)
}

// syncedRetention is how long synced write log entries are kept before the
// post-sync prune removes them.
const syncedRetention = 7 * 24 * time.Hour

// Coordinator sequences pull and push phases and owns the periodic sync
// schedule. Pull runs before push so local changes are reconciled against
// the freshest remote state instead of clobbering it.
type Coordinator struct {
	pusher  pushService
	puller  pullService
	store   store.Store
	tracker *Tracker
	net     NetworkState
	cfg     config.SchedulerConfig

	cron    *cron.Cron
	entryID cron.EntryID

	mu          sync.Mutex
	initialized bool
	generation  int

	// stabilization is how long to wait after an offline→online transition
	// before syncing, so a flapping link settles first.
	stabilization time.Duration
}

func NewCoordinator(pusher pushService, puller pullService, st store.Store, tracker *Tracker, net NetworkState, cfg config.SchedulerConfig) *Coordinator {
	return &Coordinator{
		pusher:        pusher,
		puller:        puller,
		store:         st,
		tracker:       tracker,
		net:           net,
		cfg:           cfg,
		cron:          cron.New(),
		stabilization: time.Second,
	}
}

// InitializeOnStartup runs once per process: an initial pull when online,
// then the periodic schedule.
func (c *Coordinator) InitializeOnStartup(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.initialized = true
	c.mu.Unlock()

	logger.Log.Info("Initializing sync coordinator")

	if c.net.IsOnline() {
		c.tracker.SetOnline(true)
		if err := c.puller.PullAll(ctx); err != nil {
			logger.Log.Error("Initial pull failed", zap.Error(err))
		}
		c.startPeriodic()
	} else {
		c.tracker.SetOnline(false)
	}

	return nil
}

// HandleOnline reacts to an offline→online transition. The generation
// counter guards against rapid flapping: if the link bounces again during
// the stabilization window, the stale wake-up is dropped.
func (c *Coordinator) HandleOnline() {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	c.tracker.SetOnline(true)
	logger.Log.Info("Handling online transition")

	go func() {
		time.Sleep(c.stabilization)

		c.mu.Lock()
		stale := gen != c.generation
		c.mu.Unlock()
		if stale {
			return
		}

		c.RunFullSync(context.Background())
		c.startPeriodic()
	}()
}

// HandleOffline stops the periodic schedule and drops scheduled retries.
// Queued work stays in the write log untouched.
func (c *Coordinator) HandleOffline() {
	c.mu.Lock()
	c.generation++
	c.mu.Unlock()

	c.tracker.SetOnline(false)
	c.stopPeriodic()
	c.pusher.CancelRetries()
	logger.Log.Info("Handling offline transition")
}

// RunFullSync pulls first, then pushes only when actionable items remain;
// a pull that escalated everything to conflicts needs no push pass.
func (c *Coordinator) RunFullSync(ctx context.Context) {
	if !c.net.IsOnline() {
		logger.Log.Debug("Skipping full sync: offline")
		return
	}

	if err := c.puller.PullAll(ctx); err != nil {
		logger.Log.Error("Pull phase failed", zap.Error(err))
		c.tracker.SetError(err.Error())
		return
	}

	pending, err := c.store.CountActionable(ctx)
	if err != nil {
		logger.Log.Error("Failed to count pending items", zap.Error(err))
		return
	}

	if pending > 0 {
		if err := c.pusher.SyncAll(ctx, false); err != nil {
			logger.Log.Error("Push phase failed", zap.Error(err))
		}
	}

	if pruned, err := c.store.ClearSynced(ctx, time.Now().Add(-syncedRetention)); err != nil {
		logger.Log.Error("Failed to prune synced write log entries", zap.Error(err))
	} else if pruned > 0 {
		logger.Log.Debug("Pruned synced write log entries", zap.Int64("entries", pruned))
	}
}

// VerifyCounts compares local and remote row counts per synchronized table.
func (c *Coordinator) VerifyCounts(ctx context.Context) ([]TableCount, error) {
	return c.puller.VerifyCounts(ctx)
}

// SyncNow is the manual trigger: a full bidirectional pass unless one is
// already underway.
func (c *Coordinator) SyncNow(ctx context.Context) {
	if c.tracker.Snapshot().SyncStatus == StatusSyncing {
		logger.Log.Info("Sync already in progress, skipping manual trigger")
		return
	}
	c.RunFullSync(ctx)
}

// PushNow triggers a push-only pass.
func (c *Coordinator) PushNow(ctx context.Context) {
	_ = c.pusher.SyncAll(ctx, false)
}

// PullNow triggers a pull-only pass.
func (c *Coordinator) PullNow(ctx context.Context) {
	_ = c.puller.PullAll(ctx)
}

// RetryFailed re-enters permanently failed entries into the eligible pool.
func (c *Coordinator) RetryFailed(ctx context.Context) {
	_ = c.pusher.RetryFailed(ctx)
}

// Cleanup stops the schedule and every retry timer. Called on teardown so no
// callback fires against a torn-down process.
func (c *Coordinator) Cleanup() {
	c.stopPeriodic()
	c.pusher.CancelRetries()

	c.mu.Lock()
	c.initialized = false
	c.mu.Unlock()

	logger.Log.Info("Sync coordinator cleaned up")
}

func (c *Coordinator) startPeriodic() {
	if !c.cfg.Enabled {
		logger.Log.Info("Periodic sync is disabled")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entryID != 0 {
		c.cron.Remove(c.entryID)
		c.entryID = 0
	}

	id, err := c.cron.AddFunc(c.cfg.Interval, func() {
		snap := c.tracker.Snapshot()
		if !snap.IsOnline || snap.SyncStatus == StatusSyncing {
			return
		}
		logger.Log.Info("Running periodic sync")
		c.RunFullSync(context.Background())
	})
	if err != nil {
		logger.Log.Error("Failed to schedule periodic sync", zap.Error(err))
		return
	}

	c.entryID = id
	c.cron.Start()
	logger.Log.Info("Periodic sync started", zap.String("interval", c.cfg.Interval))
}

func (c *Coordinator) stopPeriodic() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entryID != 0 {
		c.cron.Remove(c.entryID)
		c.entryID = 0
	}
	c.cron.Stop()
}
