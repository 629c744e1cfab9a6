// Package coordinator ties the store, scan/analysis machinery, and
// scheduler together behind the §6.4 operation surface: register_root,
// delete_root, submit_manual_scan, create_schedule, enable_schedule,
// delete_schedule, request_stop, set_pause, clear_pause, and
// compact_store. Every returned error is a *fserr.Error so a CLI
// wrapper can map Kind straight to an exit code (0/2/3/5).
package coordinator

import (
	"path/filepath"
	"time"

	"github.com/fspulse/fspulse/internal/analysis"
	"github.com/fspulse/fspulse/internal/config"
	"github.com/fspulse/fspulse/internal/events"
	"github.com/fspulse/fspulse/internal/fserr"
	"github.com/fspulse/fspulse/internal/model"
	"github.com/fspulse/fspulse/internal/scan"
	"github.com/fspulse/fspulse/internal/scheduler"
	"github.com/fspulse/fspulse/internal/store"
)

// Coordinator is the process-wide façade: one per running fspulsed.
type Coordinator struct {
	DB        *store.DB
	Cfg       *config.Config
	Bcast     *events.Broadcaster
	Scheduler *scheduler.Scheduler
}

// New wires a Coordinator and its Scheduler from an already-open store,
// a loaded Config, an event broadcaster, and an analysis pool
// configured to share it. The scheduler's poll cadence follows
// cfg.PollInterval.
func New(db *store.DB, cfg *config.Config, bcast *events.Broadcaster, pool *analysis.Pool) *Coordinator {
	sched := scheduler.New(db, bcast, pool, cfg.PollInterval)
	return &Coordinator{DB: db, Cfg: cfg, Bcast: bcast, Scheduler: sched}
}

// Start begins the scheduler's poll loop. Call once at process start.
func (c *Coordinator) Start() { c.Scheduler.Start() }

// Stop halts the scheduler, waiting for any in-flight scan to reach a
// terminal state.
func (c *Coordinator) Stop() { c.Scheduler.Stop() }

// RegisterRoot canonicalises path and persists it as a new scan
// boundary (§6.2: "canonicalised on root registration and stored
// verbatim thereafter").
func (c *Coordinator) RegisterRoot(path string) (*model.Root, error) {
	if path == "" {
		return nil, fserr.UserInput("root path must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fserr.UserInput("cannot resolve root path %q: %v", path, err)
	}
	abs = filepath.Clean(abs)
	if c.Cfg != nil && !c.Cfg.IsRootAllowed(abs) {
		return nil, fserr.UserInput("root %q is outside the allowed roots", abs)
	}
	return model.InsertRoot(c.DB, abs)
}

// DeleteRoot removes a root and everything that cascades from it,
// refusing while a scan against it is active or a task is outstanding
// for it (Conflict), so a running Walk/Sweep/Analyze never outlives
// the root row it reads through and a Pending task never gets
// selected into a root that no longer exists. The checks and the
// delete run inside one transaction: the store's single pinned
// connection (internal/store.DB) means this serialises against
// Scheduler.Tick's own transaction in SelectNext, closing the window a
// pair of standalone checks would leave between "no active task" and
// the delete itself.
func (c *Coordinator) DeleteRoot(rootID int64) error {
	tx, err := c.DB.Begin()
	if err != nil {
		return fserr.Storage(err, "begin delete-root tx for root %d", rootID)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	active, err := scan.IncompleteScanForRoot(tx, rootID)
	if err != nil {
		return err
	}
	if active != nil {
		return fserr.Conflict("root %d has a scan in progress", rootID)
	}
	outstanding, err := scheduler.HasOutstandingTaskForRoot(tx, rootID)
	if err != nil {
		return err
	}
	if outstanding {
		return fserr.Conflict("root %d has a task in progress", rootID)
	}
	if err := model.DeleteRoot(tx, rootID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fserr.Storage(err, "commit delete-root tx for root %d", rootID)
	}
	committed = true
	return nil
}

// SubmitManualScan enqueues a Manual-source task for rootID, which
// selection always prefers over any due Scheduled work (§4.5), and
// forces an immediate selection tick rather than waiting out the poll
// interval.
func (c *Coordinator) SubmitManualScan(rootID int64, spec model.AnalysisSpec) (*model.Task, error) {
	root, err := model.GetRoot(c.DB, rootID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, fserr.UserInput("root %d does not exist", rootID)
	}

	settings := model.TaskSettings{RootID: rootID, AnalysisSpec: spec}
	task, err := scheduler.InsertTask(c.DB, rootID, nil, time.Now(), model.SourceManual, settings)
	if err != nil {
		return nil, err
	}
	go c.Scheduler.Tick()
	return task, nil
}

// CreateSchedule validates and persists a new recurrence rule, then
// triggers an immediate tick so an already-due schedule queues its
// first follower without waiting out the poll interval.
func (c *Coordinator) CreateSchedule(s *model.Schedule) (*model.Schedule, error) {
	root, err := model.GetRoot(c.DB, s.RootID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, fserr.UserInput("root %d does not exist", s.RootID)
	}
	created, err := scheduler.InsertSchedule(c.DB, s)
	if err != nil {
		return nil, err
	}
	go c.Scheduler.Tick()
	return created, nil
}

// EnableSchedule flips a schedule's enabled flag.
func (c *Coordinator) EnableSchedule(scheduleID int64, enabled bool) error {
	if err := scheduler.SetEnabled(c.DB, scheduleID, enabled); err != nil {
		return err
	}
	if enabled {
		go c.Scheduler.Tick()
	}
	return nil
}

// DeleteSchedule removes a schedule and any still-pending follower
// task.
func (c *Coordinator) DeleteSchedule(scheduleID int64) error {
	return scheduler.DeleteSchedule(c.DB, scheduleID)
}

// RequestStop flips the named task's cancellation flag with a Stopping
// attribution, refusing (Conflict) if it isn't the currently active
// task.
func (c *Coordinator) RequestStop(taskID int64) error {
	return c.Scheduler.RequestStop(taskID)
}

// SetPause activates the process-wide pause switch, pausing whatever
// task is currently active. seconds < 0 pauses indefinitely.
func (c *Coordinator) SetPause(seconds int64) error {
	return c.Scheduler.SetPause(seconds)
}

// ClearPause lifts the pause switch, refusing (Conflict) while a task
// is still unwinding from a stop/pause request.
func (c *Coordinator) ClearPause() error {
	return c.Scheduler.ClearPause()
}

// CompactStore runs the VACUUM/ANALYZE maintenance pass directly
// rather than through the task queue, since compaction has no
// scan-state-machine involvement (SPEC_FULL.md §C.2).
func (c *Coordinator) CompactStore() error {
	return c.DB.Compact()
}
