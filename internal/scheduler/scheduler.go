package scheduler

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fspulse/fspulse/internal/analysis"
	"github.com/fspulse/fspulse/internal/events"
	"github.com/fspulse/fspulse/internal/fserr"
	"github.com/fspulse/fspulse/internal/model"
	"github.com/fspulse/fspulse/internal/scan"
	"github.com/fspulse/fspulse/internal/store"
)

// metaPauseUntil is the meta table key backing the process-wide pause
// switch: "0" (or unset) means not paused, "-1" means paused
// indefinitely, any other value is a Unix timestamp the pause lifts at.
const metaPauseUntil = "pause_until"

// defaultPollInterval is used when a Scheduler is constructed with a
// non-positive interval (the zero value, or an invalid override).
const defaultPollInterval = 5 * time.Second

// Scheduler is the task queue driver (C7): it recurrently queues
// follower tasks for due schedules, selects the next eligible task
// (§4.5), and drives it through scan.Runner, enforcing the singleton
// active-task invariant (V6) and the cooperative stop/pause signals.
// Mirrors the teacher's scheduler: mutex-guarded running state, a cron
// poll loop, and a WaitGroup tracking the one active job.
type Scheduler struct {
	DB           *store.DB
	Bcast        *events.Broadcaster
	Pool         *analysis.Pool
	PollInterval time.Duration

	mu           sync.RWMutex
	running      bool
	cron         *cron.Cron
	wg           sync.WaitGroup
	activeTaskID int64
	activeCancel *atomic.Bool
}

// New constructs a Scheduler wired to the store, event broadcaster,
// and analysis pool it will drive scans through, polling for due
// schedules and eligible tasks every pollInterval (falling back to
// defaultPollInterval if pollInterval <= 0).
func New(db *store.DB, bcast *events.Broadcaster, pool *analysis.Pool, pollInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Scheduler{DB: db, Bcast: bcast, Pool: pool, PollInterval: pollInterval}
}

// Start begins the poll loop: an immediate check, then every
// PollInterval thereafter, driven by robfig/cron's "@every" schedule
// rather than a bare time.Ticker so the same parser handles both the
// poll cadence and, eventually, any cron-style triggers layered on top.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	c := cron.New(cron.WithParser(cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)))
	spec := "@every " + s.PollInterval.String()
	if _, err := c.AddFunc(spec, s.Tick); err != nil {
		log.Printf("scheduler: failed to schedule poll tick: %v", err)
	}
	s.cron = c
	s.mu.Unlock()

	c.Start()
	go s.Tick()
}

// Stop halts the poll loop and waits for any in-flight task to reach a
// terminal status before returning.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c := s.cron
	s.mu.Unlock()

	if c != nil {
		ctx := c.Stop()
		<-ctx.Done()
	}
	s.wg.Wait()
}

// Tick is one poll cycle: queue followers for due schedules, then
// attempt a selection if the store isn't paused and nothing is active.
// Exported so synchronous triggers (manual-scan submission, schedule
// creation, pause-clear) can force an immediate cycle rather than
// waiting out pollInterval (§4.4's "selection is also triggered
// synchronously").
func (s *Scheduler) Tick() {
	if err := s.queueDueSchedules(); err != nil {
		log.Printf("scheduler: queue due schedules: %v", err)
	}

	paused, err := s.isPaused()
	if err != nil {
		log.Printf("scheduler: read pause state: %v", err)
		return
	}
	if paused {
		return
	}

	s.mu.RLock()
	busy := s.activeTaskID != 0
	s.mu.RUnlock()
	if busy {
		return
	}

	task, err := SelectNext(s.DB)
	if err != nil {
		log.Printf("scheduler: select next task: %v", err)
		return
	}
	if task == nil {
		return
	}

	// Guard the launch with the same mutex Stop takes before its
	// wg.Wait(): if the scheduler has already stopped, put the task
	// back in Pending rather than starting a scan after shutdown.
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		if err := SetStatus(s.DB, task.TaskID, model.TaskPending); err != nil {
			log.Printf("scheduler: requeue task %d after stop: %v", task.TaskID, err)
		}
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.runTask(task)
}

func (s *Scheduler) queueDueSchedules() error {
	due, err := ListDueSchedules(s.DB)
	if err != nil {
		return err
	}
	for i := range due {
		sched := due[i]
		runAt, err := NextRunTime(&sched, time.Now())
		if err != nil {
			log.Printf("scheduler: compute next run time for schedule %d: %v", sched.ScheduleID, err)
			continue
		}
		settings := model.TaskSettings{
			RootID:       sched.RootID,
			AnalysisSpec: model.AnalysisSpec{HashMode: sched.HashMode, ValidateMode: sched.ValidateMode},
		}
		scheduleID := sched.ScheduleID
		if _, err := InsertTask(s.DB, sched.RootID, &scheduleID, runAt, model.SourceScheduled, settings); err != nil {
			log.Printf("scheduler: queue follower for schedule %d: %v", sched.ScheduleID, err)
		}
	}
	return nil
}

// runTask drives one selected task's scan to a terminal state, then
// records the outcome and dispatches the next tick's work.
func (s *Scheduler) runTask(task *model.Task) {
	defer s.wg.Done()

	cancelled := &atomic.Bool{}
	s.mu.Lock()
	s.activeTaskID = task.TaskID
	s.activeCancel = cancelled
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.activeTaskID = 0
		s.activeCancel = nil
		s.mu.Unlock()
		s.Bcast.CloseTask(task.TaskID)
		go s.Tick()
	}()

	if task.RootID == nil {
		log.Printf("scheduler: task %d has no root, marking error", task.TaskID)
		_ = SetStatus(s.DB, task.TaskID, model.TaskError)
		return
	}
	rootID := *task.RootID

	root, err := model.GetRoot(s.DB, rootID)
	if err != nil || root == nil {
		log.Printf("scheduler: task %d root %d not found: %v", task.TaskID, rootID, err)
		_ = SetStatus(s.DB, task.TaskID, model.TaskError)
		return
	}

	var settings model.TaskSettings
	if err := decodeSettings(task.TaskSettings, &settings); err != nil {
		log.Printf("scheduler: task %d has malformed settings: %v", task.TaskID, err)
		_ = SetStatus(s.DB, task.TaskID, model.TaskError)
		return
	}

	scanRow, err := scan.IncompleteScanForRoot(s.DB, rootID)
	if err != nil {
		log.Printf("scheduler: task %d check for incomplete scan: %v", task.TaskID, err)
		_ = SetStatus(s.DB, task.TaskID, model.TaskError)
		return
	}
	if scanRow == nil {
		scanRow, err = scan.InsertScan(s.DB, rootID, settings.AnalysisSpec)
		if err != nil {
			log.Printf("scheduler: task %d create scan: %v", task.TaskID, err)
			_ = SetStatus(s.DB, task.TaskID, model.TaskError)
			return
		}
	}
	if err := AttachScan(s.DB, task.TaskID, scanRow.ScanID); err != nil {
		log.Printf("scheduler: task %d attach scan %d: %v", task.TaskID, scanRow.ScanID, err)
	}

	log.Printf("scheduler: running task %d (scan %d, root %d)", task.TaskID, scanRow.ScanID, rootID)

	runner := &scan.Runner{DB: s.DB, Bcast: s.Bcast, Pool: s.Pool}
	finalState, runErr := runner.Run(task.TaskID, scanRow, root, cancelled)

	s.mu.RLock()
	attribution := s.pauseAttribution(task.TaskID)
	s.mu.RUnlock()

	switch {
	case runErr != nil:
		log.Printf("scheduler: task %d failed: %v", task.TaskID, runErr)
		_ = Complete(s.DB, task.TaskID, model.TaskError, scanRow.ScanID)
	case finalState == model.ScanStopped && attribution == model.TaskPausing:
		if err := RequeueForResume(s.DB, task.TaskID); err != nil {
			log.Printf("scheduler: task %d requeue for resume: %v", task.TaskID, err)
		}
	case finalState == model.ScanStopped:
		_ = Complete(s.DB, task.TaskID, model.TaskStopped, scanRow.ScanID)
	default:
		_ = Complete(s.DB, task.TaskID, model.TaskCompleted, scanRow.ScanID)
	}

	log.Printf("scheduler: task %d reached %s", task.TaskID, finalState)
}

// pauseAttribution reports whether taskID's status was set to Pausing
// by RequestPause before the scan unwound, distinguishing a
// pause-triggered stop from an operator stop for runTask's post-run
// bookkeeping. Must be called with s.mu held.
func (s *Scheduler) pauseAttribution(taskID int64) model.TaskStatus {
	t, err := GetTask(s.DB, taskID)
	if err != nil || t == nil {
		return ""
	}
	return t.Status
}

// RequestStop flips the active task's cancellation flag, if its id
// matches taskID, with a Stopping attribution: the scan rolls back to
// Stopped and the task reaches the terminal Stopped status.
func (s *Scheduler) RequestStop(taskID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeTaskID != taskID {
		return fserr.Conflict("task %d is not currently running", taskID)
	}
	if err := SetStatus(s.DB, taskID, model.TaskStopping); err != nil {
		return err
	}
	s.activeCancel.Store(true)
	return nil
}

// RequestPause flips the active task's cancellation flag with a
// Pausing attribution: the scan still rolls back to Stopped (§4.1 has
// no separate paused scan state), but the task itself returns to
// Pending so the next selection after the pause lifts starts a fresh
// scan for the same root rather than terminating the task.
func (s *Scheduler) RequestPause(taskID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeTaskID != taskID {
		return fserr.Conflict("task %d is not currently running", taskID)
	}
	if err := SetStatus(s.DB, taskID, model.TaskPausing); err != nil {
		return err
	}
	s.activeCancel.Store(true)
	return nil
}

// SetPause persists the process-wide pause switch and, if a task is
// currently running, immediately pauses it. seconds < 0 pauses
// indefinitely.
func (s *Scheduler) SetPause(seconds int64) error {
	var until int64
	if seconds < 0 {
		until = -1
	} else {
		until = time.Now().Add(time.Duration(seconds) * time.Second).Unix()
	}
	if err := s.DB.MetaSet(metaPauseUntil, formatInt(until)); err != nil {
		return err
	}

	s.mu.RLock()
	activeID := s.activeTaskID
	s.mu.RUnlock()
	if activeID != 0 {
		if err := s.RequestPause(activeID); err != nil {
			return err
		}
	}
	return nil
}

// ClearPause lifts the pause switch, refusing while a task is still
// unwinding from a prior pause/stop request (Conflict), and forces an
// immediate selection tick.
func (s *Scheduler) ClearPause() error {
	task, err := ActiveTask(s.DB)
	if err != nil {
		return err
	}
	if task != nil && (task.Status == model.TaskPausing || task.Status == model.TaskStopping) {
		return fserr.Conflict("task %d is still unwinding", task.TaskID)
	}
	if err := s.DB.MetaSet(metaPauseUntil, "0"); err != nil {
		return err
	}
	go s.Tick()
	return nil
}

func (s *Scheduler) isPaused() (bool, error) {
	val, ok, err := s.DB.MetaGet(metaPauseUntil)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	until := parseInt(val)
	if until == -1 {
		return true, nil
	}
	return until > time.Now().Unix(), nil
}
