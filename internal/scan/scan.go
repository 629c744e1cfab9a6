package scan

import (
	"sync/atomic"

	"github.com/fspulse/fspulse/internal/analysis"
	"github.com/fspulse/fspulse/internal/events"
	"github.com/fspulse/fspulse/internal/fserr"
	"github.com/fspulse/fspulse/internal/model"
	"github.com/fspulse/fspulse/internal/store"
	"github.com/fspulse/fspulse/internal/undolog"
)

// Runner drives one scan through Scanning -> Sweeping -> Analyzing ->
// Completed, or into a rolled-back Stopped/Error terminal state
// (§4.1). Each phase is restartable: Runner reads the scan's persisted
// state and dispatches to the matching handler rather than keeping
// phase in closure state (§9 "State machine over implicit control
// flow").
type Runner struct {
	DB    *store.DB
	Bcast *events.Broadcaster
	Pool  *analysis.Pool
}

// Run drives scan to completion or to a terminal rollback state,
// returning the final state reached.
func (r *Runner) Run(taskID int64, scan *model.Scan, root *model.Root, cancelled *atomic.Bool) (model.ScanState, error) {
	// resumeFrom is the phase to (re)enter, read from the scan's
	// persisted state rather than assumed — this is what makes resume
	// after a crash just "read phase, dispatch to handler" (§9).
	resumeFrom := scan.State

	if resumeFrom == model.ScanPending || resumeFrom == model.ScanScanning {
		if err := r.runScanning(taskID, scan, root, cancelled); err != nil {
			return r.terminal(taskID, scan, err, cancelled)
		}
		resumeFrom = model.ScanSweeping
	}
	if resumeFrom == model.ScanSweeping {
		if err := r.runSweeping(taskID, scan, root, cancelled); err != nil {
			return r.terminal(taskID, scan, err, cancelled)
		}
		resumeFrom = model.ScanAnalyzing
	}
	if resumeFrom == model.ScanAnalyzing {
		if err := r.runAnalyzing(taskID, scan, cancelled); err != nil {
			return r.terminal(taskID, scan, err, cancelled)
		}
	}

	if err := undolog.Clear(r.DB, scan.ScanID); err != nil {
		return r.terminal(taskID, scan, err, cancelled)
	}
	if err := SetState(r.DB, scan.ScanID, model.ScanCompleted); err != nil {
		return r.terminal(taskID, scan, err, cancelled)
	}
	scan.State = model.ScanCompleted
	r.Bcast.Publish(events.Event{Kind: events.TaskStatusChanged, TaskID: taskID, Status: "completed"})
	return model.ScanCompleted, nil
}

func (r *Runner) runScanning(taskID int64, scan *model.Scan, root *model.Root, cancelled *atomic.Bool) error {
	if err := SetState(r.DB, scan.ScanID, model.ScanScanning); err != nil {
		return err
	}
	scan.State = model.ScanScanning
	r.Bcast.Publish(events.Event{Kind: events.PhaseStarted, TaskID: taskID, PhaseName: "scanning"})

	walker := &Walker{DB: r.DB, Bcast: r.Bcast}
	if err := walker.Walk(taskID, scan, root.RootID, root.RootPath, cancelled); err != nil {
		return err
	}

	r.Bcast.Publish(events.Event{Kind: events.PhaseFinished, TaskID: taskID, PhaseName: "scanning"})
	return nil
}

func (r *Runner) runSweeping(taskID int64, scan *model.Scan, root *model.Root, cancelled *atomic.Bool) error {
	if err := SetState(r.DB, scan.ScanID, model.ScanSweeping); err != nil {
		return err
	}
	scan.State = model.ScanSweeping
	r.Bcast.Publish(events.Event{Kind: events.PhaseStarted, TaskID: taskID, PhaseName: "sweeping"})

	if cancelled != nil && cancelled.Load() {
		return fserr.ErrInterrupted
	}
	if err := Sweep(r.DB, root.RootID, scan.ScanID); err != nil {
		return err
	}
	if err := Finalize(r.DB, root.RootID, scan.ScanID); err != nil {
		return err
	}

	r.Bcast.Publish(events.Event{Kind: events.PhaseFinished, TaskID: taskID, PhaseName: "sweeping"})
	return nil
}

func (r *Runner) runAnalyzing(taskID int64, scan *model.Scan, cancelled *atomic.Bool) error {
	if err := SetState(r.DB, scan.ScanID, model.ScanAnalyzing); err != nil {
		return err
	}
	scan.State = model.ScanAnalyzing
	r.Bcast.Publish(events.Event{Kind: events.PhaseStarted, TaskID: taskID, PhaseName: "analyzing"})

	if err := r.Pool.Run(taskID, scan, cancelled); err != nil {
		return err
	}

	r.Bcast.Publish(events.Event{Kind: events.PhaseFinished, TaskID: taskID, PhaseName: "analyzing"})
	return nil
}

// terminal decides whether err represents cooperative cancellation
// (-> Stopped) or an unrecoverable failure (-> Error), performs the
// matching rollback (§4.1 terminal transitions), and reports the
// reached state. Rollback failures are themselves fatal and
// propagated to the caller.
func (r *Runner) terminal(taskID int64, scan *model.Scan, err error, cancelled *atomic.Bool) (model.ScanState, error) {
	interrupted := err == fserr.ErrInterrupted || fserr.Is(err, fserr.KindInterrupt) || (cancelled != nil && cancelled.Load())

	if interrupted {
		if rbErr := Rollback(r.DB, scan.ScanID, model.ScanStopped, ""); rbErr != nil {
			return scan.State, rbErr
		}
		scan.State = model.ScanStopped
		r.Bcast.Publish(events.Event{Kind: events.TaskStatusChanged, TaskID: taskID, Status: "stopped"})
		return model.ScanStopped, nil
	}

	msg := err.Error()
	if rbErr := Rollback(r.DB, scan.ScanID, model.ScanError, msg); rbErr != nil {
		return scan.State, rbErr
	}
	scan.State = model.ScanError
	scan.ErrorMessage = msg
	r.Bcast.Publish(events.Event{Kind: events.TaskStatusChanged, TaskID: taskID, Status: "error"})
	return model.ScanError, fserr.Fatal(err, "scan %d failed", scan.ScanID)
}
