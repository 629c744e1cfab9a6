// Package scheduler is the task queue and scheduler (C7): selection by
// priority (manual first, then scheduled-and-due), singleton
// execution, schedule recurrence, and the process-wide pause switch.
package scheduler

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/fspulse/fspulse/internal/fserr"
	"github.com/fspulse/fspulse/internal/model"
	"github.com/fspulse/fspulse/internal/store"
)

// InsertTask appends a new queue entry in Pending.
func InsertTask(ex model.Execer, rootID int64, scheduleID *int64, runAt time.Time, source model.TaskSource, settings model.TaskSettings) (*model.Task, error) {
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return nil, fserr.Storage(err, "marshal task settings")
	}

	res, err := ex.Exec(`
		INSERT INTO tasks (task_type, status, root_id, schedule_id, run_at, source, task_settings, created_at)
		VALUES ('scan', ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		string(model.TaskPending), rootID, scheduleID, runAt, string(source), string(settingsJSON))
	if err != nil {
		return nil, fserr.Storage(err, "insert task for root %d", rootID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fserr.Storage(err, "read inserted task id")
	}
	return GetTask(ex, id)
}

// GetTask loads a task by id, returning nil if it doesn't exist.
func GetTask(ex model.Execer, taskID int64) (*model.Task, error) {
	var t model.Task
	var status, source string
	var rootID, scheduleID, scanID sql.NullInt64
	var settings sql.NullString
	var state sql.NullString
	var startedAt, completedAt sql.NullTime

	err := ex.QueryRow(`
		SELECT task_id, task_type, status, root_id, schedule_id, scan_id, run_at, source,
		       task_settings, task_state, created_at, started_at, completed_at
		FROM tasks WHERE task_id = ?`, taskID).Scan(
		&t.TaskID, &t.TaskType, &status, &rootID, &scheduleID, &scanID, &t.RunAt, &source,
		&settings, &state, &t.CreatedAt, &startedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fserr.Storage(err, "read task %d", taskID)
	}

	t.Status = model.TaskStatus(status)
	t.Source = model.TaskSource(source)
	if rootID.Valid {
		v := rootID.Int64
		t.RootID = &v
	}
	if scheduleID.Valid {
		v := scheduleID.Int64
		t.ScheduleID = &v
	}
	if scanID.Valid {
		v := scanID.Int64
		t.ScanID = &v
	}
	if settings.Valid {
		t.TaskSettings = []byte(settings.String)
	}
	if state.Valid {
		t.TaskState = []byte(state.String)
	}
	if startedAt.Valid {
		v := startedAt.Time
		t.StartedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		t.CompletedAt = &v
	}
	return &t, nil
}

// SelectNext implements the §4.5 selection rule inside a serialisable
// transaction: the highest-priority Pending task (manual first, then
// scheduled-and-due, ties broken by run_at then task_id), stamped
// Running/started_at. Returns nil with no error when nothing is
// selectable (queue empty, or every candidate is not yet due).
func SelectNext(db *store.DB) (*model.Task, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fserr.Storage(err, "begin task selection tx")
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	var taskID int64
	err = tx.QueryRow(`
		SELECT task_id FROM tasks
		WHERE status = ? AND (source = ? OR run_at <= CURRENT_TIMESTAMP)
		ORDER BY source ASC, run_at ASC, task_id ASC
		LIMIT 1`, string(model.TaskPending), string(model.SourceManual)).Scan(&taskID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fserr.Storage(err, "select next task")
	}

	if _, err := tx.Exec(`UPDATE tasks SET status = ?, started_at = CURRENT_TIMESTAMP WHERE task_id = ?`, string(model.TaskRunning), taskID); err != nil {
		return nil, fserr.Storage(err, "mark task %d running", taskID)
	}

	task, err := GetTask(tx, taskID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fserr.Storage(err, "commit task selection")
	}
	committed = true
	return task, nil
}

// SetStatus updates a task's status.
func SetStatus(ex model.Execer, taskID int64, status model.TaskStatus) error {
	_, err := ex.Exec(`UPDATE tasks SET status = ? WHERE task_id = ?`, string(status), taskID)
	if err != nil {
		return fserr.Storage(err, "set task %d status", taskID)
	}
	return nil
}

// Complete marks a task terminal (Completed/Stopped/Error), recording
// the scan it ended up attached to and completed_at.
func Complete(ex model.Execer, taskID int64, status model.TaskStatus, scanID int64) error {
	_, err := ex.Exec(`UPDATE tasks SET status = ?, scan_id = ?, completed_at = CURRENT_TIMESTAMP WHERE task_id = ?`,
		string(status), scanID, taskID)
	if err != nil {
		return fserr.Storage(err, "complete task %d", taskID)
	}
	return nil
}

// AttachScan records which scan a Running task is driving.
func AttachScan(ex model.Execer, taskID, scanID int64) error {
	_, err := ex.Exec(`UPDATE tasks SET scan_id = ? WHERE task_id = ?`, scanID, taskID)
	if err != nil {
		return fserr.Storage(err, "attach scan %d to task %d", scanID, taskID)
	}
	return nil
}

// RequeueForResume reverts a Pausing task back to Pending so the next
// poll re-selects it — its scan having already been rolled back to
// Stopped (§4.1), the requeued task drives a fresh scan on the next
// selection rather than one that no longer exists in a resumable
// state.
func RequeueForResume(ex model.Execer, taskID int64) error {
	_, err := ex.Exec(`
		UPDATE tasks SET status = ?, scan_id = NULL, run_at = CURRENT_TIMESTAMP, started_at = NULL
		WHERE task_id = ?`, string(model.TaskPending), taskID)
	if err != nil {
		return fserr.Storage(err, "requeue task %d for resume", taskID)
	}
	return nil
}

// ActiveTask returns the task currently counted against V6 (at most
// one of Running/Pausing/Stopping), if any.
func ActiveTask(ex model.Execer) (*model.Task, error) {
	var taskID int64
	err := ex.QueryRow(`
		SELECT task_id FROM tasks WHERE status IN (?, ?, ?) LIMIT 1`,
		string(model.TaskRunning), string(model.TaskPausing), string(model.TaskStopping)).Scan(&taskID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fserr.Storage(err, "find active task")
	}
	return GetTask(ex, taskID)
}

// HasOutstandingTaskForRoot reports whether any non-terminal task,
// including one still Pending selection, references rootID. Unlike
// IncompleteScanForRoot, this also catches the window between
// SelectNext marking a task Running and runTask attaching or creating
// that task's scan row, where no non-terminal scan exists yet but the
// root is already committed to a task. Run this check and the
// following mutation in the same transaction so a concurrent
// SelectNext can't promote a Pending task to Running in between.
func HasOutstandingTaskForRoot(ex model.Execer, rootID int64) (bool, error) {
	var taskID int64
	err := ex.QueryRow(`
		SELECT task_id FROM tasks
		WHERE root_id = ? AND status IN (?, ?, ?, ?) LIMIT 1`,
		rootID, string(model.TaskPending), string(model.TaskRunning), string(model.TaskPausing), string(model.TaskStopping)).Scan(&taskID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fserr.Storage(err, "find outstanding task for root %d", rootID)
	}
	return true, nil
}

// DeleteTask removes a task row outright (used when deleting a
// schedule whose follower task is still Pending).
func DeleteTask(ex model.Execer, taskID int64) error {
	if _, err := ex.Exec(`DELETE FROM tasks WHERE task_id = ?`, taskID); err != nil {
		return fserr.Storage(err, "delete task %d", taskID)
	}
	return nil
}
