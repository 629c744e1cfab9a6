package scheduler

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/fspulse/fspulse/internal/fserr"
	"github.com/fspulse/fspulse/internal/model"
)

// ValidateSchedule enforces the field set each schedule type requires
// (§C.1): Daily/Weekly/Monthly need time_of_day as "HH:MM"; Weekly
// needs at least one day of week; Monthly needs a day_of_month in
// [1,31]; Interval needs a positive interval value and a known unit.
// Violations are UserInput, never Storage.
func ValidateSchedule(s *model.Schedule) error {
	switch s.ScheduleType {
	case model.ScheduleDaily:
		if err := validateTimeOfDay(s.TimeOfDay); err != nil {
			return err
		}
	case model.ScheduleWeekly:
		if err := validateTimeOfDay(s.TimeOfDay); err != nil {
			return err
		}
		if len(s.DaysOfWeek) == 0 {
			return fserr.UserInput("weekly schedule requires at least one day of week")
		}
	case model.ScheduleMonthly:
		if err := validateTimeOfDay(s.TimeOfDay); err != nil {
			return err
		}
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			return fserr.UserInput("monthly schedule day_of_month must be in [1,31], got %d", s.DayOfMonth)
		}
	case model.ScheduleInterval:
		if s.IntervalVal <= 0 {
			return fserr.UserInput("interval schedule requires interval_value > 0")
		}
		switch s.IntervalUnit {
		case model.UnitSeconds, model.UnitMinutes, model.UnitHours, model.UnitDays:
		default:
			return fserr.UserInput("interval schedule has unknown interval_unit %q", s.IntervalUnit)
		}
	default:
		return fserr.UserInput("unknown schedule_type %q", s.ScheduleType)
	}
	return nil
}

func validateTimeOfDay(s string) error {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return fserr.UserInput("time_of_day must be HH:MM, got %q", s)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return fserr.UserInput("time_of_day must be HH:MM, got %q", s)
	}
	return nil
}

// NextRunTime computes the next time s should fire strictly after from
// (§4.7). Interval schedules add a fixed offset; the wall-clock
// variants (Daily/Weekly/Monthly) search forward in local time,
// skipping calendar months that don't have the requested day
// (B1: a Monthly schedule on day 31 skips April, June, September,
// November and February).
func NextRunTime(s *model.Schedule, from time.Time) (time.Time, error) {
	from = from.Local()

	switch s.ScheduleType {
	case model.ScheduleInterval:
		offset := time.Duration(s.IntervalVal*s.IntervalUnit.Seconds()) * time.Second
		return from.Add(offset), nil

	case model.ScheduleDaily:
		hh, mm, err := parseHHMM(s.TimeOfDay)
		if err != nil {
			return time.Time{}, err
		}
		candidate := time.Date(from.Year(), from.Month(), from.Day(), hh, mm, 0, 0, from.Location())
		if !candidate.After(from) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate, nil

	case model.ScheduleWeekly:
		hh, mm, err := parseHHMM(s.TimeOfDay)
		if err != nil {
			return time.Time{}, err
		}
		if len(s.DaysOfWeek) == 0 {
			return time.Time{}, fserr.UserInput("weekly schedule has no days_of_week")
		}
		wanted := make(map[time.Weekday]bool, len(s.DaysOfWeek))
		for _, d := range s.DaysOfWeek {
			wanted[d] = true
		}
		for offset := 0; offset <= 7; offset++ {
			day := from.AddDate(0, 0, offset)
			if !wanted[day.Weekday()] {
				continue
			}
			candidate := time.Date(day.Year(), day.Month(), day.Day(), hh, mm, 0, 0, from.Location())
			if candidate.After(from) {
				return candidate, nil
			}
		}
		return time.Time{}, fserr.Fatal(nil, "weekly schedule found no matching day within 7 days")

	case model.ScheduleMonthly:
		hh, mm, err := parseHHMM(s.TimeOfDay)
		if err != nil {
			return time.Time{}, err
		}
		for i := 0; i < 13; i++ {
			monthStart := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, from.Location()).AddDate(0, i, 0)
			candidate := time.Date(monthStart.Year(), monthStart.Month(), s.DayOfMonth, hh, mm, 0, 0, from.Location())
			// time.Date normalises an out-of-range day into the next
			// month (e.g. Feb 31 -> Mar 3); reject those overflowed
			// candidates rather than accept a date in the wrong month.
			if candidate.Month() != monthStart.Month() {
				continue
			}
			if candidate.After(from) {
				return candidate, nil
			}
		}
		return time.Time{}, fserr.Fatal(nil, "monthly schedule on day %d found no match within 13 months", s.DayOfMonth)

	default:
		return time.Time{}, fserr.UserInput("unknown schedule_type %q", s.ScheduleType)
	}
}

func parseHHMM(s string) (int, int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fserr.UserInput("time_of_day must be HH:MM, got %q", s)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, fserr.UserInput("time_of_day must be HH:MM, got %q", s)
	}
	return h, m, nil
}

// InsertSchedule validates and persists a new schedule.
func InsertSchedule(ex model.Execer, s *model.Schedule) (*model.Schedule, error) {
	if err := ValidateSchedule(s); err != nil {
		return nil, err
	}

	daysOfWeek := encodeDaysOfWeek(s.DaysOfWeek)
	res, err := ex.Exec(`
		INSERT INTO schedules
			(root_id, enabled, schedule_name, schedule_type, time_of_day, days_of_week,
			 day_of_month, interval_value, interval_unit, hash_mode, validate_mode)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RootID, s.Enabled, s.ScheduleName, string(s.ScheduleType), nullable(s.TimeOfDay), nullable(daysOfWeek),
		nullableInt(s.DayOfMonth), nullableInt64(s.IntervalVal), nullable(string(s.IntervalUnit)),
		string(s.HashMode), string(s.ValidateMode))
	if err != nil {
		return nil, fserr.Storage(err, "insert schedule for root %d", s.RootID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fserr.Storage(err, "read inserted schedule id")
	}
	return GetSchedule(ex, id)
}

// GetSchedule loads a schedule by id, returning nil if it doesn't
// exist.
func GetSchedule(ex model.Execer, scheduleID int64) (*model.Schedule, error) {
	var s model.Schedule
	var scheduleType string
	var timeOfDay, daysOfWeek, intervalUnit sql.NullString
	var dayOfMonth, intervalVal sql.NullInt64
	var hashMode, validateMode string

	err := ex.QueryRow(`
		SELECT schedule_id, root_id, enabled, schedule_name, schedule_type, time_of_day, days_of_week,
		       day_of_month, interval_value, interval_unit, hash_mode, validate_mode
		FROM schedules WHERE schedule_id = ?`, scheduleID).Scan(
		&s.ScheduleID, &s.RootID, &s.Enabled, &s.ScheduleName, &scheduleType, &timeOfDay, &daysOfWeek,
		&dayOfMonth, &intervalVal, &intervalUnit, &hashMode, &validateMode,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fserr.Storage(err, "read schedule %d", scheduleID)
	}

	s.ScheduleType = model.ScheduleType(scheduleType)
	s.TimeOfDay = timeOfDay.String
	s.DaysOfWeek = decodeDaysOfWeek(daysOfWeek.String)
	s.DayOfMonth = int(dayOfMonth.Int64)
	s.IntervalVal = intervalVal.Int64
	s.IntervalUnit = model.IntervalUnit(intervalUnit.String)
	s.HashMode = model.HashMode(hashMode)
	s.ValidateMode = model.ValidateMode(validateMode)
	return &s, nil
}

// ListDueSchedules returns every enabled schedule whose recurrence
// should currently have a Pending follower task queued: enabled
// schedules with no existing Pending/Running/Pausing/Stopping task
// tracing back to them. This is evaluated at poll time rather than precomputed, so a
// schedule toggled on picks up its first run on the next tick.
func ListDueSchedules(ex model.Execer) ([]model.Schedule, error) {
	rows, err := ex.Query(`
		SELECT schedule_id FROM schedules s
		WHERE s.enabled = 1
		  AND NOT EXISTS (
		      SELECT 1 FROM tasks t
		      WHERE t.schedule_id = s.schedule_id
		        AND t.status IN ('Pending','Running','Pausing','Stopping')
		  )`)
	if err != nil {
		return nil, fserr.Storage(err, "list due schedules")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fserr.Storage(err, "scan due-schedule id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fserr.Storage(err, "iterate due schedules")
	}

	var out []model.Schedule
	for _, id := range ids {
		s, err := GetSchedule(ex, id)
		if err != nil {
			return nil, err
		}
		if s != nil {
			out = append(out, *s)
		}
	}
	return out, nil
}

// SetEnabled flips a schedule's enabled flag.
func SetEnabled(ex model.Execer, scheduleID int64, enabled bool) error {
	_, err := ex.Exec(`UPDATE schedules SET enabled = ? WHERE schedule_id = ?`, enabled, scheduleID)
	if err != nil {
		return fserr.Storage(err, "set schedule %d enabled=%v", scheduleID, enabled)
	}
	return nil
}

// DeleteSchedule removes a schedule, refusing (Conflict) while its
// follower task is Running: deleting out from under an active scan
// would orphan the task mid-run with no schedule left to report
// against. Any still-Pending follower is deleted along with it.
func DeleteSchedule(ex model.Execer, scheduleID int64) error {
	var runningID int64
	err := ex.QueryRow(`SELECT task_id FROM tasks WHERE schedule_id = ? AND status = ?`, scheduleID, string(model.TaskRunning)).Scan(&runningID)
	if err != nil && err != sql.ErrNoRows {
		return fserr.Storage(err, "check running task for schedule %d", scheduleID)
	}
	if err == nil {
		return fserr.Conflict("schedule %d has a running task %d", scheduleID, runningID)
	}

	rows, err := ex.Query(`SELECT task_id FROM tasks WHERE schedule_id = ? AND status = ?`, scheduleID, string(model.TaskPending))
	if err != nil {
		return fserr.Storage(err, "find pending tasks for schedule %d", scheduleID)
	}
	var pendingIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fserr.Storage(err, "scan pending task id")
		}
		pendingIDs = append(pendingIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fserr.Storage(err, "iterate pending tasks")
	}
	rows.Close()

	for _, id := range pendingIDs {
		if err := DeleteTask(ex, id); err != nil {
			return err
		}
	}

	if _, err := ex.Exec(`DELETE FROM schedules WHERE schedule_id = ?`, scheduleID); err != nil {
		return fserr.Storage(err, "delete schedule %d", scheduleID)
	}
	return nil
}

func encodeDaysOfWeek(days []time.Weekday) string {
	if len(days) == 0 {
		return ""
	}
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

func decodeDaysOfWeek(s string) []time.Weekday {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	days := make([]time.Weekday, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		days = append(days, time.Weekday(n))
	}
	return days
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableInt(n int) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}

func nullableInt64(n int64) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: n, Valid: true}
}
