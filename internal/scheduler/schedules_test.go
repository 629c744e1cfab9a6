package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/fspulse/fspulse/internal/fserr"
	"github.com/fspulse/fspulse/internal/model"
	"github.com/fspulse/fspulse/internal/store"
)

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		name    string
		sched   model.Schedule
		wantErr bool
	}{
		{"daily ok", model.Schedule{ScheduleType: model.ScheduleDaily, TimeOfDay: "09:30"}, false},
		{"daily missing time", model.Schedule{ScheduleType: model.ScheduleDaily}, true},
		{"daily bad time format", model.Schedule{ScheduleType: model.ScheduleDaily, TimeOfDay: "9:30am"}, true},
		{"daily hour out of range", model.Schedule{ScheduleType: model.ScheduleDaily, TimeOfDay: "24:00"}, true},
		{"weekly ok", model.Schedule{ScheduleType: model.ScheduleWeekly, TimeOfDay: "08:00", DaysOfWeek: []time.Weekday{time.Monday}}, false},
		{"weekly no days", model.Schedule{ScheduleType: model.ScheduleWeekly, TimeOfDay: "08:00"}, true},
		{"monthly ok", model.Schedule{ScheduleType: model.ScheduleMonthly, TimeOfDay: "00:00", DayOfMonth: 31}, false},
		{"monthly day too high", model.Schedule{ScheduleType: model.ScheduleMonthly, TimeOfDay: "00:00", DayOfMonth: 32}, true},
		{"monthly day zero", model.Schedule{ScheduleType: model.ScheduleMonthly, TimeOfDay: "00:00", DayOfMonth: 0}, true},
		{"interval ok", model.Schedule{ScheduleType: model.ScheduleInterval, IntervalVal: 5, IntervalUnit: model.UnitMinutes}, false},
		{"interval zero value", model.Schedule{ScheduleType: model.ScheduleInterval, IntervalVal: 0, IntervalUnit: model.UnitMinutes}, true},
		{"interval unknown unit", model.Schedule{ScheduleType: model.ScheduleInterval, IntervalVal: 5, IntervalUnit: "Fortnights"}, true},
		{"unknown type", model.Schedule{ScheduleType: "Yearly"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchedule(&tt.sched)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSchedule(%+v) error = %v, wantErr %v", tt.sched, err, tt.wantErr)
			}
		})
	}
}

func TestNextRunTimeInterval(t *testing.T) {
	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &model.Schedule{ScheduleType: model.ScheduleInterval, IntervalVal: 30, IntervalUnit: model.UnitMinutes}

	got, err := NextRunTime(s, from)
	if err != nil {
		t.Fatalf("NextRunTime: %v", err)
	}
	want := from.Add(30 * time.Minute)
	if !got.Equal(want) {
		t.Errorf("NextRunTime() = %v, want %v", got, want)
	}
}

func TestNextRunTimeDaily(t *testing.T) {
	s := &model.Schedule{ScheduleType: model.ScheduleDaily, TimeOfDay: "09:00"}

	// Before today's time: fires later today.
	from := time.Date(2026, 3, 1, 6, 0, 0, 0, time.Local)
	got, err := NextRunTime(s, from)
	if err != nil {
		t.Fatalf("NextRunTime: %v", err)
	}
	want := time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("NextRunTime() = %v, want %v", got, want)
	}

	// After today's time: rolls to tomorrow.
	from = time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	got, err = NextRunTime(s, from)
	if err != nil {
		t.Fatalf("NextRunTime: %v", err)
	}
	want = time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("NextRunTime() = %v, want %v", got, want)
	}
}

func TestNextRunTimeWeekly(t *testing.T) {
	// Wednesday 2026-03-04; schedule fires Mondays at 08:00.
	from := time.Date(2026, 3, 4, 12, 0, 0, 0, time.Local)
	s := &model.Schedule{ScheduleType: model.ScheduleWeekly, TimeOfDay: "08:00", DaysOfWeek: []time.Weekday{time.Monday}}

	got, err := NextRunTime(s, from)
	if err != nil {
		t.Fatalf("NextRunTime: %v", err)
	}
	if got.Weekday() != time.Monday {
		t.Errorf("NextRunTime() = %v, want a Monday", got)
	}
	if !got.After(from) {
		t.Errorf("NextRunTime() = %v, want after %v", got, from)
	}
}

// TestNextRunTimeMonthlyBoundary covers B1: a schedule anchored on day
// 31 must skip months that don't have one (April, June, etc.) and land
// on the 31st of the next month that does.
func TestNextRunTimeMonthlyBoundary(t *testing.T) {
	from := time.Date(2026, 3, 31, 23, 59, 0, 0, time.Local)
	s := &model.Schedule{ScheduleType: model.ScheduleMonthly, TimeOfDay: "00:00", DayOfMonth: 31}

	got, err := NextRunTime(s, from)
	if err != nil {
		t.Fatalf("NextRunTime: %v", err)
	}
	want := time.Date(2026, 5, 31, 0, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("NextRunTime() = %v, want %v (April has no 31st)", got, want)
	}
}

// TestDeleteScheduleRefusesWhileTaskRunning covers the Conflict case
// from §8: deleting a schedule whose follower task is Running must
// mutate nothing and report Conflict, not silently orphan the task.
func TestDeleteScheduleRefusesWhileTaskRunning(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer db.Close()

	root, err := model.InsertRoot(db, "/tmp/pulse-sched")
	if err != nil {
		t.Fatalf("InsertRoot: %v", err)
	}

	sched, err := InsertSchedule(db, &model.Schedule{
		RootID: root.RootID, ScheduleName: "nightly",
		ScheduleType: model.ScheduleDaily, TimeOfDay: "02:00",
		HashMode: model.HashNew, ValidateMode: model.ValidateNone,
	})
	if err != nil {
		t.Fatalf("InsertSchedule: %v", err)
	}

	task, err := InsertTask(db, root.RootID, &sched.ScheduleID, time.Now(), model.SourceScheduled, model.TaskSettings{RootID: root.RootID})
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if err := SetStatus(db, task.TaskID, model.TaskRunning); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	err = DeleteSchedule(db, sched.ScheduleID)
	if !fserr.Is(err, fserr.KindConflict) {
		t.Fatalf("DeleteSchedule with a Running follower = %v, want a Conflict error", err)
	}

	if got, err := GetSchedule(db, sched.ScheduleID); err != nil || got == nil {
		t.Errorf("schedule %d should still exist after the refused delete, got %+v, err %v", sched.ScheduleID, got, err)
	}
}

func TestNextRunTimeMonthlyFebruary(t *testing.T) {
	from := time.Date(2026, 1, 31, 0, 0, 0, 0, time.Local)
	s := &model.Schedule{ScheduleType: model.ScheduleMonthly, TimeOfDay: "00:00", DayOfMonth: 31}

	got, err := NextRunTime(s, from)
	if err != nil {
		t.Fatalf("NextRunTime: %v", err)
	}
	if got.Month() == time.February {
		t.Errorf("NextRunTime() = %v, February never has a 31st", got)
	}
}
