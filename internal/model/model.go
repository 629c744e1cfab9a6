// Package model defines the core's data model: the identity/version
// entities and their associated enums, plus the JSON envelopes used
// for task and schedule payloads.
package model

import "time"

// ItemType classifies what kind of filesystem entry an item represents.
type ItemType string

const (
	ItemFile      ItemType = "File"
	ItemDirectory ItemType = "Directory"
	ItemSymlink   ItemType = "Symlink"
	ItemUnknown   ItemType = "Unknown"
)

// Access records the outcome of the filesystem boundary for a version:
// MetaError when symlink_metadata fails, ReadError when open/digest
// read fails, Ok otherwise.
type Access string

const (
	AccessOk        Access = "Ok"
	AccessMetaError Access = "MetaError"
	AccessReadError Access = "ReadError"
)

// ValidationState is the outcome a validator reports for a file.
// Code/ParseValidationCode map it to and from the single-char store code.
type ValidationState string

const (
	ValUnknown     ValidationState = "Unknown"
	ValValid       ValidationState = "Valid"
	ValInvalid     ValidationState = "Invalid"
	ValNoValidator ValidationState = "NoValidator"
)

// Code returns the single-character store encoding for a validation
// state: U/V/I/N.
func (v ValidationState) Code() string {
	switch v {
	case ValValid:
		return "V"
	case ValInvalid:
		return "I"
	case ValNoValidator:
		return "N"
	default:
		return "U"
	}
}

// ParseValidationCode parses the single-character store encoding back
// into a ValidationState, defaulting to Unknown for anything else.
func ParseValidationCode(code string) ValidationState {
	switch code {
	case "V":
		return ValValid
	case "I":
		return ValInvalid
	case "N":
		return ValNoValidator
	default:
		return ValUnknown
	}
}

// ScanState is the scan state machine's current phase.
type ScanState string

const (
	ScanPending   ScanState = "Pending"
	ScanScanning  ScanState = "Scanning"
	ScanSweeping  ScanState = "Sweeping"
	ScanAnalyzing ScanState = "Analyzing"
	ScanCompleted ScanState = "Completed"
	ScanStopped   ScanState = "Stopped"
	ScanError     ScanState = "Error"
)

// IsTerminal reports whether a scan in this state will never transition
// again.
func (s ScanState) IsTerminal() bool {
	switch s {
	case ScanCompleted, ScanStopped, ScanError:
		return true
	default:
		return false
	}
}

// HashMode controls when the analysis pool (re)computes a file's
// content hash.
type HashMode string

const (
	HashNone HashMode = "None"
	HashNew  HashMode = "New"
	HashAll  HashMode = "All"
)

// ValidateMode controls when the analysis pool (re)runs a file's
// validator.
type ValidateMode string

const (
	ValidateNone ValidateMode = "None"
	ValidateNew  ValidateMode = "New"
	ValidateAll  ValidateMode = "All"
)

// AnalysisSpec is the pair of modes a scan runs analysis with.
type AnalysisSpec struct {
	HashMode     HashMode
	ValidateMode ValidateMode
}

// TaskStatus is a queue entry's lifecycle state.
type TaskStatus string

const (
	TaskPending   TaskStatus = "Pending"
	TaskRunning   TaskStatus = "Running"
	TaskPausing   TaskStatus = "Pausing"
	TaskStopping  TaskStatus = "Stopping"
	TaskCompleted TaskStatus = "Completed"
	TaskStopped   TaskStatus = "Stopped"
	TaskError     TaskStatus = "Error"
)

// IsActive reports whether a task in this status counts toward the
// store-wide singleton-active-task invariant (V6).
func (s TaskStatus) IsActive() bool {
	switch s {
	case TaskRunning, TaskPausing, TaskStopping:
		return true
	default:
		return false
	}
}

// TaskSource distinguishes operator-submitted work from schedule-driven
// work; selection always prefers Manual.
type TaskSource string

const (
	SourceManual    TaskSource = "Manual"
	SourceScheduled TaskSource = "Scheduled"
)

// ScheduleType is the recurrence kind a Schedule evaluates under.
type ScheduleType string

const (
	ScheduleDaily    ScheduleType = "Daily"
	ScheduleWeekly   ScheduleType = "Weekly"
	ScheduleInterval ScheduleType = "Interval"
	ScheduleMonthly  ScheduleType = "Monthly"
)

// IntervalUnit is the unit interval_value is denominated in for
// Interval schedules.
type IntervalUnit string

const (
	UnitSeconds IntervalUnit = "Seconds"
	UnitMinutes IntervalUnit = "Minutes"
	UnitHours   IntervalUnit = "Hours"
	UnitDays    IntervalUnit = "Days"
)

// Seconds returns how many seconds one unit of u represents.
func (u IntervalUnit) Seconds() int64 {
	switch u {
	case UnitMinutes:
		return 60
	case UnitHours:
		return 3600
	case UnitDays:
		return 86400
	default:
		return 1
	}
}

// Root is a registered scan boundary: a canonicalised absolute
// directory path.
type Root struct {
	RootID   int64
	RootPath string
}

// Item is the immutable identity row for an observed (root, path, type)
// tuple.
type Item struct {
	ItemID   int64
	RootID   int64
	ItemPath string
	ItemName string
	ItemType ItemType
}

// ItemVersion is one observed state of an item, joined to the scans
// during which that state held.
type ItemVersion struct {
	VersionID   int64
	ItemID      int64
	FirstScanID int64
	LastScanID  int64

	IsAdded   bool
	IsDeleted bool

	Access  Access
	ModDate time.Time
	Size    int64

	// File-only; zero-value/absent for directories.
	FileHash     string
	Val          ValidationState
	ValError     string
	LastHashScan int64
	LastValScan  int64
	HasFileData  bool

	// Folder-only; zero-value/absent for files.
	AddCount      int64
	ModifyCount   int64
	DeleteCount   int64
	UnchangedCount int64
	HasFolderData  bool
}

// Scan is one traversal of a root with its associated analysis
// options.
type Scan struct {
	ScanID       int64
	RootID       int64
	State        ScanState
	AnalysisSpec AnalysisSpec
	StartedAt    time.Time
	FileCount    int64
	FolderCount  int64
	ErrorMessage string
}

// Task is a queue entry: a unit of scheduled or manual work.
type Task struct {
	TaskID       int64
	TaskType     string
	Status       TaskStatus
	RootID       *int64
	ScheduleID   *int64
	ScanID       *int64
	RunAt        time.Time
	Source       TaskSource
	TaskSettings []byte // JSON
	TaskState    []byte // JSON, nullable
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// Schedule is a recurrence rule producing successor task entries.
type Schedule struct {
	ScheduleID   int64
	RootID       int64
	Enabled      bool
	ScheduleName string
	ScheduleType ScheduleType

	TimeOfDay    string // "HH:MM", required by Daily/Weekly/Monthly
	DaysOfWeek   []time.Weekday
	DayOfMonth   int // [1,31], required by Monthly
	IntervalVal  int64
	IntervalUnit IntervalUnit

	HashMode     HashMode
	ValidateMode ValidateMode
}

// TaskSettings is the typed envelope persisted in Task.TaskSettings.
// Readers deserialise permissively; unknown fields are ignored.
type TaskSettings struct {
	RootID       int64        `json:"root_id"`
	AnalysisSpec AnalysisSpec `json:"analysis_spec"`
}
