// Package events is the progress/event surface (§6.3): a small,
// fire-and-forget broadcast of task lifecycle and progress events. The
// core never blocks on a slow subscriber.
package events

import "sync"

// Kind enumerates the event types the core emits.
type Kind string

const (
	PhaseStarted      Kind = "phase-started"
	PhaseFinished     Kind = "phase-finished"
	DirectoryEntered  Kind = "directory-entered"
	FileObserved      Kind = "file-observed"
	AnalysisProgress  Kind = "analysis-progress"
	WorkerState       Kind = "worker-state"
	TaskStatusChanged Kind = "task-status-changed"
)

// WorkerOp is the operation a worker is currently performing, reported
// in WorkerState events.
type WorkerOp string

const (
	OpHashing    WorkerOp = "hashing"
	OpValidating WorkerOp = "validating"
	OpIdle       WorkerOp = "idle"
)

// Event is one point in a task's event stream.
type Event struct {
	Kind   Kind
	TaskID int64

	// PhaseName/DirectoryPath/FilePath are populated for the events
	// that name one.
	PhaseName     string
	DirectoryPath string
	FilePath      string

	// AnalysisProgress fields.
	Done  int64
	Total int64

	// WorkerState fields.
	WorkerIndex int
	WorkerOp    WorkerOp
	CurrentFile string

	// TaskStatusChanged field.
	Status string
}

// subscriber mirrors the teacher's subscriber: a channel guarded by a
// mutex and a closed flag so a slow or gone consumer never blocks
// emission, and a send racing a concurrent unsubscribe never panics on
// a closed channel.
type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func newSubscriber(buffer int) *subscriber {
	return &subscriber{ch: make(chan Event, buffer)}
}

func (s *subscriber) send(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
		// Subscriber is behind; drop rather than block the emitter.
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Broadcaster fans a task's events out to zero or more subscribers.
// One Broadcaster instance is shared process-wide; subscriptions are
// keyed by task id.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[int64][]*subscriber
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[int64][]*subscriber)}
}

// Subscribe registers a new listener for a task's events, returning a
// receive-only channel and an unsubscribe function.
func (b *Broadcaster) Subscribe(taskID int64) (<-chan Event, func()) {
	sub := newSubscriber(32)

	b.mu.Lock()
	b.subscribers[taskID] = append(b.subscribers[taskID], sub)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[taskID]
		for i, s := range subs {
			if s == sub {
				b.subscribers[taskID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		sub.close()
	}

	return sub.ch, unsubscribe
}

// Publish emits an event to every current subscriber of e.TaskID. The
// subscriber slice is copied under RLock so sends never happen while
// holding the lock.
func (b *Broadcaster) Publish(e Event) {
	b.mu.RLock()
	subs := append([]*subscriber(nil), b.subscribers[e.TaskID]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.send(e)
	}
}

// CloseTask closes and forgets every subscriber registered for a task,
// called once the task reaches a terminal status.
func (b *Broadcaster) CloseTask(taskID int64) {
	b.mu.Lock()
	subs := b.subscribers[taskID]
	delete(b.subscribers, taskID)
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}
