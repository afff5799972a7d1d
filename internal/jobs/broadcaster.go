package jobs

import "sync"

// EventKind discriminates broadcaster events.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
)

// Event is one job update pushed to subscribed clients.
type Event struct {
	JobID    string    `json:"jobId"`
	Kind     EventKind `json:"kind"`
	Status   Status    `json:"status,omitempty"`
	Progress *Progress `json:"progress,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// subscriberBuffer is the per-client event headroom. At one progress event
// per dispatch window a client this far behind is effectively stalled.
const subscriberBuffer = 64

// Subscriber is one connected client's receive side. A subscriber may watch
// any number of jobs; delivery per subscriber is FIFO.
type Subscriber struct {
	id uint64
	ch chan Event
}

// Events is the channel the connection loop drains. It is closed when the
// subscriber is removed, including a slow-client drop.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Broadcaster fans job events out to per-job subscriber sets. No replay:
// late subscribers read the terminal state from the status endpoint instead.
// Thread-safe.
type Broadcaster struct {
	mu     sync.Mutex
	byJob  map[string]map[uint64]*Subscriber
	jobsOf map[uint64]map[string]struct{}
	nextID uint64
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		byJob:  make(map[string]map[uint64]*Subscriber),
		jobsOf: make(map[uint64]map[string]struct{}),
	}
}

// Register creates a subscriber handle for one connected client.
func (b *Broadcaster) Register() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &Subscriber{id: b.nextID, ch: make(chan Event, subscriberBuffer)}
	b.nextID++
	b.jobsOf[s.id] = make(map[string]struct{})
	return s
}

// Subscribe adds the subscriber to a job's set. Case-sensitive on jobID;
// subscribing to an unknown or finished job is allowed and simply yields no
// events.
func (b *Broadcaster) Subscribe(jobID string, s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.jobsOf[s.id]; !ok {
		// Already removed (disconnect or slow drop).
		return
	}
	set, ok := b.byJob[jobID]
	if !ok {
		set = make(map[uint64]*Subscriber)
		b.byJob[jobID] = set
	}
	set[s.id] = s
	b.jobsOf[s.id][jobID] = struct{}{}
}

// Unsubscribe removes the subscriber from one job's set.
func (b *Broadcaster) Unsubscribe(jobID string, s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detach(jobID, s.id)
	if jobs, ok := b.jobsOf[s.id]; ok {
		delete(jobs, jobID)
	}
}

// Remove drops the subscriber from every set it appears in and closes its
// channel. Called on client disconnect; idempotent.
func (b *Broadcaster) Remove(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(s)
}

// Publish delivers the event to every current member of the job's set.
// Best-effort and non-blocking: a subscriber whose buffer is full is dropped
// so a stalled client never blocks the dispatcher.
func (b *Broadcaster) Publish(jobID string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.byJob[jobID] {
		select {
		case s.ch <- ev:
		default:
			b.remove(s)
		}
	}
}

// Subscribers reports the current set size for a job.
func (b *Broadcaster) Subscribers(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byJob[jobID])
}

// remove drops s from every set and closes its channel. Caller holds the
// lock.
func (b *Broadcaster) remove(s *Subscriber) {
	jobs, ok := b.jobsOf[s.id]
	if !ok {
		return
	}
	for jobID := range jobs {
		b.detach(jobID, s.id)
	}
	delete(b.jobsOf, s.id)
	close(s.ch)
}

// detach removes one membership and lazily discards an emptied set. Caller
// holds the lock.
func (b *Broadcaster) detach(jobID string, id uint64) {
	set, ok := b.byJob[jobID]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(b.byJob, jobID)
	}
}
