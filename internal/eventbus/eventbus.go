// Package eventbus implements the in-process pub/sub used to coordinate the
// pipeline: a multi-consumer pipeline channel, a multi-consumer operational
// channel, and a coalescing single-slot fast-path channel, each with its own
// backpressure behavior.
package eventbus

import (
	"sync"
	"time"
)

// BackpressurePolicy controls what happens to a publish when a subscriber's
// buffer is full.
type BackpressurePolicy int

const (
	// DropOldest discards the subscriber's oldest buffered event to make
	// room for the new one. This is the default.
	DropOldest BackpressurePolicy = iota
	// DropNewest refuses to enqueue the new event for a full subscriber.
	DropNewest
)

// PipelineEvent is any of the typed pipeline messages.
type PipelineEvent interface{ pipelineEvent() }

type MarketsScored struct {
	MarketsScored int
	EventsRanked  int
	CompletedAt   time.Time
}

type WalletsDiscovered struct {
	MarketID      string
	WalletsAdded  int
	DiscoveredAt  time.Time
}

type TradesIngested struct {
	WalletAddress string
	TradesCount   int
	IngestedAt    time.Time
}

type WalletsClassified struct {
	WalletAddress string
	ClassifiedAt  time.Time
}

type WalletRulesEvaluated struct {
	WalletAddress string
	NewState      string
	EvaluatedAt   time.Time
}

func (MarketsScored) pipelineEvent()        {}
func (WalletsDiscovered) pipelineEvent()    {}
func (TradesIngested) pipelineEvent()       {}
func (WalletsClassified) pipelineEvent()    {}
func (WalletRulesEvaluated) pipelineEvent() {}

// OperationalEvent is any of the typed operational messages.
type OperationalEvent interface{ operationalEvent() }

type JobStarted struct {
	JobName   string
	StartedAt time.Time
}

type JobCompleted struct {
	JobName     string
	CompletedAt time.Time
	Duration    time.Duration
}

type JobFailed struct {
	JobName string
	Err     error
	FailedAt time.Time
}

type BackpressureWarning struct {
	QueueName   string
	CurrentSize int
	Capacity    int
	WarnedAt    time.Time
}

func (JobStarted) operationalEvent()         {}
func (JobCompleted) operationalEvent()       {}
func (JobFailed) operationalEvent()          {}
func (BackpressureWarning) operationalEvent() {}

// subscriber is one consumer's buffered mailbox for a broadcast channel.
type subscriber[T any] struct {
	ch     chan T
	lagged int
}

// broadcast is a multi-consumer channel with configurable backpressure.
type broadcast[T any] struct {
	mu          sync.Mutex
	subs        map[int]*subscriber[T]
	nextID      int
	capacity    int
	policy      BackpressurePolicy
	warnPct     int
	name        string
	onWarn      func(current, capacity int)
}

func newBroadcast[T any](name string, capacity int, policy BackpressurePolicy, warnPct int, onWarn func(int, int)) *broadcast[T] {
	return &broadcast[T]{
		subs:     make(map[int]*subscriber[T]),
		capacity: capacity,
		policy:   policy,
		warnPct:  warnPct,
		name:     name,
		onWarn:   onWarn,
	}
}

// Subscription is a handle to a broadcast channel consumer.
type Subscription[T any] struct {
	id int
	b  *broadcast[T]
	C  <-chan T
}

// Lagged returns how many events were evicted from this subscriber's
// mailbox since the last call, and resets the counter. A lagging consumer
// is expected to log the skip count and keep draining; lag is never
// conflated with channel closure.
func (s *Subscription[T]) Lagged() int {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	sub, ok := s.b.subs[s.id]
	if !ok {
		return 0
	}
	n := sub.lagged
	sub.lagged = 0
	return n
}

// Unsubscribe removes the consumer and releases its mailbox.
func (s *Subscription[T]) Unsubscribe() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if sub, ok := s.b.subs[s.id]; ok {
		close(sub.ch)
		delete(s.b.subs, s.id)
	}
}

func (b *broadcast[T]) subscribe() *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	sub := &subscriber[T]{ch: make(chan T, b.capacity)}
	b.subs[id] = sub
	return &Subscription[T]{id: id, b: b, C: sub.ch}
}

// maxLen returns the largest current subscriber queue length (used by the
// capacity-threshold check on publish).
func (b *broadcast[T]) maxLen() int {
	max := 0
	for _, sub := range b.subs {
		if l := len(sub.ch); l > max {
			max = l
		}
	}
	return max
}

// publish delivers v to every subscriber per the configured policy. It
// returns the number of subscribers it actually delivered to.
func (b *broadcast[T]) publish(v T) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.capacity > 0 && b.warnPct > 0 {
		threshold := b.capacity * b.warnPct / 100
		if b.maxLen() >= threshold {
			if b.onWarn != nil {
				b.onWarn(b.maxLen(), b.capacity)
			}
		}
	}

	delivered := 0
	for _, sub := range b.subs {
		switch b.policy {
		case DropNewest:
			if len(sub.ch) >= cap(sub.ch) {
				continue
			}
			sub.ch <- v
			delivered++
		default: // DropOldest
			select {
			case sub.ch <- v:
				delivered++
			default:
				// Buffer full: evict the oldest entry and retry once.
				select {
				case <-sub.ch:
					sub.lagged++
				default:
				}
				select {
				case sub.ch <- v:
					delivered++
				default:
				}
			}
		}
	}
	return delivered
}

// FastPath is a coalescing single-slot notification: multiple triggers
// between reads collapse into one monotonically increasing generation.
type FastPath struct {
	mu         sync.Mutex
	generation uint64
	subs       []chan uint64
}

// NewFastPath constructs an empty fast-path channel.
func NewFastPath() *FastPath {
	return &FastPath{}
}

// Trigger advances the generation and notifies every subscriber
// non-blockingly; a subscriber that hasn't drained its last tick simply
// observes the newer generation on its next read.
func (f *FastPath) Trigger() {
	f.mu.Lock()
	f.generation++
	gen := f.generation
	subs := f.subs
	f.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- gen:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- gen:
			default:
			}
		}
	}
}

// Subscribe returns a channel that receives the latest generation after
// every Trigger call; the channel is single-slot, so only the most recent
// generation is ever pending.
func (f *FastPath) Subscribe() <-chan uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan uint64, 1)
	f.subs = append(f.subs, ch)
	return ch
}

// Bus is the process-wide event bus.
type Bus struct {
	pipeline    *broadcast[PipelineEvent]
	operational *broadcast[OperationalEvent]
	fastPath    *FastPath
	dlq         *DLQ
}

// Options configures a new Bus.
type Options struct {
	Capacity           int
	PipelinePolicy     BackpressurePolicy
	WarnThresholdPct   int
}

// New constructs a Bus with the given capacity and backpressure policy for
// the pipeline channel; warnThresholdPct defaults to 90 when zero.
func New(opts Options) *Bus {
	if opts.Capacity <= 0 {
		opts.Capacity = 256
	}
	if opts.WarnThresholdPct <= 0 {
		opts.WarnThresholdPct = 90
	}
	b := &Bus{fastPath: NewFastPath(), dlq: newDLQ()}
	b.operational = newBroadcast[OperationalEvent]("operational", opts.Capacity, DropOldest, 0, nil)
	b.pipeline = newBroadcast[PipelineEvent]("pipeline", opts.Capacity, opts.PipelinePolicy, opts.WarnThresholdPct, func(current, capacity int) {
		b.operational.publish(BackpressureWarning{
			QueueName:   "pipeline",
			CurrentSize: current,
			Capacity:    capacity,
			WarnedAt:    time.Now(),
		})
	})
	return b
}

// PublishPipeline publishes v on the pipeline channel.
func (b *Bus) PublishPipeline(v PipelineEvent) int { return b.pipeline.publish(v) }

// SubscribePipeline returns a new pipeline subscription.
func (b *Bus) SubscribePipeline() *Subscription[PipelineEvent] { return b.pipeline.subscribe() }

// PublishOperational publishes v on the operational channel.
func (b *Bus) PublishOperational(v OperationalEvent) int { return b.operational.publish(v) }

// SubscribeOperational returns a new operational subscription.
func (b *Bus) SubscribeOperational() *Subscription[OperationalEvent] { return b.operational.subscribe() }

// TriggerFastPath advances the fast-path generation.
func (b *Bus) TriggerFastPath() { b.fastPath.Trigger() }

// SubscribeFastPath subscribes to the fast-path channel.
func (b *Bus) SubscribeFastPath() <-chan uint64 { return b.fastPath.Subscribe() }

// DLQ returns the bus's dead-letter queue for failed event consumers.
func (b *Bus) DLQ() *DLQ { return b.dlq }
