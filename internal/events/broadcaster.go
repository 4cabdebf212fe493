package events

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pneumai/pneumai-go/internal/errors"
	"github.com/pneumai/pneumai-go/internal/logger"
)

// Config holds broadcaster configuration
type Config struct {
	BufferSize       int
	Workers          int
	SubscriberBuffer int
	SendTimeout      time.Duration
}

// DefaultConfig returns the default broadcaster configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:       1000,
		Workers:          2,
		SubscriberBuffer: 64,
		SendTimeout:      3 * time.Second,
	}
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(b *Broadcaster) {
		if r != nil {
			b.recorder = r
		}
	}
}

// Broadcaster provides asynchronous fan-out with non-blocking publish.
//
// Events are sharded to workers by scan ID, so events of one scan are
// delivered in publish order. No ordering holds across scans.
//
// Each consumer runs on its own goroutine behind a bounded queue. A slow
// consumer loses events once its queue fills and never holds up subscribers.
type Broadcaster struct {
	queues      []chan Event
	timeout     time.Duration
	subBuf      int
	consumerBuf int

	// publishMu guards closed against concurrent queue closure
	publishMu sync.RWMutex
	closed    bool
	wg        sync.WaitGroup

	mu              sync.RWMutex
	subscribers     map[string]*Subscription
	consumers       []*consumerQueue
	consumersClosed bool
	consumerWG      sync.WaitGroup

	seq            atomic.Uint64
	published      atomic.Uint64
	delivered      atomic.Uint64
	dropped        atomic.Uint64
	evicted        atomic.Uint64
	consumerErrors atomic.Uint64
	consumerDrops  atomic.Uint64

	recorder Recorder
	logger   logger.Logger
}

// New creates a broadcaster and starts its workers.
func New(cfg Config, opts ...Option) *Broadcaster {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = def.SubscriberBuffer
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}

	b := &Broadcaster{
		queues:      make([]chan Event, cfg.Workers),
		timeout:     cfg.SendTimeout,
		subBuf:      cfg.SubscriberBuffer,
		consumerBuf: cfg.BufferSize,
		subscribers: make(map[string]*Subscription),
		recorder:    nopRecorder{},
		logger:      GetLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}

	perWorker := max(1, cfg.BufferSize/cfg.Workers)
	for i := range b.queues {
		b.queues[i] = make(chan Event, perWorker)
		b.wg.Add(1)
		go b.worker(i, b.queues[i])
	}

	b.logger.Info("event broadcaster started",
		logger.Int("buffer_size", cfg.BufferSize),
		logger.Int("workers", cfg.Workers),
		logger.Duration("send_timeout", cfg.SendTimeout))
	return b
}

// Publish queues an event without blocking. A full buffer drops the event.
func (b *Broadcaster) Publish(event Event) bool {
	b.publishMu.RLock()
	defer b.publishMu.RUnlock()
	if b.closed {
		return false
	}

	event.Seq = b.seq.Add(1)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case b.queues[b.shard(event.ScanID)] <- event:
		b.published.Add(1)
		b.recorder.RecordPublished(string(event.Type))
		return true
	default:
		b.dropped.Add(1)
		b.recorder.RecordDropped(string(event.Type))
		b.logger.Debug("event dropped due to full buffer",
			logger.String("type", string(event.Type)),
			logger.ScanID(event.ScanID))
		return false
	}
}

func (b *Broadcaster) shard(key string) int {
	if len(b.queues) == 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(b.queues)))
}

type consumerQueue struct {
	consumer Consumer
	events   chan Event
}

// RegisterConsumer adds an external sink and starts its goroutine.
func (b *Broadcaster) RegisterConsumer(consumer Consumer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.consumersClosed {
		return errors.Newf("broadcaster is shut down").
			Component("events").
			Category(errors.CategoryBroadcast).
			Build()
	}
	for _, existing := range b.consumers {
		if existing.consumer.Name() == consumer.Name() {
			return fmt.Errorf("consumer %s already registered", consumer.Name())
		}
	}
	q := &consumerQueue{consumer: consumer, events: make(chan Event, b.consumerBuf)}
	b.consumers = append(b.consumers, q)
	b.consumerWG.Add(1)
	go b.runConsumer(q)
	b.logger.Info("registered event consumer",
		logger.String("consumer", consumer.Name()),
		logger.Int("buffer_size", b.consumerBuf))
	return nil
}

func (b *Broadcaster) runConsumer(q *consumerQueue) {
	defer b.consumerWG.Done()
	log := b.logger.With(logger.String("consumer", q.consumer.Name()))
	for event := range q.events {
		b.consume(q.consumer, event, log)
	}
}

// Subscribe registers a live session.
func (b *Broadcaster) Subscribe(filter Filter) (*Subscription, error) {
	b.publishMu.RLock()
	closed := b.closed
	b.publishMu.RUnlock()
	if closed {
		return nil, errors.Newf("broadcaster is shut down").
			Component("events").
			Category(errors.CategoryBroadcast).
			Build()
	}

	sub := &Subscription{
		id:          uuid.NewString(),
		filter:      filter,
		events:      make(chan Event, b.subBuf),
		done:        make(chan struct{}),
		broadcaster: b,
	}

	b.mu.Lock()
	b.subscribers[sub.id] = sub
	n := len(b.subscribers)
	b.mu.Unlock()

	b.recorder.SetSubscribers(n)
	b.logger.Debug("subscriber added",
		logger.String("subscriber_id", sub.id),
		logger.Bool("staff", filter.Staff))
	return sub, nil
}

func (b *Broadcaster) remove(sub *Subscription, evicted bool) {
	b.mu.Lock()
	_, present := b.subscribers[sub.id]
	delete(b.subscribers, sub.id)
	n := len(b.subscribers)
	b.mu.Unlock()

	if !present {
		return
	}
	b.recorder.SetSubscribers(n)
	if evicted {
		b.evicted.Add(1)
		b.recorder.RecordEvicted()
		b.logger.Warn("evicted slow subscriber", logger.String("subscriber_id", sub.id))
	}
	sub.close(evicted)
}

// worker processes events from its queue until the queue is closed
func (b *Broadcaster) worker(id int, queue <-chan Event) {
	defer b.wg.Done()
	log := b.logger.With(logger.Int("worker_id", id))
	log.Debug("worker started")

	for event := range queue {
		b.dispatch(event, log)
	}
	log.Debug("worker stopped")
}

func (b *Broadcaster) dispatch(event Event, log logger.Logger) {
	b.mu.RLock()
	if !b.consumersClosed {
		for _, q := range b.consumers {
			b.enqueue(q, event, log)
		}
	}
	subs := make([]*Subscription, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		if s.filter.Matches(event) {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if b.send(s, event) {
			b.delivered.Add(1)
			b.recorder.RecordDelivered(string(event.Type))
		}
	}
}

// enqueue hands an event to a consumer without blocking. Callers hold b.mu.
func (b *Broadcaster) enqueue(q *consumerQueue, event Event, log logger.Logger) {
	select {
	case q.events <- event:
	default:
		b.consumerDrops.Add(1)
		log.Warn("consumer queue full, event dropped",
			logger.String("consumer", q.consumer.Name()),
			logger.String("type", string(event.Type)),
			logger.ScanID(event.ScanID))
	}
}

// consume runs one consumer in a recovery wrapper
func (b *Broadcaster) consume(consumer Consumer, event Event, log logger.Logger) {
	defer func() {
		if r := recover(); r != nil {
			b.consumerErrors.Add(1)
			log.Error("consumer panicked",
				logger.String("consumer", consumer.Name()),
				logger.Any("panic", r),
				logger.String("type", string(event.Type)))
		}
	}()

	if err := consumer.Consume(event); err != nil {
		b.consumerErrors.Add(1)
		log.Error("consumer error",
			logger.String("consumer", consumer.Name()),
			logger.Error(err),
			logger.String("type", string(event.Type)))
	}
}

// send delivers to one subscriber, evicting it when it stays blocked past the timeout.
func (b *Broadcaster) send(s *Subscription, event Event) bool {
	select {
	case s.events <- event:
		return true
	case <-s.done:
		return false
	default:
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case s.events <- event:
		return true
	case <-s.done:
		return false
	case <-timer.C:
		b.remove(s, true)
		return false
	}
}

// Shutdown stops accepting events, drains the worker and consumer queues and
// closes every subscription.
func (b *Broadcaster) Shutdown(timeout time.Duration) error {
	b.publishMu.Lock()
	if b.closed {
		b.publishMu.Unlock()
		return nil
	}
	b.closed = true
	for _, q := range b.queues {
		close(q)
	}
	b.publishMu.Unlock()

	b.logger.Info("shutting down event broadcaster", logger.Duration("timeout", timeout))

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		b.closeConsumers()
		b.consumerWG.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		b.logger.Info("event broadcaster shutdown complete")
	case <-time.After(timeout):
		b.closeConsumers()
		b.logger.Warn("event broadcaster shutdown timeout exceeded")
		err = errors.Newf("event broadcaster shutdown timeout exceeded").
			Component("events").
			Category(errors.CategoryTimeout).
			Build()
	}

	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()
	for _, s := range subs {
		b.remove(s, false)
	}
	return err
}

// closeConsumers ends every consumer goroutine once its queue is empty.
func (b *Broadcaster) closeConsumers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumersClosed {
		return
	}
	b.consumersClosed = true
	for _, q := range b.consumers {
		close(q.events)
	}
}

// Stats returns current broadcaster statistics
func (b *Broadcaster) Stats() Stats {
	b.mu.RLock()
	n := len(b.subscribers)
	b.mu.RUnlock()

	return Stats{
		Published:       b.published.Load(),
		Delivered:       b.delivered.Load(),
		Dropped:         b.dropped.Load(),
		Evicted:         b.evicted.Load(),
		ConsumerErrors:  b.consumerErrors.Load(),
		ConsumerDropped: b.consumerDrops.Load(),
		Subscribers:     n,
	}
}
