// Package notify is the async dispatch pipeline between the correlator and
// the Telegram sender: a bounded queue, a small worker pool, a global rate
// limit, and a dedup window.
//
// Deliveries are deliberately not retried. A presence ping that arrives a
// minute late is noise, so a failed send is logged, published as a
// notify.failed outcome, and forgotten.
package notify

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"voicebridge/internal/eventbus"
	"voicebridge/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type job struct {
	n Notification
	// dedupKey is computed at enqueue time for cheap per-worker processing.
	dedupKey string
}

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender
	bus    eventbus.Bus[OutcomeEvent]

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	enqWG     sync.WaitGroup

	queue    chan job
	workerWG sync.WaitGroup

	runCtx    context.Context
	runCancel context.CancelFunc

	// dedup cache: key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus[OutcomeEvent]) *Service {
	s := &Service{
		sender: sender,
		log:    log,
		bus:    bus,
		dedup:  map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

// Apply updates tunables at runtime (config hot reload). Queue size and
// worker count take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	s.cfg = cfg
	// Token bucket with burst = rate, so short spikes don't stall.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	workers := s.cfg.Workers
	q := s.queue
	runCtx := s.runCtx
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			s.workerLoop(runCtx, q)
		}()
	}
}

// Stop blocks new intake and drains the queue best-effort until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	cancel := s.runCancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	// Wait for in-flight enqueues before closing the queue.
	enqDone := make(chan struct{})
	go func() {
		s.enqWG.Wait()
		close(enqDone)
	}()
	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		return
	case <-enqDone:
	}
	close(q)

	drained := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(drained)
	}()
	select {
	case <-ctx.Done():
	case <-drained:
	}
	if cancel != nil {
		cancel()
	}

	s.mu.Lock()
	s.queue = nil
	s.runCtx = nil
	s.runCancel = nil
	s.mu.Unlock()
}

// Enqueue queues a notification for async delivery. It never blocks on the
// network; a full queue or a closed pipeline is reported to the caller and
// on the bus.
func (s *Service) Enqueue(ctx context.Context, n Notification) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window := s.cfg.DedupWindow
	maxEntries := s.cfg.DedupMaxEntries
	s.enqWG.Add(1)
	s.mu.Unlock()
	defer s.enqWG.Done()

	key := dedupKey(n)
	if window > 0 && s.dedupSuppressed(key) {
		s.publish(EventDeduped, n, key, "")
		return nil
	}

	// The dedup key is recorded and notify.queued published only once the
	// notification actually made it into the queue: a dropped notification
	// must not suppress the next identical one.
	select {
	case q <- job{n: n, dedupKey: key}:
		if window > 0 {
			s.dedupRecord(key, window, maxEntries)
		}
		s.publish(EventQueued, n, key, "")
		return nil
	default:
		s.publish(EventDropped, n, key, ErrQueueFull.Error())
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(runCtx context.Context, q chan job) {
	for j := range q {
		select {
		case <-runCtx.Done():
			return
		default:
		}
		s.send(runCtx, j)
	}
}

func (s *Service) send(runCtx context.Context, j job) {
	s.mu.Lock()
	lim := s.limiter
	sender := s.sender
	s.mu.Unlock()

	if sender == nil || j.n.Text == "" {
		return
	}

	if lim != nil {
		if err := lim.Wait(runCtx); err != nil {
			return
		}
	}

	callCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
	err := sender.SendText(callCtx, j.n.ChatID, j.n.Text)
	cancel()
	if err == nil {
		s.log.Info("notification sent", logx.String("to", j.n.Recipient))
		s.publish(EventSent, j.n, j.dedupKey, "")
		return
	}

	// One attempt only; failures are observable but never re-driven.
	s.log.Error("notification send failed", logx.String("to", j.n.Recipient), logx.Err(err))
	s.publish(EventFailed, j.n, j.dedupKey, err.Error())
}

func (s *Service) publish(typ string, n Notification, key, errStr string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(OutcomeEvent{
		Type:      typ,
		ChatID:    n.ChatID,
		Recipient: n.Recipient,
		Key:       key,
		At:        time.Now(),
		Error:     errStr,
	})
}

func dedupKey(n Notification) string {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%d|", n.ChatID)
	_, _ = h.Write([]byte(n.Text))
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupSuppressed(key string) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	until, ok := s.dedup[key]
	return ok && now.Before(until)
}

func (s *Service) dedupRecord(key string, window time.Duration, maxEntries int) {
	now := time.Now()

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if s.dedup == nil {
		s.dedup = map[string]time.Time{}
	}
	s.dedup[key] = now.Add(window)

	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	for maxEntries > 0 && len(s.dedup) > maxEntries {
		var (
			minKey string
			minT   time.Time
			set    bool
		)
		for k, t := range s.dedup {
			if !set || t.Before(minT) {
				minKey, minT, set = k, t, true
			}
		}
		if minKey == "" {
			break
		}
		delete(s.dedup, minKey)
	}
}
